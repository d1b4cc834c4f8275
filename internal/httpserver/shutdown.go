package httpserver

import "time"

// ShutdownTimeout bounds graceful shutdown of the server and the event queue.
var ShutdownTimeout = 15 * time.Second
