package middleware

import (
	"net/http"
	"time"

	"github.com/hestia/backend/internal/metrics"
)

// Metrics records request counts and latency per matched route pattern. It
// must wrap the ServeMux directly so the pattern is visible after dispatch.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)
		metrics.RecordHTTPRequest(r.Method, r.Pattern, recorder.Status(), time.Since(start))
	})
}
