package events

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys for domain events published on the events exchange.
const (
	ConnectionRequested = "connection.requested"
	ConnectionAccepted  = "connection.accepted"
	ConnectionDeclined  = "connection.declined"
	ConnectionRemoved   = "connection.removed"

	LocationSettingsUpdated = "location.settings_updated"
	LocationUpdated         = "location.updated"
	LocationAccessRequested = "location.access_requested"
	LocationAccessGranted   = "location.access_granted"
	LocationAccessDeclined  = "location.access_declined"
	LocationAccessRevoked   = "location.access_revoked"
)

// Envelope wraps every payload published to the broker.
type Envelope struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	RequestID  string    `json:"request_id,omitempty"`
	Payload    any       `json:"payload"`
}

// NewEnvelope stamps payload with a fresh event id.
func NewEnvelope(eventType string, payload any, occurredAt time.Time) Envelope {
	return Envelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		OccurredAt: occurredAt.UTC(),
		Payload:    payload,
	}
}

// PairPayload describes an event between two users, e.g. a connection request
// from From to To.
type PairPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// UserPayload describes an event concerning a single user.
type UserPayload struct {
	Username string `json:"username"`
}

// SharingPayload describes a change to a user's sharing state. Coordinates are
// never published.
type SharingPayload struct {
	Username    string     `json:"username"`
	IsEnabled   bool       `json:"is_enabled"`
	SharingMode string     `json:"sharing_mode"`
	Until       *time.Time `json:"sharing_until,omitempty"`
}
