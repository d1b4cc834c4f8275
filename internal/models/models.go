package models

import "time"

// User represents an account within the Hestia platform.
type User struct {
	Username         string
	Email            string
	Password         string
	Name             string
	Intro            string
	ConnectionsCount int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Notification is a timestamped message appended to a recipient's inbox.
// Connection requests are notifications with ActionType ActionConnectionRequest.
type Notification struct {
	ID         int64
	Recipient  string
	Sender     string
	Message    string
	ActionType string
	CreatedAt  time.Time
}

const (
	ActionConnectionRequest  = "connection_request"
	ActionConnectionAccepted = "connection_accepted"
	ActionConnectionDeclined = "connection_declined"
	ActionLocationRequest    = "location_request"
	ActionLocationGranted    = "location_access_granted"
	ActionLocationDeclined   = "location_access_declined"
	ActionProfileUpdate      = "profile_update"
)

// ConnectionStatus describes how a viewer relates to another user.
type ConnectionStatus string

const (
	ConnectionStatusConnected ConnectionStatus = "connected"
	ConnectionStatusRequested ConnectionStatus = "requested"
	ConnectionStatusNone      ConnectionStatus = "none"
)

// OrderedPair normalises an unordered pair of usernames so that a <= b.
func OrderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// SharingMode governs when a stored location sample is visible to approved viewers.
type SharingMode string

const (
	SharingModeOff    SharingMode = "off"
	SharingModeAlways SharingMode = "always"
	SharingModeTimed  SharingMode = "timed"
)

// ParseSharingMode validates a client supplied sharing mode.
func ParseSharingMode(value string) (SharingMode, bool) {
	switch mode := SharingMode(value); mode {
	case SharingModeOff, SharingModeAlways, SharingModeTimed:
		return mode, true
	default:
		return "", false
	}
}

// LocationSetting is the per-user sharing configuration.
// SharingUntil is only meaningful when SharingMode is SharingModeTimed.
type LocationSetting struct {
	Username     string
	IsEnabled    bool
	SharingMode  SharingMode
	SharingUntil *time.Time
	UpdatedAt    time.Time
}

// LocationSample is the single most recent location reported by a user.
type LocationSample struct {
	Username   string
	Latitude   float64
	Longitude  float64
	Accuracy   *float64
	RecordedAt time.Time
}

// LocationPermission records whether Requester may see Target's location.
type LocationPermission struct {
	Requester  string
	Target     string
	IsApproved bool
}

// VisibleLocation is a sample the visibility resolver allows a viewer to read.
type VisibleLocation struct {
	LocationSample
	SharingMode SharingMode
}

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}
