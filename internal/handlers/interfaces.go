package handlers

import (
	"context"

	"github.com/hestia/backend/internal/location"
	"github.com/hestia/backend/internal/models"
	"github.com/hestia/backend/internal/pictures"
	"github.com/hestia/backend/internal/repositories"
)

// UserStore captures the persistence operations required by the auth handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByUsername(ctx context.Context, username string) (models.User, error)
}

// ProfileStore reads, edits and searches user profiles.
type ProfileStore interface {
	FindByUsername(ctx context.Context, username string) (models.User, error)
	UpdateProfile(ctx context.Context, update repositories.ProfileUpdate) (models.User, []string, error)
	Search(ctx context.Context, query string, limit int) ([]models.User, error)
}

// SessionManager issues, refreshes and revokes authentication tokens.
type SessionManager interface {
	Issue(ctx context.Context, username string) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
	Revoke(ctx context.Context, refreshToken string)
}

// ConnectionService runs the connection request lifecycle.
type ConnectionService interface {
	Request(ctx context.Context, requester, target string) (models.Notification, error)
	Respond(ctx context.Context, responder, requester string, accepted bool) error
	Disconnect(ctx context.Context, requester, target string) error
	Status(ctx context.Context, viewer, target string) (models.ConnectionStatus, error)
	List(ctx context.Context, username string) ([]string, error)
}

// LocationService manages sharing settings, samples and access permissions.
type LocationService interface {
	UpdateSettings(ctx context.Context, username string, update location.SettingsUpdate) (models.LocationSetting, error)
	CurrentSettings(ctx context.Context, username string) (models.LocationSetting, error)
	UpdateLocation(ctx context.Context, username string, latitude, longitude float64, accuracy *float64) error
	ConnectedLocations(ctx context.Context, viewer string) ([]location.Location, error)
	RequestAccess(ctx context.Context, viewer, target string) error
	RespondAccess(ctx context.Context, owner, requester string, approved bool) error
	RevokeAccess(ctx context.Context, owner, viewer string) error
}

// NotificationStore reads and removes a recipient's notifications.
type NotificationStore interface {
	ListForRecipient(ctx context.Context, recipient string) ([]models.Notification, error)
	Delete(ctx context.Context, id int64, recipient string) error
}

// PictureStore persists profile pictures.
type PictureStore = pictures.Store
