// Package location manages sharing settings, the latest location sample per
// user, access permissions and the resolver deciding whose location a viewer
// may read.
package location

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hestia/backend/internal/events"
	"github.com/hestia/backend/internal/logging"
	"github.com/hestia/backend/internal/metrics"
	"github.com/hestia/backend/internal/models"
	"github.com/hestia/backend/internal/pictures"
	"github.com/hestia/backend/internal/repositories"
)

var (
	// ErrUnauthenticated indicates the caller has no session username.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrInvalidCoordinates indicates a latitude, longitude or accuracy out of range.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	// ErrInvalidSharingMode indicates an unknown mode or a bad timed expiry.
	ErrInvalidSharingMode = errors.New("invalid sharing mode")
	// ErrInvalidTarget indicates a missing username or one naming the caller.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrNotConnected indicates location access was requested from a stranger.
	ErrNotConnected = errors.New("users are not connected")
	// ErrRequestNotFound indicates there is no access request to answer.
	ErrRequestNotFound = errors.New("location request not found")
)

// Store is the persistence required by the location service.
type Store interface {
	UpsertSettings(ctx context.Context, setting models.LocationSetting) error
	FindSettings(ctx context.Context, username string) (models.LocationSetting, error)
	ReplaceSample(ctx context.Context, sample models.LocationSample) error
	VisibleLocations(ctx context.Context, viewer string, now time.Time) ([]models.VisibleLocation, error)
	RequestPermission(ctx context.Context, permission models.LocationPermission, note models.Notification) error
	RespondPermission(ctx context.Context, permission models.LocationPermission, note models.Notification) error
	DeletePermission(ctx context.Context, requester, target string) error
}

// ConnectionChecker reports whether two users are connected.
type ConnectionChecker interface {
	AreConnected(ctx context.Context, left, right string) (bool, error)
}

// PictureLoader resolves a user's profile picture.
type PictureLoader interface {
	Load(ctx context.Context, username string) (pictures.Picture, error)
}

// Emitter queues domain events for asynchronous publication.
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload any) error
}

// SettingsUpdate is a validated request to change sharing settings.
// SharingUntil is only read for the timed mode.
type SettingsUpdate struct {
	IsEnabled    bool
	SharingMode  string
	SharingUntil *time.Time
}

// Location is one entry returned by the resolver. ProfilePicture holds the
// base64 encoded image or nil when the user has none.
type Location struct {
	models.VisibleLocation
	ProfilePicture *string
}

// DefaultTimedWindow is how long timed sharing lasts when no sharingUntil is given.
const DefaultTimedWindow = time.Hour

// Service implements the location sharing workflows.
type Service struct {
	store       Store
	connections ConnectionChecker
	pictures    PictureLoader
	events      Emitter

	NowFunc     func() time.Time
	TimedWindow time.Duration
}

// NewService constructs a Service. pics and emitter may be nil.
func NewService(store Store, connections ConnectionChecker, pics PictureLoader, emitter Emitter) *Service {
	return &Service{store: store, connections: connections, pictures: pics, events: emitter}
}

func (s *Service) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc()
	}
	return time.Now().UTC()
}

func (s *Service) timedWindow() time.Duration {
	if s.TimedWindow > 0 {
		return s.TimedWindow
	}
	return DefaultTimedWindow
}

// UpdateSettings stores the user's sharing configuration. Disabling sharing
// resets the mode to off and deletes the stored sample; the requested mode is
// ignored in that case. Timed sharing without sharingUntil lasts TimedWindow.
func (s *Service) UpdateSettings(ctx context.Context, username string, update SettingsUpdate) (models.LocationSetting, error) {
	if username == "" {
		return models.LocationSetting{}, ErrUnauthenticated
	}

	setting := models.LocationSetting{
		Username:    username,
		IsEnabled:   update.IsEnabled,
		SharingMode: models.SharingModeOff,
	}

	if update.IsEnabled {
		mode, ok := models.ParseSharingMode(strings.TrimSpace(update.SharingMode))
		if !ok {
			return models.LocationSetting{}, fmt.Errorf("%w: %q", ErrInvalidSharingMode, update.SharingMode)
		}
		setting.SharingMode = mode

		if mode == models.SharingModeTimed {
			now := s.now()
			until := now.Add(s.timedWindow())
			if update.SharingUntil != nil {
				until = *update.SharingUntil
			}
			if !until.After(now) {
				return models.LocationSetting{}, fmt.Errorf("%w: sharingUntil must be in the future", ErrInvalidSharingMode)
			}
			until = until.UTC()
			setting.SharingUntil = &until
		}
	}

	ctx, span := logging.StartSpan(ctx, "location.update_settings")
	err := s.store.UpsertSettings(ctx, setting)
	span.End(err)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.LocationSetting{}, ErrUnauthenticated
		}
		return models.LocationSetting{}, fmt.Errorf("update location settings: %w", err)
	}

	s.emit(ctx, events.LocationSettingsUpdated, events.SharingPayload{
		Username:    username,
		IsEnabled:   setting.IsEnabled,
		SharingMode: string(setting.SharingMode),
		Until:       setting.SharingUntil,
	})
	return setting, nil
}

// CurrentSettings returns the stored settings, defaulting to disabled/off when
// the user never configured sharing. A lapsed timed window is reported as
// stored; only the resolver applies the expiry.
func (s *Service) CurrentSettings(ctx context.Context, username string) (models.LocationSetting, error) {
	if username == "" {
		return models.LocationSetting{}, ErrUnauthenticated
	}

	setting, err := s.store.FindSettings(ctx, username)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.LocationSetting{Username: username, SharingMode: models.SharingModeOff}, nil
	}
	if err != nil {
		return models.LocationSetting{}, fmt.Errorf("load location settings: %w", err)
	}
	return setting, nil
}

// UpdateLocation replaces the user's stored sample. Coordinates are validated
// before anything is written.
func (s *Service) UpdateLocation(ctx context.Context, username string, latitude, longitude float64, accuracy *float64) error {
	ctx, span := logging.StartSpan(ctx, "location.update")
	err := s.updateLocation(ctx, username, latitude, longitude, accuracy)
	span.End(err)
	metrics.IncLocationUpdate(metrics.Status(err))
	return err
}

func (s *Service) updateLocation(ctx context.Context, username string, latitude, longitude float64, accuracy *float64) error {
	if username == "" {
		return ErrUnauthenticated
	}
	if err := ValidateCoordinates(latitude, longitude, accuracy); err != nil {
		return err
	}

	err := s.store.ReplaceSample(ctx, models.LocationSample{
		Username:   username,
		Latitude:   latitude,
		Longitude:  longitude,
		Accuracy:   accuracy,
		RecordedAt: s.now(),
	})
	switch {
	case errors.Is(err, repositories.ErrInvalid):
		return ErrInvalidCoordinates
	case errors.Is(err, repositories.ErrNotFound):
		return ErrUnauthenticated
	case err != nil:
		return fmt.Errorf("update location: %w", err)
	}

	s.emit(ctx, events.LocationUpdated, events.UserPayload{Username: username})
	return nil
}

// ValidateCoordinates rejects non-finite values, latitudes outside [-90, 90],
// longitudes outside [-180, 180] and negative accuracies.
func ValidateCoordinates(latitude, longitude float64, accuracy *float64) error {
	switch {
	case math.IsNaN(latitude) || math.IsInf(latitude, 0) || latitude < -90 || latitude > 90:
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinates, latitude)
	case math.IsNaN(longitude) || math.IsInf(longitude, 0) || longitude < -180 || longitude > 180:
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinates, longitude)
	case accuracy != nil && (math.IsNaN(*accuracy) || math.IsInf(*accuracy, 0) || *accuracy < 0):
		return fmt.Errorf("%w: accuracy %v", ErrInvalidCoordinates, *accuracy)
	}
	return nil
}

// ConnectedLocations returns the viewer's own sample plus the samples of
// connected users who currently share with the viewer, ordered by username.
func (s *Service) ConnectedLocations(ctx context.Context, viewer string) ([]Location, error) {
	if viewer == "" {
		return nil, ErrUnauthenticated
	}

	visible, err := s.store.VisibleLocations(ctx, viewer, s.now())
	if err != nil {
		return nil, fmt.Errorf("resolve visible locations: %w", err)
	}

	locations := make([]Location, 0, len(visible))
	for _, v := range visible {
		locations = append(locations, Location{VisibleLocation: v, ProfilePicture: s.picture(ctx, v.Username)})
	}
	return locations, nil
}

func (s *Service) picture(ctx context.Context, username string) *string {
	if s.pictures == nil {
		return nil
	}
	picture, err := s.pictures.Load(ctx, username)
	if err != nil {
		if !errors.Is(err, pictures.ErrNotFound) {
			logging.FromContext(ctx).Warn("load profile picture", "username", username, "error", err)
		}
		return nil
	}
	encoded := picture.Base64()
	return &encoded
}

// RequestAccess asks target for permission to see their location. The pair
// must be connected.
func (s *Service) RequestAccess(ctx context.Context, viewer, target string) error {
	target = strings.TrimSpace(target)
	if viewer == "" {
		return ErrUnauthenticated
	}
	if target == "" || target == viewer {
		return ErrInvalidTarget
	}

	connected, err := s.connections.AreConnected(ctx, viewer, target)
	if err != nil {
		return fmt.Errorf("check connection: %w", err)
	}
	if !connected {
		return ErrNotConnected
	}

	err = s.store.RequestPermission(ctx,
		models.LocationPermission{Requester: viewer, Target: target},
		models.Notification{
			Recipient:  target,
			Sender:     viewer,
			Message:    fmt.Sprintf("%s has requested to see your location", viewer),
			ActionType: models.ActionLocationRequest,
		},
	)
	if err != nil {
		return fmt.Errorf("request location access: %w", err)
	}

	s.emit(ctx, events.LocationAccessRequested, events.PairPayload{From: viewer, To: target})
	return nil
}

// RespondAccess approves or declines requester's pending access request to
// owner's location.
func (s *Service) RespondAccess(ctx context.Context, owner, requester string, approved bool) error {
	requester = strings.TrimSpace(requester)
	if owner == "" {
		return ErrUnauthenticated
	}
	if requester == "" || requester == owner {
		return ErrInvalidTarget
	}

	message, action, eventType := fmt.Sprintf("%s declined your location request", owner), models.ActionLocationDeclined, events.LocationAccessDeclined
	if approved {
		message, action, eventType = fmt.Sprintf("%s is now sharing their location with you", owner), models.ActionLocationGranted, events.LocationAccessGranted
	}

	err := s.store.RespondPermission(ctx,
		models.LocationPermission{Requester: requester, Target: owner, IsApproved: approved},
		models.Notification{Recipient: requester, Sender: owner, Message: message, ActionType: action},
	)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrRequestNotFound
		}
		return fmt.Errorf("respond to location request: %w", err)
	}

	s.emit(ctx, eventType, events.PairPayload{From: requester, To: owner})
	return nil
}

// RevokeAccess withdraws viewer's permission to see owner's location. Revoking
// an absent permission succeeds.
func (s *Service) RevokeAccess(ctx context.Context, owner, viewer string) error {
	viewer = strings.TrimSpace(viewer)
	if owner == "" {
		return ErrUnauthenticated
	}
	if viewer == "" || viewer == owner {
		return ErrInvalidTarget
	}

	if err := s.store.DeletePermission(ctx, viewer, owner); err != nil {
		return fmt.Errorf("revoke location access: %w", err)
	}

	s.emit(ctx, events.LocationAccessRevoked, events.PairPayload{From: viewer, To: owner})
	return nil
}

func (s *Service) emit(ctx context.Context, eventType string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, eventType, payload); err != nil {
		logging.FromContext(ctx).Warn("emit event", "event_type", eventType, "error", err)
	}
}
