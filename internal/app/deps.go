package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hestia/backend/internal/auth"
	"github.com/hestia/backend/internal/config"
	"github.com/hestia/backend/internal/connections"
	"github.com/hestia/backend/internal/db"
	"github.com/hestia/backend/internal/events"
	"github.com/hestia/backend/internal/handlers"
	"github.com/hestia/backend/internal/location"
	"github.com/hestia/backend/internal/metrics"
	"github.com/hestia/backend/internal/middleware"
	"github.com/hestia/backend/internal/pictures"
	"github.com/hestia/backend/internal/repositories"
	"github.com/hestia/backend/internal/storage"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// buildDependencies wires together concrete implementations used by the HTTP
// handlers. The returned cleanup drains queued events and closes the broker.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, func(context.Context) error, error) {
	pictureStore, err := newPictureStore(ctx, pool, cfg)
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}

	publisher, err := newPublisher(cfg.Events, logger)
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}
	dispatcher := events.NewDispatcher(publisher, events.DispatcherConfig{
		QueueSize: cfg.Events.QueueSize,
		Workers:   cfg.Events.Workers,
	}, logger)

	sessions := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL, newSessionStore(pool, cfg.Auth))
	users := repositories.NewPostgresUserRepository(pool)
	connectionService := connections.NewService(repositories.NewPostgresConnectionRepository(pool), dispatcher)
	locationService := location.NewService(repositories.NewPostgresLocationRepository(pool), connectionService, pictureStore, dispatcher)

	deps := handlers.Dependencies{
		Users:          users,
		Profiles:       users,
		Sessions:       sessions,
		Authenticator:  sessions,
		Connections:    connectionService,
		Locations:      locationService,
		Notifications:  repositories.NewPostgresNotificationRepository(pool),
		Pictures:       pictureStore,
		RateLimiter:    middleware.NewKeyedRateLimiter(cfg.RateLimit),
		TrustProxy:     cfg.RateLimit.TrustProxy,
		Metrics:        metrics.Handler(),
		SecureCookies:  cfg.Auth.SecureCookies,
		MaxUploadBytes: cfg.Pictures.MaxUploadBytes,
	}
	if p, ok := pool.(pinger); ok {
		deps.Ping = p.Ping
	}

	return deps, dispatcher.Shutdown, nil
}

// newSessionStore keeps refresh tokens in PostgreSQL unless the in-process
// store was requested. In-process sessions do not survive a restart.
func newSessionStore(pool db.Pool, cfg config.AuthConfig) auth.SessionStore {
	if cfg.SessionStore == config.SessionStoreMemory {
		return auth.NewInMemorySessionStore()
	}
	return repositories.NewPostgresSessionStore(pool)
}

func newPictureStore(ctx context.Context, pool db.Pool, cfg config.Config) (*pictures.CachingStore, error) {
	var base pictures.Store = repositories.NewPostgresPictureStore(pool)
	if cfg.ObjectStore.Bucket != "" {
		s3Store, err := storage.NewS3PictureStore(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, fmt.Errorf("configure picture bucket: %w", err)
		}
		base = s3Store
	}
	return pictures.NewCachingStore(base, cfg.Pictures.CacheTTL), nil
}

func newPublisher(cfg config.EventsConfig, logger *slog.Logger) (events.Publisher, error) {
	if cfg.AMQPURL == "" {
		return events.NoopPublisher{Logger: logger}, nil
	}
	publisher, err := events.NewRabbitPublisher(cfg.AMQPURL, cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("connect event broker: %w", err)
	}
	return publisher, nil
}
