package handlers

import (
	"context"
	"net/http"

	"github.com/hestia/backend/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users         UserStore
	Profiles      ProfileStore
	Sessions      SessionManager
	Authenticator middleware.Authenticator
	Connections   ConnectionService
	Locations     LocationService
	Notifications NotificationStore
	Pictures      PictureStore
	RateLimiter   middleware.RateLimiter
	TrustProxy    bool
	Metrics       http.Handler
	Ping          func(ctx context.Context) error

	SecureCookies  bool
	MaxUploadBytes int64
}

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Ping: deps.Ping}
	auth := AuthHandler{Users: deps.Users, Sessions: deps.Sessions, SecureCookies: deps.SecureCookies}
	conns := ConnectionHandler{Connections: deps.Connections}
	locations := LocationHandler{Locations: deps.Locations}
	notifications := NotificationHandler{Notifications: deps.Notifications, Pictures: deps.Pictures}
	profile := ProfileHandler{Profiles: deps.Profiles, Pictures: deps.Pictures, MaxUploadBytes: deps.MaxUploadBytes}

	authed := middleware.Authenticate(deps.Authenticator)
	limited := func(scope string, h http.HandlerFunc) http.Handler {
		return middleware.RateLimit(deps.RateLimiter, scope, deps.TrustProxy)(h)
	}
	private := func(h http.HandlerFunc) http.Handler {
		return authed(h)
	}

	mux.HandleFunc("GET /healthz", health.Handle)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	mux.Handle("POST /register", limited("register", auth.Register))
	mux.Handle("POST /login", limited("login", auth.Login))
	mux.HandleFunc("POST /api/logout", auth.Logout)
	mux.Handle("POST /api/auth/refresh", limited("refresh", auth.Refresh))
	mux.Handle("GET /api/current-user", private(auth.CurrentUser))

	mux.Handle("POST /api/connect", private(conns.Request))
	mux.Handle("POST /api/connect/respond", private(conns.Respond))
	mux.Handle("POST /api/disconnect", private(conns.Disconnect))
	mux.Handle("GET /api/connection-status/{targetUsername}", private(conns.Status))
	mux.Handle("GET /api/connections", private(conns.List))

	mux.Handle("GET /api/notifications", private(notifications.List))
	mux.Handle("DELETE /api/notifications/{id}", private(notifications.Delete))

	mux.Handle("POST /api/location-settings", private(locations.UpdateSettings))
	mux.Handle("GET /api/location-settings/current", private(locations.CurrentSettings))
	mux.Handle("POST /api/location", authed(limited("location", locations.UpdateLocation)))
	mux.Handle("GET /api/connected-users-locations", private(locations.ConnectedLocations))
	mux.Handle("POST /api/location-permissions", private(locations.RequestAccess))
	mux.Handle("POST /api/location-permissions/respond", private(locations.RespondAccess))
	mux.Handle("DELETE /api/location-permissions/{username}", private(locations.RevokeAccess))

	mux.Handle("POST /api/profile", private(profile.UpdateProfile))
	mux.Handle("GET /api/profile/{username}", private(profile.Profile))
	mux.Handle("GET /api/search-user", private(profile.Search))
	mux.Handle("POST /api/profile-pic", private(profile.UploadPicture))
	mux.HandleFunc("GET /api/profile-pic/{username}", profile.Picture)
}
