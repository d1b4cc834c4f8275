package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/hestia/backend/internal/location"
	"github.com/hestia/backend/internal/logging"
)

// LocationHandler exposes sharing settings, location samples and access
// permissions.
type LocationHandler struct {
	Locations LocationService
}

// UpdateSettings handles POST /api/location-settings.
func (h LocationHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req locationSettingsRequest
	if err := decodeJSON(w, r, &req); err != nil || req.IsEnabled == nil {
		logging.FromContext(ctx).Warn("invalid location settings payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "isEnabled and sharingMode are required")
		return
	}

	mode := req.SharingMode
	if mode == "" && !*req.IsEnabled {
		mode = "off"
	}

	_, err := h.Locations.UpdateSettings(ctx, username, location.SettingsUpdate{
		IsEnabled:    *req.IsEnabled,
		SharingMode:  mode,
		SharingUntil: req.SharingUntil,
	})
	if err != nil {
		h.fail(w, r, err, "server error")
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]bool{"success": true})
}

// CurrentSettings handles GET /api/location-settings/current.
func (h LocationHandler) CurrentSettings(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	setting, err := h.Locations.CurrentSettings(ctx, username)
	if err != nil {
		h.fail(w, r, err, "server error")
		return
	}
	respondJSON(ctx, w, http.StatusOK, locationSettingsResponse{
		Success:      true,
		IsEnabled:    setting.IsEnabled,
		SharingMode:  string(setting.SharingMode),
		SharingUntil: setting.SharingUntil,
	})
}

// UpdateLocation handles POST /api/location.
func (h LocationHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req locationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logging.FromContext(ctx).Warn("invalid location payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		respondError(ctx, w, http.StatusBadRequest, "missing location coordinates")
		return
	}

	if err := h.Locations.UpdateLocation(ctx, username, *req.Latitude, *req.Longitude, req.Accuracy); err != nil {
		h.fail(w, r, err, "server error while updating location")
		return
	}
	respondSuccess(ctx, w, "Location updated successfully")
}

// ConnectedLocations handles GET /api/connected-users-locations.
func (h LocationHandler) ConnectedLocations(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	locations, err := h.Locations.ConnectedLocations(ctx, username)
	if err != nil {
		h.fail(w, r, err, "server error")
		return
	}

	resp := make([]visibleLocationResponse, 0, len(locations))
	for _, l := range locations {
		resp = append(resp, visibleLocationResponse{
			Username:    l.Username,
			Latitude:    l.Latitude,
			Longitude:   l.Longitude,
			Accuracy:    l.Accuracy,
			Timestamp:   l.RecordedAt,
			ProfilePic:  l.ProfilePicture,
			SharingMode: string(l.SharingMode),
		})
	}
	respondJSON(ctx, w, http.StatusOK, resp)
}

// RequestAccess handles POST /api/location-permissions.
func (h LocationHandler) RequestAccess(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req targetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logging.FromContext(ctx).Warn("invalid location access payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Locations.RequestAccess(ctx, username, req.TargetUsername); err != nil {
		h.fail(w, r, err, "error requesting location access")
		return
	}
	respondSuccess(ctx, w, "Location request sent successfully")
}

// RespondAccess handles POST /api/location-permissions/respond.
func (h LocationHandler) RespondAccess(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req respondAccessRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Approved == nil {
		logging.FromContext(ctx).Warn("invalid location access response payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "requesterUsername and approved are required")
		return
	}

	if err := h.Locations.RespondAccess(ctx, username, req.RequesterUsername, *req.Approved); err != nil {
		h.fail(w, r, err, "error processing location request")
		return
	}

	outcome := "declined"
	if *req.Approved {
		outcome = "approved"
	}
	respondSuccess(ctx, w, "Location request "+outcome+" successfully")
}

// RevokeAccess handles DELETE /api/location-permissions/{username}.
func (h LocationHandler) RevokeAccess(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if err := h.Locations.RevokeAccess(ctx, username, r.PathValue("username")); err != nil {
		h.fail(w, r, err, "error revoking location access")
		return
	}
	respondSuccess(ctx, w, "Location access revoked")
}

func (h LocationHandler) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	ctx := r.Context()
	switch {
	case errors.Is(err, location.ErrUnauthenticated):
		respondError(ctx, w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, location.ErrInvalidCoordinates):
		respondError(ctx, w, http.StatusBadRequest, "invalid coordinates")
	case errors.Is(err, location.ErrInvalidSharingMode):
		respondError(ctx, w, http.StatusBadRequest, err.Error())
	case errors.Is(err, location.ErrInvalidTarget):
		respondError(ctx, w, http.StatusBadRequest, "a different target username is required")
	case errors.Is(err, location.ErrNotConnected):
		respondError(ctx, w, http.StatusForbidden, "users are not connected")
	case errors.Is(err, location.ErrRequestNotFound):
		respondError(ctx, w, http.StatusNotFound, "no pending location request")
	default:
		logging.FromContext(ctx).Error("location operation failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, fallback)
	}
}

type locationSettingsRequest struct {
	IsEnabled    *bool      `json:"isEnabled"`
	SharingMode  string     `json:"sharingMode"`
	SharingUntil *time.Time `json:"sharingUntil"`
}

type locationSettingsResponse struct {
	Success      bool       `json:"success"`
	IsEnabled    bool       `json:"isEnabled"`
	SharingMode  string     `json:"sharingMode"`
	SharingUntil *time.Time `json:"sharingUntil"`
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
}

type visibleLocationResponse struct {
	Username    string    `json:"username"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Accuracy    *float64  `json:"accuracy"`
	Timestamp   time.Time `json:"timestamp"`
	ProfilePic  *string   `json:"profile_pic"`
	SharingMode string    `json:"sharing_mode"`
}

type respondAccessRequest struct {
	RequesterUsername string `json:"requesterUsername"`
	Approved          *bool  `json:"approved"`
}
