package handlers

import (
	"errors"
	"net/http"

	"github.com/hestia/backend/internal/connections"
	"github.com/hestia/backend/internal/logging"
)

// ConnectionHandler exposes the connection lifecycle over HTTP.
type ConnectionHandler struct {
	Connections ConnectionService
}

// Request handles POST /api/connect.
func (h ConnectionHandler) Request(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req targetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logging.FromContext(ctx).Warn("invalid connect payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := h.Connections.Request(ctx, username, req.TargetUsername); err != nil {
		h.fail(w, r, err, "error sending connection request")
		return
	}
	respondSuccess(ctx, w, "Connection request sent successfully")
}

// Respond handles POST /api/connect/respond.
func (h ConnectionHandler) Respond(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req respondConnectionRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Accepted == nil {
		logging.FromContext(ctx).Warn("invalid connection response payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "requesterId and accepted are required")
		return
	}

	if err := h.Connections.Respond(ctx, username, req.RequesterID, *req.Accepted); err != nil {
		h.fail(w, r, err, "error processing connection response")
		return
	}

	outcome := "declined"
	if *req.Accepted {
		outcome = "accepted"
	}
	respondSuccess(ctx, w, "Connection request "+outcome+" successfully")
}

// Disconnect handles POST /api/disconnect.
func (h ConnectionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req targetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logging.FromContext(ctx).Warn("invalid disconnect payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Connections.Disconnect(ctx, username, req.TargetUsername); err != nil {
		h.fail(w, r, err, "error removing connection")
		return
	}
	respondSuccess(ctx, w, "Connection removed successfully")
}

// Status handles GET /api/connection-status/{targetUsername}.
func (h ConnectionHandler) Status(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	status, err := h.Connections.Status(ctx, username, r.PathValue("targetUsername"))
	if err != nil {
		h.fail(w, r, err, "internal server error")
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]string{"status": string(status)})
}

// List handles GET /api/connections.
func (h ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	peers, err := h.Connections.List(ctx, username)
	if err != nil {
		h.fail(w, r, err, "error listing connections")
		return
	}
	if peers == nil {
		peers = []string{}
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"success": true, "connections": peers})
}

func (h ConnectionHandler) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	ctx := r.Context()
	switch {
	case errors.Is(err, connections.ErrUnauthenticated):
		respondError(ctx, w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, connections.ErrInvalidTarget):
		respondError(ctx, w, http.StatusBadRequest, "a different target username is required")
	case errors.Is(err, connections.ErrUserNotFound):
		respondError(ctx, w, http.StatusNotFound, "user not found")
	case errors.Is(err, connections.ErrRequestNotFound):
		respondError(ctx, w, http.StatusNotFound, "no pending connection request")
	default:
		logging.FromContext(ctx).Error("connection operation failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, fallback)
	}
}

type targetRequest struct {
	TargetUsername string `json:"targetUsername"`
}

type respondConnectionRequest struct {
	RequesterID string `json:"requesterId"`
	Accepted    *bool  `json:"accepted"`
}
