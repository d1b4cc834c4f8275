package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/hestia/backend/internal/auth"
	"github.com/hestia/backend/internal/logging"
)

const maxJSONBodyBytes = 1 << 20

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	respondJSON(ctx, w, status, map[string]any{"success": false, "error": message})
}

func respondSuccess(ctx context.Context, w http.ResponseWriter, message string) {
	respondJSON(ctx, w, http.StatusOK, map[string]any{"success": true, "message": message})
}

// decodeJSON reads exactly one JSON object into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("decode body: unexpected trailing data")
	}
	return nil
}

// currentUser returns the authenticated username, writing a 401 when absent.
func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	username := auth.UsernameFromContext(r.Context())
	if username == "" {
		respondError(r.Context(), w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return username, true
}
