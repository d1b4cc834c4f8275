package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hestia/backend/internal/logging"
	"github.com/hestia/backend/internal/pictures"
	"github.com/hestia/backend/internal/repositories"
)

// NotificationHandler lists and dismisses the caller's notifications.
type NotificationHandler struct {
	Notifications NotificationStore
	Pictures      PictureStore
}

// List handles GET /api/notifications. Each entry carries the sender's
// profile picture when one exists.
func (h NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	notifications, err := h.Notifications.ListForRecipient(ctx, username)
	if err != nil {
		logger.Error("list notifications failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "error fetching notifications")
		return
	}

	senderPictures := make(map[string]*string)
	resp := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		picture, seen := senderPictures[n.Sender]
		if !seen && h.Pictures != nil {
			loaded, err := h.Pictures.Load(ctx, n.Sender)
			switch {
			case err == nil:
				encoded := loaded.Base64()
				picture = &encoded
			case !errors.Is(err, pictures.ErrNotFound):
				logger.Warn("load sender picture", "sender", n.Sender, "error", err)
			}
			senderPictures[n.Sender] = picture
		}

		resp = append(resp, notificationResponse{
			ID:         n.ID,
			Sender:     n.Sender,
			Message:    n.Message,
			Timestamp:  n.CreatedAt,
			ActionType: n.ActionType,
			ProfilePic: picture,
		})
	}
	respondJSON(ctx, w, http.StatusOK, resp)
}

// Delete handles DELETE /api/notifications/{id}.
func (h NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(ctx, w, http.StatusBadRequest, "invalid notification id")
		return
	}

	if err := h.Notifications.Delete(ctx, id, username); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "notification not found")
			return
		}
		logging.FromContext(ctx).Error("delete notification failed", "id", id, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "error deleting notification")
		return
	}
	respondSuccess(ctx, w, "Notification deleted")
}

type notificationResponse struct {
	ID         int64     `json:"id"`
	Sender     string    `json:"sender_username"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	ActionType string    `json:"action_type"`
	ProfilePic *string   `json:"profile_pic"`
}
