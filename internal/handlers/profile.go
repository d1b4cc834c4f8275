package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hestia/backend/internal/logging"
	"github.com/hestia/backend/internal/models"
	"github.com/hestia/backend/internal/pictures"
	"github.com/hestia/backend/internal/repositories"
)

const (
	profilePicField        = "profile_pic"
	defaultMaxPictureBytes = 2 << 20

	maxNameLength     = 255
	maxIntroLength    = 1000
	searchLimit       = 20
	maxSearchQueryLen = 50
)

// ProfileHandler edits, reads and searches profiles and serves their pictures.
type ProfileHandler struct {
	Profiles       ProfileStore
	Pictures       PictureStore
	MaxUploadBytes int64
}

type profileUpdateRequest struct {
	Name  string `json:"name"`
	Intro string `json:"intro"`
}

type profileResponse struct {
	Success          bool   `json:"success"`
	Username         string `json:"username"`
	Name             string `json:"name"`
	Intro            string `json:"intro"`
	ConnectionsCount int    `json:"connections_count"`
}

type searchResult struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

type searchResponse struct {
	Success bool           `json:"success"`
	Users   []searchResult `json:"users"`
}

func newProfileResponse(user models.User) profileResponse {
	return profileResponse{
		Success:          true,
		Username:         user.Username,
		Name:             user.Name,
		Intro:            user.Intro,
		ConnectionsCount: user.ConnectionsCount,
	}
}

// UpdateProfile handles POST /api/profile. Connections are notified of the change.
func (h ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var req profileUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid profile payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Intro = strings.TrimSpace(req.Intro)
	if utf8.RuneCountInString(req.Name) > maxNameLength {
		respondError(ctx, w, http.StatusBadRequest, "name must be at most 255 characters")
		return
	}
	if utf8.RuneCountInString(req.Intro) > maxIntroLength {
		respondError(ctx, w, http.StatusBadRequest, "intro must be at most 1000 characters")
		return
	}

	user, notified, err := h.Profiles.UpdateProfile(ctx, repositories.ProfileUpdate{
		Username: username,
		Name:     req.Name,
		Intro:    req.Intro,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusUnauthorized, "account no longer exists")
			return
		}
		logger.Error("update profile failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "error updating profile")
		return
	}

	logger.Info("profile updated", "notified", len(notified))
	respondJSON(ctx, w, http.StatusOK, newProfileResponse(user))
}

// Profile handles GET /api/profile/{username}.
func (h ProfileHandler) Profile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := strings.TrimSpace(r.PathValue("username"))

	user, err := h.Profiles.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "user not found")
			return
		}
		logging.FromContext(ctx).Error("load profile failed", "username", username, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "error loading profile")
		return
	}
	respondJSON(ctx, w, http.StatusOK, newProfileResponse(user))
}

// Search handles GET /api/search-user?username=.
func (h ProfileHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := strings.TrimSpace(r.URL.Query().Get("username"))
	if query == "" {
		respondError(ctx, w, http.StatusBadRequest, "username query is required")
		return
	}
	if utf8.RuneCountInString(query) > maxSearchQueryLen {
		respondError(ctx, w, http.StatusBadRequest, "username query is too long")
		return
	}

	users, err := h.Profiles.Search(ctx, query, searchLimit)
	if err != nil {
		logging.FromContext(ctx).Error("search users failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "error searching users")
		return
	}

	results := make([]searchResult, 0, len(users))
	for _, user := range users {
		results = append(results, searchResult{Username: user.Username, Name: user.Name})
	}
	respondJSON(ctx, w, http.StatusOK, searchResponse{Success: true, Users: results})
}

// UploadPicture handles POST /api/profile-pic with a multipart profile_pic field.
func (h ProfileHandler) UploadPicture(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxPictureBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+(64<<10))

	file, _, err := r.FormFile(profilePicField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(ctx, w, http.StatusRequestEntityTooLarge, "profile picture is too large")
			return
		}
		logger.Warn("invalid profile picture upload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "profile_pic file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		logger.Warn("read profile picture", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "unable to read profile picture")
		return
	}
	if int64(len(data)) > limit {
		respondError(ctx, w, http.StatusRequestEntityTooLarge, "profile picture is too large")
		return
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		respondError(ctx, w, http.StatusBadRequest, "profile picture must be an image")
		return
	}

	if err := h.Pictures.Save(ctx, username, pictures.Picture{Data: data, ContentType: contentType}); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusUnauthorized, "account no longer exists")
			return
		}
		logger.Error("save profile picture failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "error updating profile picture")
		return
	}
	respondSuccess(ctx, w, "Profile picture updated")
}

// Picture handles GET /api/profile-pic/{username} and writes the raw image.
func (h ProfileHandler) Picture(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := r.PathValue("username")

	picture, err := h.Pictures.Load(ctx, username)
	if err != nil {
		if errors.Is(err, pictures.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "profile picture not found")
			return
		}
		logging.FromContext(ctx).Error("load profile picture failed", "username", username, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "error fetching profile picture")
		return
	}

	contentType := picture.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(picture.Data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(picture.Data)))
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(picture.Data)
}
