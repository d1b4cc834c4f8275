package handlers

import (
	"errors"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hestia/backend/internal/auth"
	"github.com/hestia/backend/internal/logging"
	"github.com/hestia/backend/internal/middleware"
	"github.com/hestia/backend/internal/models"
	"github.com/hestia/backend/internal/repositories"
)

// RefreshCookie holds the opaque refresh token issued at login.
const RefreshCookie = "hestia_refresh"

const defaultIntro = "Hi! I'm using Hestia"

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,50}$`)

// AuthHandler implements registration and session endpoints.
type AuthHandler struct {
	Users         UserStore
	Sessions      SessionManager
	SecureCookies bool
	NowFunc       func() time.Time
}

// Register handles POST /register.
func (h AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Users == nil || h.Sessions == nil {
		logger.Error("authentication dependencies unavailable", "hasUsers", h.Users != nil, "hasSessions", h.Sessions != nil)
		respondError(ctx, w, http.StatusInternalServerError, "authentication services unavailable")
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid register payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Username == "" || req.Email == "" || req.Password == "" {
		respondError(ctx, w, http.StatusBadRequest, "username, email and password are required")
		return
	}
	if !usernamePattern.MatchString(req.Username) {
		respondError(ctx, w, http.StatusBadRequest, "username must be 3-50 letters, digits, dots, dashes or underscores")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		logger.Warn("register invalid email", "email", req.Email, "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid email address")
		return
	}
	if req.Password != req.ConfirmPassword {
		respondError(ctx, w, http.StatusBadRequest, "passwords do not match")
		return
	}
	if len(req.Password) < 8 {
		respondError(ctx, w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("register failed to hash password", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to secure password")
		return
	}

	now := h.now()
	user := models.User{
		Username:  req.Username,
		Email:     req.Email,
		Password:  string(hashed),
		Intro:     defaultIntro,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			respondError(ctx, w, http.StatusConflict, "username or email already registered")
			return
		}
		logger.Error("register failed to create user", "error", err, "username", req.Username)
		respondError(ctx, w, http.StatusInternalServerError, "error registering user")
		return
	}

	tokens, err := h.Sessions.Issue(ctx, user.Username)
	if err != nil {
		logger.Error("register failed to issue session", "error", err, "username", user.Username)
		respondError(ctx, w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.setSessionCookies(w, tokens)
	respondJSON(ctx, w, http.StatusCreated, sessionResponse{
		Success:  true,
		Message:  "User registered successfully",
		Username: user.Username,
		Tokens:   newTokenResponse(tokens),
	})
}

// Login handles POST /login.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Users == nil || h.Sessions == nil {
		logger.Error("authentication dependencies unavailable", "hasUsers", h.Users != nil, "hasSessions", h.Sessions != nil)
		respondError(ctx, w, http.StatusInternalServerError, "authentication services unavailable")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid login payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		respondError(ctx, w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.Users.FindByUsername(ctx, req.Username)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			logger.Error("login user lookup failed", "username", req.Username, "error", err)
			respondError(ctx, w, http.StatusInternalServerError, "error logging in")
			return
		}
		respondError(ctx, w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		logger.Warn("login password mismatch", "username", user.Username)
		respondError(ctx, w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	tokens, err := h.Sessions.Issue(ctx, user.Username)
	if err != nil {
		logger.Error("failed to issue session", "error", err, "username", user.Username)
		respondError(ctx, w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.setSessionCookies(w, tokens)
	respondJSON(ctx, w, http.StatusOK, sessionResponse{
		Success:  true,
		Message:  "Login successful",
		Username: user.Username,
		Tokens:   newTokenResponse(tokens),
	})
}

// Logout handles POST /api/logout. It always clears the cookies.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if token := refreshTokenFromCookie(r); token != "" && h.Sessions != nil {
		h.Sessions.Revoke(ctx, token)
	}
	h.clearSessionCookies(w)
	respondSuccess(ctx, w, "Logged out")
}

// Refresh handles POST /api/auth/refresh, rotating the refresh token taken
// from the request body or the refresh cookie.
func (h AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Sessions == nil {
		logger.Error("session manager unavailable")
		respondError(ctx, w, http.StatusInternalServerError, "session service unavailable")
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			logger.Warn("invalid refresh payload", "error", err)
			respondError(ctx, w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		token = refreshTokenFromCookie(r)
	}
	if token == "" {
		respondError(ctx, w, http.StatusBadRequest, "refresh token is required")
		return
	}

	tokens, err := h.Sessions.Refresh(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrRefreshTokenExpired) || errors.Is(err, auth.ErrSessionNotFound) {
			h.clearSessionCookies(w)
			respondError(ctx, w, http.StatusUnauthorized, "unable to refresh session")
			return
		}
		logger.Error("refresh failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to refresh session")
		return
	}

	h.setSessionCookies(w, tokens)
	respondJSON(ctx, w, http.StatusOK, sessionResponse{Success: true, Tokens: newTokenResponse(tokens)})
}

// CurrentUser handles GET /api/current-user.
func (h AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	username, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if h.Users == nil {
		respondJSON(ctx, w, http.StatusOK, currentUserResponse{Username: username})
		return
	}

	user, err := h.Users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			h.clearSessionCookies(w)
			respondError(ctx, w, http.StatusUnauthorized, "account no longer exists")
			return
		}
		respondError(ctx, w, http.StatusInternalServerError, "failed to load user")
		return
	}

	respondJSON(ctx, w, http.StatusOK, currentUserResponse{
		Username:    user.Username,
		Name:        user.Name,
		Intro:       user.Intro,
		Connections: user.ConnectionsCount,
	})
}

func (h AuthHandler) setSessionCookies(w http.ResponseWriter, tokens models.SessionTokens) {
	http.SetCookie(w, h.cookie(middleware.SessionCookie, tokens.AccessToken, tokens.AccessExpiresAt))
	http.SetCookie(w, h.cookie(RefreshCookie, tokens.RefreshToken, tokens.RefreshExpiresAt))
}

func (h AuthHandler) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{middleware.SessionCookie, RefreshCookie} {
		cookie := h.cookie(name, "", time.Unix(0, 0))
		cookie.MaxAge = -1
		http.SetCookie(w, cookie)
	}
}

func (h AuthHandler) cookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func refreshTokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(RefreshCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func newTokenResponse(tokens models.SessionTokens) tokenResponse {
	return tokenResponse{
		AccessToken:      tokens.AccessToken,
		AccessExpiresAt:  tokens.AccessExpiresAt,
		RefreshToken:     tokens.RefreshToken,
		RefreshExpiresAt: tokens.RefreshExpiresAt,
	}
}

type sessionResponse struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message,omitempty"`
	Username string        `json:"username,omitempty"`
	Tokens   tokenResponse `json:"tokens"`
}

type currentUserResponse struct {
	Username    string `json:"username"`
	Name        string `json:"name,omitempty"`
	Intro       string `json:"intro,omitempty"`
	Connections int    `json:"connections"`
}

func (h AuthHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}
