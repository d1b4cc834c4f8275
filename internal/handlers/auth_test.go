package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hestia/backend/internal/auth"
	"github.com/hestia/backend/internal/middleware"
	"github.com/hestia/backend/internal/models"
	"github.com/hestia/backend/internal/repositories"
)

type inMemoryUserStore struct {
	users map[string]models.User
}

func newInMemoryUserStore() *inMemoryUserStore {
	return &inMemoryUserStore{users: make(map[string]models.User)}
}

func (s *inMemoryUserStore) Create(_ context.Context, user models.User) error {
	if _, exists := s.users[user.Username]; exists {
		return repositories.ErrConflict
	}
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return repositories.ErrConflict
		}
	}
	s.users[user.Username] = user
	return nil
}

func (s *inMemoryUserStore) FindByUsername(_ context.Context, username string) (models.User, error) {
	user, ok := s.users[username]
	if !ok {
		return models.User{}, repositories.ErrNotFound
	}
	return user, nil
}

func newTestManager() (*auth.Manager, *auth.InMemorySessionStore) {
	store := auth.NewInMemorySessionStore()
	return auth.NewManager("test-secret", time.Minute, time.Hour, store), store
}

func postJSON(t *testing.T, target string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestAuthHandlerRegister(t *testing.T) {
	store := newInMemoryUserStore()
	manager, _ := newTestManager()
	handler := AuthHandler{Users: store, Sessions: manager}

	req := postJSON(t, "/register", registerRequest{
		Username:        "alice",
		Email:           "Alice@Example.com",
		Password:        "supersafe",
		ConfirmPassword: "supersafe",
	})
	rec := httptest.NewRecorder()

	handler.Register(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var resp sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Tokens.AccessToken == "" || resp.Tokens.RefreshToken == "" {
		t.Fatalf("expected tokens to be issued, got %+v", resp.Tokens)
	}

	stored, err := store.FindByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("expected user to be stored: %v", err)
	}
	if stored.Email != "alice@example.com" {
		t.Fatalf("expected normalised email, got %q", stored.Email)
	}
	if bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("supersafe")) != nil {
		t.Fatal("stored password is not hashed")
	}
	if findCookie(rec, middleware.SessionCookie) == nil {
		t.Fatal("expected session cookie")
	}
}

func TestAuthHandlerRegisterValidation(t *testing.T) {
	manager, _ := newTestManager()

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{name: "missing fields", body: registerRequest{Username: "alice"}, status: http.StatusBadRequest},
		{name: "password mismatch", body: registerRequest{Username: "alice", Email: "a@example.com", Password: "supersafe", ConfirmPassword: "different"}, status: http.StatusBadRequest},
		{name: "short password", body: registerRequest{Username: "alice", Email: "a@example.com", Password: "short", ConfirmPassword: "short"}, status: http.StatusBadRequest},
		{name: "bad email", body: registerRequest{Username: "alice", Email: "nope", Password: "supersafe", ConfirmPassword: "supersafe"}, status: http.StatusBadRequest},
		{name: "bad username", body: registerRequest{Username: "a/b", Email: "a@example.com", Password: "supersafe", ConfirmPassword: "supersafe"}, status: http.StatusBadRequest},
		{name: "unknown field", body: map[string]string{"username": "alice", "role": "admin"}, status: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := AuthHandler{Users: newInMemoryUserStore(), Sessions: manager}
			rec := httptest.NewRecorder()
			handler.Register(rec, postJSON(t, "/register", tc.body))
			if rec.Code != tc.status {
				t.Fatalf("expected status %d got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAuthHandlerRegisterConflict(t *testing.T) {
	store := newInMemoryUserStore()
	store.users["alice"] = models.User{Username: "alice", Email: "alice@example.com"}
	manager, _ := newTestManager()
	handler := AuthHandler{Users: store, Sessions: manager}

	rec := httptest.NewRecorder()
	handler.Register(rec, postJSON(t, "/register", registerRequest{
		Username: "alice", Email: "other@example.com", Password: "supersafe", ConfirmPassword: "supersafe",
	}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d got %d", http.StatusConflict, rec.Code)
	}
}

func TestAuthHandlerLogin(t *testing.T) {
	store := newInMemoryUserStore()
	manager, _ := newTestManager()
	handler := AuthHandler{Users: store, Sessions: manager}

	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	store.users["bob"] = models.User{Username: "bob", Email: "bob@example.com", Password: string(hashed)}

	rec := httptest.NewRecorder()
	handler.Login(rec, postJSON(t, "/login", loginRequest{Username: "bob", Password: "password123"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
	}

	var resp sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Username != "bob" || resp.Tokens.AccessToken == "" {
		t.Fatalf("unexpected response %+v", resp)
	}

	cookie := findCookie(rec, middleware.SessionCookie)
	if cookie == nil || !cookie.HttpOnly {
		t.Fatalf("expected http-only session cookie, got %+v", cookie)
	}
	username, err := manager.Authenticate(cookie.Value)
	if err != nil || username != "bob" {
		t.Fatalf("expected cookie to authenticate bob, got %q, %v", username, err)
	}
}

func TestAuthHandlerLoginRejectsBadCredentials(t *testing.T) {
	store := newInMemoryUserStore()
	manager, _ := newTestManager()
	handler := AuthHandler{Users: store, Sessions: manager}

	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	store.users["bob"] = models.User{Username: "bob", Password: string(hashed)}

	for _, body := range []loginRequest{
		{Username: "bob", Password: "wrong-password"},
		{Username: "nobody", Password: "password123"},
	} {
		rec := httptest.NewRecorder()
		handler.Login(rec, postJSON(t, "/login", body))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d for %q got %d", http.StatusUnauthorized, body.Username, rec.Code)
		}
	}
}

func TestAuthHandlerRefresh(t *testing.T) {
	manager, _ := newTestManager()
	tokens, err := manager.Issue(context.Background(), "carol")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	handler := AuthHandler{Sessions: manager}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: tokens.RefreshToken})
	rec := httptest.NewRecorder()
	handler.Refresh(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var resp sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Tokens.RefreshToken == "" || resp.Tokens.RefreshToken == tokens.RefreshToken {
		t.Fatalf("expected a rotated refresh token, got %q", resp.Tokens.RefreshToken)
	}

	rec = httptest.NewRecorder()
	handler.Refresh(rec, postJSON(t, "/api/auth/refresh", refreshRequest{RefreshToken: tokens.RefreshToken}))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected reused token to be rejected, got %d", rec.Code)
	}
}

func TestAuthHandlerRefreshRequiresToken(t *testing.T) {
	manager, _ := newTestManager()
	handler := AuthHandler{Sessions: manager}

	rec := httptest.NewRecorder()
	handler.Refresh(rec, httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestAuthHandlerLogoutRevokesSession(t *testing.T) {
	manager, store := newTestManager()
	tokens, err := manager.Issue(context.Background(), "dave")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	handler := AuthHandler{Sessions: manager}
	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: tokens.RefreshToken})
	rec := httptest.NewRecorder()
	handler.Logout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
	}
	if store.Len("dave") != 0 {
		t.Fatal("expected refresh token to be revoked")
	}
	if cookie := findCookie(rec, middleware.SessionCookie); cookie == nil || cookie.MaxAge >= 0 {
		t.Fatalf("expected session cookie to be cleared, got %+v", cookie)
	}
}

func TestAuthHandlerCurrentUser(t *testing.T) {
	store := newInMemoryUserStore()
	store.users["erin"] = models.User{Username: "erin", Name: "Erin", ConnectionsCount: 2}
	handler := AuthHandler{Users: store}

	req := httptest.NewRequest(http.MethodGet, "/api/current-user", nil)
	rec := httptest.NewRecorder()
	handler.CurrentUser(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
	}

	req = req.WithContext(auth.WithUsername(req.Context(), "erin"))
	rec = httptest.NewRecorder()
	handler.CurrentUser(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
	}

	var resp currentUserResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Username != "erin" || resp.Connections != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
}
