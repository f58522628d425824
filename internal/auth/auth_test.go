package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type memUserStore struct {
	users  map[string]*User
	tokens map[string]time.Time // token -> expiry
}

func newMemUserStore() *memUserStore {
	return &memUserStore{
		users:  make(map[string]*User),
		tokens: make(map[string]time.Time),
	}
}

func (m *memUserStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, errors.New("user not found")
}

func (m *memUserStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u, ok := m.users[email]
	if !ok {
		return nil, errors.New("user not found")
	}
	return u, nil
}

func (m *memUserStore) CreateUser(ctx context.Context, user *User) error {
	m.users[user.Email] = user
	return nil
}

func (m *memUserStore) UpdateUser(ctx context.Context, user *User) error { return nil }
func (m *memUserStore) DeleteUser(ctx context.Context, id string) error  { return nil }
func (m *memUserStore) ListUsers(ctx context.Context) ([]*User, error)   { return nil, nil }

func (m *memUserStore) RecordLogin(ctx context.Context, id string, at time.Time) error {
	for _, u := range m.users {
		if u.ID == id {
			u.LastLoginAt = &at
		}
	}
	return nil
}

func (m *memUserStore) StoreRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	m.tokens[token] = expiresAt
	return nil
}

func (m *memUserStore) ValidateRefreshToken(ctx context.Context, userID, token string) (bool, error) {
	exp, ok := m.tokens[token]
	return ok && exp.After(time.Now()), nil
}

func (m *memUserStore) RevokeRefreshToken(ctx context.Context, userID, token string) error {
	delete(m.tokens, token)
	return nil
}

func (m *memUserStore) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	m.tokens = make(map[string]time.Time)
	return nil
}

func newTestService(t *testing.T) (*Service, *memUserStore) {
	t.Helper()

	store := newMemUserStore()
	svc := NewService(Config{JWTSecret: "test-secret"}, store)

	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	store.users["reviewer@corp.io"] = &User{
		ID:       "u-1",
		Email:    "reviewer@corp.io",
		Name:     "Reviewer",
		Password: hash,
		Role:     RoleReviewer,
		Active:   true,
	}

	return svc, store
}

func TestLoginAndValidate(t *testing.T) {
	svc, store := newTestService(t)

	pair, err := svc.Login(context.Background(), "reviewer@corp.io", "hunter22")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", pair.TokenType)
	}

	claims, err := svc.ValidateToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Email != "reviewer@corp.io" || claims.Role != RoleReviewer {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Name != "Reviewer" {
		t.Errorf("Name = %q, want Reviewer", claims.Name)
	}

	if store.users["reviewer@corp.io"].LastLoginAt == nil {
		t.Error("login not stamped on the user record")
	}
}

func TestLoginNormalizesEmail(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Login(context.Background(), "  Reviewer@CORP.io ", "hunter22"); err != nil {
		t.Errorf("Login() error = %v for case-differing email", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Login(context.Background(), "reviewer@corp.io", "wrong"); err != ErrInvalidCredentials {
		t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(context.Background(), "nobody@corp.io", "hunter22"); err != ErrInvalidCredentials {
		t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginDisabledUser(t *testing.T) {
	svc, store := newTestService(t)
	store.users["reviewer@corp.io"].Active = false

	if _, err := svc.Login(context.Background(), "reviewer@corp.io", "hunter22"); !errors.Is(err, ErrUserDisabled) {
		t.Errorf("Login() error = %v, want ErrUserDisabled", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, store := newTestService(t)

	pair, err := svc.Login(context.Background(), "reviewer@corp.io", "hunter22")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	next, err := svc.RefreshTokens(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshTokens() error = %v", err)
	}
	if next.AccessToken == "" {
		t.Fatal("refresh returned empty access token")
	}

	// The old refresh token is revoked on rotation.
	if _, ok := store.tokens[pair.RefreshToken]; ok {
		t.Error("old refresh token still stored after rotation")
	}
	if _, err := svc.RefreshTokens(context.Background(), pair.RefreshToken); err == nil {
		t.Error("expected error reusing rotated refresh token")
	}
}

func TestRefreshDisabledUser(t *testing.T) {
	svc, store := newTestService(t)

	pair, err := svc.Login(context.Background(), "reviewer@corp.io", "hunter22")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	// An account disabled after login cannot refresh its session.
	store.users["reviewer@corp.io"].Active = false
	if _, err := svc.RefreshTokens(context.Background(), pair.RefreshToken); !errors.Is(err, ErrUserDisabled) {
		t.Errorf("RefreshTokens() error = %v, want ErrUserDisabled", err)
	}
}

func TestValidateTokenBadSecret(t *testing.T) {
	svc, _ := newTestService(t)
	other := NewService(Config{JWTSecret: "other-secret"}, newMemUserStore())

	pair, err := svc.Login(context.Background(), "reviewer@corp.io", "hunter22")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if _, err := other.ValidateToken(pair.AccessToken); err == nil {
		t.Error("expected validation failure with a different secret")
	}
}

func TestRoleGrants(t *testing.T) {
	tests := []struct {
		role Role
		min  Role
		want bool
	}{
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleReviewer, true},
		{RoleAdmin, RoleViewer, true},
		{RoleReviewer, RoleAdmin, false},
		{RoleReviewer, RoleReviewer, true},
		{RoleReviewer, RoleViewer, true},
		{RoleViewer, RoleReviewer, false},
		{RoleViewer, RoleViewer, true},
		{Role("superuser"), RoleViewer, false},
	}

	for _, tt := range tests {
		if got := tt.role.Grants(tt.min); got != tt.want {
			t.Errorf("%s.Grants(%s) = %v, want %v", tt.role, tt.min, got, tt.want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	svc, _ := newTestService(t)

	pair, err := svc.Login(context.Background(), "reviewer@corp.io", "hunter22")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	handler := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetUserFromContext(r.Context())
		if !ok || claims.Role != RoleReviewer {
			t.Errorf("claims not propagated: %+v", claims)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	// No header rejects.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	// A non-bearer scheme rejects too.
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for basic auth", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	svc, _ := newTestService(t)

	pair, err := svc.Login(context.Background(), "reviewer@corp.io", "hunter22")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	adminGate := svc.Middleware(RequireRole(RoleAdmin)(ok))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	adminGate.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for reviewer on admin route", rec.Code)
	}

	// The role order means a reviewer passes reviewer and viewer gates.
	for _, min := range []Role{RoleReviewer, RoleViewer} {
		gate := svc.Middleware(RequireRole(min)(ok))
		req = httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		rec = httptest.NewRecorder()
		gate.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200 for reviewer on %s route", rec.Code, min)
		}
	}
}
