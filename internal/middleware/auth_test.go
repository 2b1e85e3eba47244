package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject, tenantID string, scopes []string) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: tenantID,
		Scopes:   scopes,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authProbe() (http.Handler, *struct{ userID, tenantID string }) {
	seen := &struct{ userID, tenantID string }{}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.userID = GetUserID(r.Context())
		seen.tenantID = GetTenantID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return Auth(testSecret)(h), seen
}

func TestAuthAcceptsBearerHeader(t *testing.T) {
	h, seen := authProbe()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "user-1", "tenant-1", []string{"chat"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen.userID != "user-1" || seen.tenantID != "tenant-1" {
		t.Errorf("claims not propagated: %+v", seen)
	}
}

func TestAuthAcceptsAccessTokenCookie(t *testing.T) {
	h, seen := authProbe()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: signToken(t, testSecret, "user-2", "tenant-2", nil)})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen.tenantID != "tenant-2" {
		t.Errorf("cookie claims not propagated: %+v", seen)
	}
}

func TestAuthRejectsMissingAndBadTokens(t *testing.T) {
	h, _ := authProbe()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "wrong-secret", "user-1", "tenant-1", nil))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong signature: expected 401, got %d", rec.Code)
	}

	expired := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		TenantID: "tenant-1",
	}
	signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, expired).SignedString([]byte(testSecret))
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expired token: expected 401, got %d", rec.Code)
	}
}

func TestHasScope(t *testing.T) {
	h := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !HasScope(r.Context(), "chat") {
			t.Error("expected chat scope")
		}
		if HasScope(r.Context(), "admin") {
			t.Error("unexpected admin scope")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "user-1", "tenant-1", []string{"chat"}))
	h.ServeHTTP(httptest.NewRecorder(), req)
}
