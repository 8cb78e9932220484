package middleware_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/daneralejandro03/geolocation-backend/internal/identity"
	"github.com/daneralejandro03/geolocation-backend/internal/server/middleware"
)

const testSecret = "test-secret"

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestDirectory() *identity.InMemoryDirectory {
	dir := identity.NewInMemoryDirectory()
	dir.Put(identity.Identity{ID: 1, Name: "Courier One", Role: identity.RoleReporter})
	return dir
}

func signToken(t *testing.T, secret, subject string, expiresAt time.Time) string {
	t.Helper()
	claims := middleware.Claims{
		Name: "Courier One",
		Role: "LOCATION",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return token
}

// runHandshake drives a request through metadata + auth and reports the final
// status, whether the inner handler ran, and the metadata it saw.
func runHandshake(t *testing.T, authorization string) (status int, admitted bool, meta *middleware.RequestMetadata) {
	t.Helper()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admitted = true
		meta, _ = middleware.ReqMetadataFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := middleware.Chain(inner,
		middleware.RequestMetadataMiddleware(),
		middleware.NewAuthMiddleware(newTestLogger(), testSecret, newTestDirectory()),
	)

	req := httptest.NewRequest(http.MethodGet, "/geolocation", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code, admitted, meta
}

func TestMissingCredential(t *testing.T) {
	status, admitted, _ := runHandshake(t, "")
	if status != http.StatusUnauthorized || admitted {
		t.Errorf("handshake without credential: status=%d admitted=%v", status, admitted)
	}
}

func TestMalformedScheme(t *testing.T) {
	token := signToken(t, testSecret, "1", time.Now().Add(time.Hour))
	status, admitted, _ := runHandshake(t, "Token "+token)
	if status != http.StatusUnauthorized || admitted {
		t.Errorf("handshake with non-bearer scheme: status=%d admitted=%v", status, admitted)
	}
}

func TestInvalidSignature(t *testing.T) {
	token := signToken(t, "some-other-secret", "1", time.Now().Add(time.Hour))
	status, admitted, _ := runHandshake(t, "Bearer "+token)
	if status != http.StatusUnauthorized || admitted {
		t.Errorf("handshake with bad signature: status=%d admitted=%v", status, admitted)
	}
}

func TestExpiredCredential(t *testing.T) {
	token := signToken(t, testSecret, "1", time.Now().Add(-time.Hour))
	status, admitted, _ := runHandshake(t, "Bearer "+token)
	if status != http.StatusUnauthorized || admitted {
		t.Errorf("handshake with expired token: status=%d admitted=%v", status, admitted)
	}
}

func TestUnknownIdentity(t *testing.T) {
	token := signToken(t, testSecret, "404", time.Now().Add(time.Hour))
	status, admitted, _ := runHandshake(t, "Bearer "+token)
	if status != http.StatusUnauthorized || admitted {
		t.Errorf("handshake with unknown subject: status=%d admitted=%v", status, admitted)
	}
}

func TestNonNumericSubject(t *testing.T) {
	token := signToken(t, testSecret, "not-a-number", time.Now().Add(time.Hour))
	status, admitted, _ := runHandshake(t, "Bearer "+token)
	if status != http.StatusUnauthorized || admitted {
		t.Errorf("handshake with malformed subject: status=%d admitted=%v", status, admitted)
	}
}

func TestSuccessfulHandshakeResolvesIdentity(t *testing.T) {
	token := signToken(t, testSecret, "1", time.Now().Add(time.Hour))
	status, admitted, meta := runHandshake(t, "Bearer "+token)
	if status != http.StatusOK || !admitted {
		t.Fatalf("valid handshake rejected: status=%d admitted=%v", status, admitted)
	}
	if !meta.Authenticated {
		t.Error("metadata not marked authenticated")
	}
	// The identity comes from the directory record, not the token claims.
	if meta.Identity.ID != 1 || meta.Identity.Name != "Courier One" || meta.Identity.Role != identity.RoleReporter {
		t.Errorf("resolved identity = %+v", meta.Identity)
	}
}
