package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atspro/task-service/internal/api/middleware"
	"github.com/atspro/task-service/internal/config"
	"github.com/atspro/task-service/internal/service/auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthFixture(t *testing.T) (auth.JWTService, http.Handler, *uuid.UUID) {
	t.Helper()

	jwtService, err := auth.NewJWTService(config.AuthConfig{
		JWTSecret:     "test-secret-that-is-at-least-32-chars-long",
		TokenLifetime: time.Hour,
	})
	require.NoError(t, err)

	var seen uuid.UUID
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := middleware.GetOwnerID(r)
		require.True(t, ok)
		seen = ownerID
		w.WriteHeader(http.StatusOK)
	})

	mw := middleware.NewAuthMiddleware(jwtService)
	return jwtService, mw.Authenticate(inner), &seen
}

func TestAuthenticateValidToken(t *testing.T) {
	jwtService, handler, seen := newAuthFixture(t)
	ownerID := uuid.New()

	token, err := jwtService.GenerateToken(context.Background(), ownerID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ownerID, *seen)
}

func TestAuthenticateMissingHeader(t *testing.T) {
	_, handler, _ := newAuthFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateMalformedHeader(t *testing.T) {
	_, handler, _ := newAuthFixture(t)

	for _, header := range []string{"Bearer", "Basic abc", "token abc def"} {
		req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestAuthenticateGarbageToken(t *testing.T) {
	_, handler, _ := newAuthFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
