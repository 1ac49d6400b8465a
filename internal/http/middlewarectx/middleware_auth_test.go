package middlewarectx_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/vpn-provisioner/internal/http/middlewarectx"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/jwt"
)

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestJWTMiddleware(t *testing.T) {
	maker := jwt.NewJWTMaker("svc_secret", time.Minute)
	valid, err := maker.GenerateToken("bot")
	assert.NoError(t, err)
	foreign, err := jwt.NewJWTMaker("other", time.Minute).GenerateToken("bot")
	assert.NoError(t, err)

	tests := []struct {
		name           string
		authHeader     string
		wantStatusCode int
		wantCalled     bool
	}{
		{name: "missing header", wantStatusCode: http.StatusUnauthorized},
		{name: "wrong scheme", authHeader: "Basic abc", wantStatusCode: http.StatusUnauthorized},
		{name: "foreign signature", authHeader: "Bearer " + foreign, wantStatusCode: http.StatusUnauthorized},
		{name: "valid token", authHeader: "Bearer " + valid, wantStatusCode: http.StatusOK, wantCalled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				assert.Equal(t, "bot", r.Context().Value(middlewarectx.Service))
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			middlewarectx.JWTMiddleware(maker, newNoopLogger())(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatusCode, rec.Code)
			assert.Equal(t, tt.wantCalled, called)
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("allows requests within burst", func(t *testing.T) {
		h := middlewarectx.RateLimitMiddleware(newNoopLogger(), 10, 10)(ok)
		for range 10 {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	})

	t.Run("blocks requests exceeding burst", func(t *testing.T) {
		h := middlewarectx.RateLimitMiddleware(newNoopLogger(), 1, 1)(ok)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}
