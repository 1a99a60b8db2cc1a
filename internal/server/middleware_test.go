package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mission-control/internal/auth"
	"github.com/ashita-ai/mission-control/internal/ctxutil"
	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/testutil"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name   string
		claims *auth.Claims
		min    model.Role
		want   int
	}{
		{"no claims", nil, model.RoleReader, http.StatusUnauthorized},
		{"reader reads", &auth.Claims{Name: "d", Role: model.RoleReader}, model.RoleReader, http.StatusOK},
		{"reader writes", &auth.Claims{Name: "d", Role: model.RoleReader}, model.RoleAgent, http.StatusForbidden},
		{"agent writes", &auth.Claims{Name: "a", Role: model.RoleAgent}, model.RoleAgent, http.StatusOK},
		{"agent operates", &auth.Claims{Name: "a", Role: model.RoleAgent}, model.RoleOperator, http.StatusForbidden},
		{"operator operates", &auth.Claims{Name: "o", Role: model.RoleOperator}, model.RoleOperator, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/kill-switch", nil)
			if tt.claims != nil {
				req = req.WithContext(ctxutil.WithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			requireRole(tt.min)(okHandler()).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuthMiddlewareBearerToken(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	tok, _, err := mgr.IssueToken("Sophia CSM", model.RoleAgent)
	require.NoError(t, err)

	var got *auth.Claims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ctxutil.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := authMiddleware(mgr, nil, inner)

	req := httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
	req.Header.Set("Authorization", "bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "Sophia CSM", got.Name)
	assert.Equal(t, model.RoleAgent, got.Role)

	for _, header := range []string{"", "Basic abc", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestAuthMiddlewarePublicPathsAndDevClaims(t *testing.T) {
	var got *auth.Claims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ctxutil.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	authMiddleware(nil, nil, inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, got)

	dev := &auth.Claims{Name: "Josh", Role: model.RoleOperator}
	rec = httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	authMiddleware(nil, dev, inner).ServeHTTP(sw, httptest.NewRequest(http.MethodPut, "/v1/kill-switch", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "Josh", got.Name)
	assert.Equal(t, "Josh", sw.actor)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ctxutil.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 200))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Len(t, seen, 36, "oversized ids are replaced")
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(testutil.TestLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, model.ErrCodeInternalError, body.Error.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestDecodeJSON(t *testing.T) {
	type target struct {
		Status string `json:"status"`
	}
	decode := func(body string, limit int64) error {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		var v target
		return decodeJSON(httptest.NewRecorder(), req, &v, limit)
	}

	assert.NoError(t, decode(`{"status":"stopped"}`, 1024))
	assert.ErrorIs(t, decode(``, 1024), errEmptyBody)
	assert.ErrorIs(t, decode(`{"status":"`+strings.Repeat("x", 2048)+`"}`, 1024), errBodyTooLarge)

	err := decode(`{"status":"stopped","extra":1}`, 1024)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errEmptyBody)
}

func TestHandleDecodeError(t *testing.T) {
	rec := httptest.NewRecorder()
	handleDecodeError(rec, httptest.NewRequest(http.MethodPost, "/", nil), errBodyTooLarge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	handleDecodeError(rec, httptest.NewRequest(http.MethodPost, "/", nil), errEmptyBody)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	securityHeadersMiddleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
