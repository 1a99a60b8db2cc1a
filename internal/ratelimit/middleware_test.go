package ratelimit_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestMiddlewareRejectsAfterBurst(t *testing.T) {
	l := ratelimit.PerMinute(1, 2)
	defer func() { _ = l.Close() }()
	h := ratelimit.Middleware(l, "auth", ratelimit.IPKeyFunc, func(*http.Request) string { return "req-1" })(okHandler())

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			var body model.APIError
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
			assert.Equal(t, "req-1", body.Meta.RequestID)
		}
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
	req.RemoteAddr = "10.0.0.9:4000"
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "other IPs have their own bucket")
}

func TestMiddlewareSkipsEmptyKeyAndNilLimiter(t *testing.T) {
	l := ratelimit.PerMinute(1, 1)
	defer func() { _ = l.Close() }()
	skip := ratelimit.Middleware(l, "x", func(*http.Request) string { return "" }, nil)(okHandler())
	for range 5 {
		rec := httptest.NewRecorder()
		skip.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	none := ratelimit.Middleware(nil, "x", ratelimit.IPKeyFunc, nil)(okHandler())
	rec := httptest.NewRecorder()
	none.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("down") }
func (brokenLimiter) Close() error                                { return nil }

func TestMiddlewareFailsOpen(t *testing.T) {
	h := ratelimit.Middleware(brokenLimiter{}, "x", ratelimit.IPKeyFunc, nil)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	assert.Equal(t, "203.0.113.7", ratelimit.IPKeyFunc(req))
}
