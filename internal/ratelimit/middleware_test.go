package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestMiddlewareLimitsPerClientAndRoute(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fixed, err := NewFixedWindow(client, "rlf")
	require.NoError(t, err)

	limiters := map[string]Allower{
		"sliding": Limiter{Client: client, Prefix: "rl:"},
		"fixed":   fixed,
	}
	for name, l := range limiters {
		t.Run(name, func(t *testing.T) {
			webhook := Handler{Limiter: l, Config: Config{Key: ByClientIP("webhook-" + name), Window: time.Minute, Max: 1}}.Middleware(okHandler())
			ret := Handler{Limiter: l, Config: Config{Key: ByClientIP("return-" + name), Window: time.Minute, Max: 1}}.Middleware(okHandler())

			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/konnect", nil)
			rec := httptest.NewRecorder()
			webhook.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)

			rec = httptest.NewRecorder()
			webhook.ServeHTTP(rec, req)
			require.Equal(t, http.StatusTooManyRequests, rec.Code)
			require.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
			require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
			require.NotEmpty(t, rec.Header().Get("Retry-After"))
			require.Contains(t, rec.Body.String(), "RATE_LIMITED")

			// Same client, different route budget.
			rec = httptest.NewRecorder()
			ret.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkout/1/payment/return", nil))
			require.Equal(t, http.StatusOK, rec.Code)

			other := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/konnect", nil)
			other.RemoteAddr = "198.51.100.7:4321"
			rec = httptest.NewRecorder()
			webhook.ServeHTTP(rec, other)
			require.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

type failingAllower struct{}

func (failingAllower) Allow(_ context.Context, _ string, window time.Duration, _ int) (bool, int, time.Time, error) {
	return false, 0, time.Now().Add(window), errors.New("redis down")
}

func TestMiddlewareFailsOpen(t *testing.T) {
	var reported error
	h := Handler{
		Limiter: failingAllower{},
		Config:  Config{Key: ByClientIP("webhook"), Window: time.Second, Max: 1},
		OnError: func(err error) { reported = err },
	}.Middleware(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualError(t, reported, "redis down")
}

func TestMiddlewareWithoutLimiterPassesThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler{Config: Config{Key: ByClientIP("return"), Window: time.Second, Max: 1}}.Middleware(okHandler()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
