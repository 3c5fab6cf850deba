package health

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/noah-isme/konnect-pay/internal/common"
)

// ErrNotConfigured is returned by probes for optional dependencies that are switched off.
var ErrNotConfigured = errors.New("health: dependency not configured")

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady flips the readiness gate. The API clears it when shutdown starts so load balancers drain.
func SetReady(v bool) {
	ready.Store(v)
}

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// BreakerReporter exposes the provider circuit state; it is informative and never fails readiness.
type BreakerReporter interface {
	StateName() string
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker      Checker
	Provider     BreakerReporter
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes. Redis counts as healthy when it is not configured.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Checker == nil {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "dependencies unavailable"})
		return
	}
	ctx := r.Context()
	healthy := ready.Load()
	status := map[string]string{"db": "ok", "redis": "ok"}
	if !healthy {
		status["status"] = "shutting_down"
	}
	if err := h.Checker.PingDB(ctx, h.dbTimeout()); err != nil {
		status["db"] = err.Error()
		healthy = false
	}
	if err := h.Checker.PingRedis(ctx, h.redisTimeout()); err != nil {
		if errors.Is(err, ErrNotConfigured) {
			status["redis"] = "disabled"
		} else {
			status["redis"] = err.Error()
			healthy = false
		}
	}
	if h.Provider != nil {
		status["provider_circuit"] = h.Provider.StateName()
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func (h Handler) dbTimeout() time.Duration {
	if h.DBTimeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.DBTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
