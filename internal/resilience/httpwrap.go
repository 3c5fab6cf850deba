package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrUpstreamStatus marks a 5xx answer from the downstream dependency. Callers still receive the response
// alongside it so that the body can be inspected.
var ErrUpstreamStatus = errors.New("resilience: upstream server error")

// HTTPClient wraps an http.Client with a per-call timeout and circuit-breaker bookkeeping. Each call is
// attempted exactly once; callers that want retries must loop themselves.
type HTTPClient struct {
	Client  *http.Client
	Breaker *Breaker
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Do executes the request once. When the breaker is open ErrOpenCircuit is returned without touching the
// network. A 5xx response counts as a breaker failure and is returned together with ErrUpstreamStatus.
// The returned cancel function must be called once the response body has been consumed.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, context.CancelFunc, error) {
	if cl.Client == nil {
		return nil, nil, errors.New("resilience: http client not configured")
	}
	breaker := cl.Breaker
	if breaker == nil {
		breaker = NewBreaker(1, 1, time.Second)
	}
	if !breaker.Allow(ctx) {
		cl.Logger.Warn().Str("host", req.URL.Host).Msg("circuit open, skipping upstream call")
		return nil, nil, ErrOpenCircuit
	}

	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}

	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		breaker.Report(ctx, false)
		return nil, nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		breaker.Report(ctx, false)
		return resp, cancel, fmt.Errorf("%w: %s", ErrUpstreamStatus, resp.Status)
	}
	breaker.Report(ctx, true)
	return resp, cancel, nil
}
