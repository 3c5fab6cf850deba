package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the breaker refuses a call.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Breaker trips when the failure ratio over the last outcomes reaches a threshold. After the cool-off a
// single probe decides whether it closes again.
type Breaker struct {
	mu       sync.Mutex
	state    State
	outcomes []bool // ring of recent results, true = failure
	next     int
	filled   int
	ratio    float64
	openFor  time.Duration
	openedAt time.Time
	probing  bool
	target   string
	logger   zerolog.Logger

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewBreaker returns a closed breaker judging the last minRequests outcomes (at least one).
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests < 1 {
		minRequests = 1
	}
	if failureRatio <= 0 || failureRatio > 1 {
		failureRatio = 0.5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		outcomes: make([]bool, minRequests),
		ratio:    failureRatio,
		openFor:  openFor,
		target:   "default",
		logger:   zerolog.Nop(),
		Now:      time.Now,
	}
}

// WithTarget names the dependency in metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t := strings.TrimSpace(target); t != "" {
		b.target = t
	}
	CircuitState.WithLabelValues(b.target).Set(float64(b.state))
	return b
}

// WithLogger sets the logger used for transitions.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// Allow reports whether a call may go out now.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	allowed := true
	switch b.state {
	case Open:
		if b.Now().Sub(b.openedAt) < b.openFor {
			allowed = false
			break
		}
		b.moveLocked(ctx, HalfOpen)
		b.probing = true
	case HalfOpen:
		allowed = !b.probing
		b.probing = true
	}
	if !allowed {
		CircuitRejected.WithLabelValues(b.target).Inc()
	}
	return allowed
}

// Report feeds the outcome of an allowed call back into the breaker.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probing = false
		if success {
			b.moveLocked(ctx, Closed)
		} else {
			b.moveLocked(ctx, Open)
		}
		return
	}

	b.outcomes[b.next] = !success
	b.next = (b.next + 1) % len(b.outcomes)
	if b.filled < len(b.outcomes) {
		b.filled++
	}
	if b.filled < len(b.outcomes) {
		return
	}
	failures := 0
	for _, failed := range b.outcomes {
		if failed {
			failures++
		}
	}
	if float64(failures)/float64(len(b.outcomes)) >= b.ratio {
		b.moveLocked(ctx, Open)
	}
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// StateName is State as a label; a nil breaker reads as closed.
func (b *Breaker) StateName() string {
	if b == nil {
		return Closed.String()
	}
	return b.State().String()
}

func (b *Breaker) moveLocked(ctx context.Context, to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.next, b.filled = 0, 0
	clear(b.outcomes)
	if to == Open {
		b.openedAt = b.Now()
	}

	CircuitState.WithLabelValues(b.target).Set(float64(to))
	CircuitTransitions.WithLabelValues(b.target, from.String(), to.String()).Inc()

	evt := b.logger.Warn()
	if to == Closed {
		evt = b.logger.Info()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Str("target", b.target).Str("from_state", from.String()).Str("to_state", to.String()).Msg("circuit_transition")
}
