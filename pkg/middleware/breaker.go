package middleware

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ballast/pkg/config"
	"github.com/ajitpratap0/ballast/pkg/errors"
	"github.com/ajitpratap0/ballast/pkg/metrics"
)

// CircuitState represents the state of one circuit
type CircuitState int

const (
	// CircuitClosed allows all requests through
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects all requests immediately
	CircuitOpen
	// CircuitHalfOpen allows a bounded number of trial requests
	CircuitHalfOpen
)

// String returns the state name
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// circuit is the per-key state machine. Each circuit has its own lock so
// unrelated resources never contend.
type circuit struct {
	mu sync.Mutex

	state        CircuitState
	failures     int
	windowStart  time.Time
	successes    int
	openUntil    time.Time
	trialsActive int
}

// CircuitSnapshot is the externally visible state of one circuit
type CircuitSnapshot struct {
	Resource  string       `json:"resource"`
	State     CircuitState `json:"state"`
	Failures  int          `json:"failures"`
	Successes int          `json:"successes"`
	OpenUntil time.Time    `json:"open_until,omitempty"`
}

// CircuitBreaker isolates failing resources behind per-key state machines.
// A key transitions CLOSED -> OPEN after FailureThreshold failures inside
// Window, OPEN -> HALF_OPEN after Timeout, and HALF_OPEN -> CLOSED after
// SuccessThreshold consecutive trial successes. Keys are fully independent.
type CircuitBreaker struct {
	cfg    config.BreakerConfig
	logger *zap.Logger

	mu       sync.RWMutex
	circuits map[string]*circuit

	// now is replaceable in tests to step through timeouts
	now func() time.Time
}

// NewCircuitBreaker builds a breaker from configuration
func NewCircuitBreaker(cfg config.BreakerConfig, logger *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "circuit_breaker")),
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (b *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	b.now = now
	return b
}

// Middleware returns the chain element enforcing circuit state. The request's
// Resource field keys the circuit; empty maps to "default".
func (b *CircuitBreaker) Middleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			if !b.cfg.Enabled {
				return next(ctx, req)
			}

			key := req.Resource
			if key == "" {
				key = "default"
			}

			if !b.Allow(key) {
				metrics.CircuitRejections.WithLabelValues(key).Inc()
				return nil, errors.New(errors.ErrorTypeCircuitOpen, "circuit open").
					WithDetail("resource", key).
					WithDetail("request_id", req.ID)
			}

			resp, err := next(ctx, req)
			if err != nil && !errors.IsRejection(err) {
				b.RecordFailure(key)
			} else {
				b.RecordSuccess(key)
			}
			return resp, err
		}
	}
}

// Allow reports whether a request may proceed against the keyed resource.
// In HALF_OPEN it admits at most HalfOpenMaxRequests concurrent trials.
func (b *CircuitBreaker) Allow(key string) bool {
	c := b.get(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := b.now()

	switch c.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if now.Before(c.openUntil) {
			return false
		}
		b.transition(key, c, CircuitHalfOpen, now)
		c.trialsActive = 1
		return true

	case CircuitHalfOpen:
		limit := b.cfg.HalfOpenMaxRequests
		if limit <= 0 {
			limit = 1
		}
		if c.trialsActive >= limit {
			return false
		}
		c.trialsActive++
		return true
	}

	return false
}

// RecordSuccess records a successful call against the keyed resource
func (b *CircuitBreaker) RecordSuccess(key string) {
	c := b.get(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := b.now()

	switch c.state {
	case CircuitClosed:
		// success inside a closed circuit ages the failure window naturally

	case CircuitHalfOpen:
		if c.trialsActive > 0 {
			c.trialsActive--
		}
		c.successes++
		if c.successes >= b.cfg.SuccessThreshold {
			b.transition(key, c, CircuitClosed, now)
		}
	}
}

// RecordFailure records a failed call against the keyed resource
func (b *CircuitBreaker) RecordFailure(key string) {
	c := b.get(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := b.now()

	switch c.state {
	case CircuitClosed:
		if b.cfg.Window > 0 && now.Sub(c.windowStart) > b.cfg.Window {
			c.failures = 0
			c.windowStart = now
		}
		if c.failures == 0 {
			c.windowStart = now
		}
		c.failures++
		if c.failures >= b.cfg.FailureThreshold {
			b.transition(key, c, CircuitOpen, now)
		}

	case CircuitHalfOpen:
		// any trial failure reopens immediately
		if c.trialsActive > 0 {
			c.trialsActive--
		}
		b.transition(key, c, CircuitOpen, now)
	}
}

// State returns the current state of the keyed circuit
func (b *CircuitBreaker) State(key string) CircuitState {
	c := b.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	// surface OPEN circuits whose timeout has elapsed as-is; the transition
	// happens on the next Allow
	return c.state
}

// Snapshot returns the visible state of every known circuit
func (b *CircuitBreaker) Snapshot() []CircuitSnapshot {
	b.mu.RLock()
	keys := make([]string, 0, len(b.circuits))
	for k := range b.circuits {
		keys = append(keys, k)
	}
	b.mu.RUnlock()

	out := make([]CircuitSnapshot, 0, len(keys))
	for _, k := range keys {
		c := b.get(k)
		c.mu.Lock()
		snap := CircuitSnapshot{
			Resource:  k,
			State:     c.state,
			Failures:  c.failures,
			Successes: c.successes,
		}
		if c.state == CircuitOpen {
			snap.OpenUntil = c.openUntil
		}
		c.mu.Unlock()
		out = append(out, snap)
	}
	return out
}

// Reset returns every circuit to CLOSED with cleared counters
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.circuits = make(map[string]*circuit)
}

// get returns the circuit for a key, creating it on first use
func (b *CircuitBreaker) get(key string) *circuit {
	b.mu.RLock()
	c, ok := b.circuits[key]
	b.mu.RUnlock()
	if ok {
		return c
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok = b.circuits[key]; ok {
		return c
	}
	c = &circuit{state: CircuitClosed, windowStart: b.now()}
	b.circuits[key] = c
	return c
}

// transition moves a circuit to a new state. Caller holds c.mu.
func (b *CircuitBreaker) transition(key string, c *circuit, to CircuitState, now time.Time) {
	from := c.state
	c.state = to

	switch to {
	case CircuitOpen:
		c.openUntil = now.Add(b.cfg.Timeout)
		c.successes = 0
	case CircuitHalfOpen:
		c.successes = 0
		c.trialsActive = 0
	case CircuitClosed:
		c.failures = 0
		c.successes = 0
		c.trialsActive = 0
		c.windowStart = now
	}

	metrics.CircuitTransitions.WithLabelValues(key, to.String()).Inc()
	b.logger.Info("circuit transition",
		zap.String("resource", key),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}
