package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/ballast/pkg/config"
	"github.com/ajitpratap0/ballast/pkg/errors"
)

func testBreakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		Enabled:             true,
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             100 * time.Millisecond,
		Window:              time.Minute,
		HalfOpenMaxRequests: 2,
	}
}

func TestBreakerOpensAfterThresholdFailures(t *testing.T) {
	b := NewCircuitBreaker(testBreakerConfig(), zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		require.True(t, b.Allow("db"))
		b.RecordFailure("db")
	}

	assert.Equal(t, CircuitOpen, b.State("db"))
	assert.False(t, b.Allow("db"))
}

func TestBreakerKeysAreIsolated(t *testing.T) {
	b := NewCircuitBreaker(testBreakerConfig(), zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		b.RecordFailure("db")
	}

	assert.Equal(t, CircuitOpen, b.State("db"))
	assert.Equal(t, CircuitClosed, b.State("cache"))
	assert.True(t, b.Allow("cache"))
}

func TestBreakerHalfOpenBoundsTrials(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := NewCircuitBreaker(testBreakerConfig(), zaptest.NewLogger(t)).WithClock(clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure("db")
	}
	require.False(t, b.Allow("db"))

	// Timeout elapses: half-open admits at most HalfOpenMaxRequests trials
	now = now.Add(150 * time.Millisecond)
	assert.True(t, b.Allow("db"))
	assert.Equal(t, CircuitHalfOpen, b.State("db"))
	assert.True(t, b.Allow("db"))
	assert.False(t, b.Allow("db"))
}

func TestBreakerClosesAfterTrialSuccesses(t *testing.T) {
	now := time.Now()
	b := NewCircuitBreaker(testBreakerConfig(), zaptest.NewLogger(t)).
		WithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		b.RecordFailure("db")
	}
	now = now.Add(150 * time.Millisecond)

	require.True(t, b.Allow("db"))
	b.RecordSuccess("db")
	require.True(t, b.Allow("db"))
	b.RecordSuccess("db")

	assert.Equal(t, CircuitClosed, b.State("db"))
	assert.True(t, b.Allow("db"))
}

func TestBreakerTrialFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewCircuitBreaker(testBreakerConfig(), zaptest.NewLogger(t)).
		WithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		b.RecordFailure("db")
	}
	now = now.Add(150 * time.Millisecond)

	require.True(t, b.Allow("db"))
	b.RecordFailure("db")

	assert.Equal(t, CircuitOpen, b.State("db"))
	assert.False(t, b.Allow("db"))
}

func TestBreakerWindowExpiryResetsFailureCount(t *testing.T) {
	now := time.Now()
	cfg := testBreakerConfig()
	cfg.Window = time.Second
	b := NewCircuitBreaker(cfg, zaptest.NewLogger(t)).
		WithClock(func() time.Time { return now })

	b.RecordFailure("db")
	b.RecordFailure("db")

	// Failures age out of the window before the third arrives
	now = now.Add(2 * time.Second)
	b.RecordFailure("db")

	assert.Equal(t, CircuitClosed, b.State("db"))
}

func TestBreakerMiddlewareShortCircuits(t *testing.T) {
	b := NewCircuitBreaker(testBreakerConfig(), zaptest.NewLogger(t))

	invoked := 0
	failing := func(ctx context.Context, req *Request) (*Response, error) {
		invoked++
		return nil, errors.New(errors.ErrorTypeInternal, "downstream broke")
	}
	handler := b.Middleware()(failing)

	req := &Request{ID: "r1", Resource: "db"}
	for i := 0; i < 3; i++ {
		_, err := handler(context.Background(), req)
		require.Error(t, err)
	}
	require.Equal(t, 3, invoked)

	// The open circuit rejects without touching downstream
	_, err := handler(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCircuitOpen))
	assert.Equal(t, 3, invoked)
}

func TestBreakerIgnoresRejectionsAsFailures(t *testing.T) {
	b := NewCircuitBreaker(testBreakerConfig(), zaptest.NewLogger(t))

	shedding := func(ctx context.Context, req *Request) (*Response, error) {
		return nil, errors.New(errors.ErrorTypeLoadShed, "shed downstream")
	}
	handler := b.Middleware()(shedding)

	req := &Request{ID: "r1", Resource: "db"}
	for i := 0; i < 10; i++ {
		_, err := handler(context.Background(), req)
		require.Error(t, err)
	}

	// Shed responses are expected fast-fails, not resource failures
	assert.Equal(t, CircuitClosed, b.State("db"))
}
