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
	"github.com/ajitpratap0/ballast/pkg/pool"
)

func testShedderConfig(strategy string) config.ShedderConfig {
	return config.ShedderConfig{
		Enabled:   true,
		Strategy:  strategy,
		Threshold: 0.8,
	}
}

func newShedder(t *testing.T, strategy string, load float64) *LoadShedder {
	t.Helper()
	s, err := NewLoadShedder(testShedderConfig(strategy),
		LoadSourceFunc(func() float64 { return load }),
		zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func okHandler(ctx context.Context, req *Request) (*Response, error) {
	return &Response{Status: StatusSuccess}, nil
}

func TestShedderAcceptsBelowThreshold(t *testing.T) {
	s := newShedder(t, "adaptive", 0.5)
	handler := s.Middleware()(okHandler)

	for i := 0; i < 50; i++ {
		resp, err := handler(context.Background(), &Request{ID: "r"})
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, resp.Status)
	}
	assert.Equal(t, int64(0), s.Shed())
}

func TestShedderRejectsAtSaturation(t *testing.T) {
	s := newShedder(t, "random", 1.0)
	handler := s.Middleware()(okHandler)

	_, err := handler(context.Background(), &Request{ID: "r"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoadShed))
	assert.Equal(t, int64(1), s.Shed())
}

func TestAdaptiveProbabilityMonotoneInLoad(t *testing.T) {
	s := newShedder(t, "adaptive", 0)

	prev := -1.0
	for load := 0.0; load <= 1.0; load += 0.01 {
		p := s.AdaptiveProbability(load, pool.PriorityNormal)
		assert.GreaterOrEqual(t, p, prev, "load %f", load)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
		prev = p
	}

	assert.Zero(t, s.AdaptiveProbability(0.8, pool.PriorityNormal))
	assert.Positive(t, s.AdaptiveProbability(0.95, pool.PriorityNormal))
}

func TestAdaptiveFavorsHighPriority(t *testing.T) {
	s := newShedder(t, "adaptive", 0)

	low := s.AdaptiveProbability(0.95, pool.PriorityLow)
	high := s.AdaptiveProbability(0.95, pool.PriorityHigh)
	assert.Greater(t, low, high)
}

func TestPriorityStrategyDropsLowFirst(t *testing.T) {
	// Overload deep enough to shed low priority but not high
	s := newShedder(t, "priority", 0.95)
	handler := s.Middleware()(okHandler)

	_, err := handler(context.Background(), &Request{ID: "low", Priority: pool.PriorityLow})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoadShed))

	_, err = handler(context.Background(), &Request{ID: "high", Priority: pool.PriorityHigh})
	require.NoError(t, err)
}

func TestOldestStrategyDropsLongQueued(t *testing.T) {
	load := 0.5
	s, err := NewLoadShedder(testShedderConfig("oldest"),
		LoadSourceFunc(func() float64 { return load }),
		zaptest.NewLogger(t))
	require.NoError(t, err)
	handler := s.Middleware()(okHandler)

	// Build an age baseline while under the threshold
	for i := 0; i < 20; i++ {
		_, err := handler(context.Background(), &Request{
			ID:          "warm",
			EnqueueTime: time.Now().Add(-time.Millisecond),
		})
		require.NoError(t, err)
	}

	// Deep overload with a request queued far beyond the baseline
	load = 0.99
	_, err = handler(context.Background(), &Request{
		ID:          "stale",
		EnqueueTime: time.Now().Add(-time.Second),
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoadShed))
}

func TestShedderDisabledPassesEverything(t *testing.T) {
	cfg := testShedderConfig("adaptive")
	cfg.Enabled = false
	s, err := NewLoadShedder(cfg,
		LoadSourceFunc(func() float64 { return 1.0 }),
		zaptest.NewLogger(t))
	require.NoError(t, err)
	handler := s.Middleware()(okHandler)

	for i := 0; i < 20; i++ {
		_, err := handler(context.Background(), &Request{ID: "r"})
		require.NoError(t, err)
	}
}

func TestParseShedStrategyRejectsUnknown(t *testing.T) {
	_, err := ParseShedStrategy("bogus")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
