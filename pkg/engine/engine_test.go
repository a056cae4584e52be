package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/ballast/pkg/config"
	"github.com/ajitpratap0/ballast/pkg/errors"
	"github.com/ajitpratap0/ballast/pkg/middleware"
	"github.com/ajitpratap0/ballast/pkg/pool"
)

func testEngineConfig() *config.Config {
	cfg := config.Default()
	cfg.Name = "engine-test"
	cfg.Pool.CheckInterval = 10 * time.Millisecond
	cfg.Memory.PollInterval = 10 * time.Millisecond
	cfg.Distributed.Coordination = "none"
	return cfg
}

func newEngineWithPool(t *testing.T, cfg *config.Config) (*Engine, *pool.Pool[*[]byte]) {
	t.Helper()

	e := New()
	require.NoError(t, e.Enable(cfg))
	t.Cleanup(e.Disable)

	p, err := pool.New("buffers", cfg.Pool,
		func() (*[]byte, error) {
			b := make([]byte, 0, 64)
			return &b, nil
		},
		func(b *[]byte) { *b = (*b)[:0] })
	require.NoError(t, err)
	e.RegisterPool(p)
	return e, p
}

func TestEnableRejectsInvalidConfig(t *testing.T) {
	e := New()
	cfg := testEngineConfig()
	cfg.Pool.InitialSize = 0

	err := e.Enable(cfg)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.False(t, e.Status().Enabled)
}

func TestEnableProfile(t *testing.T) {
	e := New()
	require.NoError(t, e.EnableProfile("standard"))
	defer e.Disable()

	st := e.Status()
	assert.True(t, st.Enabled)
	assert.Equal(t, "ballast", st.Name)

	assert.Error(t, e.EnableProfile("turbo"))
}

func TestChainServesThroughPool(t *testing.T) {
	e, p := newEngineWithPool(t, testEngineConfig())

	handler := e.Chain(func(ctx context.Context, req *middleware.Request) (*middleware.Response, error) {
		h, err := p.Borrow(ctx, pool.Hints{Priority: req.Priority})
		if err != nil {
			return nil, err
		}
		defer p.Return(h)
		return &middleware.Response{Status: middleware.StatusSuccess}, nil
	})

	for i := 0; i < 50; i++ {
		resp, err := handler(context.Background(), &middleware.Request{
			ID: fmt.Sprintf("req-%d", i),
		})
		require.NoError(t, err)
		assert.Equal(t, middleware.StatusSuccess, resp.Status)
	}

	stats := e.Status()
	require.Contains(t, stats.Pools, "buffers")
	assert.Positive(t, stats.Pools["buffers"].Hits)
	assert.Positive(t, stats.Monitor.Samples)
}

func TestChainTracesWhenTracingEnabled(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Observability.TracingEnabled = true
	cfg.Observability.TracingSampleRate = 1.0
	e, p := newEngineWithPool(t, cfg)

	handler := e.Chain(func(ctx context.Context, req *middleware.Request) (*middleware.Response, error) {
		h, err := p.Borrow(ctx, pool.Hints{})
		if err != nil {
			return nil, err
		}
		defer p.Return(h)
		return &middleware.Response{Status: middleware.StatusSuccess}, nil
	})

	resp, err := handler(context.Background(), &middleware.Request{
		ID:       "traced-1",
		Resource: "buffers",
	})
	require.NoError(t, err)
	assert.Equal(t, middleware.StatusSuccess, resp.Status)

	// Rejections still surface through the traced chain
	cfg2 := testEngineConfig()
	cfg2.Observability.TracingEnabled = true
	require.NoError(t, e.Enable(cfg2))
	_, err = e.Chain(func(ctx context.Context, req *middleware.Request) (*middleware.Response, error) {
		return nil, errors.New(errors.ErrorTypeLoadShed, "shed")
	})(context.Background(), &middleware.Request{ID: "traced-2"})
	assert.True(t, errors.IsRejection(err))
}

func TestReEnableReconfiguresInPlace(t *testing.T) {
	e, p := newEngineWithPool(t, testEngineConfig())

	// Pool contents survive reconfiguration
	h, err := p.Borrow(context.Background(), pool.Hints{})
	require.NoError(t, err)
	p.Return(h)

	next := testEngineConfig()
	next.Name = "reconfigured"
	require.NoError(t, e.Enable(next))

	st := e.Status()
	assert.True(t, st.Enabled)
	assert.Equal(t, "reconfigured", st.Name)
	assert.Contains(t, st.Pools, "buffers")
}

// A failure while rebuilding subsystems during re-enable must leave the
// engine disabled, not reporting itself enabled with every loop stopped.
func TestFailedReEnableLeavesEngineDisabled(t *testing.T) {
	e, _ := newEngineWithPool(t, testEngineConfig())
	require.True(t, e.Status().Enabled)

	// Passes validation (the shedder is off) but the shedder constructor
	// still rejects the unknown strategy.
	bad := testEngineConfig()
	bad.Middleware.LoadShedder.Enabled = false
	bad.Middleware.LoadShedder.Strategy = "bogus"

	err := e.Enable(bad)
	require.Error(t, err)
	assert.False(t, e.Status().Enabled)

	// The engine recovers from the failed reconfigure
	require.NoError(t, e.Enable(testEngineConfig()))
	assert.True(t, e.Status().Enabled)
}

func TestDisableReturnsToInertState(t *testing.T) {
	e, p := newEngineWithPool(t, testEngineConfig())

	h, err := p.Borrow(context.Background(), pool.Hints{})
	require.NoError(t, err)
	p.Return(h)

	e.Disable()

	st := e.Status()
	assert.False(t, st.Enabled)
	assert.Zero(t, st.Pools["buffers"].Free)
	assert.Zero(t, st.Monitor.Samples)

	// Disabling twice is harmless
	e.Disable()
}

func TestCheckLoopDrivesScaling(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Pool.InitialSize = 2
	cfg.Pool.MaxSize = 8
	cfg.Pool.EmergencyLimit = 12
	cfg.Pool.SustainedChecks = 2
	e, p := newEngineWithPool(t, cfg)
	_ = e

	// Hold every warm handle so usage sits at 1.0 across check ticks
	var held []*pool.Handle[*[]byte]
	for i := 0; i < 2; i++ {
		h, err := p.Borrow(context.Background(), pool.Hints{})
		require.NoError(t, err)
		held = append(held, h)
	}

	require.Eventually(t, func() bool {
		return p.Stats().CurrentSize > 2
	}, time.Second, 10*time.Millisecond)

	for _, h := range held {
		p.Return(h)
	}
}

func TestStatusWithDistributedCoordination(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Distributed.Coordination = "memory"
	cfg.Distributed.HeartbeatInterval = 10 * time.Millisecond

	e := New()
	require.NoError(t, e.Enable(cfg))
	defer e.Disable()

	require.Eventually(t, func() bool {
		st := e.Status()
		return st.Distributed.Enabled && st.Distributed.Fleet == 1
	}, time.Second, 10*time.Millisecond)

	st := e.Status()
	assert.True(t, st.Distributed.IsLeader)
	assert.False(t, st.Distributed.Degraded)
	assert.NotEmpty(t, st.Distributed.InstanceID)
}

func TestGlobalInitAndShutdown(t *testing.T) {
	eng, err := Init(func(e *Engine) error {
		return e.Enable(testEngineConfig())
	})
	require.NoError(t, err)
	require.Same(t, eng, Default())
	assert.True(t, eng.Status().Enabled)

	Shutdown()
	assert.False(t, eng.Status().Enabled)
}
