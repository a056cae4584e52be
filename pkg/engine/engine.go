// Package engine wires the Ballast subsystems into one facade: pools,
// memory pressure management, the protective middleware chain, performance
// monitoring, and distributed coordination. An Engine is enabled with a
// named profile or a custom configuration, reconfigured by enabling again,
// and disabled back to a fully inert state.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ballast/pkg/config"
	"github.com/ajitpratap0/ballast/pkg/distributed"
	"github.com/ajitpratap0/ballast/pkg/errors"
	"github.com/ajitpratap0/ballast/pkg/logger"
	"github.com/ajitpratap0/ballast/pkg/memory"
	"github.com/ajitpratap0/ballast/pkg/middleware"
	"github.com/ajitpratap0/ballast/pkg/monitor"
	"github.com/ajitpratap0/ballast/pkg/observability"
	"github.com/ajitpratap0/ballast/pkg/pool"
)

// Status is the introspection snapshot exposed to operators
type Status struct {
	Enabled     bool                         `json:"enabled"`
	Name        string                       `json:"name"`
	Pools       map[string]pool.Stats        `json:"pools"`
	Monitor     monitor.Aggregates           `json:"monitor"`
	Live        monitor.LiveMetrics          `json:"live"`
	Circuits    []middleware.CircuitSnapshot `json:"circuits"`
	Distributed DistributedStatus            `json:"distributed"`
}

// DistributedStatus summarizes the coordination layer
type DistributedStatus struct {
	Enabled    bool   `json:"enabled"`
	InstanceID string `json:"instance_id,omitempty"`
	IsLeader   bool   `json:"is_leader"`
	Degraded   bool   `json:"degraded"`
	Fleet      int    `json:"fleet"`
}

// Engine is the facade over all Ballast subsystems. The zero value is
// inert; Enable wires and starts everything, Disable reverses it.
// All methods are safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	cfg     *config.Config
	enabled bool
	log     *zap.Logger

	registry *pool.Registry
	mem      *memory.Manager
	mon      *monitor.Monitor
	shedder  *middleware.LoadShedder
	breaker  *middleware.CircuitBreaker
	dist     *distributed.Manager
	tracing  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an inert engine. Pools registered before Enable survive
// enable/disable cycles.
func New() *Engine {
	return &Engine{
		registry: pool.NewRegistry(),
	}
}

// EnableProfile enables the engine with a named preset
func (e *Engine) EnableProfile(name string) error {
	profile, err := config.ParseProfile(name)
	if err != nil {
		return err
	}
	return e.Enable(config.Profile(profile))
}

// Enable wires and starts every subsystem from the configuration. Enabling
// an already-enabled engine reconfigures in place: loops restart with the
// new settings while registered pools keep their contents.
func (e *Engine) Enable(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid configuration")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// A failure past this point must not leave a half-stopped engine
	// reporting itself enabled.
	if e.enabled {
		e.stopLocked()
		e.enabled = false
	}

	e.cfg = cfg
	e.log = logger.Get().With(zap.String("engine", cfg.Name))

	e.mon = monitor.New(cfg.Monitoring, nil, e.log)

	if cfg.Memory.Enabled {
		e.mem = memory.NewManager(cfg.Memory, e.log)
		e.mon = monitor.New(cfg.Monitoring, e.mem, e.log)
	} else {
		e.mem = nil
	}

	shedder, err := middleware.NewLoadShedder(cfg.Middleware.LoadShedder, e.mon, e.log)
	if err != nil {
		return err
	}
	e.shedder = shedder
	e.breaker = middleware.NewCircuitBreaker(cfg.Middleware.CircuitBreaker, e.log)
	e.tracing = cfg.Observability.TracingEnabled

	if cfg.Distributed.CoordinationEnabled() {
		coord := distributed.NewCoordinator(cfg.Distributed)
		e.dist = distributed.NewManager(cfg.Distributed, coord, e.registry, e.log)
	} else {
		e.dist = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.startCheckLoop(ctx)

	if e.mem != nil {
		for _, name := range e.registry.Names() {
			if p, ok := e.registry.Get(name); ok {
				if s, ok := p.(memory.Shrinker); ok {
					e.mem.Attach(s)
				}
			}
		}
		e.mem.Start(ctx)
	}

	if e.dist != nil {
		if err := e.dist.Start(ctx); err != nil {
			e.log.Warn("distributed start degraded", zap.Error(err))
		}
	}

	e.enabled = true
	e.log.Info("engine enabled",
		zap.String("overflow_strategy", cfg.Pool.OverflowStrategy),
		zap.Bool("shedding", cfg.Middleware.LoadShedder.Enabled),
		zap.Bool("circuit_breaking", cfg.Middleware.CircuitBreaker.Enabled),
		zap.Bool("memory", cfg.Memory.Enabled),
		zap.Bool("distributed", cfg.Distributed.CoordinationEnabled()))
	return nil
}

// Disable stops all periodic ticking and returns the engine to an inert,
// fully reset state. Registered pools are reset to their warm floor.
func (e *Engine) Disable() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.enabled {
		return
	}

	e.stopLocked()

	e.registry.ResetAll()
	if e.breaker != nil {
		e.breaker.Reset()
	}
	if e.mon != nil {
		e.mon.Reset()
	}

	e.enabled = false
	if e.log != nil {
		e.log.Info("engine disabled")
	}
}

// stopLocked halts all loops. Caller holds e.mu.
func (e *Engine) stopLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.wg.Wait()

	if e.mem != nil {
		e.mem.Stop()
	}
	if e.dist != nil {
		e.dist.Stop()
	}
}

// startCheckLoop runs the periodic scaling check against every registered
// pool
func (e *Engine) startCheckLoop(ctx context.Context) {
	interval := e.cfg.Pool.CheckInterval
	if interval <= 0 {
		interval = time.Second
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.registry.CheckAll()
			}
		}
	}()
}

// RegisterPool adds a pool to the engine's registry and, when memory
// management is running, attaches it for pressure-driven shrinking
func (e *Engine) RegisterPool(p pool.Managed) {
	e.registry.Register(p)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mem != nil {
		if s, ok := p.(memory.Shrinker); ok {
			e.mem.Attach(s)
		}
	}
}

// UnregisterPool removes a pool by name
func (e *Engine) UnregisterPool(name string) {
	e.registry.Unregister(name)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mem != nil {
		e.mem.Detach(name)
	}
}

// PoolConfig returns the active pool sizing settings for constructing pools
func (e *Engine) PoolConfig() config.PoolConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg == nil {
		return config.Default().Pool
	}
	return e.cfg.Pool
}

// Monitor exposes the performance monitor for direct instrumentation
func (e *Engine) Monitor() *monitor.Monitor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mon
}

// Chain wraps a handler with the full protective chain: tracing outermost
// when enabled, then monitor bracketing, circuit breaking, and load shedding
func (e *Engine) Chain(h middleware.Handler) middleware.Handler {
	e.mu.Lock()
	mon, breaker, shedder, tracing := e.mon, e.breaker, e.shedder, e.tracing
	e.mu.Unlock()

	mws := make([]middleware.Middleware, 0, 4)
	if tracing {
		mws = append(mws, observability.Tracing())
	}
	if mon != nil {
		mws = append(mws, middleware.Timing(mon))
	}
	if breaker != nil {
		mws = append(mws, breaker.Middleware())
	}
	if shedder != nil {
		mws = append(mws, shedder.Middleware())
	}
	return middleware.Chain(h, mws...)
}

// Status returns the operator-facing snapshot
func (e *Engine) Status() Status {
	e.mu.Lock()
	enabled := e.enabled
	name := ""
	if e.cfg != nil {
		name = e.cfg.Name
	}
	mon, breaker, dist := e.mon, e.breaker, e.dist
	e.mu.Unlock()

	st := Status{
		Enabled: enabled,
		Name:    name,
		Pools:   e.registry.StatsAll(),
	}

	if mon != nil {
		st.Monitor = mon.Stats()
		st.Live = mon.Live()
	}
	if breaker != nil {
		st.Circuits = breaker.Snapshot()
	}
	if dist != nil {
		st.Distributed = DistributedStatus{
			Enabled:    true,
			InstanceID: dist.InstanceID(),
			IsLeader:   dist.IsLeader(),
			Degraded:   dist.Degraded(),
			Fleet:      len(dist.Members()),
		}
	}

	return st
}
