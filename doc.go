// Package ballast provides adaptive resource pooling and overload
// protection for services that must stay upright under unpredictable load.
//
// Ballast combines five cooperating subsystems behind one facade:
//
// 1. Dynamic Pools: auto-scaling object pools (pool.Pool[T]) that expand
// under sustained demand, shrink when idle, and resolve absolute exhaustion
// through a pluggable overflow strategy (elastic expansion, priority
// queuing, graceful fallback, or smart recycling).
//
// 2. Memory Management: a pressure-level state machine (memory.Manager)
// that polls heap and system memory, forces collection as pressure climbs,
// and drives attached pools toward their floor under critical pressure.
//
// 3. Protective Middleware: load shedding and per-resource circuit breaking
// (middleware.LoadShedder, middleware.CircuitBreaker) that reject work
// before it reaches business logic, composed through a single
// Handler/Middleware shape.
//
// 4. Performance Monitoring: per-request timing with rolling-window
// percentiles, throughput, and error rate (monitor.Monitor), feeding the
// live load signal the middleware consumes.
//
// 5. Distributed Coordination: advisory fleet awareness (distributed.Manager)
// over a pluggable Coordinator backend with heartbeats, TTL expiry, and
// leader-published rebalance hints; outages degrade to local-only operation.
//
// # Quick Start
//
//	import (
//	    "context"
//	    "github.com/ajitpratap0/ballast/pkg/config"
//	    "github.com/ajitpratap0/ballast/pkg/engine"
//	    "github.com/ajitpratap0/ballast/pkg/pool"
//	)
//
//	// Enable with a named profile
//	eng := engine.New()
//	_ = eng.Enable(config.Profile(config.ProfileStandard))
//
//	// Create and register a pool
//	buffers, _ := pool.New("buffers", eng.PoolConfig(),
//	    func() (*[]byte, error) { b := make([]byte, 0, 4096); return &b, nil },
//	    func(b *[]byte) { *b = (*b)[:0] })
//	eng.RegisterPool(buffers)
//
//	// Wrap a handler with the protective chain
//	handler := eng.Chain(func(ctx context.Context, req *middleware.Request) (*middleware.Response, error) {
//	    h, err := buffers.Borrow(ctx, pool.Hints{Priority: req.Priority})
//	    if err != nil {
//	        return nil, err
//	    }
//	    defer buffers.Return(h)
//	    return &middleware.Response{Status: "success"}, nil
//	})
//
// # Key Packages
//
//	pkg/pool        - Auto-scaling object pools with overflow strategies
//	pkg/memory      - Memory pressure detection and GC strategy
//	pkg/middleware  - Load shedding and circuit breaking
//	pkg/monitor     - Latency, throughput, and error-rate tracking
//	pkg/distributed - Advisory fleet coordination
//	pkg/engine      - The facade wiring everything together
//	pkg/config      - Unified configuration and named profiles
package ballast
