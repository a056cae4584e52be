// Package metrics provides performance tracking and observability for Ballast
// using Prometheus metrics. It exposes collectors for pool sizing, overflow
// events, overload rejections, request latency, and memory pressure.
//
// # Metric Types
//
// Counter: Monotonically increasing values (e.g., total borrows)
// Gauge: Values that can go up or down (e.g., current pool size)
// Histogram: Distribution of values (e.g., request latency)
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolSize tracks the current size of each pool.
	// Labels: pool (pool name)
	PoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ballast_pool_size",
			Help: "Current number of handles managed by the pool",
		},
		[]string{"pool"},
	)

	// PoolBorrowed tracks handles currently checked out of each pool
	PoolBorrowed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ballast_pool_borrowed",
			Help: "Handles currently borrowed from the pool",
		},
		[]string{"pool"},
	)

	// PoolBorrows counts borrow operations by outcome.
	// Labels: pool, outcome (hit/create/emergency/overflow)
	PoolBorrows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_pool_borrows_total",
			Help: "Total borrow operations by outcome",
		},
		[]string{"pool", "outcome"},
	)

	// PoolOverflowEvents counts overflow strategy engagements.
	// Labels: pool, strategy
	PoolOverflowEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_pool_overflow_events_total",
			Help: "Overflow strategy engagements",
		},
		[]string{"pool", "strategy"},
	)

	// PoolScaleOps counts scaling adjustments.
	// Labels: pool, direction (expand/shrink)
	PoolScaleOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_pool_scale_operations_total",
			Help: "Pool scaling adjustments",
		},
		[]string{"pool", "direction"},
	)

	// RequestsShed counts load-shedder rejections by strategy
	RequestsShed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_requests_shed_total",
			Help: "Requests rejected by the load shedder",
		},
		[]string{"strategy"},
	)

	// CircuitTransitions counts circuit breaker state transitions.
	// Labels: resource, state (closed/open/half_open)
	CircuitTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_circuit_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"resource", "state"},
	)

	// CircuitRejections counts fast-fails from open circuits
	CircuitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_circuit_rejections_total",
			Help: "Requests rejected by open circuits",
		},
		[]string{"resource"},
	)

	// RequestLatency tracks the distribution of request latencies in nanoseconds.
	// The histogram buckets are optimized for sub-millisecond latency tracking.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "ballast_request_latency_nanoseconds",
			Help: "Request latency in nanoseconds",
			Buckets: []float64{
				1000,   // 1μs - Memory operations
				10000,  // 10μs - Fast handler work
				100000, // 100μs - Network operations
				1e6,    // 1ms - Standard processing
				1e7,    // 10ms - Complex handlers
				1e8,    // 100ms - Slow handlers
				1e9,    // 1s - Pathological requests
			},
		},
		[]string{"status"},
	)

	// ActiveRequests tracks requests currently in flight
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ballast_active_requests",
			Help: "Requests currently in flight",
		},
	)

	// MemoryPressureLevel tracks the discretized pressure level (0=low..3=critical)
	MemoryPressureLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ballast_memory_pressure_level",
			Help: "Current memory pressure level (0=low, 1=medium, 2=high, 3=critical)",
		},
	)

	// GCForced counts forced garbage collections by trigger level
	GCForced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_gc_forced_total",
			Help: "Forced garbage collections by pressure level",
		},
		[]string{"level"},
	)

	// CurrentLoad tracks the live load signal consumed by the shedder
	CurrentLoad = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ballast_current_load",
			Help: "Live load level between 0 and 1",
		},
	)

	// FleetMembers tracks live fleet members seen by the coordinator
	FleetMembers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ballast_fleet_members",
			Help: "Live fleet members known to the coordinator",
		},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or metrics.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop stops the timer and returns the elapsed duration since creation.
// The timer can be stopped multiple times, each returning the total
// elapsed time since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks throughput (events per second) over time windows.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
}

// NewThroughputTracker creates a new throughput tracker
func NewThroughputTracker() *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
	}
}

// Increment adds n to the event count. Safe for concurrent use.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the current throughput (events/second),
// resets the counter, and returns the calculated throughput.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()

	return throughput
}
