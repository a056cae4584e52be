// Package monitor implements per-request performance tracking for Ballast:
// latency percentiles, throughput, error rate, and the live load signal
// consumed by the protective middleware. Aggregates are maintained over a
// rolling window and optionally sampled to bound overhead.
package monitor

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ballast/pkg/config"
	"github.com/ajitpratap0/ballast/pkg/metrics"
)

// PressureSource supplies the memory pressure fraction in [0,1].
// memory.Manager satisfies it.
type PressureSource interface {
	Pressure() float64
}

// LiveMetrics is the instantaneous signal consumed by the load shedder and
// memory manager
type LiveMetrics struct {
	MemoryPressure float64 `json:"memory_pressure"`
	CurrentLoad    float64 `json:"current_load"`
	ActiveRequests int64   `json:"active_requests"`
}

// Aggregates are the rolling-window statistics
type Aggregates struct {
	P50        time.Duration `json:"p50"`
	P90        time.Duration `json:"p90"`
	P95        time.Duration `json:"p95"`
	P99        time.Duration `json:"p99"`
	Throughput float64       `json:"throughput_per_sec"`
	ErrorRate  float64       `json:"error_rate"`
	Samples    int           `json:"samples"`
}

type inflight struct {
	start   time.Time
	sampled bool
}

type outcome struct {
	latency  time.Duration
	finished time.Time
	success  bool
}

// Monitor tracks request lifecycle and maintains rolling aggregates.
// Safe for concurrent use.
type Monitor struct {
	cfg    config.MonitoringConfig
	logger *zap.Logger

	pressure PressureSource

	active atomic.Int64

	mu       sync.Mutex
	requests map[string]inflight
	window   []outcome // ring buffer, capacity cfg.WindowSize
	next     int
	filled   bool

	errorsRecorded atomic.Int64
	lastAlertNs    atomic.Int64
}

// New creates a monitor. pressure may be nil when no memory manager is
// attached; the pressure component of the load signal is then zero.
func New(cfg config.MonitoringConfig, pressure PressureSource, logger *zap.Logger) *Monitor {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 1024
	}
	return &Monitor{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "monitor")),
		pressure: pressure,
		requests: make(map[string]inflight),
		window:   make([]outcome, cfg.WindowSize),
	}
}

// StartRequest records the start of a request. Every request counts toward
// active_requests; only sampled requests feed the aggregates.
func (m *Monitor) StartRequest(id string) {
	m.active.Add(1)
	metrics.ActiveRequests.Inc()

	sampled := m.cfg.SampleRate >= 1 || rand.Float64() < m.cfg.SampleRate

	m.mu.Lock()
	m.requests[id] = inflight{start: time.Now(), sampled: sampled}
	m.mu.Unlock()
}

// EndRequest records the end of a request with its outcome status. Unknown
// ids are ignored so a double end cannot skew the window.
func (m *Monitor) EndRequest(id string, status string) {
	now := time.Now()

	m.mu.Lock()
	req, ok := m.requests[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.requests, id)

	if req.sampled {
		m.window[m.next] = outcome{
			latency:  now.Sub(req.start),
			finished: now,
			success:  status == "success",
		}
		m.next++
		if m.next == len(m.window) {
			m.next = 0
			m.filled = true
		}
	}
	m.mu.Unlock()

	m.active.Add(-1)
	metrics.ActiveRequests.Dec()
	metrics.RequestLatency.WithLabelValues(status).Observe(float64(now.Sub(req.start)))

	m.checkAlerts()
}

// RecordError logs an out-of-band failure independent of request lifecycle
func (m *Monitor) RecordError(kind string, ctx context.Context) {
	m.errorsRecorded.Add(1)
	m.logger.Error("error recorded",
		zap.String("kind", kind))
	_ = ctx
}

// ErrorsRecorded returns the running count of out-of-band errors
func (m *Monitor) ErrorsRecorded() int64 {
	return m.errorsRecorded.Load()
}

// ActiveRequests returns requests currently in flight
func (m *Monitor) ActiveRequests() int64 {
	return m.active.Load()
}

// CurrentLoad returns the live load signal in [0,1]: the larger of the
// active-request fraction of capacity and the memory pressure fraction.
func (m *Monitor) CurrentLoad() float64 {
	load := 0.0
	if m.cfg.CapacityHint > 0 {
		load = float64(m.active.Load()) / float64(m.cfg.CapacityHint)
		if load > 1 {
			load = 1
		}
	}

	if m.pressure != nil {
		if p := m.pressure.Pressure(); p > load {
			load = p
		}
	}
	return load
}

// Live returns the instantaneous metrics snapshot
func (m *Monitor) Live() LiveMetrics {
	pressure := 0.0
	if m.pressure != nil {
		pressure = m.pressure.Pressure()
	}
	return LiveMetrics{
		MemoryPressure: pressure,
		CurrentLoad:    m.CurrentLoad(),
		ActiveRequests: m.active.Load(),
	}
}

// Stats computes the rolling-window aggregates
func (m *Monitor) Stats() Aggregates {
	m.mu.Lock()
	samples := m.snapshotLocked()
	m.mu.Unlock()

	return aggregate(samples)
}

// Reset clears all in-flight records and the rolling window
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = make(map[string]inflight)
	m.window = make([]outcome, m.cfg.WindowSize)
	m.next = 0
	m.filled = false
}

// snapshotLocked copies the populated portion of the ring. Caller holds mu.
func (m *Monitor) snapshotLocked() []outcome {
	n := m.next
	if m.filled {
		n = len(m.window)
	}
	out := make([]outcome, n)
	copy(out, m.window[:n])
	return out
}

// checkAlerts warns when aggregates cross the configured thresholds
func (m *Monitor) checkAlerts() {
	at := m.cfg.AlertThresholds
	if at.P99Latency == 0 && at.ErrorRate == 0 {
		return
	}

	// evaluating thresholds sorts the window; bound it to once per second
	now := time.Now().UnixNano()
	last := m.lastAlertNs.Load()
	if now-last < int64(time.Second) || !m.lastAlertNs.CompareAndSwap(last, now) {
		return
	}

	stats := m.Stats()
	if stats.Samples < 10 {
		return
	}

	if at.P99Latency > 0 && stats.P99 > at.P99Latency {
		m.logger.Warn("p99 latency above alert threshold",
			zap.Duration("p99", stats.P99),
			zap.Duration("threshold", at.P99Latency))
	}
	if at.ErrorRate > 0 && stats.ErrorRate > at.ErrorRate {
		m.logger.Warn("error rate above alert threshold",
			zap.Float64("error_rate", stats.ErrorRate),
			zap.Float64("threshold", at.ErrorRate))
	}
}

// aggregate computes window statistics from a sample set
func aggregate(samples []outcome) Aggregates {
	agg := Aggregates{Samples: len(samples)}
	if len(samples) == 0 {
		return agg
	}

	latencies := make([]time.Duration, len(samples))
	failures := 0
	earliest := samples[0].finished
	latest := samples[0].finished

	for i, s := range samples {
		latencies[i] = s.latency
		if !s.success {
			failures++
		}
		if s.finished.Before(earliest) {
			earliest = s.finished
		}
		if s.finished.After(latest) {
			latest = s.finished
		}
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	agg.P50 = percentile(latencies, 0.50)
	agg.P90 = percentile(latencies, 0.90)
	agg.P95 = percentile(latencies, 0.95)
	agg.P99 = percentile(latencies, 0.99)
	agg.ErrorRate = float64(failures) / float64(len(samples))

	if span := latest.Sub(earliest).Seconds(); span > 0 {
		agg.Throughput = float64(len(samples)) / span
	}

	return agg
}

// percentile reads the nearest-rank percentile from sorted latencies
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
