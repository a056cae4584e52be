// Package memory provides memory-pressure detection and GC strategy for
// Ballast. The manager polls process heap usage and system memory, maps the
// readings onto a discrete pressure level, and drives garbage collection and
// pool shrinking accordingly. Pool adjustments made here are independent of
// and composable with each pool's own usage-based scaling.
package memory

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/ajitpratap0/ballast/pkg/config"
	"github.com/ajitpratap0/ballast/pkg/metrics"
)

// PressureLevel is a discretized measure of memory stress
type PressureLevel int

const (
	// PressureLow requires no action
	PressureLow PressureLevel = iota
	// PressureMedium triggers proactive collection
	PressureMedium
	// PressureHigh triggers collection plus pool shrinking
	PressureHigh
	// PressureCritical forces pools to their floor and returns memory to the OS
	PressureCritical
)

// String returns the level name
func (l PressureLevel) String() string {
	switch l {
	case PressureLow:
		return "low"
	case PressureMedium:
		return "medium"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Shrinker is the surface the manager needs from an attached pool.
// pool.Pool satisfies it.
type Shrinker interface {
	Name() string
	ShrinkFree(toFloor bool) int
}

// Usage is one memory observation
type Usage struct {
	HeapBytes        uint64
	SystemUsedPct    float64
	SystemTotalBytes uint64
}

// UsageReader supplies memory observations. The default reader combines
// runtime heap statistics with gopsutil system memory; tests inject a fake.
type UsageReader func() Usage

// Manager observes memory pressure and drives GC strategy and pool
// shrinking. All methods are safe for concurrent use.
type Manager struct {
	cfg    config.MemoryConfig
	logger *zap.Logger
	read   UsageReader

	mu       sync.RWMutex
	level    PressureLevel
	lastSeen Usage

	pools   []Shrinker
	poolsMu sync.RWMutex

	polling atomic.Bool

	stats struct {
		forcedGC    atomic.Int64
		poolShrinks atomic.Int64
		transitions atomic.Int64
	}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a memory manager with the default usage reader
func NewManager(cfg config.MemoryConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "memory")),
		read:   defaultReader,
	}
}

// WithReader replaces the usage reader. Intended for tests.
func (m *Manager) WithReader(read UsageReader) *Manager {
	m.read = read
	return m
}

// Attach registers a pool for pressure-driven shrinking
func (m *Manager) Attach(p Shrinker) {
	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()
	m.pools = append(m.pools, p)
}

// Detach removes a pool by name
func (m *Manager) Detach(name string) {
	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()
	for i, p := range m.pools {
		if p.Name() == name {
			m.pools = append(m.pools[:i], m.pools[i+1:]...)
			return
		}
	}
}

// Start begins periodic polling. Stop with Stop or by canceling ctx.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Poll()
			}
		}
	}()
}

// Stop halts polling and waits for the poll goroutine to exit
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Poll takes one observation and applies the GC strategy for the resulting
// pressure level. Safe to invoke directly; the periodic loop calls it too. A
// CAS guard makes overlapping calls no-ops so the strategy for one window
// runs at most once.
func (m *Manager) Poll() {
	if !m.polling.CompareAndSwap(false, true) {
		return
	}
	defer m.polling.Store(false)

	usage := m.read()
	level := m.classify(usage)

	m.mu.Lock()
	previous := m.level
	m.level = level
	m.lastSeen = usage
	m.mu.Unlock()

	metrics.MemoryPressureLevel.Set(float64(level))

	if level != previous {
		m.stats.transitions.Add(1)
		m.logger.Info("memory pressure transition",
			zap.String("from", previous.String()),
			zap.String("to", level.String()),
			zap.Uint64("heap_bytes", usage.HeapBytes),
			zap.Float64("system_used_pct", usage.SystemUsedPct))
	}

	m.apply(level)
}

// Level returns the current pressure level
func (m *Manager) Level() PressureLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// Pressure returns the pressure as a fraction of the critical threshold,
// clamped to [0,1]. Feeds the live-metrics signal.
func (m *Manager) Pressure() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.cfg.CriticalBytes == 0 {
		return 0
	}
	p := float64(m.lastSeen.HeapBytes) / float64(m.cfg.CriticalBytes)
	if p > 1 {
		p = 1
	}
	return p
}

// classify maps an observation onto a pressure level via the configured
// byte thresholds
func (m *Manager) classify(u Usage) PressureLevel {
	switch {
	case u.HeapBytes >= m.cfg.CriticalBytes:
		return PressureCritical
	case u.HeapBytes >= m.cfg.HighBytes:
		return PressureHigh
	case u.HeapBytes >= m.cfg.MediumBytes:
		return PressureMedium
	default:
		return PressureLow
	}
}

// apply runs the GC strategy for a level
func (m *Manager) apply(level PressureLevel) {
	switch level {
	case PressureLow:
		// No action

	case PressureMedium:
		m.forceGC(level)

	case PressureHigh:
		m.forceGC(level)
		m.shrinkPools(false)

	case PressureCritical:
		m.shrinkPools(true)
		m.forceGC(level)
		debug.FreeOSMemory()
	}
}

func (m *Manager) forceGC(level PressureLevel) {
	timer := metrics.NewTimer("forced_gc")
	runtime.GC()
	m.stats.forcedGC.Add(1)
	metrics.GCForced.WithLabelValues(level.String()).Inc()
	m.logger.Debug("forced collection",
		zap.String("level", level.String()),
		zap.Duration("took", timer.Stop()))
}

func (m *Manager) shrinkPools(toFloor bool) {
	m.poolsMu.RLock()
	pools := make([]Shrinker, len(m.pools))
	copy(pools, m.pools)
	m.poolsMu.RUnlock()

	total := 0
	for _, p := range pools {
		total += p.ShrinkFree(toFloor)
	}

	if total > 0 {
		m.stats.poolShrinks.Add(1)
		m.logger.Warn("pressure-driven pool shrink",
			zap.Bool("to_floor", toFloor),
			zap.Int("handles_retired", total))
	}
}

// defaultReader combines runtime heap statistics with system memory
func defaultReader() Usage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	u := Usage{HeapBytes: ms.HeapAlloc}

	if vm, err := mem.VirtualMemory(); err == nil {
		u.SystemUsedPct = vm.UsedPercent
		u.SystemTotalBytes = vm.Total
	}

	return u
}
