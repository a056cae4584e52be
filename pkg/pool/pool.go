// Package pool provides the adaptive object pooling core for Ballast.
// It offers dynamically sized, type-safe pools that reuse expensive
// short-lived objects across requests, automatically grow and shrink with
// load, and degrade through configurable overflow strategies instead of
// blocking when capacity is exceeded.
//
// The package provides:
//   - Generic auto-scaling pooling with Pool[T]
//   - A bounded emergency band above the normal ceiling
//   - Four overflow strategies for absolute exhaustion
//   - A registry aggregating per-pool statistics for introspection
//
// Example usage:
//
//	p, err := pool.New("buffers", cfg.Pool,
//	    func() (*Buffer, error) { return &Buffer{}, nil },
//	    func(b *Buffer) { b.Reset() },
//	)
//	if err != nil {
//	    return err
//	}
//
//	h, err := p.Borrow(ctx, pool.Hints{Priority: pool.PriorityNormal})
//	if err != nil {
//	    return err
//	}
//	defer p.Return(h)
//
//	use(h.Value())
package pool

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ballast/pkg/config"
	"github.com/ajitpratap0/ballast/pkg/errors"
	"github.com/ajitpratap0/ballast/pkg/metrics"
)

// ScalingState captures the auto-scaling posture of a pool.
type ScalingState struct {
	ScaleThreshold  float64   `json:"scale_threshold"`
	ScaleFactor     float64   `json:"scale_factor"`
	ShrinkThreshold float64   `json:"shrink_threshold"`
	LastScaleTime   time.Time `json:"last_scale_time"`
	EmergencyMode   bool      `json:"emergency_mode"`
	// Expanded counts completed expansion adjustments
	Expanded int64 `json:"expanded"`
	// Shrunk counts completed shrink adjustments
	Shrunk int64 `json:"shrunk"`
}

// Stats is a point-in-time snapshot of a pool.
type Stats struct {
	Name           string       `json:"name"`
	CurrentSize    int          `json:"current_size"`
	MaxSize        int          `json:"max_size"`
	EmergencyLimit int          `json:"emergency_limit"`
	Borrowed       int          `json:"borrowed"`
	Free           int          `json:"free"`
	UsageRatio     float64      `json:"usage_ratio"`
	Efficiency     float64      `json:"efficiency"`
	Hits           int64        `json:"hits"`
	Misses         int64        `json:"misses"`
	Created        int64        `json:"created"`
	Retired        int64        `json:"retired"`
	OverflowEvents int64        `json:"overflow_events"`
	Recycled       int64        `json:"recycled"`
	Fallbacks      int64        `json:"fallbacks"`
	ScalingState   ScalingState `json:"scaling_state"`
}

// Pool is an auto-scaling object pool. It maintains a free list of reusable
// handles between initialSize and maxSize, a bounded emergency band up to
// emergencyLimit, and an overflow strategy for absolute exhaustion. All
// methods are safe for concurrent use; state is guarded by a per-pool mutex
// so unrelated pools never contend.
//
// Invariants: borrowed <= currentSize <= emergencyLimit at all times, and
// borrowed + free == currentSize outside a bounded scaling transition.
type Pool[T any] struct {
	name     string
	cfg      config.PoolConfig
	strategy OverflowStrategy
	factory  func() (T, error)
	reset    func(T)
	logger   *zap.Logger

	mu          sync.Mutex
	free        []*Handle[T]
	active      map[uint64]*Handle[T]
	currentSize int
	borrowed    int
	scaling     ScalingState
	generation  uint64

	// elastic expansion window bookkeeping
	elasticUntil    time.Time
	elasticCooldown time.Time

	// sustained-threshold observation counters
	overChecks  int
	underChecks int
	calmChecks  int

	// CAS guard so concurrent Check calls cannot double-adjust
	ticking atomic.Bool

	stats struct {
		hits      atomic.Int64
		misses    atomic.Int64
		created   atomic.Int64
		retired   atomic.Int64
		overflows atomic.Int64
		recycled  atomic.Int64
		fallbacks atomic.Int64
	}

	series *UsageSeries
}

// New creates a pool and warms it up to cfg.InitialSize instances.
// The factory is called whenever a new instance is needed; a factory error
// surfaces as an allocation failure. The reset function, if non-nil, cleans
// instances before reuse.
func New[T any](name string, cfg config.PoolConfig, factory func() (T, error), reset func(T)) (*Pool[T], error) {
	strategy, err := ParseStrategy(cfg.OverflowStrategy)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid pool configuration")
	}

	p := &Pool[T]{
		name:     name,
		cfg:      cfg,
		strategy: strategy,
		factory:  factory,
		reset:    reset,
		logger:   zap.NewNop(),
		active:   make(map[uint64]*Handle[T]),
		free:     make([]*Handle[T], 0, cfg.MaxSize),
		scaling: ScalingState{
			ScaleThreshold:  cfg.ScaleThreshold,
			ScaleFactor:     cfg.ScaleFactor,
			ShrinkThreshold: cfg.ShrinkThreshold,
		},
		series: NewUsageSeries(128),
	}

	// Warm up to the floor size
	for i := 0; i < cfg.InitialSize; i++ {
		h, err := p.create()
		if err != nil {
			return nil, err
		}
		p.free = append(p.free, h)
		p.currentSize++
	}
	metrics.PoolSize.WithLabelValues(name).Set(float64(p.currentSize))

	return p, nil
}

// WithLogger attaches a logger to the pool and returns it
func (p *Pool[T]) WithLogger(logger *zap.Logger) *Pool[T] {
	p.logger = logger.With(zap.String("pool", p.name))
	return p
}

// Name returns the pool name
func (p *Pool[T]) Name() string {
	return p.name
}

// Borrow retrieves a handle from the pool. Resolution order: free list,
// creation under the normal ceiling, emergency creation under the hard
// limit, then the configured overflow strategy. Borrow never blocks; under
// absolute exhaustion the strategy either produces a handle or returns a
// typed rejection. Allocation failures from the factory are fatal to the
// caller and propagate as ErrorTypeAllocation.
func (p *Pool[T]) Borrow(ctx context.Context, hints Hints) (*Handle[T], error) {
	if hints.Priority == 0 {
		hints.Priority = PriorityNormal
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Reuse from the free list
	if n := len(p.free); n > 0 {
		h := p.free[n-1]
		p.free = p.free[:n-1]
		h.touch()
		p.active[h.id] = h
		p.borrowed++
		p.stats.hits.Add(1)
		p.updateGauges()
		metrics.PoolBorrows.WithLabelValues(p.name, "hit").Inc()
		return h, nil
	}

	p.stats.misses.Add(1)

	// Create under the effective normal ceiling
	if p.currentSize < p.normalCeilingLocked(hints.Priority) {
		h, err := p.create()
		if err != nil {
			return nil, err
		}
		p.adopt(h)
		metrics.PoolBorrows.WithLabelValues(p.name, "create").Inc()
		return h, nil
	}

	// Emergency band: over-limit creation up to the hard cap
	if p.currentSize < p.emergencyCeilingLocked(hints.Priority) {
		if !p.scaling.EmergencyMode {
			p.scaling.EmergencyMode = true
			p.calmChecks = 0
			p.scaling.Expanded++
			p.scaling.LastScaleTime = time.Now()
			p.logger.Warn("pool entered emergency mode",
				zap.Int("current_size", p.currentSize),
				zap.Int("max_size", p.cfg.MaxSize))
		}
		p.stats.overflows.Add(1)
		metrics.PoolOverflowEvents.WithLabelValues(p.name, "emergency").Inc()

		h, err := p.create()
		if err != nil {
			return nil, err
		}
		p.adopt(h)
		metrics.PoolBorrows.WithLabelValues(p.name, "emergency").Inc()
		return h, nil
	}

	// Absolute exhaustion: delegate to the overflow strategy
	return p.handleOverflow(hints)
}

// Return gives a handle back to the pool. Invalidated handles (reclaimed by
// smart recycling) and double returns are ignored. Ephemeral fallback
// handles are retired immediately. While emergency mode is active and load
// has already subsided, returned handles are retired instead of pooled so
// the pool can contract.
func (p *Pool[T]) Return(h *Handle[T]) {
	if h == nil || h.Invalidated() {
		return
	}

	if h.ephemeral {
		if p.reset != nil {
			p.reset(h.value)
		}
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.active[h.id]; !ok {
		// Double return or a handle this pool no longer tracks
		return
	}
	delete(p.active, h.id)
	p.borrowed--
	h.lastUsed.Store(time.Now().UnixNano())

	if p.reset != nil {
		p.reset(h.value)
	}

	// Retire instead of pooling when the emergency band should drain or
	// the handle has exceeded its reuse budget.
	subsided := p.scaling.EmergencyMode && p.usageLocked() < p.cfg.ScaleThreshold
	overused := p.cfg.MaxHandleReuse > 0 && h.ReuseCount() >= p.cfg.MaxHandleReuse
	if (subsided && p.currentSize > p.cfg.MaxSize) || overused {
		p.retireLocked(h)
		p.updateGauges()
		return
	}

	p.free = append(p.free, h)
	p.updateGauges()
}

// Check runs one periodic scaling pass. It is idempotent per window: a CAS
// guard ensures concurrent callers cannot double-adjust, and a single call
// changes pool size by at most one adjustment step. Expansion triggers after
// SustainedChecks consecutive observations above ScaleThreshold; shrinking
// after the same count below ShrinkThreshold. Emergency mode exits after
// SustainedChecks consecutive calm observations.
func (p *Pool[T]) Check() {
	if !p.ticking.CompareAndSwap(false, true) {
		return
	}
	defer p.ticking.Store(false)

	p.mu.Lock()
	defer p.mu.Unlock()

	usage := p.usageLocked()
	p.series.Record(usage)

	switch {
	case usage > p.cfg.ScaleThreshold:
		p.overChecks++
		p.underChecks = 0
	case usage < p.cfg.ShrinkThreshold:
		p.underChecks++
		p.overChecks = 0
	default:
		p.overChecks = 0
		p.underChecks = 0
	}

	// Emergency exit needs sustained calm
	if p.scaling.EmergencyMode {
		if usage < p.cfg.ScaleThreshold {
			p.calmChecks++
			if p.calmChecks >= p.sustained() {
				p.exitEmergencyLocked()
			}
		} else {
			p.calmChecks = 0
		}
	}

	if p.overChecks >= p.sustained() {
		p.expandLocked()
		p.overChecks = 0
		return
	}

	if p.underChecks >= p.sustained() {
		p.shrinkLocked(p.cfg.InitialSize)
		p.underChecks = 0
	}
}

// Stats returns a point-in-time snapshot of the pool
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	hits := p.stats.hits.Load()
	misses := p.stats.misses.Load()
	efficiency := 0.0
	if hits+misses > 0 {
		efficiency = float64(hits) / float64(hits+misses)
	}

	return Stats{
		Name:           p.name,
		CurrentSize:    p.currentSize,
		MaxSize:        p.cfg.MaxSize,
		EmergencyLimit: p.cfg.EmergencyLimit,
		Borrowed:       p.borrowed,
		Free:           len(p.free),
		UsageRatio:     p.usageLocked(),
		Efficiency:     efficiency,
		Hits:           hits,
		Misses:         misses,
		Created:        p.stats.created.Load(),
		Retired:        p.stats.retired.Load(),
		OverflowEvents: p.stats.overflows.Load(),
		Recycled:       p.stats.recycled.Load(),
		Fallbacks:      p.stats.fallbacks.Load(),
		ScalingState:   p.scaling,
	}
}

// Series returns the rolling usage series for health derivation
func (p *Pool[T]) Series() *UsageSeries {
	return p.series
}

// ShrinkFree drops free handles. With toFloor true the pool contracts to its
// floor size; otherwise it sheds half of the free list. Used by the memory
// manager under pressure; composable with the pool's own usage-based
// scaling. Returns the number of handles retired.
func (p *Pool[T]) ShrinkFree(toFloor bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	target := p.currentSize - len(p.free)/2
	if toFloor {
		target = p.cfg.InitialSize
	}
	retired := p.shrinkLocked(target)
	p.updateGauges()
	return retired
}

// Reset retires every free handle and clears counters. Borrowed handles stay
// tracked so outstanding returns remain safe. Intended for facade disable
// and tests.
func (p *Pool[T]) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for range p.free {
		p.stats.retired.Add(1)
	}
	p.currentSize -= len(p.free)
	p.free = p.free[:0]
	p.scaling.EmergencyMode = false
	p.overChecks, p.underChecks, p.calmChecks = 0, 0, 0
	p.series.Reset()
	p.updateGauges()
}

// internal helpers; all assume p.mu held unless noted

func (p *Pool[T]) create() (*Handle[T], error) {
	value, err := p.factory()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAllocation, "pool factory failed").
			WithDetail("pool", p.name)
	}
	p.stats.created.Add(1)
	return newHandle(value, p.generation), nil
}

func (p *Pool[T]) adopt(h *Handle[T]) {
	h.touch()
	p.active[h.id] = h
	p.currentSize++
	p.borrowed++
	p.updateGauges()
}

func (p *Pool[T]) retireLocked(h *Handle[T]) {
	p.currentSize--
	p.stats.retired.Add(1)
}

func (p *Pool[T]) usageLocked() float64 {
	if p.currentSize == 0 {
		return 0
	}
	return float64(p.borrowed) / float64(p.currentSize)
}

func (p *Pool[T]) sustained() int {
	if p.cfg.SustainedChecks <= 0 {
		return 3
	}
	return p.cfg.SustainedChecks
}

// normalCeilingLocked returns the creation ceiling before the emergency
// band. The elastic window raises it; the priority-queue strategy holds the
// reserved share back from low-priority callers.
func (p *Pool[T]) normalCeilingLocked(prio Priority) int {
	ceiling := p.cfg.MaxSize
	if p.strategy == StrategyElasticExpansion && time.Now().Before(p.elasticUntil) {
		ceiling = p.cfg.EmergencyLimit
	}
	if p.strategy == StrategyPriorityQueue && prio < PriorityHigh {
		reserved := int(math.Ceil(float64(p.cfg.MaxSize) * p.cfg.PriorityReserve))
		ceiling -= reserved
	}
	if ceiling < p.cfg.InitialSize {
		ceiling = p.cfg.InitialSize
	}
	return ceiling
}

// emergencyCeilingLocked returns the hard cap, minus the reserved share for
// low-priority callers under the priority-queue strategy.
func (p *Pool[T]) emergencyCeilingLocked(prio Priority) int {
	ceiling := p.cfg.EmergencyLimit
	if p.strategy == StrategyPriorityQueue && prio < PriorityHigh {
		reserved := int(math.Ceil(float64(p.cfg.EmergencyLimit) * p.cfg.PriorityReserve))
		ceiling -= reserved
	}
	return ceiling
}

// handleOverflow dispatches the configured strategy at absolute exhaustion.
func (p *Pool[T]) handleOverflow(hints Hints) (*Handle[T], error) {
	p.stats.overflows.Add(1)
	metrics.PoolOverflowEvents.WithLabelValues(p.name, p.strategy.String()).Inc()

	switch p.strategy {
	case StrategyElasticExpansion:
		return p.elasticLocked(hints)
	case StrategyPriorityQueue:
		return p.priorityLocked(hints)
	case StrategySmartRecycle:
		return p.recycleLocked()
	default:
		return p.fallbackLocked()
	}
}

// elasticLocked serves bounded over-capacity one-offs during the elastic
// window and rejects during the cooldown that follows, reverting the raise.
func (p *Pool[T]) elasticLocked(hints Hints) (*Handle[T], error) {
	now := time.Now()

	if now.Before(p.elasticCooldown) {
		return nil, errors.New(errors.ErrorTypePoolExhausted, "elastic window reverted").
			WithDetail("pool", p.name).
			WithDetail("cooldown_until", p.elasticCooldown)
	}

	if now.After(p.elasticUntil) {
		p.elasticUntil = now.Add(p.cfg.ElasticWindow)
		p.elasticCooldown = p.elasticUntil.Add(p.cfg.ElasticWindow)
		p.logger.Info("elastic expansion window opened",
			zap.Time("until", p.elasticUntil))
	}

	return p.fallbackLocked()
}

// priorityLocked rejects low-priority callers outright; high-priority
// callers fall through to a one-off instance so reserved capacity pressure
// never blocks them.
func (p *Pool[T]) priorityLocked(hints Hints) (*Handle[T], error) {
	if hints.Priority < PriorityHigh {
		return nil, errors.New(errors.ErrorTypePoolExhausted, "pool exhausted, low priority rejected").
			WithDetail("pool", p.name).
			WithDetail("priority", int(hints.Priority))
	}
	return p.fallbackLocked()
}

// fallbackLocked mints a one-off untracked instance. It never joins the
// free list and is retired on return.
func (p *Pool[T]) fallbackLocked() (*Handle[T], error) {
	value, err := p.factory()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAllocation, "fallback allocation failed").
			WithDetail("pool", p.name)
	}
	p.stats.fallbacks.Add(1)
	h := newHandle(value, p.generation)
	h.ephemeral = true
	h.touch()
	metrics.PoolBorrows.WithLabelValues(p.name, "overflow").Inc()
	return h, nil
}

// recycleLocked forcibly reclaims the least-recently-used active handle.
// The previous owner's handle is invalidated; the underlying value is reset
// and re-wrapped under a fresh generation.
func (p *Pool[T]) recycleLocked() (*Handle[T], error) {
	var victim *Handle[T]
	for _, h := range p.active {
		if victim == nil || h.lastUsed.Load() < victim.lastUsed.Load() {
			victim = h
		}
	}
	if victim == nil {
		// Nothing active to reclaim; the pool is exhausted by free-list
		// accounting alone, which should not happen outside a transition.
		return p.fallbackLocked()
	}

	victim.invalidated.Store(true)
	delete(p.active, victim.id)
	p.generation++
	p.stats.recycled.Add(1)

	if p.reset != nil {
		p.reset(victim.value)
	}

	h := newHandle(victim.value, p.generation)
	h.reuseCount.Store(victim.reuseCount.Load())
	h.touch()
	p.active[h.id] = h
	// borrowed is unchanged: one handle out, one handle in
	p.logger.Warn("smart recycle reclaimed active handle",
		zap.Uint64("victim_id", victim.id),
		zap.Uint64("new_id", h.id))
	metrics.PoolBorrows.WithLabelValues(p.name, "recycle").Inc()
	return h, nil
}

func (p *Pool[T]) expandLocked() {
	ceiling := p.cfg.MaxSize
	if p.scaling.EmergencyMode {
		ceiling = p.cfg.EmergencyLimit
	}
	if p.currentSize >= ceiling {
		return
	}

	target := int(math.Ceil(float64(p.currentSize) * p.cfg.ScaleFactor))
	if target > ceiling {
		target = ceiling
	}

	added := 0
	for p.currentSize < target {
		h, err := p.create()
		if err != nil {
			p.logger.Error("expansion allocation failed", zap.Error(err))
			break
		}
		p.free = append(p.free, h)
		p.currentSize++
		added++
	}

	if added > 0 {
		p.scaling.Expanded++
		p.scaling.LastScaleTime = time.Now()
		p.updateGauges()
		metrics.PoolScaleOps.WithLabelValues(p.name, "expand").Inc()
		p.logger.Info("pool expanded",
			zap.Int("added", added),
			zap.Int("current_size", p.currentSize))
	}
}

// shrinkLocked retires free handles until currentSize reaches target,
// bounded below by the floor and by the borrowed count.
func (p *Pool[T]) shrinkLocked(target int) int {
	if target < p.cfg.InitialSize {
		target = p.cfg.InitialSize
	}
	if target < p.borrowed {
		target = p.borrowed
	}

	retired := 0
	for p.currentSize > target && len(p.free) > 0 {
		h := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		p.retireLocked(h)
		retired++
	}

	if retired > 0 {
		p.scaling.Shrunk++
		p.scaling.LastScaleTime = time.Now()
		metrics.PoolScaleOps.WithLabelValues(p.name, "shrink").Inc()
		p.logger.Info("pool shrunk",
			zap.Int("retired", retired),
			zap.Int("current_size", p.currentSize))
	}
	return retired
}

func (p *Pool[T]) exitEmergencyLocked() {
	p.scaling.EmergencyMode = false
	p.calmChecks = 0
	p.shrinkLocked(p.cfg.MaxSize)
	p.logger.Info("pool exited emergency mode",
		zap.Int("current_size", p.currentSize))
}

func (p *Pool[T]) updateGauges() {
	metrics.PoolSize.WithLabelValues(p.name).Set(float64(p.currentSize))
	metrics.PoolBorrowed.WithLabelValues(p.name).Set(float64(p.borrowed))
}
