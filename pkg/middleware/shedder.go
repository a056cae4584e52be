package middleware

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ballast/pkg/config"
	"github.com/ajitpratap0/ballast/pkg/errors"
	"github.com/ajitpratap0/ballast/pkg/metrics"
	"github.com/ajitpratap0/ballast/pkg/pool"
)

// ShedStrategy selects the load-shedding policy
type ShedStrategy int

const (
	// ShedPriority drops the lowest declared priority first
	ShedPriority ShedStrategy = iota
	// ShedRandom drops with probability proportional to overload
	ShedRandom
	// ShedOldest drops the longest-queued requests first
	ShedOldest
	// ShedAdaptive blends the above with feedback from recent outcomes
	ShedAdaptive
)

// String returns the strategy name
func (s ShedStrategy) String() string {
	switch s {
	case ShedPriority:
		return "priority"
	case ShedRandom:
		return "random"
	case ShedOldest:
		return "oldest"
	case ShedAdaptive:
		return "adaptive"
	default:
		return "unknown"
	}
}

// ParseShedStrategy maps a configuration string to a strategy
func ParseShedStrategy(s string) (ShedStrategy, error) {
	switch s {
	case "priority":
		return ShedPriority, nil
	case "random":
		return ShedRandom, nil
	case "oldest":
		return ShedOldest, nil
	case "adaptive", "":
		return ShedAdaptive, nil
	default:
		return 0, errors.New(errors.ErrorTypeConfig, "unknown shed strategy").
			WithDetail("strategy", s)
	}
}

// LoadSource supplies the live load signal in [0,1]. The performance
// monitor satisfies it.
type LoadSource interface {
	CurrentLoad() float64
}

// LoadSourceFunc adapts a plain function to LoadSource
type LoadSourceFunc func() float64

// CurrentLoad implements LoadSource
func (f LoadSourceFunc) CurrentLoad() float64 { return f() }

// LoadShedder rejects work before it reaches business logic when the live
// load signal is above the configured threshold. Accepted requests pass to
// the next handler untouched; shed requests receive a typed rejection and
// never invoke downstream logic.
type LoadShedder struct {
	cfg      config.ShedderConfig
	strategy ShedStrategy
	source   LoadSource
	logger   *zap.Logger

	// Feedback state for the adaptive strategy. recentDrops decays toward
	// zero on accepts and grows on sheds, damping oscillation around the
	// threshold.
	mu          sync.Mutex
	recentDrops float64
	ageEWMA     float64 // nanoseconds, oldest-first baseline

	accepted atomic.Int64
	shed     atomic.Int64

	// rng is guarded by mu; rand.Rand is not safe for concurrent use
	rng *rand.Rand
}

// NewLoadShedder builds a shedder from configuration. The source supplies
// the live load level on every decision.
func NewLoadShedder(cfg config.ShedderConfig, source LoadSource, logger *zap.Logger) (*LoadShedder, error) {
	strategy, err := ParseShedStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	return &LoadShedder{
		cfg:      cfg,
		strategy: strategy,
		source:   source,
		logger:   logger.With(zap.String("component", "load_shedder")),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Middleware returns the chain element enforcing the shed decision
func (s *LoadShedder) Middleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			if !s.cfg.Enabled {
				return next(ctx, req)
			}

			if s.shouldShed(req) {
				s.shed.Add(1)
				metrics.RequestsShed.WithLabelValues(s.strategy.String()).Inc()
				return nil, errors.New(errors.ErrorTypeLoadShed, "request shed under load").
					WithDetail("strategy", s.strategy.String()).
					WithDetail("request_id", req.ID)
			}

			s.accepted.Add(1)
			return next(ctx, req)
		}
	}
}

// Accepted returns the running count of accepted requests
func (s *LoadShedder) Accepted() int64 { return s.accepted.Load() }

// Shed returns the running count of shed requests
func (s *LoadShedder) Shed() int64 { return s.shed.Load() }

// shouldShed makes the per-request decision
func (s *LoadShedder) shouldShed(req *Request) bool {
	load := s.source.CurrentLoad()
	metrics.CurrentLoad.Set(load)

	overload := s.Overload(load)
	if overload <= 0 {
		s.feedback(false, req)
		return false
	}

	var drop bool
	switch s.strategy {
	case ShedPriority:
		drop = s.priorityDrop(overload, req.Priority)
	case ShedRandom:
		drop = s.roll(overload)
	case ShedOldest:
		drop = s.oldestDrop(overload, req)
	case ShedAdaptive:
		drop = s.roll(s.AdaptiveProbability(load, req.Priority))
	}

	s.feedback(drop, req)
	return drop
}

// Overload normalizes load above the threshold into [0,1]
func (s *LoadShedder) Overload(load float64) float64 {
	if load <= s.cfg.Threshold {
		return 0
	}
	if s.cfg.Threshold >= 1 {
		return 0
	}
	o := (load - s.cfg.Threshold) / (1 - s.cfg.Threshold)
	if o > 1 {
		o = 1
	}
	return o
}

// priorityDrop sheds low-priority work first. Each priority step widens the
// overload band a request survives: high priority is shed only near total
// saturation.
func (s *LoadShedder) priorityDrop(overload float64, prio pool.Priority) bool {
	if prio <= 0 {
		prio = pool.PriorityNormal
	}
	survives := float64(prio) / float64(pool.PriorityHigh+1)
	return overload > survives
}

// oldestDrop sheds requests queued longer than a budget that tightens as
// overload grows. The budget tracks an EWMA of observed queue ages so the
// strategy adapts to the workload's natural latency.
func (s *LoadShedder) oldestDrop(overload float64, req *Request) bool {
	age := float64(req.Age())

	s.mu.Lock()
	baseline := s.ageEWMA
	s.mu.Unlock()

	if baseline == 0 {
		// No history yet; fall back to proportional shedding
		return s.roll(overload)
	}

	budget := baseline * (1 - overload)
	return age > budget
}

// AdaptiveProbability computes the shed probability for the adaptive
// strategy. For a fixed feedback state it is monotonically non-decreasing
// in load. Exposed for verification.
func (s *LoadShedder) AdaptiveProbability(load float64, prio pool.Priority) float64 {
	overload := s.Overload(load)
	if overload <= 0 {
		return 0
	}

	s.mu.Lock()
	drops := s.recentDrops
	s.mu.Unlock()

	// Recent drops relax the probability slightly so the shedder does not
	// starve traffic once it has already cut deep; bounded to keep
	// monotonicity in load.
	damping := 1 - 0.3*drops
	if damping < 0.7 {
		damping = 0.7
	}

	if prio <= 0 {
		prio = pool.PriorityNormal
	}
	prioDiscount := 1 - float64(prio)/float64(pool.PriorityHigh+1)*0.5

	p := overload * damping * prioDiscount
	if p > 1 {
		p = 1
	}
	return p
}

// feedback updates the adaptive state after a decision
func (s *LoadShedder) feedback(dropped bool, req *Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const alpha = 0.1
	target := 0.0
	if dropped {
		target = 1.0
	}
	s.recentDrops = s.recentDrops*(1-alpha) + target*alpha

	if age := float64(req.Age()); age > 0 {
		if s.ageEWMA == 0 {
			s.ageEWMA = age
		} else {
			s.ageEWMA = s.ageEWMA*(1-alpha) + age*alpha
		}
	}
}

// roll draws against a probability
func (s *LoadShedder) roll(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < p
}
