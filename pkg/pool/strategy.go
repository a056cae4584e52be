package pool

import "fmt"

// OverflowStrategy is the closed set of exhaustion policies. The policy is
// consulted only once a pool has exhausted both its normal ceiling and its
// emergency band; it resolves synchronously, borrowing never blocks.
type OverflowStrategy int

const (
	// StrategyGracefulFallback hands out a one-off untracked instance
	StrategyGracefulFallback OverflowStrategy = iota
	// StrategyElasticExpansion allows bounded over-capacity service for a
	// configured window, then reverts and rejects for an equal cooldown
	StrategyElasticExpansion
	// StrategyPriorityQueue reserves part of the capacity for high-priority
	// callers and rejects low-priority borrows under exhaustion
	StrategyPriorityQueue
	// StrategySmartRecycle forcibly reclaims the least-recently-used active
	// handle instead of allocating
	StrategySmartRecycle
)

// String returns the configuration name of the strategy
func (s OverflowStrategy) String() string {
	switch s {
	case StrategyElasticExpansion:
		return "elastic_expansion"
	case StrategyPriorityQueue:
		return "priority_queue"
	case StrategyGracefulFallback:
		return "graceful_fallback"
	case StrategySmartRecycle:
		return "smart_recycle"
	default:
		return "unknown"
	}
}

// ParseStrategy converts a configuration name into an OverflowStrategy
func ParseStrategy(s string) (OverflowStrategy, error) {
	switch s {
	case "elastic_expansion":
		return StrategyElasticExpansion, nil
	case "priority_queue":
		return StrategyPriorityQueue, nil
	case "graceful_fallback", "":
		return StrategyGracefulFallback, nil
	case "smart_recycle":
		return StrategySmartRecycle, nil
	default:
		return 0, fmt.Errorf("unknown overflow strategy %q", s)
	}
}

// Priority expresses the caller-declared importance of a borrow or request.
type Priority int

const (
	// PriorityLow marks work that is first to be rejected under pressure
	PriorityLow Priority = 1
	// PriorityNormal is the default
	PriorityNormal Priority = 5
	// PriorityHigh marks work served from reserved capacity
	PriorityHigh Priority = 9
)

// Hints carries caller-supplied borrow hints
type Hints struct {
	// Priority influences the priority-queue overflow strategy
	Priority Priority
}
