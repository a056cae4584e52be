// Package distributed implements advisory fleet coordination for Ballast.
// Each instance registers with a pluggable Coordinator backend, heartbeats
// against a TTL, and the elected leader aggregates fleet pool statistics
// into rebalancing hints. The layer is strictly advisory: backend failures
// degrade to local-only operation and never affect request handling.
package distributed

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/ballast/pkg/errors"
	"github.com/ajitpratap0/ballast/pkg/pool"
)

// Snapshot is one instance's published state
type Snapshot struct {
	InstanceID string                `json:"instance_id"`
	Timestamp  time.Time             `json:"timestamp"`
	Pools      map[string]pool.Stats `json:"pools"`
	// Hints carries the leader's advisory sizing, set only on leader-published
	// snapshots
	Hints map[string]RebalanceHint `json:"hints,omitempty"`
}

// RebalanceHint is the leader's advisory sizing for one instance's pool
type RebalanceHint struct {
	Pool             string `json:"pool"`
	SuggestedMaxSize int    `json:"suggested_max_size"`
}

// FleetMember is one live instance as seen through the backend
type FleetMember struct {
	InstanceID    string    `json:"instance_id"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	IsLeader      bool      `json:"is_leader"`
	Snapshot      *Snapshot `json:"snapshot,omitempty"`
}

// Coordinator is the pluggable fleet backend. Implementations must bound
// every call; the manager wraps them in request timeouts regardless.
type Coordinator interface {
	// Register announces an instance with an expiry TTL
	Register(ctx context.Context, instanceID string, ttl time.Duration) error
	// Heartbeat refreshes an instance's liveness
	Heartbeat(ctx context.Context, instanceID string) error
	// ElectLeader returns the current leader's instance id
	ElectLeader(ctx context.Context) (string, error)
	// Publish stores an instance's snapshot
	Publish(ctx context.Context, snap Snapshot) error
	// Fetch returns all live members and their snapshots
	Fetch(ctx context.Context) ([]FleetMember, error)
	// Close releases backend resources
	Close() error
}

// NoopCoordinator is the mandatory single-instance backend. Every call
// succeeds and reports a fleet of one.
type NoopCoordinator struct {
	mu   sync.Mutex
	self string
}

// NewNoopCoordinator creates the no-op backend
func NewNoopCoordinator() *NoopCoordinator {
	return &NoopCoordinator{}
}

// Register implements Coordinator
func (n *NoopCoordinator) Register(_ context.Context, instanceID string, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.self = instanceID
	return nil
}

// Heartbeat implements Coordinator
func (n *NoopCoordinator) Heartbeat(context.Context, string) error { return nil }

// ElectLeader implements Coordinator. A fleet of one is always its own leader.
func (n *NoopCoordinator) ElectLeader(context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.self, nil
}

// Publish implements Coordinator
func (n *NoopCoordinator) Publish(context.Context, Snapshot) error { return nil }

// Fetch implements Coordinator
func (n *NoopCoordinator) Fetch(context.Context) ([]FleetMember, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.self == "" {
		return nil, nil
	}
	return []FleetMember{{
		InstanceID:    n.self,
		LastHeartbeat: time.Now(),
		IsLeader:      true,
	}}, nil
}

// Close implements Coordinator
func (n *NoopCoordinator) Close() error { return nil }

// MemoryCoordinator is an in-process backend for tests and co-located
// fleets. Members expire when their heartbeat exceeds the registered TTL.
type MemoryCoordinator struct {
	mu      sync.Mutex
	members map[string]*memberState

	// now is replaceable in tests to step through TTL expiry
	now func() time.Time
}

type memberState struct {
	ttl           time.Duration
	lastHeartbeat time.Time
	snapshot      *Snapshot
}

// NewMemoryCoordinator creates the in-process backend
func NewMemoryCoordinator() *MemoryCoordinator {
	return &MemoryCoordinator{
		members: make(map[string]*memberState),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (m *MemoryCoordinator) WithClock(now func() time.Time) *MemoryCoordinator {
	m.now = now
	return m
}

// Register implements Coordinator
func (m *MemoryCoordinator) Register(_ context.Context, instanceID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[instanceID] = &memberState{
		ttl:           ttl,
		lastHeartbeat: m.now(),
	}
	return nil
}

// Heartbeat implements Coordinator
func (m *MemoryCoordinator) Heartbeat(_ context.Context, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.members[instanceID]
	if !ok {
		return errors.New(errors.ErrorTypeCoordination, "instance not registered").
			WithDetail("instance_id", instanceID)
	}
	state.lastHeartbeat = m.now()
	return nil
}

// ElectLeader implements Coordinator. The live member with the lowest
// instance id wins; ties cannot occur because ids are unique.
func (m *MemoryCoordinator) ElectLeader(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked()

	leader := ""
	for id := range m.members {
		if leader == "" || id < leader {
			leader = id
		}
	}
	if leader == "" {
		return "", errors.New(errors.ErrorTypeCoordination, "no live members")
	}
	return leader, nil
}

// Publish implements Coordinator
func (m *MemoryCoordinator) Publish(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.members[snap.InstanceID]
	if !ok {
		return errors.New(errors.ErrorTypeCoordination, "instance not registered").
			WithDetail("instance_id", snap.InstanceID)
	}
	state.snapshot = &snap
	return nil
}

// Fetch implements Coordinator
func (m *MemoryCoordinator) Fetch(_ context.Context) ([]FleetMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked()

	leader := ""
	for id := range m.members {
		if leader == "" || id < leader {
			leader = id
		}
	}

	out := make([]FleetMember, 0, len(m.members))
	for id, state := range m.members {
		out = append(out, FleetMember{
			InstanceID:    id,
			LastHeartbeat: state.lastHeartbeat,
			IsLeader:      id == leader,
			Snapshot:      state.snapshot,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out, nil
}

// Close implements Coordinator
func (m *MemoryCoordinator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members = make(map[string]*memberState)
	return nil
}

// expireLocked drops members whose heartbeat exceeded their TTL.
// Caller holds mu.
func (m *MemoryCoordinator) expireLocked() {
	now := m.now()
	for id, state := range m.members {
		if state.ttl > 0 && now.Sub(state.lastHeartbeat) > state.ttl {
			delete(m.members, id)
		}
	}
}
