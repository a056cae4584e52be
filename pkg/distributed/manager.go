package distributed

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ballast/pkg/config"
	"github.com/ajitpratap0/ballast/pkg/logger"
	"github.com/ajitpratap0/ballast/pkg/metrics"
	"github.com/ajitpratap0/ballast/pkg/pool"
)

// Manager runs the distributed coordination loop for one instance: register,
// heartbeat, publish pool statistics, and (when leader) aggregate the fleet
// into advisory rebalance hints. All of it is advisory; a backend outage
// flips the manager into a degraded local-only mode without touching pools.
type Manager struct {
	cfg        config.DistributedConfig
	instanceID string
	coord      Coordinator
	registry   *pool.Registry
	logger     *zap.Logger

	isLeader atomic.Bool
	degraded atomic.Bool

	mu      sync.RWMutex
	members []FleetMember
	hints   map[string]RebalanceHint

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager builds a manager around a coordinator backend. The registry
// supplies the pool statistics published on every heartbeat.
func NewManager(cfg config.DistributedConfig, coord Coordinator, registry *pool.Registry, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		instanceID: newInstanceID(),
		coord:      coord,
		registry:   registry,
		logger:     logger.With(zap.String("component", "distributed")),
	}
}

// NewCoordinator builds the backend selected by configuration
func NewCoordinator(cfg config.DistributedConfig) Coordinator {
	switch cfg.Coordination {
	case "memory":
		return NewMemoryCoordinator()
	case "http":
		return NewHTTPCoordinator(cfg.Endpoint, cfg.Namespace, cfg.RequestTimeout)
	default:
		return NewNoopCoordinator()
	}
}

// InstanceID returns this instance's fleet identity
func (m *Manager) InstanceID() string { return m.instanceID }

// IsLeader reports whether this instance currently leads the fleet
func (m *Manager) IsLeader() bool { return m.isLeader.Load() }

// Degraded reports whether the backend is currently unreachable
func (m *Manager) Degraded() bool { return m.degraded.Load() }

// Members returns the fleet as of the last successful fetch
func (m *Manager) Members() []FleetMember {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]FleetMember, len(m.members))
	copy(out, m.members)
	return out
}

// Hints returns the advisory rebalance hints addressed to this instance
func (m *Manager) Hints() map[string]RebalanceHint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]RebalanceHint, len(m.hints))
	for k, v := range m.hints {
		out[k] = v
	}
	return out
}

// Start registers the instance and begins the heartbeat loop
func (m *Manager) Start(ctx context.Context) error {
	ctx = context.WithValue(ctx, logger.InstanceIDKey, m.instanceID)

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	err := m.coord.Register(callCtx, m.instanceID, m.cfg.TTL)
	cancel()
	if err != nil {
		// registration failure is not fatal; the loop keeps retrying through
		// heartbeats and local operation continues
		m.degrade(err)
	}

	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Tick(ctx)
			}
		}
	}()

	return nil
}

// Stop halts the loop and closes the backend
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	if err := m.coord.Close(); err != nil {
		m.logger.Warn("coordinator close failed", zap.Error(err))
	}
}

// Tick runs one coordination round: heartbeat, publish, elect, and (as
// leader) aggregate. Exposed so tests can drive rounds without the timer.
func (m *Manager) Tick(ctx context.Context) {
	if err := m.heartbeatAndPublish(ctx); err != nil {
		m.degrade(err)
		return
	}
	m.recover()

	leader, err := m.callElect(ctx)
	if err != nil {
		m.degrade(err)
		return
	}
	m.isLeader.Store(leader == m.instanceID)

	members, err := m.callFetch(ctx)
	if err != nil {
		m.degrade(err)
		return
	}

	m.mu.Lock()
	m.members = members
	m.hints = collectHints(members, m.instanceID)
	m.mu.Unlock()

	metrics.FleetMembers.Set(float64(len(members)))

	if m.isLeader.Load() {
		m.leadRound(ctx, members)
	}
}

// heartbeatAndPublish refreshes liveness and publishes this instance's pool
// statistics. A heartbeat rejected for an unknown instance re-registers,
// which covers backend restarts.
func (m *Manager) heartbeatAndPublish(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	err := m.coord.Heartbeat(callCtx, m.instanceID)
	cancel()
	if err != nil {
		callCtx, cancel = context.WithTimeout(ctx, m.cfg.RequestTimeout)
		regErr := m.coord.Register(callCtx, m.instanceID, m.cfg.TTL)
		cancel()
		if regErr != nil {
			return err
		}
	}

	snap := Snapshot{
		InstanceID: m.instanceID,
		Timestamp:  time.Now(),
		Pools:      m.registry.StatsAll(),
	}

	callCtx, cancel = context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	return m.coord.Publish(callCtx, snap)
}

// leadRound aggregates fleet statistics and publishes advisory hints.
// The heuristic evens capacity out: instances holding more than their even
// share of total fleet size are hinted down toward the mean.
func (m *Manager) leadRound(ctx context.Context, members []FleetMember) {
	hints := computeRebalance(members)
	if len(hints) == 0 {
		return
	}

	snap := Snapshot{
		InstanceID: m.instanceID,
		Timestamp:  time.Now(),
		Pools:      m.registry.StatsAll(),
		Hints:      hints,
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	if err := m.coord.Publish(callCtx, snap); err != nil {
		m.degrade(err)
		return
	}
	logger.WithContext(ctx).Debug("published rebalance hints",
		zap.Int("count", len(hints)))
}

// degrade flips into local-only mode, logging once per outage
func (m *Manager) degrade(err error) {
	if m.degraded.CompareAndSwap(false, true) {
		m.isLeader.Store(false)
		m.logger.Warn("coordination backend unavailable, continuing local-only",
			zap.Error(err))
	}
}

// recover flips back after a successful round, logging once
func (m *Manager) recover() {
	if m.degraded.CompareAndSwap(true, false) {
		m.logger.Info("coordination backend recovered")
	}
}

func (m *Manager) callElect(ctx context.Context) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	return m.coord.ElectLeader(callCtx)
}

func (m *Manager) callFetch(ctx context.Context) ([]FleetMember, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	return m.coord.Fetch(callCtx)
}

// collectHints extracts the hints addressed to an instance from leader
// snapshots. Keyed "instance/pool" on the wire; local key is the pool name.
func collectHints(members []FleetMember, instanceID string) map[string]RebalanceHint {
	out := make(map[string]RebalanceHint)
	for _, member := range members {
		if member.Snapshot == nil || member.Snapshot.Hints == nil {
			continue
		}
		for addr, hint := range member.Snapshot.Hints {
			if owner, poolName, ok := splitHintKey(addr); ok && owner == instanceID {
				out[poolName] = hint
			}
		}
	}
	return out
}

// computeRebalance derives advisory per-instance sizing from fleet
// snapshots: the fleet-wide mean size of each pool name, suggested to every
// instance running that pool above the mean.
func computeRebalance(members []FleetMember) map[string]RebalanceHint {
	type agg struct {
		total int
		count int
	}
	byPool := make(map[string]*agg)

	for _, member := range members {
		if member.Snapshot == nil {
			continue
		}
		for name, stats := range member.Snapshot.Pools {
			a, ok := byPool[name]
			if !ok {
				a = &agg{}
				byPool[name] = a
			}
			a.total += stats.CurrentSize
			a.count++
		}
	}

	hints := make(map[string]RebalanceHint)
	for _, member := range members {
		if member.Snapshot == nil {
			continue
		}
		for name, stats := range member.Snapshot.Pools {
			a := byPool[name]
			if a == nil || a.count < 2 {
				continue
			}
			mean := a.total / a.count
			if stats.CurrentSize > mean {
				hints[hintKey(member.InstanceID, name)] = RebalanceHint{
					Pool:             name,
					SuggestedMaxSize: mean,
				}
			}
		}
	}
	return hints
}

func hintKey(instanceID, poolName string) string {
	return instanceID + "/" + poolName
}

func splitHintKey(key string) (instanceID, poolName string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}

// newInstanceID derives a unique, sortable fleet identity. Earlier startups
// sort lower, which makes the oldest live instance the natural leader.
func newInstanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%d-%s-%d", time.Now().UnixNano(), host, os.Getpid())
}
