package distributed

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/ballast/pkg/config"
	"github.com/ajitpratap0/ballast/pkg/pool"
)

func testDistConfig() config.DistributedConfig {
	return config.DistributedConfig{
		Coordination:      "memory",
		Namespace:         "test",
		HeartbeatInterval: 10 * time.Millisecond,
		TTL:               time.Minute,
		RequestTimeout:    100 * time.Millisecond,
	}
}

func newTestRegistry(t *testing.T) *pool.Registry {
	t.Helper()
	reg := pool.NewRegistry()
	p, err := pool.New("buffers", config.Default().Pool,
		func() (*[]byte, error) {
			b := make([]byte, 0, 64)
			return &b, nil
		}, nil)
	require.NoError(t, err)
	reg.Register(p)
	return reg
}

// flakyCoordinator fails every call once tripped.
type flakyCoordinator struct {
	inner  Coordinator
	broken atomic.Bool
}

func (f *flakyCoordinator) call(err error) error {
	if f.broken.Load() {
		return context.DeadlineExceeded
	}
	return err
}

func (f *flakyCoordinator) Register(ctx context.Context, id string, ttl time.Duration) error {
	return f.call(f.inner.Register(ctx, id, ttl))
}

func (f *flakyCoordinator) Heartbeat(ctx context.Context, id string) error {
	return f.call(f.inner.Heartbeat(ctx, id))
}

func (f *flakyCoordinator) ElectLeader(ctx context.Context) (string, error) {
	leader, err := f.inner.ElectLeader(ctx)
	return leader, f.call(err)
}

func (f *flakyCoordinator) Publish(ctx context.Context, snap Snapshot) error {
	return f.call(f.inner.Publish(ctx, snap))
}

func (f *flakyCoordinator) Fetch(ctx context.Context) ([]FleetMember, error) {
	members, err := f.inner.Fetch(ctx)
	return members, f.call(err)
}

func (f *flakyCoordinator) Close() error { return f.inner.Close() }

func TestManagerTickElectsAndPublishes(t *testing.T) {
	coord := NewMemoryCoordinator()
	m := NewManager(testDistConfig(), coord, newTestRegistry(t), zaptest.NewLogger(t))

	ctx := context.Background()
	require.NoError(t, coord.Register(ctx, m.InstanceID(), time.Minute))

	m.Tick(ctx)

	assert.True(t, m.IsLeader())
	assert.False(t, m.Degraded())

	members := m.Members()
	require.Len(t, members, 1)
	require.NotNil(t, members[0].Snapshot)
	assert.Contains(t, members[0].Snapshot.Pools, "buffers")
}

func TestManagerHeartbeatReregisters(t *testing.T) {
	coord := NewMemoryCoordinator()
	m := NewManager(testDistConfig(), coord, newTestRegistry(t), zaptest.NewLogger(t))

	// Never registered: the first tick's heartbeat fails and re-registers
	m.Tick(context.Background())

	assert.False(t, m.Degraded())
	assert.Len(t, m.Members(), 1)
}

// Backend loss mid-run: the manager degrades quietly and local pools keep
// serving borrows with no errors surfaced to callers.
func TestBackendOutageDegradesWithoutAffectingPools(t *testing.T) {
	reg := newTestRegistry(t)
	flaky := &flakyCoordinator{inner: NewMemoryCoordinator()}
	m := NewManager(testDistConfig(), flaky, reg, zaptest.NewLogger(t))

	ctx := context.Background()
	m.Tick(ctx)
	require.False(t, m.Degraded())

	flaky.broken.Store(true)
	m.Tick(ctx)
	assert.True(t, m.Degraded())
	assert.False(t, m.IsLeader())

	// Local pools are untouched by the outage
	managed, ok := reg.Get("buffers")
	require.True(t, ok)
	p := managed.(*pool.Pool[*[]byte])
	for i := 0; i < 20; i++ {
		h, err := p.Borrow(ctx, pool.Hints{})
		require.NoError(t, err)
		p.Return(h)
	}

	// Recovery flips back on the next good round
	flaky.broken.Store(false)
	m.Tick(ctx)
	assert.False(t, m.Degraded())
}

func TestLeaderPublishesRebalanceHints(t *testing.T) {
	members := []FleetMember{
		{
			InstanceID: "a-1",
			Snapshot: &Snapshot{
				InstanceID: "a-1",
				Pools:      map[string]pool.Stats{"buffers": {CurrentSize: 10}},
			},
		},
		{
			InstanceID: "b-2",
			Snapshot: &Snapshot{
				InstanceID: "b-2",
				Pools:      map[string]pool.Stats{"buffers": {CurrentSize: 30}},
			},
		},
	}

	hints := computeRebalance(members)

	// Only the over-mean instance is hinted down toward the mean
	require.Len(t, hints, 1)
	hint, ok := hints["b-2/buffers"]
	require.True(t, ok)
	assert.Equal(t, "buffers", hint.Pool)
	assert.Equal(t, 20, hint.SuggestedMaxSize)
}

func TestCollectHintsAddressedToInstance(t *testing.T) {
	members := []FleetMember{
		{
			InstanceID: "a-1",
			Snapshot: &Snapshot{
				InstanceID: "a-1",
				Hints: map[string]RebalanceHint{
					"b-2/buffers": {Pool: "buffers", SuggestedMaxSize: 20},
					"c-3/buffers": {Pool: "buffers", SuggestedMaxSize: 15},
				},
			},
		},
	}

	hints := collectHints(members, "b-2")
	require.Len(t, hints, 1)
	assert.Equal(t, 20, hints["buffers"].SuggestedMaxSize)
}

func TestStartStopLifecycle(t *testing.T) {
	coord := NewMemoryCoordinator()
	m := NewManager(testDistConfig(), coord, newTestRegistry(t), zaptest.NewLogger(t))

	require.NoError(t, m.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	m.Stop()

	assert.False(t, m.Degraded())
	assert.NotEmpty(t, m.Members())
}
