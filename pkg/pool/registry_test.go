package pool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registryPool(t *testing.T, name string) *Pool[*[]byte] {
	t.Helper()
	p, err := New(name, testConfig(),
		func() (*[]byte, error) {
			b := make([]byte, 0, 64)
			return &b, nil
		}, nil)
	require.NoError(t, err)
	return p
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(registryPool(t, "a"))
	r.Register(registryPool(t, "b"))

	_, ok := r.Get("a")
	assert.True(t, ok)
	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"a", "b"}, r.Names())

	r.Unregister("a")
	_, ok = r.Get("a")
	assert.False(t, ok)
}

func TestRegistryStatsAll(t *testing.T) {
	r := NewRegistry()
	r.Register(registryPool(t, "a"))
	r.Register(registryPool(t, "b"))

	stats := r.StatsAll()
	require.Len(t, stats, 2)
	assert.Equal(t, 2, stats["a"].CurrentSize)
	assert.Equal(t, 2, stats["b"].CurrentSize)
}

func TestRegistryShrinkAll(t *testing.T) {
	r := NewRegistry()
	p := registryPool(t, "a")
	r.Register(p)

	// inflate beyond the floor
	ctx := context.Background()
	var held []*Handle[*[]byte]
	for i := 0; i < 4; i++ {
		h, err := p.Borrow(ctx, Hints{})
		require.NoError(t, err)
		held = append(held, h)
	}
	for _, h := range held {
		p.Return(h)
	}
	require.Equal(t, 4, p.Stats().CurrentSize)

	retired := r.ShrinkAll(true)
	assert.Equal(t, 2, retired)
	assert.Equal(t, 2, p.Stats().CurrentSize)
}

func TestRegistryCheckAndResetAll(t *testing.T) {
	r := NewRegistry()
	p := registryPool(t, "a")
	r.Register(p)

	r.CheckAll()

	r.ResetAll()
	assert.Equal(t, 0, p.Stats().Free)
}
