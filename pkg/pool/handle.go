package pool

import (
	"sync/atomic"
	"time"
)

// handleIDCounter provides atomic unique handle ID generation
var handleIDCounter uint64

// Handle wraps one reusable instance tracked by a pool. A borrowed handle is
// exclusively owned by its borrower until returned or forcibly reclaimed by
// the smart-recycle overflow strategy. Reclamation bumps the handle's
// invalidation flag: the previous owner observes Invalidated() == true and
// must stop using the value. Returning an invalidated handle is a no-op.
type Handle[T any] struct {
	id           uint64
	value        T
	creationTime time.Time
	lastUsed     atomic.Int64 // unix nanos
	reuseCount   atomic.Int64
	generation   uint64
	invalidated  atomic.Bool
	ephemeral    bool // one-off fallback instance, never pooled
}

func newHandle[T any](value T, generation uint64) *Handle[T] {
	h := &Handle[T]{
		id:           atomic.AddUint64(&handleIDCounter, 1),
		value:        value,
		creationTime: time.Now(),
		generation:   generation,
	}
	h.lastUsed.Store(time.Now().UnixNano())
	return h
}

// ID returns the unique handle identifier
func (h *Handle[T]) ID() uint64 {
	return h.id
}

// Value returns the wrapped instance. Callers must check Invalidated()
// before trusting the value across blocking operations when the owning
// pool uses smart recycling.
func (h *Handle[T]) Value() T {
	return h.value
}

// CreationTime returns when the underlying instance was created
func (h *Handle[T]) CreationTime() time.Time {
	return h.creationTime
}

// LastUsed returns the last borrow or return time
func (h *Handle[T]) LastUsed() time.Time {
	return time.Unix(0, h.lastUsed.Load())
}

// ReuseCount returns how many borrow cycles the handle has served
func (h *Handle[T]) ReuseCount() int64 {
	return h.reuseCount.Load()
}

// Invalidated reports whether the handle was forcibly reclaimed.
// Once true the borrower no longer owns the value.
func (h *Handle[T]) Invalidated() bool {
	return h.invalidated.Load()
}

// Ephemeral reports whether the handle is a one-off fallback instance
// that is never tracked by the free list.
func (h *Handle[T]) Ephemeral() bool {
	return h.ephemeral
}

// touch records a use and bumps the reuse counter
func (h *Handle[T]) touch() {
	h.lastUsed.Store(time.Now().UnixNano())
	h.reuseCount.Add(1)
}
