// Package middleware implements the protective request chain for Ballast:
// circuit breaking, load shedding, and monitor bracketing. Every component
// conforms to a single Handler/Middleware shape so callers compose them in
// any order with Chain.
package middleware

import (
	"context"
	"time"

	"github.com/ajitpratap0/ballast/pkg/pool"
)

// Request is one unit of work flowing through the chain
type Request struct {
	// ID identifies the request in monitor records and logs
	ID string
	// Resource keys circuit-breaker state. Empty means the default resource.
	Resource string
	// Priority is the caller-declared importance, consulted by the shedder
	// and forwarded to pool borrows
	Priority pool.Priority
	// EnqueueTime is when the request entered the system. The oldest-first
	// shed strategy uses it; zero means "just arrived".
	EnqueueTime time.Time
	// Payload carries the caller's opaque body
	Payload any
}

// Age returns how long the request has been queued
func (r *Request) Age() time.Duration {
	if r.EnqueueTime.IsZero() {
		return 0
	}
	return time.Since(r.EnqueueTime)
}

// Response is the result of a handled request
type Response struct {
	// Status is the outcome label recorded by the monitor
	// ("success", or an error type for failures)
	Status string
	// Body carries the handler's opaque result
	Body any
}

// Handler processes one request. The final element of every chain.
type Handler func(ctx context.Context, req *Request) (*Response, error)

// Middleware wraps a Handler with cross-cutting behavior
type Middleware func(next Handler) Handler

// Chain composes middlewares around a terminal handler. The first middleware
// listed is the outermost: Chain(h, a, b) runs a, then b, then h.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
