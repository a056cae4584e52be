package middleware

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/ballast/pkg/config"
	"github.com/ajitpratap0/ballast/pkg/errors"
	"github.com/ajitpratap0/ballast/pkg/logger"
)

func TestChainOrdering(t *testing.T) {
	var order []string

	mark := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, req *Request) (*Response, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	handler := Chain(func(ctx context.Context, req *Request) (*Response, error) {
		order = append(order, "handler")
		return &Response{Status: StatusSuccess}, nil
	}, mark("outer"), mark("inner"))

	_, err := handler(context.Background(), &Request{ID: "r"})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

// Overload partition: under combined shedding and circuit breaking, outcomes
// split cleanly into successes and typed rejections, with both present.
func TestOverloadOutcomesPartition(t *testing.T) {
	logger := zaptest.NewLogger(t)

	var served atomic.Int64
	load := func() float64 {
		// Capacity for 50 requests; saturated afterwards
		if served.Load() < 50 {
			return 0.1
		}
		return 1.0
	}

	shedder, err := NewLoadShedder(config.ShedderConfig{
		Enabled:   true,
		Strategy:  "random",
		Threshold: 0.8,
	}, LoadSourceFunc(load), logger)
	require.NoError(t, err)

	breaker := NewCircuitBreaker(config.BreakerConfig{
		Enabled:             true,
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             testBreakerConfig().Timeout,
		Window:              testBreakerConfig().Window,
		HalfOpenMaxRequests: 1,
	}, logger)

	var flakyCalls atomic.Int64
	handler := Chain(func(ctx context.Context, req *Request) (*Response, error) {
		if req.Resource == "flaky" && flakyCalls.Add(1) <= 3 {
			return nil, errors.New(errors.ErrorTypeInternal, "dependency down")
		}
		served.Add(1)
		return &Response{Status: StatusSuccess}, nil
	}, breaker.Middleware(), shedder.Middleware())

	var success, rejected, failed int
	for i := 0; i < 150; i++ {
		resource := "steady"
		if i%10 == 0 {
			resource = "flaky"
		}
		_, err := handler(context.Background(), &Request{
			ID:       fmt.Sprintf("req-%d", i),
			Resource: resource,
		})
		switch {
		case err == nil:
			success++
		case errors.IsRejection(err):
			rejected++
		default:
			failed++
		}
	}

	assert.Less(t, success, 150)
	assert.Positive(t, rejected)
	// The three seeded dependency failures are the only non-rejection errors
	assert.Equal(t, 3, failed)
	assert.Equal(t, 150, success+rejected+failed)

	// The flaky resource's circuit opened without touching the steady one
	assert.Equal(t, CircuitOpen, breaker.State("flaky"))
	assert.Equal(t, CircuitClosed, breaker.State("steady"))
}

type recordingMonitor struct {
	started []string
	ended   map[string]string
	errs    []string
}

func (r *recordingMonitor) StartRequest(id string) {
	r.started = append(r.started, id)
}

func (r *recordingMonitor) EndRequest(id, status string) {
	if r.ended == nil {
		r.ended = map[string]string{}
	}
	r.ended[id] = status
}

func (r *recordingMonitor) RecordError(kind string, _ context.Context) {
	r.errs = append(r.errs, kind)
}

func TestTimingBracketsRequests(t *testing.T) {
	rec := &recordingMonitor{}

	handler := Chain(okHandler, Timing(rec))
	_, err := handler(context.Background(), &Request{ID: "ok"})
	require.NoError(t, err)

	failing := Chain(func(ctx context.Context, req *Request) (*Response, error) {
		return nil, errors.New(errors.ErrorTypeInternal, "broke")
	}, Timing(rec))
	_, err = failing(context.Background(), &Request{ID: "bad"})
	require.Error(t, err)

	shedding := Chain(func(ctx context.Context, req *Request) (*Response, error) {
		return nil, errors.New(errors.ErrorTypeLoadShed, "shed")
	}, Timing(rec))
	_, err = shedding(context.Background(), &Request{ID: "shed"})
	require.Error(t, err)

	assert.Equal(t, []string{"ok", "bad", "shed"}, rec.started)
	assert.Equal(t, StatusSuccess, rec.ended["ok"])
	assert.Equal(t, string(errors.ErrorTypeInternal), rec.ended["bad"])
	assert.Equal(t, string(errors.ErrorTypeLoadShed), rec.ended["shed"])

	// Only the genuine failure reaches RecordError
	assert.Equal(t, []string{string(errors.ErrorTypeInternal)}, rec.errs)
}

// Timing stamps the request identity into the context so downstream logs
// correlate through logger.WithContext.
func TestTimingStampsContextIdentity(t *testing.T) {
	rec := &recordingMonitor{}

	var gotID, gotPool any
	handler := Chain(func(ctx context.Context, req *Request) (*Response, error) {
		gotID = ctx.Value(logger.RequestIDKey)
		gotPool = ctx.Value(logger.PoolKey)
		return &Response{Status: StatusSuccess}, nil
	}, Timing(rec))

	_, err := handler(context.Background(), &Request{ID: "r1", Resource: "buffers"})
	require.NoError(t, err)
	assert.Equal(t, "r1", gotID)
	assert.Equal(t, "buffers", gotPool)

	// Without a resource the pool key stays unset
	_, err = handler(context.Background(), &Request{ID: "r2"})
	require.NoError(t, err)
	assert.Equal(t, "r2", gotID)
	assert.Nil(t, gotPool)
}
