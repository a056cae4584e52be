// Package observability provides request tracing for Ballast. It wires an
// OpenTelemetry tracer provider with a configurable sampler and exposes a
// middleware that spans every request flowing through the protective chain.
package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/ballast/pkg/errors"
	"github.com/ajitpratap0/ballast/pkg/middleware"
)

// TracingConfig controls the tracer provider
type TracingConfig struct {
	ServiceName  string
	SamplingRate float64
	// Enabled gates span export entirely; spans become no-ops when false
	Enabled bool
}

var (
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	initOnce sync.Once
)

// Initialize sets up the global tracer provider. Safe to call more than
// once; only the first call takes effect.
func Initialize(cfg TracingConfig) error {
	var err error

	initOnce.Do(func() {
		if !cfg.Enabled {
			tracer = otel.Tracer(cfg.ServiceName)
			return
		}

		var exporter sdktrace.SpanExporter
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return
		}

		sampler := sdktrace.TraceIDRatioBased(cfg.SamplingRate)
		if cfg.SamplingRate >= 1 {
			sampler = sdktrace.AlwaysSample()
		}

		provider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithSampler(sampler),
		)
		otel.SetTracerProvider(provider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))

		tracer = otel.Tracer(cfg.ServiceName)
	})

	return err
}

// Shutdown flushes and stops the tracer provider
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return provider.Shutdown(ctx)
}

// Tracer returns the global tracer. Initialize must run first; before that
// it falls back to the default no-op provider.
func Tracer() trace.Tracer {
	if tracer == nil {
		return otel.Tracer("ballast")
	}
	return tracer
}

// Tracing spans every request through the chain, tagging the span with the
// request identity and recording rejection versus failure outcomes.
func Tracing() middleware.Middleware {
	return func(next middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req *middleware.Request) (*middleware.Response, error) {
			ctx, span := Tracer().Start(ctx, "ballast.request",
				trace.WithAttributes(
					attribute.String("request.id", req.ID),
					attribute.String("request.resource", req.Resource),
					attribute.Int("request.priority", int(req.Priority)),
				))
			defer span.End()

			resp, err := next(ctx, req)

			switch {
			case err == nil:
				span.SetStatus(codes.Ok, "")
			case errors.IsRejection(err):
				span.SetAttributes(attribute.String("rejection", string(errors.TypeOf(err))))
				span.SetStatus(codes.Ok, "rejected")
			default:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}

			return resp, err
		}
	}
}
