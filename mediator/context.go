package mediator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/folioworks/lib-mediator/mediator/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNilParentContext indicates that a nil parent context was provided.
var ErrNilParentContext = errors.New("cannot create context from nil parent")

type trackingContextKey string

// TrackingContextKey is the context key used to store TrackingValue.
var TrackingContextKey = trackingContextKey("mediator_tracking")

// TrackingValue holds the request-scoped facilities attached to context:
// the logger and tracer that behaviors and handlers should use, the
// correlation identifier propagated across dispatches, and request-wide
// span attributes.
type TrackingValue struct {
	CorrelationID string
	Tracer        trace.Tracer
	Logger        log.Logger

	// AttrBag holds request-wide attributes applied to every span.
	// Keep low-cardinality attributes here (tenant, route, region).
	AttrBag []attribute.KeyValue
}

// LoggerFromContext extracts the logger stored in context, or a no-op
// logger when none is present.
//
//nolint:ireturn
func LoggerFromContext(ctx context.Context) log.Logger {
	if tracking, ok := ctx.Value(TrackingContextKey).(*TrackingValue); ok && tracking.Logger != nil {
		return tracking.Logger
	}

	return &log.NopLogger{}
}

// ContextWithLogger returns a context carrying logger.
func ContextWithLogger(ctx context.Context, logger log.Logger) context.Context {
	tracking := trackingValue(ctx)
	tracking.Logger = logger

	return context.WithValue(ctx, TrackingContextKey, tracking)
}

// ContextWithTracer returns a context carrying tracer.
func ContextWithTracer(ctx context.Context, tracer trace.Tracer) context.Context {
	tracking := trackingValue(ctx)
	tracking.Tracer = tracer

	return context.WithValue(ctx, TrackingContextKey, tracking)
}

// ContextWithCorrelationID returns a context carrying a correlation
// identifier for cross-dispatch tracing.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	tracking := trackingValue(ctx)
	tracking.CorrelationID = correlationID

	return context.WithValue(ctx, TrackingContextKey, tracking)
}

// ContextWithSpanAttributes appends attributes to the request's AttrBag.
// Call this once at the ingress and avoid per-layer duplication.
func ContextWithSpanAttributes(ctx context.Context, kv ...attribute.KeyValue) context.Context {
	if len(kv) == 0 {
		return ctx
	}

	tracking := trackingValue(ctx)
	tracking.AttrBag = append(tracking.AttrBag, kv...)

	return context.WithValue(ctx, TrackingContextKey, tracking)
}

// AttributesFromContext returns a copy of the AttrBag slice, safe for
// callers to retain.
func AttributesFromContext(ctx context.Context) []attribute.KeyValue {
	if tracking, ok := ctx.Value(TrackingContextKey).(*TrackingValue); ok && tracking != nil && len(tracking.AttrBag) > 0 {
		out := make([]attribute.KeyValue, len(tracking.AttrBag))
		copy(out, tracking.AttrBag)

		return out
	}

	return nil
}

// TrackingFromContext extracts the tracking components from context.
// Missing components resolve to functional defaults, so callers never
// need nil checks: a no-op logger, the global tracer provider, and a
// freshly generated correlation ID.
//
//nolint:ireturn
func TrackingFromContext(ctx context.Context) (log.Logger, trace.Tracer, string) {
	tracking, ok := ctx.Value(TrackingContextKey).(*TrackingValue)
	if !ok || tracking == nil {
		return &log.NopLogger{}, otel.Tracer("mediator.default"), uuid.New().String()
	}

	return resolveLogger(tracking.Logger), resolveTracer(tracking.Tracer), resolveCorrelationID(tracking.CorrelationID)
}

func resolveLogger(logger log.Logger) log.Logger {
	if logger != nil {
		return logger
	}

	return &log.NopLogger{}
}

func resolveTracer(tracer trace.Tracer) trace.Tracer {
	if tracer != nil {
		return tracer
	}

	return otel.Tracer("mediator.default")
}

func resolveCorrelationID(correlationID string) string {
	if trimmed := strings.TrimSpace(correlationID); trimmed != "" {
		return trimmed
	}

	return uuid.New().String()
}

func trackingValue(ctx context.Context) *TrackingValue {
	existing, _ := ctx.Value(TrackingContextKey).(*TrackingValue)
	if existing == nil {
		return &TrackingValue{}
	}

	clone := *existing
	clone.AttrBag = append([]attribute.KeyValue(nil), existing.AttrBag...)

	return &clone
}

// WithTimeoutSafe creates a context with the specified timeout while
// respecting any existing deadline in the parent. When the parent's
// deadline is already shorter than the requested timeout, the returned
// context inherits the parent's deadline instead of extending it.
func WithTimeoutSafe(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if parent == nil {
		return nil, nil, ErrNilParentContext
	}

	if deadline, ok := parent.Deadline(); ok {
		if time.Until(deadline) < timeout {
			ctx, cancel := context.WithCancel(parent)

			return ctx, cancel, nil
		}
	}

	ctx, cancel := context.WithTimeout(parent, timeout)

	return ctx, cancel, nil
}
