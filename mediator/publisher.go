package mediator

import (
	"context"
	"strings"

	"github.com/folioworks/lib-mediator/mediator/internal/nilcheck"
	"github.com/folioworks/lib-mediator/mediator/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Publisher fans a notification out to every registered handler under the
// configured dispatch strategy. Handlers never see each other; one
// handler's failure cannot mask another's success. Publishing a
// notification with zero handlers is a successful no-op.
type Publisher struct {
	registry *Registry
	strategy DispatchStrategy
	logger   log.Logger
	tracer   trace.Tracer
}

// PublisherOption mutates publisher construction.
type PublisherOption func(*Publisher)

// WithStrategy sets the dispatch strategy. The default is sequential,
// in registration order.
func WithStrategy(strategy DispatchStrategy) PublisherOption {
	return func(publisher *Publisher) {
		if nilcheck.Interface(strategy) {
			return
		}

		publisher.strategy = strategy
	}
}

// WithPublisherLogger sets the publisher logger.
func WithPublisherLogger(logger log.Logger) PublisherOption {
	return func(publisher *Publisher) {
		if nilcheck.Interface(logger) {
			return
		}

		publisher.logger = logger
	}
}

// WithPublisherTracer sets the publisher tracer.
func WithPublisherTracer(tracer trace.Tracer) PublisherOption {
	return func(publisher *Publisher) {
		if nilcheck.Interface(tracer) {
			return
		}

		publisher.tracer = tracer
	}
}

// NewPublisher creates a notification publisher over the given registry.
func NewPublisher(registry *Registry, opts ...PublisherOption) (*Publisher, error) {
	if registry == nil {
		return nil, ErrRegistryRequired
	}

	publisher := &Publisher{
		registry: registry,
		logger:   log.NewNop(),
		tracer:   noop.NewTracerProvider().Tracer("mediator.noop"),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(publisher)
		}
	}

	if publisher.strategy == nil {
		publisher.strategy = NewSequentialStrategy(publisher.logger)
	}

	return publisher, nil
}

// Publish delivers notification to every resolved handler exactly once.
// After all handlers have run, per-handler failures are reported together
// as an *AggregateError; the caller decides whether partial failure is
// fatal to the operation that triggered the notification (it usually is
// not, since that operation is already durably committed).
func (publisher *Publisher) Publish(ctx context.Context, notification Notification) error {
	if publisher == nil {
		return ErrRegistryRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if nilcheck.Interface(notification) {
		return ErrMessageRequired
	}

	messageName := strings.TrimSpace(notification.MessageName())
	if messageName == "" {
		return ErrMessageNameRequired
	}

	ctx, span := publisher.tracer.Start(ctx, "mediator.publish")
	defer span.End()

	span.SetAttributes(attribute.String("mediator.message", messageName))

	handlers, err := publisher.registry.ResolveNotificationHandlers(messageName)
	if err != nil {
		span.RecordError(err)

		return err
	}

	if len(handlers) == 0 {
		return nil
	}

	failures := publisher.strategy.Dispatch(ctx, notification, handlers)
	if len(failures) == 0 {
		return nil
	}

	aggregate := &AggregateError{MessageName: messageName, Failures: failures}
	span.RecordError(aggregate)
	publisher.logger.Log(
		ctx,
		log.LevelWarn,
		"notification delivered with handler failures",
		log.String("notification", messageName),
		log.Int("failed", len(failures)),
		log.Int("handlers", len(handlers)),
	)

	return aggregate
}
