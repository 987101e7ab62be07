package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/folioworks/lib-mediator/mediator"
	"github.com/folioworks/lib-mediator/mediator/internal/nilcheck"
	"github.com/folioworks/lib-mediator/mediator/log"
	"github.com/folioworks/lib-mediator/mediator/outbox"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrPublisherRequired = errors.New("rabbitmq publisher is required")
	ErrExchangeRequired  = errors.New("rabbitmq exchange is required")
)

const defaultContentType = "application/json"

// Publisher is the publishing contract the target depends on. A raw
// *amqp.Channel satisfies it; production setups should pass a channel in
// confirm mode (or a confirming wrapper exposing the same method) so a
// nil return really means the broker accepted the message.
type Publisher interface {
	PublishWithContext(
		ctx context.Context,
		exchange, key string,
		mandatory, immediate bool,
		msg amqp.Publishing,
	) error
}

// Option configures a Target.
type Option func(*Target)

// WithLogger sets the logger used when no logger travels in the context.
func WithLogger(logger log.Logger) Option {
	return func(target *Target) {
		if nilcheck.Interface(logger) {
			return
		}

		target.logger = logger
	}
}

// WithMandatory publishes with the mandatory flag, so unroutable entries
// fail delivery instead of vanishing at the broker.
func WithMandatory() Option {
	return func(target *Target) {
		target.mandatory = true
	}
}

// WithAppID stamps outgoing messages with an application id.
func WithAppID(appID string) Option {
	return func(target *Target) {
		target.appID = strings.TrimSpace(appID)
	}
}

// Target publishes outbox entries to a RabbitMQ exchange. Routing key is
// the entry's event type; the payload travels as the message body
// unchanged.
type Target struct {
	publisher Publisher
	exchange  string
	appID     string
	mandatory bool
	logger    log.Logger
}

var _ outbox.Target = (*Target)(nil)

// NewTarget creates a RabbitMQ delivery target for the given exchange.
func NewTarget(publisher Publisher, exchange string, opts ...Option) (*Target, error) {
	if nilcheck.Interface(publisher) {
		return nil, ErrPublisherRequired
	}

	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		return nil, ErrExchangeRequired
	}

	target := &Target{
		publisher: publisher,
		exchange:  exchange,
		logger:    log.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(target)
		}
	}

	if nilcheck.Interface(target.logger) {
		target.logger = log.NewNop()
	}

	return target, nil
}

// Deliver publishes the entry. The broker publish error is returned
// unwrapped inside the delivery error so retry classifiers can inspect
// it.
func (target *Target) Deliver(ctx context.Context, entry *outbox.Entry) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if entry == nil {
		return outbox.ErrEntryRequired
	}

	logger, tracer, correlationID := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "rabbitmq.outbox.deliver")
	defer span.End()

	publishing := amqp.Publishing{
		ContentType:   defaultContentType,
		DeliveryMode:  amqp.Persistent,
		MessageId:     entry.ID.String(),
		Type:          entry.EventType,
		Timestamp:     entry.OccurredAt,
		AppId:         target.appID,
		CorrelationId: correlationID,
		Body:          entry.Payload,
		Headers: amqp.Table{
			"aggregate_id":   entry.AggregateID,
			"aggregate_type": entry.AggregateType,
		},
	}

	if err := target.publisher.PublishWithContext(
		ctx, target.exchange, entry.EventType, target.mandatory, false, publishing,
	); err != nil {
		span.RecordError(err)
		target.logPublishError(logger, ctx, entry, err)

		return fmt.Errorf("publishing outbox entry %s to exchange %s: %w", entry.ID, target.exchange, err)
	}

	return nil
}

func (target *Target) logPublishError(logger log.Logger, ctx context.Context, entry *outbox.Entry, err error) {
	if nilcheck.Interface(logger) {
		logger = target.logger
	}

	if nilcheck.Interface(logger) {
		return
	}

	logger.Log(ctx, log.LevelError, "failed to publish outbox entry",
		log.String("entry_id", entry.ID.String()),
		log.String("event_type", entry.EventType),
		log.String("exchange", target.exchange),
		log.String("error", outbox.SanitizeErrorMessageForStorage(err.Error())),
	)
}
