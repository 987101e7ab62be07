package outbox

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/folioworks/lib-mediator/mediator"
	"github.com/folioworks/lib-mediator/mediator/internal/nilcheck"
)

// Target is the delivery destination for relayed entries: a message
// broker, an in-process notification publisher, or any other sink. Deliver
// must be idempotent-friendly on the consumer side; the relay guarantees
// at-least-once, not exactly-once.
type Target interface {
	Deliver(ctx context.Context, entry *Entry) error
}

// TargetFunc adapts a function to Target.
type TargetFunc func(ctx context.Context, entry *Entry) error

// Deliver invokes the function.
func (fn TargetFunc) Deliver(ctx context.Context, entry *Entry) error {
	if fn == nil {
		return ErrTargetRequired
	}

	return fn(ctx, entry)
}

// PayloadDecoder turns a stored JSON payload back into the notification
// value the publisher fans out. Decoders are explicit per event type; no
// reflection-based registry exists on purpose.
type PayloadDecoder func(payload []byte) (mediator.Notification, error)

// PublisherTarget delivers relayed entries to in-process notification
// handlers through a mediator.Publisher. Each event type needs a
// registered decoder; entries with no decoder fail delivery and should be
// classified non-retryable by the caller's RetryClassifier.
type PublisherTarget struct {
	publisher *mediator.Publisher

	mu       sync.RWMutex
	decoders map[string]PayloadDecoder
}

// NewPublisherTarget creates a target over publisher.
func NewPublisherTarget(publisher *mediator.Publisher) (*PublisherTarget, error) {
	if publisher == nil {
		return nil, ErrTargetRequired
	}

	return &PublisherTarget{
		publisher: publisher,
		decoders:  make(map[string]PayloadDecoder),
	}, nil
}

// RegisterDecoder binds a payload decoder to an event type. Registering a
// second decoder for the same type is rejected.
func (target *PublisherTarget) RegisterDecoder(eventType string, decoder PayloadDecoder) error {
	if target == nil {
		return ErrTargetRequired
	}

	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return ErrEventTypeRequired
	}

	if decoder == nil {
		return fmt.Errorf("%w: %s", ErrDecoderNotRegistered, eventType)
	}

	target.mu.Lock()
	defer target.mu.Unlock()

	if _, exists := target.decoders[eventType]; exists {
		return fmt.Errorf("%w: %s", ErrDecoderAlreadyRegistered, eventType)
	}

	target.decoders[eventType] = decoder

	return nil
}

// Deliver decodes the entry payload and publishes the resulting
// notification.
func (target *PublisherTarget) Deliver(ctx context.Context, entry *Entry) error {
	if target == nil {
		return ErrTargetRequired
	}

	if entry == nil {
		return ErrEntryRequired
	}

	target.mu.RLock()
	decoder, exists := target.decoders[entry.EventType]
	target.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrDecoderNotRegistered, entry.EventType)
	}

	notification, err := decoder(entry.Payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", entry.EventType, err)
	}

	if nilcheck.Interface(notification) {
		return fmt.Errorf("decode %s payload: decoder returned nil notification", entry.EventType)
	}

	return target.publisher.Publish(ctx, notification)
}
