package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/folioworks/lib-mediator/mediator/assert"
	"github.com/google/uuid"
)

// DefaultMaxPayloadBytes bounds entry payload size; payloads are stored as
// JSON columns and oversized blobs belong in object storage, not the outbox.
const DefaultMaxPayloadBytes = 1 << 20

// Entry is a domain event staged in the outbox for reliable delivery. It
// is written in the same transaction as the state change that produced it
// and never mutated by business code afterwards; only the relay advances
// its status.
type Entry struct {
	ID            uuid.UUID
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       []byte
	Status        Status
	Attempts      int
	OccurredAt    time.Time
	ProcessedAt   *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewEntry creates a valid pending entry with a generated ID.
func NewEntry(
	ctx context.Context,
	aggregateID string,
	aggregateType string,
	eventType string,
	payload []byte,
) (*Entry, error) {
	return NewEntryWithID(ctx, uuid.New(), aggregateID, aggregateType, eventType, payload)
}

// NewEntryWithID creates a valid pending entry using a caller-provided ID,
// which lets producers derive deterministic IDs for dedup on the consumer
// side.
func NewEntryWithID(
	ctx context.Context,
	entryID uuid.UUID,
	aggregateID string,
	aggregateType string,
	eventType string,
	payload []byte,
) (*Entry, error) {
	asserter := assert.New(ctx, nil, "outbox", "outbox.new_entry")

	if err := asserter.That(ctx, entryID != uuid.Nil, "entry id is required"); err != nil {
		return nil, fmt.Errorf("outbox entry id: %w", err)
	}

	aggregateID = strings.TrimSpace(aggregateID)

	if err := asserter.NotEmpty(ctx, aggregateID, "aggregate id is required"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAggregateIDRequired, err)
	}

	aggregateType = strings.TrimSpace(aggregateType)

	if err := asserter.NotEmpty(ctx, aggregateType, "aggregate type is required"); err != nil {
		return nil, fmt.Errorf("outbox entry aggregate type: %w", err)
	}

	eventType = strings.TrimSpace(eventType)

	if err := asserter.NotEmpty(ctx, eventType, "event type is required"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEventTypeRequired, err)
	}

	if err := asserter.That(ctx, len(payload) > 0, "payload is required"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPayloadRequired, err)
	}

	if err := asserter.That(ctx, len(payload) <= DefaultMaxPayloadBytes, "payload exceeds max size"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPayloadTooLarge, err)
	}

	if err := asserter.That(ctx, json.Valid(payload), "payload must be valid JSON"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPayloadNotJSON, err)
	}

	now := time.Now().UTC()

	return &Entry{
		ID:            entryID,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payload,
		Status:        StatusPending,
		Attempts:      0,
		OccurredAt:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Processed reports whether the entry has completed delivery.
func (entry *Entry) Processed() bool {
	return entry != nil && entry.ProcessedAt != nil
}
