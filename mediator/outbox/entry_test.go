//go:build unit

package outbox

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	payload := []byte(`{"resumeId":"res-1","ownerId":"usr-9"}`)

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		entry, err := NewEntry(ctx, "res-1", "resume", "resume.created", payload)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, entry.ID)
		assert.Equal(t, "res-1", entry.AggregateID)
		assert.Equal(t, "resume", entry.AggregateType)
		assert.Equal(t, "resume.created", entry.EventType)
		assert.Equal(t, StatusPending, entry.Status)
		assert.Zero(t, entry.Attempts)
		assert.Nil(t, entry.ProcessedAt)
		assert.False(t, entry.OccurredAt.IsZero())
		assert.False(t, entry.Processed())
	})

	t.Run("trims_identifier_fields", func(t *testing.T) {
		t.Parallel()

		entry, err := NewEntry(ctx, "  res-1  ", " resume ", "  resume.created  ", payload)
		require.NoError(t, err)
		assert.Equal(t, "res-1", entry.AggregateID)
		assert.Equal(t, "resume", entry.AggregateType)
		assert.Equal(t, "resume.created", entry.EventType)
	})

	t.Run("empty_aggregate_id", func(t *testing.T) {
		t.Parallel()

		_, err := NewEntry(ctx, "  ", "resume", "resume.created", payload)
		assert.ErrorIs(t, err, ErrAggregateIDRequired)
	})

	t.Run("empty_event_type", func(t *testing.T) {
		t.Parallel()

		_, err := NewEntry(ctx, "res-1", "resume", "", payload)
		assert.ErrorIs(t, err, ErrEventTypeRequired)
	})

	t.Run("empty_payload", func(t *testing.T) {
		t.Parallel()

		_, err := NewEntry(ctx, "res-1", "resume", "resume.created", nil)
		assert.ErrorIs(t, err, ErrPayloadRequired)
	})

	t.Run("payload_not_json", func(t *testing.T) {
		t.Parallel()

		_, err := NewEntry(ctx, "res-1", "resume", "resume.created", []byte("not json"))
		assert.ErrorIs(t, err, ErrPayloadNotJSON)
	})

	t.Run("payload_too_large", func(t *testing.T) {
		t.Parallel()

		oversized := append([]byte(`{"blob":"`), bytes.Repeat([]byte("a"), DefaultMaxPayloadBytes)...)
		oversized = append(oversized, []byte(`"}`)...)

		_, err := NewEntry(ctx, "res-1", "resume", "resume.created", oversized)
		assert.ErrorIs(t, err, ErrPayloadTooLarge)
	})
}

func TestNewEntryWithID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	payload := []byte(`{"resumeId":"res-1"}`)

	t.Run("keeps_caller_id", func(t *testing.T) {
		t.Parallel()

		id := uuid.New()
		entry, err := NewEntryWithID(ctx, id, "res-1", "resume", "resume.created", payload)
		require.NoError(t, err)
		assert.Equal(t, id, entry.ID)
	})

	t.Run("nil_id", func(t *testing.T) {
		t.Parallel()

		_, err := NewEntryWithID(ctx, uuid.Nil, "res-1", "resume", "resume.created", payload)
		assert.Error(t, err)
	})
}
