//go:build unit

package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEntry(t *testing.T, eventType string) *Entry {
	t.Helper()

	entry, err := NewEntry(context.Background(), "res-1", "resume", eventType, []byte(`{"resumeId":"res-1"}`))
	require.NoError(t, err)

	return entry
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	entry := newTestEntry(t, "resume.created")

	stored, err := store.Create(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, stored.ID)

	fetched, err := store.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, fetched.Status)

	// Returned copies must not alias store state.
	fetched.Status = StatusProcessed
	again, err := store.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Status)
}

func TestMemoryStore_GetByID_NotFound(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	_, err := store.GetByID(context.Background(), newTestEntry(t, "resume.created").ID)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestMemoryTx_Atomicity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("commit_makes_entries_visible", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		tx := store.Begin()

		entry := newTestEntry(t, "resume.created")
		_, err := tx.Create(ctx, entry)
		require.NoError(t, err)

		// Staged, not visible: the relay must never see an uncommitted entry.
		pending, err := store.ListPending(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)

		require.NoError(t, tx.Commit())

		pending, err = store.ListPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, entry.ID, pending[0].ID)
	})

	t.Run("rollback_discards_entries", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		tx := store.Begin()

		_, err := tx.Create(ctx, newTestEntry(t, "resume.created"))
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())

		pending, err := store.ListPending(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("closed_tx_rejects_reuse", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		tx := store.Begin()
		require.NoError(t, tx.Commit())

		_, err := tx.Create(ctx, newTestEntry(t, "resume.created"))
		assert.ErrorIs(t, err, ErrMemoryTxClosed)
		assert.ErrorIs(t, tx.Commit(), ErrMemoryTxClosed)
		assert.ErrorIs(t, tx.Rollback(), ErrMemoryTxClosed)
	})
}

func TestMemoryStore_ListPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("claims_and_transitions_to_processing", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		entry := newTestEntry(t, "resume.created")
		_, err := store.Create(ctx, entry)
		require.NoError(t, err)

		claimed, err := store.ListPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, StatusProcessing, claimed[0].Status)
		assert.Equal(t, 1, claimed[0].Attempts)

		// A second cycle must not see the claimed entry again.
		claimedAgain, err := store.ListPending(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, claimedAgain)
	})

	t.Run("orders_by_occurred_at", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()

		older := newTestEntry(t, "resume.created")
		older.OccurredAt = older.OccurredAt.Add(-time.Hour)
		newer := newTestEntry(t, "resume.updated")

		_, err := store.Create(ctx, newer)
		require.NoError(t, err)
		_, err = store.Create(ctx, older)
		require.NoError(t, err)

		claimed, err := store.ListPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 2)
		assert.Equal(t, older.ID, claimed[0].ID)
		assert.Equal(t, newer.ID, claimed[1].ID)
	})

	t.Run("respects_limit", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		for i := 0; i < 5; i++ {
			_, err := store.Create(ctx, newTestEntry(t, "resume.created"))
			require.NoError(t, err)
		}

		claimed, err := store.ListPending(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, claimed, 2)
	})
}

func TestMemoryStore_MarkProcessed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	entry := newTestEntry(t, "resume.created")
	_, err := store.Create(ctx, entry)
	require.NoError(t, err)

	first := time.Now().UTC()
	require.NoError(t, store.MarkProcessed(ctx, entry.ID, first))

	fetched, err := store.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched.ProcessedAt)
	assert.Equal(t, StatusProcessed, fetched.Status)
	assert.True(t, fetched.Processed())

	// ProcessedAt is set exactly once; a duplicate mark is a no-op.
	require.NoError(t, store.MarkProcessed(ctx, entry.ID, first.Add(time.Hour)))

	again, err := store.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, again.ProcessedAt.Equal(*fetched.ProcessedAt))
}

func TestMemoryStore_MarkFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("records_failure", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		entry := newTestEntry(t, "resume.created")
		_, err := store.Create(ctx, entry)
		require.NoError(t, err)

		require.NoError(t, store.MarkFailed(ctx, entry.ID, "broker unreachable", 10))

		fetched, err := store.GetByID(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, fetched.Status)
		assert.Equal(t, "broker unreachable", fetched.LastError)
	})

	t.Run("exhausted_attempts_become_invalid", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		entry := newTestEntry(t, "resume.created")
		entry.Attempts = 10
		_, err := store.Create(ctx, entry)
		require.NoError(t, err)

		require.NoError(t, store.MarkFailed(ctx, entry.ID, "still failing", 10))

		fetched, err := store.GetByID(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusInvalid, fetched.Status)
	})
}

func TestMemoryStore_ResetForRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	eligible := newTestEntry(t, "resume.created")
	eligible.Status = StatusFailed
	eligible.UpdatedAt = time.Now().UTC().Add(-time.Hour)

	tooFresh := newTestEntry(t, "resume.updated")
	tooFresh.Status = StatusFailed

	exhausted := newTestEntry(t, "resume.deleted")
	exhausted.Status = StatusFailed
	exhausted.Attempts = 10
	exhausted.UpdatedAt = time.Now().UTC().Add(-time.Hour)

	for _, entry := range []*Entry{eligible, tooFresh, exhausted} {
		_, err := store.Create(ctx, entry)
		require.NoError(t, err)
	}

	reclaimed, err := store.ResetForRetry(ctx, 10, time.Now().UTC().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, eligible.ID, reclaimed[0].ID)
	assert.Equal(t, StatusProcessing, reclaimed[0].Status)
	assert.Equal(t, 1, reclaimed[0].Attempts)
}

func TestMemoryStore_ResetStuckProcessing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	stuck := newTestEntry(t, "resume.created")
	stuck.Status = StatusProcessing
	stuck.UpdatedAt = time.Now().UTC().Add(-time.Hour)

	active := newTestEntry(t, "resume.updated")
	active.Status = StatusProcessing

	for _, entry := range []*Entry{stuck, active} {
		_, err := store.Create(ctx, entry)
		require.NoError(t, err)
	}

	reclaimed, err := store.ResetStuckProcessing(ctx, 10, time.Now().UTC().Add(-10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, stuck.ID, reclaimed[0].ID)
}
