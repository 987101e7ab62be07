package outbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMemoryTxClosed is returned when a staging transaction is reused after
// Commit or Rollback.
var ErrMemoryTxClosed = errors.New("memory outbox transaction already closed")

// MemoryStore is an in-memory Repository for tests and single-process
// development setups. Writes staged through Begin commit or discard
// atomically, mirroring the same-transaction guarantee a SQL store gives
// through CreateWithTx.
//
// ListPending claims under the store mutex, so concurrent relays never
// select the same entry in one cycle.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
}

var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[uuid.UUID]*Entry)}
}

// Create persists entry immediately.
func (store *MemoryStore) Create(ctx context.Context, entry *Entry) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if entry == nil {
		return nil, ErrEntryRequired
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	stored := cloneEntry(entry)
	store.entries[stored.ID] = stored

	return cloneEntry(stored), nil
}

// MemoryTx stages entries until Commit makes them visible or Rollback
// discards them.
type MemoryTx struct {
	store  *MemoryStore
	staged []*Entry
	closed bool
	mu     sync.Mutex
}

// Begin opens a staging transaction.
func (store *MemoryStore) Begin() *MemoryTx {
	return &MemoryTx{store: store}
}

// Create stages entry; it is invisible to the relay until Commit.
func (tx *MemoryTx) Create(_ context.Context, entry *Entry) (*Entry, error) {
	if entry == nil {
		return nil, ErrEntryRequired
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return nil, ErrMemoryTxClosed
	}

	staged := cloneEntry(entry)
	tx.staged = append(tx.staged, staged)

	return cloneEntry(staged), nil
}

// Commit makes all staged entries visible atomically.
func (tx *MemoryTx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return ErrMemoryTxClosed
	}

	tx.closed = true

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	for _, entry := range tx.staged {
		tx.store.entries[entry.ID] = entry
	}

	tx.staged = nil

	return nil
}

// Rollback discards all staged entries.
func (tx *MemoryTx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return ErrMemoryTxClosed
	}

	tx.closed = true
	tx.staged = nil

	return nil
}

// ListPending claims up to limit PENDING entries ordered by occurred_at,
// transitioning them to PROCESSING before returning.
func (store *MemoryStore) ListPending(ctx context.Context, limit int) ([]*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if limit <= 0 {
		return nil, nil
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	candidates := store.collectByStatusLocked(StatusPending)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	now := time.Now().UTC()
	claimed := make([]*Entry, 0, len(candidates))

	for _, entry := range candidates {
		entry.Status = StatusProcessing
		entry.Attempts++
		entry.UpdatedAt = now
		claimed = append(claimed, cloneEntry(entry))
	}

	return claimed, nil
}

// GetByID returns a copy of the stored entry.
func (store *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	entry, exists := store.entries[id]
	if !exists {
		return nil, ErrEntryNotFound
	}

	return cloneEntry(entry), nil
}

// MarkProcessed records terminal delivery success and sets ProcessedAt
// exactly once.
func (store *MemoryStore) MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	return store.update(ctx, id, func(entry *Entry) error {
		if entry.ProcessedAt != nil {
			return nil
		}

		stamp := processedAt.UTC()
		entry.Status = StatusProcessed
		entry.ProcessedAt = &stamp
		entry.UpdatedAt = time.Now().UTC()

		return nil
	})
}

// MarkFailed records a delivery failure. Entries at or beyond maxAttempts
// become INVALID instead of FAILED.
func (store *MemoryStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, maxAttempts int) error {
	return store.update(ctx, id, func(entry *Entry) error {
		entry.LastError = errMsg
		entry.UpdatedAt = time.Now().UTC()

		if maxAttempts > 0 && entry.Attempts >= maxAttempts {
			entry.Status = StatusInvalid

			return nil
		}

		entry.Status = StatusFailed

		return nil
	})
}

// MarkInvalid records terminal rejection.
func (store *MemoryStore) MarkInvalid(ctx context.Context, id uuid.UUID, errMsg string) error {
	return store.update(ctx, id, func(entry *Entry) error {
		entry.Status = StatusInvalid
		entry.LastError = errMsg
		entry.UpdatedAt = time.Now().UTC()

		return nil
	})
}

// ResetForRetry reclaims FAILED entries older than failedBefore with
// attempts remaining, transitioning them to PROCESSING.
func (store *MemoryStore) ResetForRetry(
	ctx context.Context,
	limit int,
	failedBefore time.Time,
	maxAttempts int,
) ([]*Entry, error) {
	return store.reclaim(ctx, limit, StatusFailed, failedBefore, maxAttempts)
}

// ResetStuckProcessing reclaims PROCESSING entries older than
// processingBefore, typically left behind by a crashed relay replica.
func (store *MemoryStore) ResetStuckProcessing(
	ctx context.Context,
	limit int,
	processingBefore time.Time,
	maxAttempts int,
) ([]*Entry, error) {
	return store.reclaim(ctx, limit, StatusProcessing, processingBefore, maxAttempts)
}

func (store *MemoryStore) reclaim(
	ctx context.Context,
	limit int,
	status Status,
	updatedBefore time.Time,
	maxAttempts int,
) ([]*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if limit <= 0 {
		return nil, nil
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	now := time.Now().UTC()
	reclaimed := make([]*Entry, 0, limit)

	for _, entry := range store.collectByStatusLocked(status) {
		if len(reclaimed) >= limit {
			break
		}

		if !entry.UpdatedAt.Before(updatedBefore) {
			continue
		}

		if maxAttempts > 0 && entry.Attempts >= maxAttempts {
			continue
		}

		entry.Status = StatusProcessing
		entry.Attempts++
		entry.UpdatedAt = now
		reclaimed = append(reclaimed, cloneEntry(entry))
	}

	return reclaimed, nil
}

func (store *MemoryStore) update(ctx context.Context, id uuid.UUID, apply func(*Entry) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	entry, exists := store.entries[id]
	if !exists {
		return ErrEntryNotFound
	}

	return apply(entry)
}

func (store *MemoryStore) collectByStatusLocked(status Status) []*Entry {
	matched := make([]*Entry, 0, len(store.entries))

	for _, entry := range store.entries {
		if entry.Status == status {
			matched = append(matched, entry)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}

		return matched[i].OccurredAt.Before(matched[j].OccurredAt)
	})

	return matched
}

func cloneEntry(entry *Entry) *Entry {
	clone := *entry
	clone.Payload = append([]byte(nil), entry.Payload...)

	if entry.ProcessedAt != nil {
		stamp := *entry.ProcessedAt
		clone.ProcessedAt = &stamp
	}

	return &clone
}
