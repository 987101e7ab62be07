package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Tx is the transactional handle used by CreateWithTx.
//
// It intentionally aliases *sql.Tx so the write path composes with the
// caller's existing database/sql transaction orchestration instead of
// hiding an adapter layer between the aggregate save and the entry save.
type Tx = *sql.Tx

// Store is the producer-side contract: staging entries for later delivery.
// CreateWithTx writes the entry inside the caller's open transaction so
// the entry and the state change it describes commit or roll back as one
// unit.
type Store interface {
	Create(ctx context.Context, entry *Entry) (*Entry, error)
	CreateWithTx(ctx context.Context, tx Tx, entry *Entry) (*Entry, error)
}

// Repository is the relay-side contract: selecting entries for delivery
// and advancing their lifecycle. Implementations that serve multiple relay
// replicas must make ListPending claim atomically (row locks, findAndModify)
// so two replicas never select the same entry in one cycle.
type Repository interface {
	ListPending(ctx context.Context, limit int) ([]*Entry, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, maxAttempts int) error
	MarkInvalid(ctx context.Context, id uuid.UUID, errMsg string) error
	ResetForRetry(ctx context.Context, limit int, failedBefore time.Time, maxAttempts int) ([]*Entry, error)
	ResetStuckProcessing(ctx context.Context, limit int, processingBefore time.Time, maxAttempts int) ([]*Entry, error)
}

// StoreRepository combines both sides for backends that implement the
// full lifecycle, such as the in-memory store and the SQL repositories.
type StoreRepository interface {
	Store
	Repository
}
