package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/folioworks/lib-mediator/mediator"
	"github.com/folioworks/lib-mediator/mediator/internal/nilcheck"
	"github.com/folioworks/lib-mediator/mediator/log"
	"github.com/folioworks/lib-mediator/mediator/outbox"
	"github.com/google/uuid"
)

const (
	maxSQLIdentifierLength = 63

	entryColumns = "id, aggregate_id, aggregate_type, event_type, payload, status, attempts, " +
		"occurred_at, processed_at, last_error, created_at, updated_at"
)

var (
	ErrConnectionRequired        = errors.New("postgres connection is required")
	ErrRepositoryNotInitialized  = errors.New("outbox repository not initialized")
	ErrStateTransitionConflict   = errors.New("outbox entry state transition conflict")
	ErrLimitMustBePositive       = errors.New("limit must be greater than zero")
	ErrIDRequired                = errors.New("id is required")
	ErrMaxAttemptsMustBePositive = errors.New("maxAttempts must be greater than zero")
	ErrInvalidIdentifier         = errors.New("invalid sql identifier")

	identifierPattern         = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	defaultTransactionTimeout = 30 * time.Second
)

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger used when no logger travels in the context.
func WithLogger(logger log.Logger) Option {
	return func(repo *Repository) {
		if nilcheck.Interface(logger) {
			return
		}

		repo.logger = logger
	}
}

// WithTableName overrides the outbox table name.
func WithTableName(tableName string) Option {
	return func(repo *Repository) {
		repo.tableName = tableName
	}
}

// WithTransactionTimeout bounds repository-owned transactions.
func WithTransactionTimeout(timeout time.Duration) Option {
	return func(repo *Repository) {
		if timeout > 0 {
			repo.transactionTimeout = timeout
		}
	}
}

// Repository persists outbox entries in PostgreSQL. Claiming operations
// run SELECT ... FOR UPDATE SKIP LOCKED and flip the claimed rows to
// PROCESSING inside the same transaction, so concurrent relay replicas
// never deliver the same entry in one cycle.
type Repository struct {
	conn               *Connection
	logger             log.Logger
	tableName          string
	transactionTimeout time.Duration
}

var _ outbox.StoreRepository = (*Repository)(nil)

// NewRepository creates a PostgreSQL outbox repository.
func NewRepository(conn *Connection, opts ...Option) (*Repository, error) {
	if conn == nil {
		return nil, ErrConnectionRequired
	}

	repo := &Repository{
		conn:               conn,
		logger:             log.NewNop(),
		tableName:          "outbox_entries",
		transactionTimeout: defaultTransactionTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}

	if nilcheck.Interface(repo.logger) {
		repo.logger = log.NewNop()
	}

	repo.tableName = strings.TrimSpace(repo.tableName)
	if repo.tableName == "" {
		repo.tableName = "outbox_entries"
	}

	if err := validateIdentifierPath(repo.tableName); err != nil {
		return nil, fmt.Errorf("table name: %w", err)
	}

	return repo, nil
}

// Create stores a new pending entry using a repository-owned transaction.
func (repo *Repository) Create(ctx context.Context, entry *outbox.Entry) (*outbox.Entry, error) {
	return repo.create(ctx, nil, entry)
}

// CreateWithTx stores a new pending entry inside the caller's transaction,
// so the entry commits or rolls back with the state change it describes.
func (repo *Repository) CreateWithTx(ctx context.Context, tx outbox.Tx, entry *outbox.Entry) (*outbox.Entry, error) {
	return repo.create(ctx, tx, entry)
}

func (repo *Repository) create(ctx context.Context, tx *sql.Tx, entry *outbox.Entry) (*outbox.Entry, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return nil, ErrRepositoryNotInitialized
	}

	if err := validateCreateEntry(entry); err != nil {
		return nil, err
	}

	logger, tracer, _ := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.outbox.create")
	defer span.End()

	result, err := withTxOrExisting(repo, ctx, tx, func(execTx *sql.Tx) (*outbox.Entry, error) {
		values := normalizedCreateValues(entry, time.Now().UTC())
		table := quoteIdentifierPath(repo.tableName)
		query := "INSERT INTO " + table + " (" + entryColumns + ") VALUES " +
			"($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING " + entryColumns

		row := execTx.QueryRowContext(ctx, query,
			values.id,
			values.aggregateID,
			values.aggregateType,
			values.eventType,
			values.payload,
			values.status,
			values.attempts,
			values.occurredAt,
			values.processedAt,
			values.lastError,
			values.createdAt,
			values.updatedAt,
		)

		return scanEntry(row)
	})
	if err != nil {
		span.RecordError(err)
		logSanitizedError(repo, logger, ctx, "failed to create outbox entry", err)

		return nil, persistenceError("create", err)
	}

	return result, nil
}

// GetByID retrieves an entry by id.
func (repo *Repository) GetByID(ctx context.Context, id uuid.UUID) (*outbox.Entry, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return nil, ErrRepositoryNotInitialized
	}

	if id == uuid.Nil {
		return nil, ErrIDRequired
	}

	logger, tracer, _ := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.outbox.get_by_id")
	defer span.End()

	result, err := withTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) (*outbox.Entry, error) {
		table := quoteIdentifierPath(repo.tableName)
		query := "SELECT " + entryColumns + " FROM " + table + " WHERE id = $1"

		return scanEntry(tx.QueryRowContext(ctx, query, id))
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, outbox.ErrEntryNotFound
		}

		span.RecordError(err)
		logSanitizedError(repo, logger, ctx, "failed to get outbox entry", err)

		return nil, persistenceError("get_by_id", err)
	}

	return result, nil
}

// ListPending claims up to limit PENDING entries, transitioning them to
// PROCESSING inside the claiming transaction.
func (repo *Repository) ListPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return nil, ErrRepositoryNotInitialized
	}

	if limit <= 0 {
		return nil, ErrLimitMustBePositive
	}

	logger, tracer, _ := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.outbox.list_pending")
	defer span.End()

	result, err := withTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) ([]*outbox.Entry, error) {
		table := quoteIdentifierPath(repo.tableName)
		query := "SELECT " + entryColumns + " FROM " + table +
			" WHERE status = $1::outbox_entry_status" +
			" ORDER BY occurred_at ASC, id ASC LIMIT $2 FOR UPDATE SKIP LOCKED"

		entries, err := queryEntries(ctx, tx, query, []any{outbox.StatusPending, limit}, limit, "querying pending entries")
		if err != nil {
			return nil, err
		}

		return repo.claimEntries(ctx, tx, entries, outbox.StatusPending)
	})
	if err != nil {
		span.RecordError(err)
		logSanitizedError(repo, logger, ctx, "failed to list pending entries", err)

		return nil, persistenceError("list_pending", err)
	}

	return result, nil
}

// MarkProcessed records terminal delivery success. Marking an already
// processed entry is a no-op, keeping redelivery after a crashed state
// update idempotent at the storage layer.
func (repo *Repository) MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return ErrRepositoryNotInitialized
	}

	if id == uuid.Nil {
		return ErrIDRequired
	}

	logger, tracer, _ := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.outbox.mark_processed")
	defer span.End()

	_, err := withTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) (struct{}, error) {
		table := quoteIdentifierPath(repo.tableName)
		query := "UPDATE " + table + " SET status = $1::outbox_entry_status, processed_at = $2, updated_at = $3" +
			" WHERE id = $4 AND status = $5::outbox_entry_status AND processed_at IS NULL"

		result, execErr := tx.ExecContext(ctx, query,
			outbox.StatusProcessed, processedAt.UTC(), time.Now().UTC(), id, outbox.StatusProcessing)
		if execErr != nil {
			return struct{}{}, fmt.Errorf("executing update: %w", execErr)
		}

		rows, rowsErr := rowsAffected(result)
		if rowsErr != nil {
			return struct{}{}, rowsErr
		}

		if rows > 0 {
			return struct{}{}, nil
		}

		var status string

		scanErr := tx.QueryRowContext(ctx, "SELECT status FROM "+table+" WHERE id = $1", id).Scan(&status)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return struct{}{}, outbox.ErrEntryNotFound
		}

		if scanErr != nil {
			return struct{}{}, fmt.Errorf("checking entry status: %w", scanErr)
		}

		if outbox.Status(status) == outbox.StatusProcessed {
			return struct{}{}, nil
		}

		return struct{}{}, ErrStateTransitionConflict
	})
	if err != nil {
		span.RecordError(err)
		logSanitizedError(repo, logger, ctx, "failed to mark outbox entry processed", err)

		return persistenceError("mark_processed", err)
	}

	return nil
}

// MarkFailed records a delivery failure. Entries that already reached
// maxAttempts become INVALID instead of FAILED.
func (repo *Repository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, maxAttempts int) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return ErrRepositoryNotInitialized
	}

	if id == uuid.Nil {
		return ErrIDRequired
	}

	if maxAttempts <= 0 {
		return ErrMaxAttemptsMustBePositive
	}

	errMsg = outbox.SanitizeErrorMessageForStorage(errMsg)

	logger, tracer, _ := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.outbox.mark_failed")
	defer span.End()

	_, err := withTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) (struct{}, error) {
		table := quoteIdentifierPath(repo.tableName)
		query := "UPDATE " + table + " SET " +
			"status = CASE WHEN attempts >= $1 THEN $2 ELSE $3 END::outbox_entry_status, " +
			"last_error = CASE WHEN attempts >= $1 THEN $4 ELSE $5 END, " +
			"updated_at = $6 WHERE id = $7 AND status = $8::outbox_entry_status"

		result, execErr := tx.ExecContext(ctx, query,
			maxAttempts,
			outbox.StatusInvalid,
			outbox.StatusFailed,
			"max delivery attempts exceeded",
			errMsg,
			time.Now().UTC(),
			id,
			outbox.StatusProcessing,
		)
		if execErr != nil {
			return struct{}{}, fmt.Errorf("executing update: %w", execErr)
		}

		return struct{}{}, ensureRowsAffected(result)
	})
	if err != nil {
		span.RecordError(err)
		logSanitizedError(repo, logger, ctx, "failed to mark outbox entry failed", err)

		return persistenceError("mark_failed", err)
	}

	return nil
}

// MarkInvalid records terminal rejection for entries that can never
// deliver, such as undecodable payloads.
func (repo *Repository) MarkInvalid(ctx context.Context, id uuid.UUID, errMsg string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return ErrRepositoryNotInitialized
	}

	if id == uuid.Nil {
		return ErrIDRequired
	}

	errMsg = outbox.SanitizeErrorMessageForStorage(errMsg)

	logger, tracer, _ := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.outbox.mark_invalid")
	defer span.End()

	_, err := withTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) (struct{}, error) {
		table := quoteIdentifierPath(repo.tableName)
		query := "UPDATE " + table + " SET status = $1::outbox_entry_status, last_error = $2, updated_at = $3" +
			" WHERE id = $4 AND status = $5::outbox_entry_status"

		result, execErr := tx.ExecContext(ctx, query,
			outbox.StatusInvalid, errMsg, time.Now().UTC(), id, outbox.StatusProcessing)
		if execErr != nil {
			return struct{}{}, fmt.Errorf("executing update: %w", execErr)
		}

		return struct{}{}, ensureRowsAffected(result)
	})
	if err != nil {
		span.RecordError(err)
		logSanitizedError(repo, logger, ctx, "failed to mark outbox entry invalid", err)

		return persistenceError("mark_invalid", err)
	}

	return nil
}

// ResetForRetry atomically claims FAILED entries older than failedBefore
// that still have attempts remaining, transitioning them to PROCESSING.
func (repo *Repository) ResetForRetry(
	ctx context.Context,
	limit int,
	failedBefore time.Time,
	maxAttempts int,
) ([]*outbox.Entry, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return nil, ErrRepositoryNotInitialized
	}

	if limit <= 0 {
		return nil, ErrLimitMustBePositive
	}

	if maxAttempts <= 0 {
		return nil, ErrMaxAttemptsMustBePositive
	}

	logger, tracer, _ := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.outbox.reset_for_retry")
	defer span.End()

	result, err := withTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) ([]*outbox.Entry, error) {
		table := quoteIdentifierPath(repo.tableName)
		query := "SELECT " + entryColumns + " FROM " + table +
			" WHERE status = $1::outbox_entry_status AND attempts < $2 AND updated_at <= $3" +
			" ORDER BY updated_at ASC LIMIT $4 FOR UPDATE SKIP LOCKED"

		entries, err := queryEntries(ctx, tx, query,
			[]any{outbox.StatusFailed, maxAttempts, failedBefore, limit}, limit, "querying failed entries for retry")
		if err != nil {
			return nil, err
		}

		return repo.claimEntries(ctx, tx, entries, outbox.StatusFailed)
	})
	if err != nil {
		span.RecordError(err)
		logSanitizedError(repo, logger, ctx, "failed to reset entries for retry", err)

		return nil, persistenceError("reset_for_retry", err)
	}

	return result, nil
}

// ResetStuckProcessing reclaims PROCESSING entries older than
// processingBefore, typically left behind by a crashed relay replica.
// Entries whose attempts are exhausted move to INVALID instead of being
// returned for redelivery.
func (repo *Repository) ResetStuckProcessing(
	ctx context.Context,
	limit int,
	processingBefore time.Time,
	maxAttempts int,
) ([]*outbox.Entry, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return nil, ErrRepositoryNotInitialized
	}

	if limit <= 0 {
		return nil, ErrLimitMustBePositive
	}

	if maxAttempts <= 0 {
		return nil, ErrMaxAttemptsMustBePositive
	}

	logger, tracer, _ := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.outbox.reset_stuck_processing")
	defer span.End()

	result, err := withTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) ([]*outbox.Entry, error) {
		table := quoteIdentifierPath(repo.tableName)
		query := "SELECT " + entryColumns + " FROM " + table +
			" WHERE status = $1::outbox_entry_status AND updated_at <= $2" +
			" ORDER BY updated_at ASC LIMIT $3 FOR UPDATE SKIP LOCKED"

		entries, err := queryEntries(ctx, tx, query,
			[]any{outbox.StatusProcessing, processingBefore, limit}, limit, "querying stuck entries")
		if err != nil {
			return nil, err
		}

		if len(entries) == 0 {
			return entries, nil
		}

		retryable, exhaustedIDs := splitStuckEntries(entries, maxAttempts)
		now := time.Now().UTC()

		if len(exhaustedIDs) > 0 {
			if err := repo.markEntriesInvalid(ctx, tx, now, exhaustedIDs); err != nil {
				return nil, err
			}
		}

		// Keep PROCESSING -> PROCESSING while incrementing attempts. Flipping
		// to PENDING before returning the rows would let another replica claim
		// and deliver the same entry right after this transaction commits.
		retryIDs := collectEntryIDs(retryable)
		if len(retryIDs) > 0 {
			if err := repo.markEntriesProcessing(ctx, tx, now, retryIDs, outbox.StatusProcessing); err != nil {
				return nil, err
			}

			applyClaimedState(retryable, now)
		}

		return retryable, nil
	})
	if err != nil {
		span.RecordError(err)
		logSanitizedError(repo, logger, ctx, "failed to reset stuck entries", err)

		return nil, persistenceError("reset_stuck_processing", err)
	}

	return result, nil
}

func (repo *Repository) claimEntries(
	ctx context.Context,
	tx *sql.Tx,
	entries []*outbox.Entry,
	fromStatus outbox.Status,
) ([]*outbox.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	ids := collectEntryIDs(entries)
	if len(ids) == 0 {
		return entries, nil
	}

	now := time.Now().UTC()

	if err := repo.markEntriesProcessing(ctx, tx, now, ids, fromStatus); err != nil {
		return nil, err
	}

	applyClaimedState(entries, now)

	return entries, nil
}

func (repo *Repository) markEntriesProcessing(
	ctx context.Context,
	tx *sql.Tx,
	now time.Time,
	ids []uuid.UUID,
	fromStatus outbox.Status,
) error {
	if err := outbox.ValidateTransition(fromStatus.String(), outbox.StatusValueProcessing); err != nil {
		return fmt.Errorf("status transition: %w", err)
	}

	table := quoteIdentifierPath(repo.tableName)
	query := "UPDATE " + table +
		" SET status = $1::outbox_entry_status, attempts = attempts + 1, updated_at = $2" +
		" WHERE id = ANY($3::uuid[]) AND status = $4::outbox_entry_status"

	result, err := tx.ExecContext(ctx, query, outbox.StatusProcessing, now, ids, fromStatus)
	if err != nil {
		return fmt.Errorf("claiming entries: %w", err)
	}

	if err := ensureRowsAffectedExact(result, int64(len(ids))); err != nil {
		return fmt.Errorf("claiming entries: %w", err)
	}

	return nil
}

func (repo *Repository) markEntriesInvalid(ctx context.Context, tx *sql.Tx, now time.Time, ids []uuid.UUID) error {
	table := quoteIdentifierPath(repo.tableName)
	query := "UPDATE " + table +
		" SET status = $1::outbox_entry_status, last_error = $2, updated_at = $3" +
		" WHERE id = ANY($4::uuid[]) AND status = $5::outbox_entry_status"

	result, err := tx.ExecContext(ctx, query,
		outbox.StatusInvalid, "max delivery attempts exceeded", now, ids, outbox.StatusProcessing)
	if err != nil {
		return fmt.Errorf("marking exhausted entries invalid: %w", err)
	}

	if err := ensureRowsAffectedExact(result, int64(len(ids))); err != nil {
		return fmt.Errorf("marking exhausted entries invalid: %w", err)
	}

	return nil
}

func (repo *Repository) initialized() bool {
	return repo != nil && repo.conn != nil
}

// persistenceError wraps storage failures as *outbox.PersistenceError so
// callers can match the persistence kind with errors.As. Semantic outcomes
// (missing entries, state conflicts) pass through unwrapped.
func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, outbox.ErrEntryNotFound) || errors.Is(err, ErrStateTransitionConflict) {
		return err
	}

	return outbox.NewPersistenceError(op, err)
}

func withTxOrExisting[T any](
	repo *Repository,
	ctx context.Context,
	tx *sql.Tx,
	fn func(*sql.Tx) (T, error),
) (T, error) {
	var zero T

	if ctx == nil {
		ctx = context.Background()
	}

	if tx != nil {
		return fn(tx)
	}

	db, err := repo.conn.DB(ctx)
	if err != nil {
		return zero, err
	}

	txCtx := ctx

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc

		txCtx, cancel = context.WithTimeout(ctx, repo.transactionTimeout)
		defer cancel()
	}

	newTx, err := db.BeginTx(txCtx, nil)
	if err != nil {
		return zero, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = newTx.Rollback()
	}()

	result, err := fn(newTx)
	if err != nil {
		return zero, err
	}

	if err := newTx.Commit(); err != nil {
		return zero, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

func splitStuckEntries(entries []*outbox.Entry, maxAttempts int) ([]*outbox.Entry, []uuid.UUID) {
	retryable := make([]*outbox.Entry, 0, len(entries))
	exhaustedIDs := make([]uuid.UUID, 0)

	for _, entry := range entries {
		if entry == nil || entry.ID == uuid.Nil {
			continue
		}

		if entry.Attempts >= maxAttempts {
			exhaustedIDs = append(exhaustedIDs, entry.ID)

			continue
		}

		retryable = append(retryable, entry)
	}

	return retryable, exhaustedIDs
}

func collectEntryIDs(entries []*outbox.Entry) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(entries))

	for _, entry := range entries {
		if entry == nil || entry.ID == uuid.Nil {
			continue
		}

		ids = append(ids, entry.ID)
	}

	return ids
}

func applyClaimedState(entries []*outbox.Entry, now time.Time) {
	for _, entry := range entries {
		if entry == nil {
			continue
		}

		entry.Status = outbox.StatusProcessing
		entry.Attempts++
		entry.UpdatedAt = now
	}
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*outbox.Entry, error) {
	var (
		entry       outbox.Entry
		status      string
		processedAt sql.NullTime
		lastError   sql.NullString
	)

	if err := scanner.Scan(
		&entry.ID,
		&entry.AggregateID,
		&entry.AggregateType,
		&entry.EventType,
		&entry.Payload,
		&status,
		&entry.Attempts,
		&entry.OccurredAt,
		&processedAt,
		&lastError,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("scanning outbox entry: %w", err)
	}

	parsed, err := outbox.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("scanning outbox entry: %w", err)
	}

	entry.Status = parsed

	if processedAt.Valid {
		stamp := processedAt.Time
		entry.ProcessedAt = &stamp
	}

	if lastError.Valid {
		entry.LastError = lastError.String
	}

	return &entry, nil
}

func queryEntries(
	ctx context.Context,
	tx *sql.Tx,
	query string,
	args []any,
	limit int,
	errorPrefix string,
) ([]*outbox.Entry, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errorPrefix, err)
	}

	defer rows.Close()

	entries := make([]*outbox.Entry, 0, limit)

	for rows.Next() {
		entry, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return entries, nil
}

type createValues struct {
	id            uuid.UUID
	aggregateID   string
	aggregateType string
	eventType     string
	payload       []byte
	status        outbox.Status
	attempts      int
	occurredAt    time.Time
	processedAt   *time.Time
	lastError     string
	createdAt     time.Time
	updatedAt     time.Time
}

func normalizedCreateValues(entry *outbox.Entry, now time.Time) createValues {
	occurredAt := entry.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() || updatedAt.Before(createdAt) {
		updatedAt = createdAt
	}

	return createValues{
		id:            entry.ID,
		aggregateID:   strings.TrimSpace(entry.AggregateID),
		aggregateType: strings.TrimSpace(entry.AggregateType),
		eventType:     strings.TrimSpace(entry.EventType),
		payload:       entry.Payload,
		status:        outbox.StatusPending,
		attempts:      0,
		occurredAt:    occurredAt,
		createdAt:     createdAt,
		updatedAt:     updatedAt,
	}
}

func validateCreateEntry(entry *outbox.Entry) error {
	if entry == nil {
		return outbox.ErrEntryRequired
	}

	if entry.ID == uuid.Nil {
		return ErrIDRequired
	}

	if strings.TrimSpace(entry.AggregateID) == "" {
		return outbox.ErrAggregateIDRequired
	}

	if strings.TrimSpace(entry.EventType) == "" {
		return outbox.ErrEventTypeRequired
	}

	if len(entry.Payload) == 0 {
		return outbox.ErrPayloadRequired
	}

	if len(entry.Payload) > outbox.DefaultMaxPayloadBytes {
		return outbox.ErrPayloadTooLarge
	}

	if !json.Valid(entry.Payload) {
		return outbox.ErrPayloadNotJSON
	}

	return nil
}

func validateIdentifier(identifier string) error {
	if len(identifier) > maxSQLIdentifierLength {
		return ErrInvalidIdentifier
	}

	if !identifierPattern.MatchString(identifier) {
		return ErrInvalidIdentifier
	}

	return nil
}

func validateIdentifierPath(path string) error {
	parts := strings.Split(path, ".")
	if len(parts) == 0 {
		return ErrInvalidIdentifier
	}

	for _, part := range parts {
		if err := validateIdentifier(strings.TrimSpace(part)); err != nil {
			return err
		}
	}

	return nil
}

func quoteIdentifierPath(path string) string {
	parts := strings.Split(path, ".")
	quoted := make([]string, 0, len(parts))

	for _, part := range parts {
		quoted = append(quoted, quoteIdentifier(strings.TrimSpace(part)))
	}

	return strings.Join(quoted, ".")
}

func quoteIdentifier(identifier string) string {
	identifier = strings.ReplaceAll(identifier, "\x00", "")

	return "\"" + strings.ReplaceAll(identifier, "\"", "\"\"") + "\""
}

func logSanitizedError(repo *Repository, logger log.Logger, ctx context.Context, message string, err error) {
	if nilcheck.Interface(logger) {
		logger = repo.logger
	}

	if nilcheck.Interface(logger) || err == nil {
		return
	}

	logger.Log(ctx, log.LevelError, message,
		log.String("error", outbox.SanitizeErrorMessageForStorage(err.Error())))
}

func ensureRowsAffected(result sql.Result) error {
	rows, err := rowsAffected(result)
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrStateTransitionConflict
	}

	return nil
}

func ensureRowsAffectedExact(result sql.Result, expected int64) error {
	rows, err := rowsAffected(result)
	if err != nil {
		return err
	}

	if rows != expected {
		return ErrStateTransitionConflict
	}

	return nil
}

func rowsAffected(result sql.Result) (int64, error) {
	if result == nil {
		return 0, ErrStateTransitionConflict
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return rows, nil
}
