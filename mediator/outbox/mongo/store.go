package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/folioworks/lib-mediator/mediator"
	"github.com/folioworks/lib-mediator/mediator/internal/nilcheck"
	"github.com/folioworks/lib-mediator/mediator/log"
	"github.com/folioworks/lib-mediator/mediator/outbox"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultCollectionName = "outbox_entries"

var (
	ErrClientRequired            = errors.New("mongo client is required")
	ErrDatabaseNameRequired      = errors.New("database name is required")
	ErrStoreNotInitialized       = errors.New("outbox store not initialized")
	ErrStateTransitionConflict   = errors.New("outbox entry state transition conflict")
	ErrLimitMustBePositive       = errors.New("limit must be greater than zero")
	ErrIDRequired                = errors.New("id is required")
	ErrMaxAttemptsMustBePositive = errors.New("maxAttempts must be greater than zero")
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used when no logger travels in the context.
func WithLogger(logger log.Logger) Option {
	return func(store *Store) {
		if nilcheck.Interface(logger) {
			return
		}

		store.logger = logger
	}
}

// WithCollectionName overrides the outbox collection name.
func WithCollectionName(name string) Option {
	return func(store *Store) {
		store.collectionName = name
	}
}

// Store persists outbox entries in MongoDB. It implements the relay-side
// Repository contract plus producer-side Create; staging inside a caller
// transaction happens by passing a mongo session context to Create.
type Store struct {
	collection     *mongo.Collection
	logger         log.Logger
	collectionName string
}

var _ outbox.Repository = (*Store)(nil)

// NewStore creates a MongoDB outbox store over the given client.
func NewStore(client *mongo.Client, databaseName string, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, ErrClientRequired
	}

	if strings.TrimSpace(databaseName) == "" {
		return nil, ErrDatabaseNameRequired
	}

	store := &Store{
		logger:         log.NewNop(),
		collectionName: defaultCollectionName,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	if nilcheck.Interface(store.logger) {
		store.logger = log.NewNop()
	}

	store.collectionName = strings.TrimSpace(store.collectionName)
	if store.collectionName == "" {
		store.collectionName = defaultCollectionName
	}

	store.collection = client.Database(databaseName).Collection(store.collectionName)

	return store, nil
}

// EnsureIndexes creates the indexes the claiming queries rely on.
func (store *Store) EnsureIndexes(ctx context.Context) error {
	if !store.initialized() {
		return ErrStoreNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "occurred_at", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}},
		{Keys: bson.D{{Key: "aggregate_type", Value: 1}, {Key: "aggregate_id", Value: 1}}},
	}

	if _, err := store.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("creating outbox indexes: %w", err)
	}

	return nil
}

// entryDocument is the BSON shape of an outbox entry. IDs are stored as
// canonical UUID strings so documents stay readable in shell queries.
type entryDocument struct {
	ID            string     `bson:"_id"`
	AggregateID   string     `bson:"aggregate_id"`
	AggregateType string     `bson:"aggregate_type"`
	EventType     string     `bson:"event_type"`
	Payload       []byte     `bson:"payload"`
	Status        string     `bson:"status"`
	Attempts      int        `bson:"attempts"`
	OccurredAt    time.Time  `bson:"occurred_at"`
	ProcessedAt   *time.Time `bson:"processed_at,omitempty"`
	LastError     string     `bson:"last_error,omitempty"`
	CreatedAt     time.Time  `bson:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at"`
}

// Create stores a new pending entry. When ctx is a mongo session context,
// the insert joins the caller's transaction.
func (store *Store) Create(ctx context.Context, entry *outbox.Entry) (*outbox.Entry, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !store.initialized() {
		return nil, ErrStoreNotInitialized
	}

	if err := validateCreateEntry(entry); err != nil {
		return nil, err
	}

	logger, tracer, _ := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "mongo.outbox.create")
	defer span.End()

	doc := toDocument(entry, time.Now().UTC())

	if _, err := store.collection.InsertOne(ctx, doc); err != nil {
		span.RecordError(err)
		store.logSanitizedError(logger, ctx, "failed to create outbox entry", err)

		return nil, persistenceError("create", err)
	}

	return fromDocument(doc)
}

// GetByID retrieves an entry by id.
func (store *Store) GetByID(ctx context.Context, id uuid.UUID) (*outbox.Entry, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !store.initialized() {
		return nil, ErrStoreNotInitialized
	}

	if id == uuid.Nil {
		return nil, ErrIDRequired
	}

	logger, tracer, _ := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "mongo.outbox.get_by_id")
	defer span.End()

	var doc entryDocument

	err := store.collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, outbox.ErrEntryNotFound
	}

	if err != nil {
		span.RecordError(err)
		store.logSanitizedError(logger, ctx, "failed to get outbox entry", err)

		return nil, persistenceError("get_by_id", err)
	}

	return fromDocument(doc)
}

// ListPending claims up to limit PENDING entries oldest first. Each claim
// is a FindOneAndUpdate, atomic per document, so replicas polling
// concurrently split the backlog instead of sharing it.
func (store *Store) ListPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	return store.claim(ctx, limit, "mongo.outbox.list_pending", bson.M{
		"status": outbox.StatusValuePending,
	}, bson.D{{Key: "occurred_at", Value: 1}, {Key: "_id", Value: 1}})
}

// MarkProcessed records terminal delivery success. Marking an already
// processed entry is a no-op.
func (store *Store) MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if !store.initialized() {
		return ErrStoreNotInitialized
	}

	if id == uuid.Nil {
		return ErrIDRequired
	}

	logger, tracer, _ := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "mongo.outbox.mark_processed")
	defer span.End()

	stamp := processedAt.UTC()

	result, err := store.collection.UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": outbox.StatusValueProcessing, "processed_at": nil},
		bson.M{"$set": bson.M{
			"status":       outbox.StatusValueProcessed,
			"processed_at": stamp,
			"updated_at":   time.Now().UTC(),
		}},
	)
	if err != nil {
		span.RecordError(err)
		store.logSanitizedError(logger, ctx, "failed to mark outbox entry processed", err)

		return persistenceError("mark_processed", err)
	}

	if result.MatchedCount > 0 {
		return nil
	}

	var doc entryDocument

	findErr := store.collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(findErr, mongo.ErrNoDocuments) {
		return outbox.ErrEntryNotFound
	}

	if findErr != nil {
		return persistenceError("mark_processed", fmt.Errorf("checking entry status: %w", findErr))
	}

	if outbox.Status(doc.Status) == outbox.StatusProcessed {
		return nil
	}

	return ErrStateTransitionConflict
}

// MarkFailed records a delivery failure. Entries that already reached
// maxAttempts become INVALID instead of FAILED.
func (store *Store) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, maxAttempts int) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if !store.initialized() {
		return ErrStoreNotInitialized
	}

	if id == uuid.Nil {
		return ErrIDRequired
	}

	if maxAttempts <= 0 {
		return ErrMaxAttemptsMustBePositive
	}

	errMsg = outbox.SanitizeErrorMessageForStorage(errMsg)

	logger, tracer, _ := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "mongo.outbox.mark_failed")
	defer span.End()

	now := time.Now().UTC()

	// Exhausted entries park as INVALID; the filter on attempts keeps the
	// decision atomic per document.
	invalid, err := store.collection.UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": outbox.StatusValueProcessing, "attempts": bson.M{"$gte": maxAttempts}},
		bson.M{"$set": bson.M{
			"status":     outbox.StatusValueInvalid,
			"last_error": "max delivery attempts exceeded",
			"updated_at": now,
		}},
	)
	if err != nil {
		span.RecordError(err)
		store.logSanitizedError(logger, ctx, "failed to mark outbox entry failed", err)

		return persistenceError("mark_failed", err)
	}

	if invalid.MatchedCount > 0 {
		return nil
	}

	failed, err := store.collection.UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": outbox.StatusValueProcessing},
		bson.M{"$set": bson.M{
			"status":     outbox.StatusValueFailed,
			"last_error": errMsg,
			"updated_at": now,
		}},
	)
	if err != nil {
		span.RecordError(err)
		store.logSanitizedError(logger, ctx, "failed to mark outbox entry failed", err)

		return persistenceError("mark_failed", err)
	}

	if failed.MatchedCount == 0 {
		return ErrStateTransitionConflict
	}

	return nil
}

// MarkInvalid records terminal rejection.
func (store *Store) MarkInvalid(ctx context.Context, id uuid.UUID, errMsg string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if !store.initialized() {
		return ErrStoreNotInitialized
	}

	if id == uuid.Nil {
		return ErrIDRequired
	}

	errMsg = outbox.SanitizeErrorMessageForStorage(errMsg)

	logger, tracer, _ := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "mongo.outbox.mark_invalid")
	defer span.End()

	result, err := store.collection.UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": outbox.StatusValueProcessing},
		bson.M{"$set": bson.M{
			"status":     outbox.StatusValueInvalid,
			"last_error": errMsg,
			"updated_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		span.RecordError(err)
		store.logSanitizedError(logger, ctx, "failed to mark outbox entry invalid", err)

		return persistenceError("mark_invalid", err)
	}

	if result.MatchedCount == 0 {
		return ErrStateTransitionConflict
	}

	return nil
}

// ResetForRetry reclaims FAILED entries older than failedBefore with
// attempts remaining, transitioning them to PROCESSING.
func (store *Store) ResetForRetry(
	ctx context.Context,
	limit int,
	failedBefore time.Time,
	maxAttempts int,
) ([]*outbox.Entry, error) {
	if maxAttempts <= 0 {
		return nil, ErrMaxAttemptsMustBePositive
	}

	return store.claim(ctx, limit, "mongo.outbox.reset_for_retry", bson.M{
		"status":     outbox.StatusValueFailed,
		"attempts":   bson.M{"$lt": maxAttempts},
		"updated_at": bson.M{"$lte": failedBefore},
	}, bson.D{{Key: "updated_at", Value: 1}})
}

// ResetStuckProcessing reclaims PROCESSING entries older than
// processingBefore. Entries with exhausted attempts move to INVALID
// instead of being returned for redelivery.
func (store *Store) ResetStuckProcessing(
	ctx context.Context,
	limit int,
	processingBefore time.Time,
	maxAttempts int,
) ([]*outbox.Entry, error) {
	if maxAttempts <= 0 {
		return nil, ErrMaxAttemptsMustBePositive
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if !store.initialized() {
		return nil, ErrStoreNotInitialized
	}

	// Park exhausted stragglers first so the claim below never returns them.
	_, err := store.collection.UpdateMany(ctx,
		bson.M{
			"status":     outbox.StatusValueProcessing,
			"updated_at": bson.M{"$lte": processingBefore},
			"attempts":   bson.M{"$gte": maxAttempts},
		},
		bson.M{"$set": bson.M{
			"status":     outbox.StatusValueInvalid,
			"last_error": "max delivery attempts exceeded",
			"updated_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		return nil, persistenceError("reset_stuck_processing", fmt.Errorf("parking exhausted stuck entries: %w", err))
	}

	return store.claim(ctx, limit, "mongo.outbox.reset_stuck_processing", bson.M{
		"status":     outbox.StatusValueProcessing,
		"updated_at": bson.M{"$lte": processingBefore},
		"attempts":   bson.M{"$lt": maxAttempts},
	}, bson.D{{Key: "updated_at", Value: 1}})
}

func (store *Store) claim(
	ctx context.Context,
	limit int,
	spanName string,
	filter bson.M,
	sort bson.D,
) ([]*outbox.Entry, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !store.initialized() {
		return nil, ErrStoreNotInitialized
	}

	if limit <= 0 {
		return nil, ErrLimitMustBePositive
	}

	logger, tracer, _ := mediator.TrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	opts := options.FindOneAndUpdate().
		SetSort(sort).
		SetReturnDocument(options.After)

	claimed := make([]*outbox.Entry, 0, limit)

	for len(claimed) < limit {
		now := time.Now().UTC()
		update := bson.M{
			"$set": bson.M{"status": outbox.StatusValueProcessing, "updated_at": now},
			"$inc": bson.M{"attempts": 1},
		}

		var doc entryDocument

		err := store.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}

		if err != nil {
			span.RecordError(err)
			store.logSanitizedError(logger, ctx, "failed to claim outbox entry", err)

			return nil, persistenceError("claim", err)
		}

		entry, convErr := fromDocument(doc)
		if convErr != nil {
			return nil, convErr
		}

		claimed = append(claimed, entry)
	}

	return claimed, nil
}

func (store *Store) initialized() bool {
	return store != nil && store.collection != nil
}

// persistenceError wraps driver failures as *outbox.PersistenceError so
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

func (store *Store) logSanitizedError(logger log.Logger, ctx context.Context, message string, err error) {
	if nilcheck.Interface(logger) {
		logger = store.logger
	}

	if nilcheck.Interface(logger) || err == nil {
		return
	}

	logger.Log(ctx, log.LevelError, message,
		log.String("error", outbox.SanitizeErrorMessageForStorage(err.Error())))
}

func toDocument(entry *outbox.Entry, now time.Time) entryDocument {
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

	return entryDocument{
		ID:            entry.ID.String(),
		AggregateID:   strings.TrimSpace(entry.AggregateID),
		AggregateType: strings.TrimSpace(entry.AggregateType),
		EventType:     strings.TrimSpace(entry.EventType),
		Payload:       entry.Payload,
		Status:        outbox.StatusValuePending,
		Attempts:      0,
		OccurredAt:    occurredAt,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
}

func fromDocument(doc entryDocument) (*outbox.Entry, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("parsing outbox entry id: %w", err)
	}

	status, err := outbox.ParseStatus(doc.Status)
	if err != nil {
		return nil, fmt.Errorf("parsing outbox entry status: %w", err)
	}

	entry := &outbox.Entry{
		ID:            id,
		AggregateID:   doc.AggregateID,
		AggregateType: doc.AggregateType,
		EventType:     doc.EventType,
		Payload:       doc.Payload,
		Status:        status,
		Attempts:      doc.Attempts,
		OccurredAt:    doc.OccurredAt,
		LastError:     doc.LastError,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}

	if doc.ProcessedAt != nil {
		stamp := *doc.ProcessedAt
		entry.ProcessedAt = &stamp
	}

	return entry, nil
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
