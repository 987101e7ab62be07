package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/folioworks/lib-mediator/mediator"
	"github.com/folioworks/lib-mediator/mediator/backoff"
	"github.com/folioworks/lib-mediator/mediator/internal/nilcheck"
	"github.com/folioworks/lib-mediator/mediator/log"
	"github.com/folioworks/lib-mediator/mediator/runtime"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Relay polls the repository for deliverable entries and pushes them to
// the configured target. Delivery semantics are at-least-once: the target
// is invoked before MarkProcessed, so a crash between the two redelivers
// the entry on the next cycle and consumers must stay idempotent.
type Relay struct {
	repo            Repository
	target          Target
	retryClassifier RetryClassifier
	lease           Lease
	logger          log.Logger
	tracer          trace.Tracer
	cfg             RelayConfig

	listFailureCount int
	listFailureMu    sync.Mutex

	stop       chan struct{}
	stopOnce   sync.Once
	runStateMu sync.Mutex
	running    bool
	cancelFunc context.CancelFunc
	relayWg    sync.WaitGroup

	metrics relayMetrics
}

var _ mediator.App = (*Relay)(nil)

// RelayResult captures one relay cycle outcome.
type RelayResult struct {
	Processed         int
	Delivered         int
	Failed            int
	StateUpdateFailed int
}

// NewRelay creates an outbox relay over the given repository and target.
func NewRelay(
	repo Repository,
	target Target,
	logger log.Logger,
	tracer trace.Tracer,
	opts ...RelayOption,
) (*Relay, error) {
	if nilcheck.Interface(repo) {
		return nil, ErrRepositoryRequired
	}

	if nilcheck.Interface(target) {
		return nil, ErrTargetRequired
	}

	if nilcheck.Interface(tracer) {
		tracer = noop.NewTracerProvider().Tracer("mediator.noop")
	}

	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	relay := &Relay{
		repo:   repo,
		target: target,
		logger: logger,
		tracer: tracer,
		cfg:    DefaultRelayConfig(),
		stop:   make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(relay)
		}
	}

	relay.cfg.normalize()

	metrics, err := newRelayMetrics(relay.cfg.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("init outbox relay metrics: %w", err)
	}

	relay.metrics = metrics

	return relay, nil
}

// Run starts the relay loop until Stop is called.
func (relay *Relay) Run(launcher *mediator.Launcher) error {
	return relay.RunContext(context.Background(), launcher)
}

// RunContext starts the relay loop until Stop is called or ctx is cancelled.
func (relay *Relay) RunContext(parentCtx context.Context, launcher *mediator.Launcher) error {
	if relay == nil {
		return ErrRelayRequired
	}

	if relay.repo == nil || relay.target == nil {
		return ErrRelayRequired
	}

	if parentCtx == nil {
		parentCtx = context.Background()
	}

	ctx, cancel := context.WithCancel(parentCtx)
	if !relay.registerRun(cancel) {
		cancel()

		return ErrRelayRunning
	}

	defer relay.clearRun()

	if launcher != nil && launcher.Logger != nil {
		launcher.Logger.Log(context.Background(), log.LevelInfo, "outbox relay started")
		defer launcher.Logger.Log(context.Background(), log.LevelInfo, "outbox relay stopped")
	}

	defer runtime.RecoverAndLogWithContext(ctx, relay.logger, "outbox", "relay_run")

	ticker := time.NewTicker(relay.cfg.PollInterval)
	defer ticker.Stop()

	relay.runCycle(ctx, "outbox.relay.initial_cycle")

	for {
		select {
		case <-relay.stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			select {
			case <-relay.stop:
				return nil
			case <-ctx.Done():
				return nil
			default:
			}

			relay.runCycle(ctx, "outbox.relay.cycle")
		}
	}
}

func (relay *Relay) runCycle(ctx context.Context, spanName string) {
	relay.relayWg.Add(1)
	defer relay.relayWg.Done()

	cycleCtx, span := relay.tracer.Start(ctx, spanName)
	defer span.End()
	defer runtime.RecoverAndLogWithContext(cycleCtx, relay.logger, "outbox", "relay_cycle")

	result := relay.RelayOnceResult(cycleCtx)
	span.SetAttributes(
		attribute.Int("outbox.relay.processed", result.Processed),
		attribute.Int("outbox.relay.delivered", result.Delivered),
		attribute.Int("outbox.relay.failed", result.Failed),
		attribute.Int("outbox.relay.state_update_failed", result.StateUpdateFailed),
	)
}

// Stop signals the relay loop to stop.
func (relay *Relay) Stop() {
	if relay == nil {
		return
	}

	relay.stopOnce.Do(func() {
		relay.runStateMu.Lock()
		cancel := relay.cancelFunc
		stop := relay.stop
		if stop == nil {
			stop = make(chan struct{})
			relay.stop = stop
		}
		relay.runStateMu.Unlock()

		if cancel != nil {
			cancel()
		}

		close(stop)
	})
}

// Shutdown waits for in-flight relay cycle completion.
func (relay *Relay) Shutdown(ctx context.Context) error {
	if relay == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	relay.Stop()

	done := make(chan struct{})

	runtime.SafeGo(relay.logger, "outbox.relay_shutdown_wait", runtime.KeepRunning, func() {
		relay.relayWg.Wait()
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("relay shutdown: %w", ctx.Err())
	}
}

// RelayOnce processes one relay cycle and returns the processed count.
func (relay *Relay) RelayOnce(ctx context.Context) int {
	return relay.RelayOnceResult(ctx).Processed
}

// RelayOnceResult processes one relay cycle and returns counters.
func (relay *Relay) RelayOnceResult(ctx context.Context) RelayResult {
	if relay == nil {
		return RelayResult{}
	}

	if relay.repo == nil || relay.target == nil {
		return RelayResult{}
	}

	if ctx == nil {
		ctx = context.Background()
	}

	logger := relay.logger
	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	if relay.lease != nil {
		acquired, err := relay.lease.Acquire(ctx)
		if err != nil {
			log.SafeError(logger, ctx, "failed to acquire relay lease", err, false)

			return RelayResult{}
		}

		if !acquired {
			return RelayResult{}
		}

		defer func() {
			if err := relay.lease.Release(ctx); err != nil {
				log.SafeError(logger, ctx, "failed to release relay lease", err, false)
			}
		}()
	}

	start := time.Now().UTC()

	ctx, span := relay.tracer.Start(ctx, "outbox.relay.deliver")
	defer span.End()

	entries := relay.collectEntries(ctx, span)
	relay.recordQueueDepth(ctx, int64(len(entries)))

	var result RelayResult

	// At-least-once: deliver happens before MarkProcessed. If state
	// persistence fails after delivery, the entry is retried and consumers
	// must remain idempotent.
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		if entry == nil {
			continue
		}

		result.Processed++

		if err := relay.deliverWithRetry(ctx, entry); err != nil {
			relay.handleDeliveryError(ctx, logger, entry, err)

			result.Failed++

			continue
		}

		result.Delivered++

		if err := relay.repo.MarkProcessed(ctx, entry.ID, time.Now().UTC()); err != nil {
			logger.Log(
				ctx,
				log.LevelError,
				"outbox entry delivered but failed to persist PROCESSED state; entry may be redelivered",
				log.String("entry_id", entry.ID.String()),
				log.String("error", sanitizeErrorForStorage(err)),
			)
			relay.addStateUpdateFailure(ctx, 1)

			result.StateUpdateFailed++
		}
	}

	relay.addRelayedEntries(ctx, int64(result.Delivered))
	relay.addFailedEntries(ctx, int64(result.Failed))
	relay.recordCycleLatency(ctx, time.Since(start).Seconds())

	return result
}

// collectEntries gathers entries for a single cycle in three layers:
//
//  1. Stuck entries: PROCESSING older than ProcessingTimeout, reclaimed
//  2. Failed entries: FAILED older than RetryWindow with attempts remaining
//  3. Pending entries: PENDING ordered by occurred_at ASC
//
// The total batch is bounded by BatchSize and deduplicated, since a
// reclaimed entry can also surface through the pending list.
func (relay *Relay) collectEntries(ctx context.Context, span trace.Span) []*Entry {
	logger := relay.logger
	now := time.Now().UTC()
	failedBefore := now.Add(-relay.cfg.RetryWindow)
	processingBefore := now.Add(-relay.cfg.ProcessingTimeout)

	stuckEntries, err := relay.repo.ResetStuckProcessing(
		ctx,
		relay.cfg.BatchSize,
		processingBefore,
		relay.cfg.MaxRelayAttempts,
	)
	if err != nil {
		span.RecordError(err)
		log.SafeError(logger, ctx, "failed to reclaim stuck outbox entries", err, false)
	}

	collected := len(stuckEntries)

	failedLimit := min(relay.cfg.BatchSize-collected, relay.cfg.MaxFailedPerBatch)
	if failedLimit <= 0 {
		return prepareBatch(stuckEntries)
	}

	failedEntries, err := relay.repo.ResetForRetry(
		ctx,
		failedLimit,
		failedBefore,
		relay.cfg.MaxRelayAttempts,
	)
	if err != nil {
		span.RecordError(err)
		log.SafeError(logger, ctx, "failed to reclaim failed outbox entries", err, false)
	}

	collected += len(failedEntries)

	remaining := relay.cfg.BatchSize - collected
	if remaining <= 0 {
		return prepareBatch(append(stuckEntries, failedEntries...))
	}

	pendingEntries, err := relay.repo.ListPending(ctx, remaining)
	if err != nil {
		relay.handleListError(ctx, span, err)

		return prepareBatch(append(stuckEntries, failedEntries...))
	}

	relay.clearListFailureCount()

	all := make([]*Entry, 0, collected+len(pendingEntries))
	all = append(all, stuckEntries...)
	all = append(all, failedEntries...)
	all = append(all, pendingEntries...)

	return prepareBatch(all)
}

// prepareBatch deduplicates the layered batch and restores per-aggregate
// occurred_at ordering. The layers emit reclaimed entries ahead of pending
// ones, which can invert same-aggregate order when a reclaimed entry
// occurred later than a pending sibling.
func prepareBatch(entries []*Entry) []*Entry {
	deduped := deduplicateEntries(entries)

	sort.SliceStable(deduped, func(i, j int) bool {
		if deduped[i].AggregateID != deduped[j].AggregateID {
			return deduped[i].AggregateID < deduped[j].AggregateID
		}

		return deduped[i].OccurredAt.Before(deduped[j].OccurredAt)
	})

	return deduped
}

func deduplicateEntries(entries []*Entry) []*Entry {
	if len(entries) == 0 {
		return entries
	}

	seen := make(map[uuid.UUID]bool, len(entries))
	result := make([]*Entry, 0, len(entries))

	for _, entry := range entries {
		if entry == nil {
			continue
		}

		if seen[entry.ID] {
			continue
		}

		seen[entry.ID] = true
		result = append(result, entry)
	}

	return result
}

func (relay *Relay) deliverWithRetry(ctx context.Context, entry *Entry) error {
	maxAttempts := relay.cfg.DeliverMaxAttempts
	deliverBackoff := relay.cfg.DeliverBackoff

	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := relay.deliver(ctx, entry)
		if err == nil {
			return nil
		}

		lastErr = fmt.Errorf("delivery attempt %d/%d failed: %w", attempt+1, maxAttempts, err)
		if relay.isNonRetryableError(err) || attempt == maxAttempts-1 {
			break
		}

		delay := backoff.ExponentialWithJitter(deliverBackoff, attempt)
		if waitErr := backoff.WaitContext(ctx, delay); waitErr != nil {
			lastErr = fmt.Errorf("delivery retry wait interrupted: %w", waitErr)
			break
		}
	}

	return lastErr
}

func (relay *Relay) deliver(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return ErrEntryRequired
	}

	if len(entry.Payload) == 0 {
		return ErrPayloadRequired
	}

	return relay.target.Deliver(ctx, entry)
}

func (relay *Relay) handleDeliveryError(ctx context.Context, logger log.Logger, entry *Entry, err error) {
	if relay.isNonRetryableError(err) {
		if markErr := relay.repo.MarkInvalid(ctx, entry.ID, sanitizeErrorForStorage(err)); markErr != nil {
			logger.Log(ctx, log.LevelError, "failed to mark outbox entry invalid", log.String("error", sanitizeErrorForStorage(markErr)))
		}

		return
	}

	if markErr := relay.repo.MarkFailed(ctx, entry.ID, sanitizeErrorForStorage(err), relay.cfg.MaxRelayAttempts); markErr != nil {
		logger.Log(ctx, log.LevelError, "failed to mark outbox entry failed", log.String("error", sanitizeErrorForStorage(markErr)))
	}
}

func (relay *Relay) isNonRetryableError(err error) bool {
	if err == nil || nilcheck.Interface(relay.retryClassifier) {
		return false
	}

	return relay.retryClassifier.IsNonRetryable(err)
}

func (relay *Relay) handleListError(ctx context.Context, span trace.Span, err error) {
	span.RecordError(err)
	log.SafeError(relay.logger, ctx, "failed to list pending outbox entries", err, false)

	relay.listFailureMu.Lock()
	relay.listFailureCount++
	count := relay.listFailureCount
	relay.listFailureMu.Unlock()

	if count >= relay.cfg.ListFailureThreshold {
		relay.logger.Log(ctx, log.LevelError, "outbox list failures exceeded threshold", log.Int("count", count))
	}
}

func (relay *Relay) clearListFailureCount() {
	relay.listFailureMu.Lock()
	relay.listFailureCount = 0
	relay.listFailureMu.Unlock()
}

func (relay *Relay) registerRun(cancel context.CancelFunc) bool {
	relay.runStateMu.Lock()
	defer relay.runStateMu.Unlock()

	if relay.running {
		return false
	}

	if relay.stop == nil || isClosedSignal(relay.stop) {
		relay.stop = make(chan struct{})
		relay.stopOnce = sync.Once{}
	}

	relay.running = true
	relay.cancelFunc = cancel

	return true
}

func (relay *Relay) clearRun() {
	relay.runStateMu.Lock()
	defer relay.runStateMu.Unlock()

	relay.running = false
	relay.cancelFunc = nil
}

func isClosedSignal(signal <-chan struct{}) bool {
	if signal == nil {
		return false
	}

	select {
	case <-signal:
		return true
	default:
		return false
	}
}

func (relay *Relay) recordQueueDepth(ctx context.Context, depth int64) {
	if relay.metrics.queueDepth == nil {
		return
	}

	relay.metrics.queueDepth.Record(ctx, depth)
}

func (relay *Relay) addRelayedEntries(ctx context.Context, count int64) {
	if relay.metrics.entriesRelayed == nil || count <= 0 {
		return
	}

	relay.metrics.entriesRelayed.Add(ctx, count)
}

func (relay *Relay) addFailedEntries(ctx context.Context, count int64) {
	if relay.metrics.entriesFailed == nil || count <= 0 {
		return
	}

	relay.metrics.entriesFailed.Add(ctx, count)
}

func (relay *Relay) addStateUpdateFailure(ctx context.Context, count int64) {
	if relay.metrics.entriesStateStale == nil || count <= 0 {
		return
	}

	relay.metrics.entriesStateStale.Add(ctx, count)
}

func (relay *Relay) recordCycleLatency(ctx context.Context, latencySeconds float64) {
	if relay.metrics.cycleLatency == nil {
		return
	}

	relay.metrics.cycleLatency.Record(ctx, latencySeconds)
}
