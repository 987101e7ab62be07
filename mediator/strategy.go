package mediator

import (
	"context"
	"fmt"
	"sync"

	"github.com/folioworks/lib-mediator/mediator/log"
	"github.com/folioworks/lib-mediator/mediator/runtime"
)

// DispatchStrategy controls how a notification's handler set is executed.
// Every strategy invokes each handler exactly once per publish call and
// joins all results before returning; a handler failure or panic never
// aborts its siblings.
type DispatchStrategy interface {
	Dispatch(ctx context.Context, notification Notification, handlers []RegisteredNotificationHandler) []HandlerFailure
}

// SequentialStrategy runs handlers one at a time in registration order.
type SequentialStrategy struct {
	logger log.Logger
}

// NewSequentialStrategy creates the default in-order strategy.
func NewSequentialStrategy(logger log.Logger) *SequentialStrategy {
	if logger == nil {
		logger = log.NewNop()
	}

	return &SequentialStrategy{logger: logger}
}

// Dispatch invokes handlers in order, collecting per-handler failures.
func (strategy *SequentialStrategy) Dispatch(
	ctx context.Context,
	notification Notification,
	handlers []RegisteredNotificationHandler,
) []HandlerFailure {
	var failures []HandlerFailure

	for _, entry := range handlers {
		if err := invokeNotificationHandler(ctx, strategy.logger, notification, entry); err != nil {
			failures = append(failures, HandlerFailure{Handler: entry.Name, Err: err})
		}
	}

	return failures
}

const defaultConcurrencyLimit = 8

// ConcurrentStrategy runs handlers in parallel goroutines bounded by a
// concurrency limit. Invocation order is unspecified but complete; the
// publish call blocks until every handler has finished.
type ConcurrentStrategy struct {
	limit  int
	logger log.Logger
}

// NewConcurrentStrategy creates a bounded parallel strategy. Non-positive
// limits fall back to the default bound.
func NewConcurrentStrategy(limit int, logger log.Logger) *ConcurrentStrategy {
	if limit <= 0 {
		limit = defaultConcurrencyLimit
	}

	if logger == nil {
		logger = log.NewNop()
	}

	return &ConcurrentStrategy{limit: limit, logger: logger}
}

// Dispatch fans handlers out with a semaphore bound and joins all results.
func (strategy *ConcurrentStrategy) Dispatch(
	ctx context.Context,
	notification Notification,
	handlers []RegisteredNotificationHandler,
) []HandlerFailure {
	if len(handlers) == 0 {
		return nil
	}

	var (
		wg         sync.WaitGroup
		failuresMu sync.Mutex
		failures   []HandlerFailure
	)

	semaphore := make(chan struct{}, strategy.limit)

	for _, entry := range handlers {
		wg.Add(1)

		go func(entry RegisteredNotificationHandler) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := invokeNotificationHandler(ctx, strategy.logger, notification, entry); err != nil {
				failuresMu.Lock()
				failures = append(failures, HandlerFailure{Handler: entry.Name, Err: err})
				failuresMu.Unlock()
			}
		}(entry)
	}

	wg.Wait()

	return failures
}

// invokeNotificationHandler runs one handler, converting panics into
// failures so a misbehaving subscriber cannot take down the publish call.
func invokeNotificationHandler(
	ctx context.Context,
	logger log.Logger,
	notification Notification,
	entry RegisteredNotificationHandler,
) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			runtime.HandlePanicValue(ctx, logger, recovered, "mediator", "notification_handler")

			err = fmt.Errorf("notification handler %s panicked: %v", entry.Name, recovered)
		}
	}()

	return entry.Handler.HandleNotification(ctx, notification)
}
