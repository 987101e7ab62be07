//go:build unit

package mediator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPublisher(t *testing.T) {
	t.Parallel()

	t.Run("nil_registry", func(t *testing.T) {
		t.Parallel()

		_, err := NewPublisher(nil)
		assert.ErrorIs(t, err, ErrRegistryRequired)
	})

	t.Run("default_strategy_is_sequential", func(t *testing.T) {
		t.Parallel()

		publisher, err := NewPublisher(NewRegistry())
		require.NoError(t, err)
		assert.IsType(t, &SequentialStrategy{}, publisher.strategy)
	})
}

func TestPublisher_Publish(t *testing.T) {
	t.Parallel()

	t.Run("zero_handlers_is_noop", func(t *testing.T) {
		t.Parallel()

		publisher, err := NewPublisher(NewRegistry())
		require.NoError(t, err)

		assert.NoError(t, publisher.Publish(context.Background(), accountCreatedNotification{ID: "acc-1"}))
	})

	t.Run("nil_notification", func(t *testing.T) {
		t.Parallel()

		publisher, err := NewPublisher(NewRegistry())
		require.NoError(t, err)

		assert.ErrorIs(t, publisher.Publish(context.Background(), nil), ErrMessageRequired)
	})

	t.Run("each_handler_invoked_exactly_once", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()
		counts := make([]int, 3)

		for i := range counts {
			index := i
			require.NoError(t, RegisterNotificationHandler[accountCreatedNotification](
				registry,
				NotificationHandlerFunc[accountCreatedNotification](
					func(context.Context, accountCreatedNotification) error {
						counts[index]++
						return nil
					},
				),
			))
		}

		publisher, err := NewPublisher(registry)
		require.NoError(t, err)

		require.NoError(t, publisher.Publish(context.Background(), accountCreatedNotification{ID: "acc-1"}))
		assert.Equal(t, []int{1, 1, 1}, counts)
	})

	t.Run("failure_does_not_stop_siblings", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()
		emailErr := errors.New("smtp unavailable")
		var auditCalls, projectionCalls int

		require.NoError(t, RegisterNotificationHandler[accountCreatedNotification](
			registry,
			NotificationHandlerFunc[accountCreatedNotification](
				func(context.Context, accountCreatedNotification) error {
					auditCalls++
					return nil
				},
			),
		))
		require.NoError(t, RegisterNotificationHandler[accountCreatedNotification](
			registry,
			NotificationHandlerFunc[accountCreatedNotification](
				func(context.Context, accountCreatedNotification) error { return emailErr },
			),
		))
		require.NoError(t, RegisterNotificationHandler[accountCreatedNotification](
			registry,
			NotificationHandlerFunc[accountCreatedNotification](
				func(context.Context, accountCreatedNotification) error {
					projectionCalls++
					return nil
				},
			),
		))

		publisher, err := NewPublisher(registry)
		require.NoError(t, err)

		err = publisher.Publish(context.Background(), accountCreatedNotification{ID: "acc-1"})
		require.Error(t, err)

		var aggregate *AggregateError
		require.ErrorAs(t, err, &aggregate)
		assert.Equal(t, "account.created", aggregate.MessageName)
		assert.Len(t, aggregate.Failures, 1)
		assert.ErrorIs(t, err, emailErr)

		assert.Equal(t, 1, auditCalls)
		assert.Equal(t, 1, projectionCalls)
	})

	t.Run("handler_panic_becomes_failure", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()
		var survivorCalls int

		require.NoError(t, RegisterNotificationHandler[accountCreatedNotification](
			registry,
			NotificationHandlerFunc[accountCreatedNotification](
				func(context.Context, accountCreatedNotification) error {
					panic("projection storage corrupted")
				},
			),
		))
		require.NoError(t, RegisterNotificationHandler[accountCreatedNotification](
			registry,
			NotificationHandlerFunc[accountCreatedNotification](
				func(context.Context, accountCreatedNotification) error {
					survivorCalls++
					return nil
				},
			),
		))

		publisher, err := NewPublisher(registry)
		require.NoError(t, err)

		err = publisher.Publish(context.Background(), accountCreatedNotification{ID: "acc-1"})
		require.Error(t, err)

		var aggregate *AggregateError
		require.ErrorAs(t, err, &aggregate)
		assert.Len(t, aggregate.Failures, 1)
		assert.Contains(t, aggregate.Failures[0].Err.Error(), "panicked")
		assert.Equal(t, 1, survivorCalls)
	})

	t.Run("sequential_order_is_registration_order", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()
		var order []string

		for _, name := range []string{"audit", "email", "projection"} {
			nameCopy := name
			require.NoError(t, RegisterNotificationHandler[accountCreatedNotification](
				registry,
				NotificationHandlerFunc[accountCreatedNotification](
					func(context.Context, accountCreatedNotification) error {
						order = append(order, nameCopy)
						return nil
					},
				),
			))
		}

		publisher, err := NewPublisher(registry)
		require.NoError(t, err)

		require.NoError(t, publisher.Publish(context.Background(), accountCreatedNotification{}))
		assert.Equal(t, []string{"audit", "email", "projection"}, order)
	})
}

func TestConcurrentStrategy(t *testing.T) {
	t.Parallel()

	t.Run("all_handlers_complete_before_return", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()
		const handlerCount = 20

		var calls atomic.Int64
		for i := 0; i < handlerCount; i++ {
			require.NoError(t, RegisterNotificationHandler[accountCreatedNotification](
				registry,
				NotificationHandlerFunc[accountCreatedNotification](
					func(context.Context, accountCreatedNotification) error {
						calls.Add(1)
						return nil
					},
				),
			))
		}

		publisher, err := NewPublisher(registry, WithStrategy(NewConcurrentStrategy(4, nil)))
		require.NoError(t, err)

		require.NoError(t, publisher.Publish(context.Background(), accountCreatedNotification{}))
		assert.Equal(t, int64(handlerCount), calls.Load())
	})

	t.Run("respects_concurrency_limit", func(t *testing.T) {
		t.Parallel()

		const limit = 3

		var (
			mu      sync.Mutex
			active  int
			peak    int
			release = make(chan struct{})
		)

		handlers := make([]RegisteredNotificationHandler, 10)
		for i := range handlers {
			handlers[i] = RegisteredNotificationHandler{
				Name: "blocking-subscriber",
				Handler: notificationHandlerFunc(func(context.Context, Message) error {
					mu.Lock()
					active++
					if active > peak {
						peak = active
					}
					mu.Unlock()

					<-release

					mu.Lock()
					active--
					mu.Unlock()

					return nil
				}),
			}
		}

		strategy := NewConcurrentStrategy(limit, nil)

		done := make(chan []HandlerFailure, 1)
		go func() {
			done <- strategy.Dispatch(context.Background(), accountCreatedNotification{}, handlers)
		}()

		close(release)
		failures := <-done

		assert.Empty(t, failures)
		assert.LessOrEqual(t, peak, limit)
	})

	t.Run("collects_failures_from_all_goroutines", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("handler failed")
		handlers := []RegisteredNotificationHandler{
			{Name: "ok", Handler: notificationHandlerFunc(func(context.Context, Message) error { return nil })},
			{Name: "bad1", Handler: notificationHandlerFunc(func(context.Context, Message) error { return boom })},
			{Name: "bad2", Handler: notificationHandlerFunc(func(context.Context, Message) error { return boom })},
		}

		strategy := NewConcurrentStrategy(2, nil)
		failures := strategy.Dispatch(context.Background(), accountCreatedNotification{}, handlers)
		assert.Len(t, failures, 2)
	})
}
