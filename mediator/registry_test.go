//go:build unit

package mediator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Shared message fixtures for the package tests.

type createAccountCommand struct {
	Name string
}

func (createAccountCommand) MessageName() string { return "account.create" }

type closeAccountCommand struct {
	ID string
}

func (closeAccountCommand) MessageName() string { return "account.close" }

type accountByIDQuery struct {
	ID string
}

func (accountByIDQuery) MessageName() string { return "account.by_id" }

type accountView struct {
	ID   string
	Name string
}

type accountCreatedNotification struct {
	ID string
}

func (accountCreatedNotification) MessageName() string { return "account.created" }

type blankNameCommand struct{}

func (blankNameCommand) MessageName() string { return "   " }

// mapProvider is a DependencyProvider backed by plain maps.
type mapProvider struct {
	singles map[string]any
	subs    map[string][]any
}

func (p *mapProvider) SingleInstanceOf(key string) (any, error) {
	instance, ok := p.singles[key]
	if !ok {
		return nil, fmt.Errorf("no instance for %s", key)
	}

	return instance, nil
}

func (p *mapProvider) SubTypesOf(key string) ([]any, error) {
	return p.subs[key], nil
}

func TestRegisterCommandHandler(t *testing.T) {
	t.Parallel()

	t.Run("nil_registry", func(t *testing.T) {
		t.Parallel()

		err := RegisterCommandHandler[createAccountCommand](nil, CommandHandlerFunc[createAccountCommand](
			func(context.Context, createAccountCommand) error { return nil },
		))
		assert.ErrorIs(t, err, ErrRegistryRequired)
	})

	t.Run("nil_handler", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()
		err := RegisterCommandHandler[createAccountCommand](registry, nil)
		assert.ErrorIs(t, err, ErrHandlerRequired)
	})

	t.Run("blank_message_name", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()
		err := RegisterCommandHandler[blankNameCommand](registry, CommandHandlerFunc[blankNameCommand](
			func(context.Context, blankNameCommand) error { return nil },
		))
		assert.ErrorIs(t, err, ErrMessageNameRequired)
	})

	t.Run("registered_handler_resolves", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()
		err := RegisterCommandHandler[createAccountCommand](registry, CommandHandlerFunc[createAccountCommand](
			func(context.Context, createAccountCommand) error { return nil },
		))
		require.NoError(t, err)

		handler, err := registry.ResolveCommandHandler("account.create")
		require.NoError(t, err)
		assert.NotNil(t, handler)
	})
}

func TestRegistry_ResolveCommandHandler(t *testing.T) {
	t.Parallel()

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()

		_, err := registry.ResolveCommandHandler("account.create")
		require.ErrorIs(t, err, ErrHandlerNotFound)
		assert.Contains(t, err.Error(), "account.create")
	})

	t.Run("ambiguous_when_registered_twice", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()
		handler := CommandHandlerFunc[createAccountCommand](
			func(context.Context, createAccountCommand) error { return nil },
		)
		require.NoError(t, RegisterCommandHandler[createAccountCommand](registry, handler))
		require.NoError(t, RegisterCommandHandler[createAccountCommand](registry, handler))

		_, err := registry.ResolveCommandHandler("account.create")
		assert.ErrorIs(t, err, ErrAmbiguousHandler)
	})

	t.Run("empty_name", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()

		_, err := registry.ResolveCommandHandler("  ")
		assert.ErrorIs(t, err, ErrMessageNameRequired)
	})

	t.Run("command_with_result_shares_command_space", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()
		require.NoError(t, RegisterCommandHandler[createAccountCommand](registry, CommandHandlerFunc[createAccountCommand](
			func(context.Context, createAccountCommand) error { return nil },
		)))
		require.NoError(t, RegisterCommandWithResultHandler[createAccountCommand, accountView](
			registry,
			CommandWithResultHandlerFunc[createAccountCommand, accountView](
				func(context.Context, createAccountCommand) (accountView, error) { return accountView{}, nil },
			),
		))

		_, err := registry.ResolveCommandHandler("account.create")
		assert.ErrorIs(t, err, ErrAmbiguousHandler)
	})
}

func TestRegistry_ResolveQueryHandler(t *testing.T) {
	t.Parallel()

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()

		_, err := registry.ResolveQueryHandler("account.by_id")
		assert.ErrorIs(t, err, ErrHandlerNotFound)
	})

	t.Run("query_and_command_names_are_separate_spaces", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()
		require.NoError(t, RegisterQueryHandler[accountByIDQuery, accountView](
			registry,
			QueryHandlerFunc[accountByIDQuery, accountView](
				func(context.Context, accountByIDQuery) (accountView, error) { return accountView{}, nil },
			),
		))

		_, err := registry.ResolveQueryHandler("account.by_id")
		require.NoError(t, err)

		_, err = registry.ResolveCommandHandler("account.by_id")
		assert.ErrorIs(t, err, ErrHandlerNotFound)
	})
}

func TestRegistry_ResolveNotificationHandlers(t *testing.T) {
	t.Parallel()

	t.Run("zero_handlers_is_valid", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()

		handlers, err := registry.ResolveNotificationHandlers("account.created")
		require.NoError(t, err)
		assert.Empty(t, handlers)
	})

	t.Run("returns_registration_order", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()
		var calls []string

		for _, name := range []string{"first", "second", "third"} {
			nameCopy := name
			require.NoError(t, RegisterNotificationHandler[accountCreatedNotification](
				registry,
				NotificationHandlerFunc[accountCreatedNotification](
					func(context.Context, accountCreatedNotification) error {
						calls = append(calls, nameCopy)
						return nil
					},
				),
			))
		}

		handlers, err := registry.ResolveNotificationHandlers("account.created")
		require.NoError(t, err)
		require.Len(t, handlers, 3)

		for _, entry := range handlers {
			require.NoError(t, entry.Handler.HandleNotification(context.Background(), accountCreatedNotification{}))
		}

		assert.Equal(t, []string{"first", "second", "third"}, calls)
	})
}

func TestRegistry_DependencyProviderFallback(t *testing.T) {
	t.Parallel()

	t.Run("single_instance_fallback", func(t *testing.T) {
		t.Parallel()

		provided := messageHandlerFunc(func(context.Context, Message) (any, error) {
			return "from-provider", nil
		})
		registry := NewRegistry(WithDependencyProvider(&mapProvider{
			singles: map[string]any{"account.create": provided},
		}))

		handler, err := registry.ResolveCommandHandler("account.create")
		require.NoError(t, err)

		result, err := handler.HandleMessage(context.Background(), createAccountCommand{})
		require.NoError(t, err)
		assert.Equal(t, "from-provider", result)
	})

	t.Run("provider_miss_reports_not_found", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry(WithDependencyProvider(&mapProvider{singles: map[string]any{}}))

		_, err := registry.ResolveCommandHandler("account.create")
		assert.ErrorIs(t, err, ErrHandlerNotFound)
	})

	t.Run("explicit_registration_wins_over_provider", func(t *testing.T) {
		t.Parallel()

		provided := messageHandlerFunc(func(context.Context, Message) (any, error) {
			return "from-provider", nil
		})
		registry := NewRegistry(WithDependencyProvider(&mapProvider{
			singles: map[string]any{"account.create": provided},
		}))
		require.NoError(t, RegisterCommandHandler[createAccountCommand](registry, CommandHandlerFunc[createAccountCommand](
			func(context.Context, createAccountCommand) error { return nil },
		)))

		handler, err := registry.ResolveCommandHandler("account.create")
		require.NoError(t, err)

		result, err := handler.HandleMessage(context.Background(), createAccountCommand{})
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("notification_subtypes_fallback", func(t *testing.T) {
		t.Parallel()

		var calls int
		provided := notificationHandlerFunc(func(context.Context, Message) error {
			calls++
			return nil
		})
		registry := NewRegistry(WithDependencyProvider(&mapProvider{
			subs: map[string][]any{"account.created": {provided, provided}},
		}))

		handlers, err := registry.ResolveNotificationHandlers("account.created")
		require.NoError(t, err)
		require.Len(t, handlers, 2)

		for _, entry := range handlers {
			require.NoError(t, entry.Handler.HandleNotification(context.Background(), accountCreatedNotification{}))
		}

		assert.Equal(t, 2, calls)
	})

	t.Run("provider_instance_of_wrong_shape", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry(WithDependencyProvider(&mapProvider{
			singles: map[string]any{"account.create": "not a handler"},
		}))

		_, err := registry.ResolveCommandHandler("account.create")
		assert.ErrorIs(t, err, ErrHandlerRequired)
	})
}

func TestRegistry_RegisterBehavior(t *testing.T) {
	t.Parallel()

	t.Run("nil_behavior", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()
		err := registry.RegisterBehavior(nil)
		assert.ErrorIs(t, err, ErrBehaviorRequired)
	})

	t.Run("behaviors_returns_copy", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()
		require.NoError(t, registry.RegisterBehavior(PipelineBehaviorFunc(
			func(ctx context.Context, msg Message, next Next) (any, error) { return next(ctx, msg) },
		)))

		behaviors := registry.Behaviors()
		require.Len(t, behaviors, 1)

		behaviors[0] = nil
		assert.NotNil(t, registry.Behaviors()[0])
	})
}

func TestRegistry_TypeMismatchAdapter(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, RegisterCommandHandler[createAccountCommand](registry, CommandHandlerFunc[createAccountCommand](
		func(context.Context, createAccountCommand) error { return nil },
	)))

	handler, err := registry.ResolveCommandHandler("account.create")
	require.NoError(t, err)

	// A behavior could substitute a message of the wrong concrete type;
	// the adapter must reject it instead of panicking.
	_, err = handler.HandleMessage(context.Background(), closeAccountCommand{ID: "acc-1"})
	assert.ErrorIs(t, err, ErrMessageTypeMismatch)
}

func TestRegistry_HandlerErrorsPassThrough(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("balance would go negative")

	registry := NewRegistry()
	require.NoError(t, RegisterCommandHandler[createAccountCommand](registry, CommandHandlerFunc[createAccountCommand](
		func(context.Context, createAccountCommand) error { return wantErr },
	)))

	handler, err := registry.ResolveCommandHandler("account.create")
	require.NoError(t, err)

	_, err = handler.HandleMessage(context.Background(), createAccountCommand{Name: "checking"})
	assert.ErrorIs(t, err, wantErr)
}
