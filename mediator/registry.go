package mediator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/folioworks/lib-mediator/mediator/internal/nilcheck"
)

// Registry maps message names to the handler instances responsible for
// them. Registration happens explicitly at composition time through the
// generic Register* helpers, which derive the routing key from the message
// type's zero value; resolution is a pure lookup with no side effects.
//
// A DependencyProvider may be attached as a fallback source of handler
// instances for message names with no explicit registration.
type Registry struct {
	mu            sync.RWMutex
	commands      map[string][]registration
	queries       map[string][]registration
	notifications map[string][]notificationRegistration
	behaviors     []PipelineBehavior
	provider      DependencyProvider
}

type registration struct {
	handlerName string
	handler     MessageHandler
}

type notificationRegistration struct {
	handlerName string
	handler     NotificationMessageHandler
}

// RegisteredNotificationHandler is one resolved notification handler with
// its diagnostic name.
type RegisteredNotificationHandler struct {
	Name    string
	Handler NotificationMessageHandler
}

// RegistryOption mutates registry construction.
type RegistryOption func(*Registry)

// WithDependencyProvider attaches a fallback handler source consulted for
// message names that have no explicit registration.
func WithDependencyProvider(provider DependencyProvider) RegistryOption {
	return func(registry *Registry) {
		if nilcheck.Interface(provider) {
			return
		}

		registry.provider = provider
	}
}

// NewRegistry creates an empty handler registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	registry := &Registry{
		commands:      make(map[string][]registration),
		queries:       make(map[string][]registration),
		notifications: make(map[string][]notificationRegistration),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}

	return registry
}

// messageKey derives the routing key from a message type's zero value.
// Pointer and interface message types have no usable zero value and are
// rejected, keeping key derivation reflection-free.
func messageKey[M Message]() (string, error) {
	var zero M

	if any(zero) == nil {
		return "", fmt.Errorf("%w: %T", ErrMessageTypeInvalid, zero)
	}

	name := strings.TrimSpace(zero.MessageName())
	if name == "" {
		return "", fmt.Errorf("%w: %T", ErrMessageNameRequired, zero)
	}

	return name, nil
}

// RegisterCommandHandler registers handler for command type C. Registering
// a second handler for the same command type is recorded and surfaces as
// ErrAmbiguousHandler at resolution.
func RegisterCommandHandler[C Command](registry *Registry, handler CommandHandler[C]) error {
	if registry == nil {
		return ErrRegistryRequired
	}

	if nilcheck.Interface(handler) {
		return ErrHandlerRequired
	}

	key, err := messageKey[C]()
	if err != nil {
		return err
	}

	adapter := messageHandlerFunc(func(ctx context.Context, msg Message) (any, error) {
		command, ok := msg.(C)
		if !ok {
			return nil, fmt.Errorf("%w: %q expects %T, got %T", ErrMessageTypeMismatch, key, command, msg)
		}

		return nil, handler.Handle(ctx, command)
	})

	registry.addCommand(key, registration{handlerName: fmt.Sprintf("%T", handler), handler: adapter})

	return nil
}

// RegisterCommandWithResultHandler registers handler for command type C
// producing result type R.
func RegisterCommandWithResultHandler[C Command, R Response](
	registry *Registry,
	handler CommandWithResultHandler[C, R],
) error {
	if registry == nil {
		return ErrRegistryRequired
	}

	if nilcheck.Interface(handler) {
		return ErrHandlerRequired
	}

	key, err := messageKey[C]()
	if err != nil {
		return err
	}

	adapter := messageHandlerFunc(func(ctx context.Context, msg Message) (any, error) {
		command, ok := msg.(C)
		if !ok {
			return nil, fmt.Errorf("%w: %q expects %T, got %T", ErrMessageTypeMismatch, key, command, msg)
		}

		return handler.Handle(ctx, command)
	})

	registry.addCommand(key, registration{handlerName: fmt.Sprintf("%T", handler), handler: adapter})

	return nil
}

// RegisterQueryHandler registers handler for query type Q producing
// response type R.
func RegisterQueryHandler[Q Query, R Response](registry *Registry, handler QueryHandler[Q, R]) error {
	if registry == nil {
		return ErrRegistryRequired
	}

	if nilcheck.Interface(handler) {
		return ErrHandlerRequired
	}

	key, err := messageKey[Q]()
	if err != nil {
		return err
	}

	adapter := messageHandlerFunc(func(ctx context.Context, msg Message) (any, error) {
		query, ok := msg.(Q)
		if !ok {
			return nil, fmt.Errorf("%w: %q expects %T, got %T", ErrMessageTypeMismatch, key, query, msg)
		}

		return handler.Handle(ctx, query)
	})

	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.queries[key] = append(registry.queries[key], registration{
		handlerName: fmt.Sprintf("%T", handler),
		handler:     adapter,
	})

	return nil
}

// RegisterNotificationHandler registers handler for notification type N.
// Any number of handlers may share one notification type; fan-out order is
// registration order.
func RegisterNotificationHandler[N Notification](registry *Registry, handler NotificationHandler[N]) error {
	if registry == nil {
		return ErrRegistryRequired
	}

	if nilcheck.Interface(handler) {
		return ErrHandlerRequired
	}

	key, err := messageKey[N]()
	if err != nil {
		return err
	}

	adapter := notificationHandlerFunc(func(ctx context.Context, msg Message) error {
		notification, ok := msg.(N)
		if !ok {
			return fmt.Errorf("%w: %q expects %T, got %T", ErrMessageTypeMismatch, key, notification, msg)
		}

		return handler.Handle(ctx, notification)
	})

	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.notifications[key] = append(registry.notifications[key], notificationRegistration{
		handlerName: fmt.Sprintf("%T", handler),
		handler:     adapter,
	})

	return nil
}

// RegisterBehavior appends a pipeline behavior to the chain. Behaviors are
// composition-time only; the chain order is registration order with the
// last-registered behavior outermost at dispatch.
func (registry *Registry) RegisterBehavior(behavior PipelineBehavior) error {
	if registry == nil {
		return ErrRegistryRequired
	}

	if nilcheck.Interface(behavior) {
		return ErrBehaviorRequired
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.behaviors = append(registry.behaviors, behavior)

	return nil
}

// Behaviors returns the registered behavior chain in registration order.
func (registry *Registry) Behaviors() []PipelineBehavior {
	if registry == nil {
		return nil
	}

	registry.mu.RLock()
	defer registry.mu.RUnlock()

	return append([]PipelineBehavior(nil), registry.behaviors...)
}

// ResolveCommandHandler finds the exactly-one handler for a command name.
func (registry *Registry) ResolveCommandHandler(messageName string) (MessageHandler, error) {
	return registry.resolveSingle(messageName, func() []registration {
		return registry.commands[messageName]
	})
}

// ResolveQueryHandler finds the exactly-one handler for a query name.
func (registry *Registry) ResolveQueryHandler(messageName string) (MessageHandler, error) {
	return registry.resolveSingle(messageName, func() []registration {
		return registry.queries[messageName]
	})
}

// ResolveNotificationHandlers returns the ordered handler set for a
// notification name. Zero handlers is valid and yields an empty slice.
func (registry *Registry) ResolveNotificationHandlers(messageName string) ([]RegisteredNotificationHandler, error) {
	if registry == nil {
		return nil, ErrRegistryRequired
	}

	messageName = strings.TrimSpace(messageName)
	if messageName == "" {
		return nil, ErrMessageNameRequired
	}

	registry.mu.RLock()
	registrations := append([]notificationRegistration(nil), registry.notifications[messageName]...)
	provider := registry.provider
	registry.mu.RUnlock()

	if len(registrations) == 0 && provider != nil {
		return resolveProviderNotificationHandlers(provider, messageName)
	}

	resolved := make([]RegisteredNotificationHandler, 0, len(registrations))
	for _, entry := range registrations {
		resolved = append(resolved, RegisteredNotificationHandler{Name: entry.handlerName, Handler: entry.handler})
	}

	return resolved, nil
}

func (registry *Registry) resolveSingle(messageName string, lookup func() []registration) (MessageHandler, error) {
	if registry == nil {
		return nil, ErrRegistryRequired
	}

	messageName = strings.TrimSpace(messageName)
	if messageName == "" {
		return nil, ErrMessageNameRequired
	}

	registry.mu.RLock()
	registrations := lookup()
	provider := registry.provider
	registry.mu.RUnlock()

	switch len(registrations) {
	case 0:
		if provider != nil {
			return resolveProviderHandler(provider, messageName)
		}

		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, messageName)
	case 1:
		return registrations[0].handler, nil
	default:
		names := make([]string, 0, len(registrations))
		for _, entry := range registrations {
			names = append(names, entry.handlerName)
		}

		return nil, fmt.Errorf("%w: %s (%s)", ErrAmbiguousHandler, messageName, strings.Join(names, ", "))
	}
}

func (registry *Registry) addCommand(key string, entry registration) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.commands[key] = append(registry.commands[key], entry)
}

func resolveProviderHandler(provider DependencyProvider, messageName string) (MessageHandler, error) {
	instance, err := provider.SingleInstanceOf(messageName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrHandlerNotFound, messageName, err)
	}

	handler, ok := instance.(MessageHandler)
	if !ok {
		return nil, fmt.Errorf("%w: provider instance for %s is %T, not a MessageHandler", ErrHandlerRequired, messageName, instance)
	}

	return handler, nil
}

func resolveProviderNotificationHandlers(
	provider DependencyProvider,
	messageName string,
) ([]RegisteredNotificationHandler, error) {
	instances, err := provider.SubTypesOf(messageName)
	if err != nil {
		return nil, fmt.Errorf("resolving notification handlers for %s: %w", messageName, err)
	}

	resolved := make([]RegisteredNotificationHandler, 0, len(instances))

	for _, instance := range instances {
		handler, ok := instance.(NotificationMessageHandler)
		if !ok {
			return nil, fmt.Errorf(
				"%w: provider instance for %s is %T, not a NotificationMessageHandler",
				ErrHandlerRequired,
				messageName,
				instance,
			)
		}

		resolved = append(resolved, RegisteredNotificationHandler{
			Name:    fmt.Sprintf("%T", instance),
			Handler: handler,
		})
	}

	return resolved, nil
}

// messageHandlerFunc adapts a function to MessageHandler.
type messageHandlerFunc func(ctx context.Context, msg Message) (any, error)

func (fn messageHandlerFunc) HandleMessage(ctx context.Context, msg Message) (any, error) {
	return fn(ctx, msg)
}

// notificationHandlerFunc adapts a function to NotificationMessageHandler.
type notificationHandlerFunc func(ctx context.Context, msg Message) error

func (fn notificationHandlerFunc) HandleNotification(ctx context.Context, msg Message) error {
	return fn(ctx, msg)
}
