package mediator

import "context"

// CommandHandler handles one command type and produces no value.
type CommandHandler[C Command] interface {
	Handle(ctx context.Context, command C) error
}

// CommandWithResultHandler handles one command type and produces a typed result.
type CommandWithResultHandler[C Command, R Response] interface {
	Handle(ctx context.Context, command C) (R, error)
}

// QueryHandler handles one query type and produces its typed response.
type QueryHandler[Q Query, R Response] interface {
	Handle(ctx context.Context, query Q) (R, error)
}

// NotificationHandler reacts to one notification type.
type NotificationHandler[N Notification] interface {
	Handle(ctx context.Context, notification N) error
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc[C Command] func(ctx context.Context, command C) error

// Handle invokes the function.
func (fn CommandHandlerFunc[C]) Handle(ctx context.Context, command C) error {
	return fn(ctx, command)
}

// CommandWithResultHandlerFunc adapts a function to CommandWithResultHandler.
type CommandWithResultHandlerFunc[C Command, R Response] func(ctx context.Context, command C) (R, error)

// Handle invokes the function.
func (fn CommandWithResultHandlerFunc[C, R]) Handle(ctx context.Context, command C) (R, error) {
	return fn(ctx, command)
}

// QueryHandlerFunc adapts a function to QueryHandler.
type QueryHandlerFunc[Q Query, R Response] func(ctx context.Context, query Q) (R, error)

// Handle invokes the function.
func (fn QueryHandlerFunc[Q, R]) Handle(ctx context.Context, query Q) (R, error) {
	return fn(ctx, query)
}

// NotificationHandlerFunc adapts a function to NotificationHandler.
type NotificationHandlerFunc[N Notification] func(ctx context.Context, notification N) error

// Handle invokes the function.
func (fn NotificationHandlerFunc[N]) Handle(ctx context.Context, notification N) error {
	return fn(ctx, notification)
}

// MessageHandler is the untyped execution shape the registry stores for
// commands and queries, and the shape it accepts from a DependencyProvider.
// The generic Register* helpers produce it; external DI containers may
// supply implementations directly.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg Message) (any, error)
}

// NotificationMessageHandler is the untyped execution shape for
// notification handlers.
type NotificationMessageHandler interface {
	HandleNotification(ctx context.Context, msg Message) error
}

// DependencyProvider supplies handler instances from an external container.
// The registry consults it only when a message type has no explicit
// registration, keyed by the message name. Any DI container or manual
// lookup table satisfies it.
type DependencyProvider interface {
	// SingleInstanceOf returns the single handler registered under key, or
	// an error when none or more than one exists.
	SingleInstanceOf(key string) (any, error)
	// SubTypesOf returns every handler registered under key, in a stable
	// order. An empty slice is valid.
	SubTypesOf(key string) ([]any, error)
}
