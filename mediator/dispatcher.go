package mediator

import (
	"context"
	"fmt"
	"strings"

	"github.com/folioworks/lib-mediator/mediator/internal/nilcheck"
	"github.com/folioworks/lib-mediator/mediator/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Dispatcher executes commands and queries end-to-end: it resolves the
// exactly-one handler through the registry, folds the registered behavior
// chain around the handler invocation, and runs the chain to completion or
// propagates its first unrecovered error. The dispatcher itself is
// side-effect-free and holds no locks across dispatch calls.
//
// The behavior chain is composed once at construction; registering
// behaviors after NewDispatcher has no effect on an existing dispatcher.
type Dispatcher struct {
	registry *Registry
	pipeline pipeline
	logger   log.Logger
	tracer   trace.Tracer
}

// DispatcherOption mutates dispatcher construction.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the dispatcher logger.
func WithDispatcherLogger(logger log.Logger) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		if nilcheck.Interface(logger) {
			return
		}

		dispatcher.logger = logger
	}
}

// WithDispatcherTracer sets the dispatcher tracer.
func WithDispatcherTracer(tracer trace.Tracer) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		if nilcheck.Interface(tracer) {
			return
		}

		dispatcher.tracer = tracer
	}
}

// NewDispatcher creates a dispatcher over the given registry, composing
// the registry's behavior chain once.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) (*Dispatcher, error) {
	if registry == nil {
		return nil, ErrRegistryRequired
	}

	dispatcher := &Dispatcher{
		registry: registry,
		pipeline: composePipeline(registry.Behaviors()),
		logger:   log.NewNop(),
		tracer:   noop.NewTracerProvider().Tracer("mediator.noop"),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(dispatcher)
		}
	}

	return dispatcher, nil
}

// DispatchCommand executes a plain command. The command's handler produces
// no value; success or failure arrives only through the returned error.
func (dispatcher *Dispatcher) DispatchCommand(ctx context.Context, command Command) error {
	_, err := dispatcher.dispatch(ctx, command, "command", (*Registry).ResolveCommandHandler)

	return err
}

// DispatchQuery executes query and returns its typed response.
func DispatchQuery[R Response](ctx context.Context, dispatcher *Dispatcher, query Query) (R, error) {
	var zero R

	result, err := dispatcher.dispatch(ctx, query, "query", (*Registry).ResolveQueryHandler)
	if err != nil {
		return zero, err
	}

	return convertResponse[R](query, result)
}

// DispatchCommandWithResult executes command and returns its typed result.
func DispatchCommandWithResult[R Response](ctx context.Context, dispatcher *Dispatcher, command Command) (R, error) {
	var zero R

	result, err := dispatcher.dispatch(ctx, command, "command", (*Registry).ResolveCommandHandler)
	if err != nil {
		return zero, err
	}

	return convertResponse[R](command, result)
}

func (dispatcher *Dispatcher) dispatch(
	ctx context.Context,
	msg Message,
	kind string,
	resolve func(*Registry, string) (MessageHandler, error),
) (any, error) {
	if dispatcher == nil {
		return nil, ErrRegistryRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if nilcheck.Interface(msg) {
		return nil, ErrMessageRequired
	}

	messageName := strings.TrimSpace(msg.MessageName())
	if messageName == "" {
		return nil, ErrMessageNameRequired
	}

	ctx, span := dispatcher.tracer.Start(ctx, "mediator.dispatch_"+kind)
	defer span.End()

	span.SetAttributes(attribute.String("mediator.message", messageName))

	handler, err := resolve(dispatcher.registry, messageName)
	if err != nil {
		span.RecordError(err)

		return nil, err
	}

	result, err := dispatcher.pipeline(ctx, msg, handler.HandleMessage)
	if err != nil {
		span.RecordError(err)
		log.SafeError(dispatcher.logger, ctx, kind+" dispatch failed", err, false)

		return nil, &HandlerExecutionError{MessageName: messageName, Err: err}
	}

	return result, nil
}

func convertResponse[R Response](msg Message, result any) (R, error) {
	typed, ok := result.(R)
	if !ok {
		var zero R

		return zero, fmt.Errorf(
			"%w: %q produced %T, caller requested %T",
			ErrResponseTypeMismatch,
			msg.MessageName(),
			result,
			zero,
		)
	}

	return typed, nil
}
