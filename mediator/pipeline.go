package mediator

import "context"

// Next continues the pipeline toward the handler. A behavior may pass the
// original message through, substitute a compatible replacement, or skip
// the call entirely to short-circuit execution.
type Next func(ctx context.Context, msg Message) (any, error)

// PipelineBehavior wraps handler execution with code that runs before and
// after the rest of the chain. Behaviors compose in registration order:
// the first-registered behavior runs closest to the handler, and the
// last-registered behavior wraps everything else, so cross-cutting
// concerns like logging wrap authorization, which wraps the handler.
type PipelineBehavior interface {
	Handle(ctx context.Context, msg Message, next Next) (any, error)
}

// PipelineBehaviorFunc adapts a function to PipelineBehavior.
type PipelineBehaviorFunc func(ctx context.Context, msg Message, next Next) (any, error)

// Handle invokes the function.
func (fn PipelineBehaviorFunc) Handle(ctx context.Context, msg Message, next Next) (any, error) {
	return fn(ctx, msg, next)
}

// pipeline is the behavior chain composed once at dispatcher construction.
// The terminal handler invocation is supplied per dispatch.
type pipeline func(ctx context.Context, msg Message, terminal Next) (any, error)

// composePipeline folds behaviors innermost-first around a parameterized
// terminal so that behaviors[len-1] is outermost.
func composePipeline(behaviors []PipelineBehavior) pipeline {
	if len(behaviors) == 0 {
		return func(ctx context.Context, msg Message, terminal Next) (any, error) {
			return terminal(ctx, msg)
		}
	}

	inner := composePipeline(behaviors[:len(behaviors)-1])
	outer := behaviors[len(behaviors)-1]

	return func(ctx context.Context, msg Message, terminal Next) (any, error) {
		return outer.Handle(ctx, msg, func(nextCtx context.Context, nextMsg Message) (any, error) {
			return inner(nextCtx, nextMsg, terminal)
		})
	}
}
