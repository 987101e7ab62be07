package mediator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrHandlerNotFound reports a command or query type with no registered
	// handler. This is a configuration error, never retried.
	ErrHandlerNotFound = errors.New("no handler registered for message type")
	// ErrAmbiguousHandler reports a command or query type with more than one
	// registered handler.
	ErrAmbiguousHandler = errors.New("multiple handlers registered for message type")
	// ErrMessageRequired is returned when a nil message is dispatched.
	ErrMessageRequired = errors.New("message is required")
	// ErrMessageNameRequired is returned when a message resolves to an empty name.
	ErrMessageNameRequired = errors.New("message name is required")
	// ErrMessageTypeInvalid is returned when a registration's message type
	// cannot yield a routing key from its zero value (pointer or interface
	// message types).
	ErrMessageTypeInvalid = errors.New("message type must be a value type with a value-receiver MessageName")
	// ErrHandlerRequired is returned when a nil handler is registered.
	ErrHandlerRequired = errors.New("handler is required")
	// ErrBehaviorRequired is returned when a nil pipeline behavior is registered.
	ErrBehaviorRequired = errors.New("pipeline behavior is required")
	// ErrRegistryRequired is returned when a dispatcher or publisher is built
	// without a registry.
	ErrRegistryRequired = errors.New("handler registry is required")
	// ErrMessageTypeMismatch is returned when a behavior replaced the message
	// with a value the resolved handler cannot accept.
	ErrMessageTypeMismatch = errors.New("message type does not match registered handler")
	// ErrResponseTypeMismatch is returned when a handler's response cannot be
	// converted to the caller's requested response type.
	ErrResponseTypeMismatch = errors.New("response type does not match requested type")
)

// HandlerExecutionError wraps whatever a handler or behavior raised during
// dispatch. The cause is reachable through errors.Is/As so business errors
// are never masked.
type HandlerExecutionError struct {
	MessageName string
	Err         error
}

// Error returns the formatted execution failure.
func (e *HandlerExecutionError) Error() string {
	if e == nil {
		return "handler execution failed"
	}

	return fmt.Sprintf("handler execution failed for %q: %v", e.MessageName, e.Err)
}

// Unwrap exposes the underlying handler error.
func (e *HandlerExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// HandlerFailure records one notification handler's failure during fan-out.
type HandlerFailure struct {
	Handler string
	Err     error
}

// AggregateError carries every individual handler failure from one publish
// call. All handlers run to completion before it is raised; the caller
// decides whether partial notification failure is fatal.
type AggregateError struct {
	MessageName string
	Failures    []HandlerFailure
}

// Error enumerates the failed handlers.
func (e *AggregateError) Error() string {
	if e == nil || len(e.Failures) == 0 {
		return "notification delivery failed"
	}

	parts := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", failure.Handler, failure.Err))
	}

	return fmt.Sprintf(
		"notification %q delivery failed for %d handler(s): %s",
		e.MessageName,
		len(e.Failures),
		strings.Join(parts, "; "),
	)
}

// Unwrap exposes the individual handler errors for errors.Is/As.
func (e *AggregateError) Unwrap() []error {
	if e == nil {
		return nil
	}

	errs := make([]error, 0, len(e.Failures))
	for _, failure := range e.Failures {
		errs = append(errs, failure.Err)
	}

	return errs
}
