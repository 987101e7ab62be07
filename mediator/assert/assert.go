// Package assert evaluates runtime invariants, logging violations with
// component/operation labels before returning them as errors. It is used at
// trust boundaries (constructors, registration, persistence writes) where a
// broken invariant is a programming error rather than a business failure.
package assert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/folioworks/lib-mediator/mediator/internal/nilcheck"
	"github.com/folioworks/lib-mediator/mediator/log"
)

// Logger is the minimal logging interface required by assertions.
// It is satisfied by log.Logger.
type Logger interface {
	Log(ctx context.Context, level log.Level, msg string, fields ...log.Field)
}

// ErrAssertionFailed is the sentinel error for failed assertions.
var ErrAssertionFailed = errors.New("assertion failed")

// AssertionError represents a failed assertion with labeling context.
type AssertionError struct {
	Assertion string
	Message   string
	Component string
	Operation string
}

// Error returns the formatted assertion failure message.
func (entry *AssertionError) Error() string {
	if entry == nil {
		return ErrAssertionFailed.Error()
	}

	return "assertion failed: " + entry.Message
}

// Unwrap returns the sentinel assertion error for errors.Is.
func (entry *AssertionError) Unwrap() error {
	return ErrAssertionFailed
}

// Asserter evaluates invariants and logs failures.
type Asserter struct {
	logger    Logger
	component string
	operation string
}

// New creates an Asserter labeled with component and operation.
//
//nolint:contextcheck // ctx kept in the signature for parity with call sites that thread it
func New(_ context.Context, logger Logger, component, operation string) *Asserter {
	return &Asserter{
		logger:    logger,
		component: component,
		operation: operation,
	}
}

// That returns an error if ok is false.
func (asserter *Asserter) That(ctx context.Context, ok bool, msg string, kv ...any) error {
	if ok {
		return nil
	}

	return asserter.fail(ctx, "That", msg, kv...)
}

// NotNil returns an error if v is nil, handling typed-nil interface values.
func (asserter *Asserter) NotNil(ctx context.Context, v any, msg string, kv ...any) error {
	if !nilcheck.Interface(v) {
		return nil
	}

	return asserter.fail(ctx, "NotNil", msg, kv...)
}

// NotEmpty returns an error if s is empty or whitespace-only.
func (asserter *Asserter) NotEmpty(ctx context.Context, s, msg string, kv ...any) error {
	if strings.TrimSpace(s) != "" {
		return nil
	}

	return asserter.fail(ctx, "NotEmpty", msg, kv...)
}

// Never records an unconditional invariant violation. Use it on code paths
// that must be unreachable.
func (asserter *Asserter) Never(ctx context.Context, msg string, kv ...any) error {
	return asserter.fail(ctx, "Never", msg, kv...)
}

func (asserter *Asserter) fail(ctx context.Context, assertion, msg string, kv ...any) error {
	if asserter == nil {
		return &AssertionError{Assertion: assertion, Message: msg}
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if asserter.logger != nil {
		fields := []log.Field{
			log.String("assertion", assertion),
			log.String("component", asserter.component),
			log.String("operation", asserter.operation),
		}

		for i := 0; i+1 < len(kv); i += 2 {
			key := fmt.Sprintf("%v", kv[i])
			fields = append(fields, log.Any(key, kv[i+1]))
		}

		asserter.logger.Log(ctx, log.LevelError, "assertion failed: "+msg, fields...)
	}

	return &AssertionError{
		Assertion: assertion,
		Message:   msg,
		Component: asserter.component,
		Operation: asserter.operation,
	}
}
