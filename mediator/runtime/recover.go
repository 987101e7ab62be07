// Package runtime provides panic-safety helpers for background goroutines
// and long-running loops: structured panic recovery with stack capture and
// a SafeGo wrapper that applies a recovery policy to spawned goroutines.
package runtime

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/folioworks/lib-mediator/mediator/log"
)

// PanicPolicy controls what happens after a panic is recovered.
type PanicPolicy int

const (
	// KeepRunning logs the panic and lets the surrounding goroutine exit normally.
	KeepRunning PanicPolicy = iota
	// CrashProcess logs the panic and terminates the process. Reserve this for
	// invariant violations where continuing would corrupt state.
	CrashProcess
)

// RecoverAndLog recovers a panic in the deferring goroutine and logs it with
// the captured stack. It must be invoked via defer.
func RecoverAndLog(logger log.Logger, operation string) {
	if recovered := recover(); recovered != nil {
		logPanicWithStack(logger, operation, recovered, debug.Stack())
	}
}

// RecoverAndLogWithContext is RecoverAndLog with context propagation and a
// component label for telemetry correlation.
func RecoverAndLogWithContext(ctx context.Context, logger log.Logger, component, operation string) {
	if recovered := recover(); recovered != nil {
		logPanicValue(ctx, logger, recovered, component, operation, debug.Stack())
	}
}

// RecoverWithPolicy recovers a panic and applies the given policy.
func RecoverWithPolicy(logger log.Logger, operation string, policy PanicPolicy) {
	if recovered := recover(); recovered != nil {
		logPanicWithStack(logger, operation, recovered, debug.Stack())
		applyPolicy(policy)
	}
}

// RecoverWithPolicyAndContext recovers a panic, logs it with component and
// operation labels, and applies the given policy.
func RecoverWithPolicyAndContext(ctx context.Context, logger log.Logger, component, operation string, policy PanicPolicy) {
	if recovered := recover(); recovered != nil {
		logPanicValue(ctx, logger, recovered, component, operation, debug.Stack())
		applyPolicy(policy)
	}
}

// HandlePanicValue logs an already-recovered panic value. Use it when
// recovery happens in third-party middleware that hands the value over
// instead of re-panicking.
func HandlePanicValue(ctx context.Context, logger log.Logger, recovered any, component, operation string) {
	if recovered == nil {
		return
	}

	logPanicValue(ctx, logger, recovered, component, operation, debug.Stack())
}

// SafeGo runs fn in a new goroutine with panic recovery under the given policy.
func SafeGo(logger log.Logger, operation string, policy PanicPolicy, fn func()) {
	go func() {
		defer RecoverWithPolicy(logger, operation, policy)

		fn()
	}()
}

// SafeGoWithContext runs fn in a new goroutine, recovering panics with
// context-aware logging.
func SafeGoWithContext(ctx context.Context, logger log.Logger, operation string, policy PanicPolicy, fn func(ctx context.Context)) {
	SafeGoWithContextAndComponent(ctx, logger, "runtime", operation, policy, fn)
}

// SafeGoWithContextAndComponent runs fn in a new goroutine with panic
// recovery, labeling recovered panics with the given component.
func SafeGoWithContextAndComponent(
	ctx context.Context,
	logger log.Logger,
	component string,
	operation string,
	policy PanicPolicy,
	fn func(ctx context.Context),
) {
	go func() {
		defer RecoverWithPolicyAndContext(ctx, logger, component, operation, policy)

		fn(ctx)
	}()
}

func applyPolicy(policy PanicPolicy) {
	if policy == CrashProcess {
		os.Exit(2)
	}
}

func logPanicWithStack(logger log.Logger, operation string, recovered any, stack []byte) {
	if logger == nil {
		return
	}

	logger.Log(
		context.Background(),
		log.LevelError,
		"panic recovered",
		log.String("operation", operation),
		log.String("panic", fmt.Sprintf("%v", recovered)),
		log.String("stack", string(stack)),
	)
}

func logPanicValue(ctx context.Context, logger log.Logger, recovered any, component, operation string, stack []byte) {
	if logger == nil {
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}

	logger.Log(
		ctx,
		log.LevelError,
		"panic recovered",
		log.String("component", component),
		log.String("operation", operation),
		log.String("panic", fmt.Sprintf("%v", recovered)),
		log.String("stack", string(stack)),
	)
}
