//go:build unit

package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/folioworks/lib-mediator/mediator/log"
	"github.com/stretchr/testify/require"
)

var errTestPanic = errors.New("test error")

type testLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *testLogger) Log(_ context.Context, _ log.Level, msg string, _ ...log.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, msg)
}

func (l *testLogger) With(_ ...log.Field) log.Logger { return l }
func (l *testLogger) WithGroup(_ string) log.Logger  { return l }
func (l *testLogger) Enabled(_ log.Level) bool       { return true }
func (l *testLogger) Sync(_ context.Context) error   { return nil }

func (l *testLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}

func TestRecoverAndLog_NilLogger(t *testing.T) {
	t.Parallel()

	require.NotPanics(t, func() {
		defer RecoverAndLog(nil, "nil-logger")

		panic("boom")
	})
}

func TestRecoverAndLogWithContext_CapturesPanic(t *testing.T) {
	t.Parallel()

	logger := &testLogger{}

	require.NotPanics(t, func() {
		defer RecoverAndLogWithContext(context.Background(), logger, "outbox", "relay_tick")

		panic(errTestPanic)
	})
	require.Equal(t, 1, logger.count())
}

func TestRecoverAndLog_NoPanicLogsNothing(t *testing.T) {
	t.Parallel()

	logger := &testLogger{}

	func() {
		defer RecoverAndLog(logger, "quiet")
	}()

	require.Zero(t, logger.count())
}

func TestHandlePanicValue(t *testing.T) {
	t.Parallel()

	logger := &testLogger{}

	HandlePanicValue(context.Background(), logger, "panic value", "publisher", "fan_out")
	require.Equal(t, 1, logger.count())

	HandlePanicValue(context.Background(), logger, nil, "publisher", "fan_out")
	require.Equal(t, 1, logger.count())

	require.NotPanics(t, func() {
		HandlePanicValue(context.Background(), nil, "panic value", "publisher", "fan_out")
	})
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	t.Parallel()

	logger := &testLogger{}
	done := make(chan struct{})

	SafeGo(logger, "worker", KeepRunning, func() {
		defer close(done)

		panic("worker blew up")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not finish")
	}

	require.Eventually(t, func() bool { return logger.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSafeGoWithContext_RunsFn(t *testing.T) {
	t.Parallel()

	result := make(chan context.Context, 1)
	ctx := context.Background()

	SafeGoWithContext(ctx, nil, "worker", KeepRunning, func(inner context.Context) {
		result <- inner
	})

	select {
	case got := <-result:
		require.Equal(t, ctx, got)
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not run")
	}
}
