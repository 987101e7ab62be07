//go:build unit

package log

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    Level
		wantErr bool
	}{
		{raw: "debug", want: LevelDebug},
		{raw: "INFO", want: LevelInfo},
		{raw: "warn", want: LevelWarn},
		{raw: "warning", want: LevelWarn},
		{raw: " error ", want: LevelError},
		{raw: "fatal", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		level, err := ParseLevel(tt.raw)
		if tt.wantErr {
			require.Error(t, err)
			continue
		}

		require.NoError(t, err)
		require.Equal(t, tt.want, level)
	}
}

func TestLevelString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "debug", LevelDebug.String())
	require.Equal(t, "info", LevelInfo.String())
	require.Equal(t, "warn", LevelWarn.String())
	require.Equal(t, "error", LevelError.String())
	require.Equal(t, "unknown", Level(42).String())
}

func TestFieldConstructors(t *testing.T) {
	t.Parallel()

	err := errors.New("boom")

	require.Equal(t, Field{Key: "k", Value: "v"}, String("k", "v"))
	require.Equal(t, Field{Key: "n", Value: 7}, Int("n", 7))
	require.Equal(t, Field{Key: "ok", Value: true}, Bool("ok", true))
	require.Equal(t, Field{Key: "error", Value: err}, Err(err))
	require.Equal(t, Field{Key: "any", Value: 1.5}, Any("any", 1.5))
}

type captureLogger struct {
	NopLogger
	entries []string
}

func (l *captureLogger) Log(_ context.Context, _ Level, msg string, _ ...Field) {
	l.entries = append(l.entries, msg)
}

func (l *captureLogger) Enabled(_ Level) bool { return true }

func TestSafeError(t *testing.T) {
	t.Parallel()

	logger := &captureLogger{}

	SafeError(nil, context.Background(), "ignored", errors.New("x"), false)
	SafeError(logger, context.Background(), "ignored", nil, false)
	require.Empty(t, logger.entries)

	SafeError(logger, context.Background(), "persist failed", errors.New("x"), true)
	require.Equal(t, []string{"persist failed"}, logger.entries)
}

func TestNopLogger(t *testing.T) {
	t.Parallel()

	logger := NewNop()
	require.False(t, logger.Enabled(LevelError))
	require.NoError(t, logger.Sync(context.Background()))
	require.Same(t, logger, logger.With(String("k", "v")))
	require.Same(t, logger, logger.WithGroup("grp"))
}
