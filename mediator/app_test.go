//go:build unit

package mediator

import (
	"errors"
	"testing"

	"github.com/folioworks/lib-mediator/mediator/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubApp is a minimal App implementation for testing.
type stubApp struct {
	err  error
	runs int
}

func (s *stubApp) Run(_ *Launcher) error {
	s.runs++

	return s.err
}

func TestNewLauncher(t *testing.T) {
	t.Parallel()

	l := NewLauncher()
	require.NotNil(t, l)
	assert.NotNil(t, l.apps)
}

func TestLauncher_Add(t *testing.T) {
	t.Parallel()

	t.Run("nil_receiver", func(t *testing.T) {
		t.Parallel()

		var l *Launcher
		err := l.Add("relay", &stubApp{})
		assert.ErrorIs(t, err, ErrNilLauncher)
	})

	t.Run("empty_name", func(t *testing.T) {
		t.Parallel()

		l := NewLauncher(WithLogger(log.NewNop()))
		err := l.Add("  ", &stubApp{})
		assert.ErrorIs(t, err, ErrEmptyApp)
	})

	t.Run("nil_app", func(t *testing.T) {
		t.Parallel()

		l := NewLauncher(WithLogger(log.NewNop()))
		err := l.Add("relay", nil)
		assert.ErrorIs(t, err, ErrNilApp)
	})

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		l := NewLauncher(WithLogger(log.NewNop()))
		require.NoError(t, l.Add("relay", &stubApp{}))
	})

	t.Run("zero_value_launcher_lazy_initializes", func(t *testing.T) {
		t.Parallel()

		var l Launcher
		require.NoError(t, l.Add("relay", &stubApp{}))
	})
}

func TestLauncher_RunWithError(t *testing.T) {
	t.Parallel()

	t.Run("nil_receiver", func(t *testing.T) {
		t.Parallel()

		var l *Launcher
		assert.ErrorIs(t, l.RunWithError(), ErrNilLauncher)
	})

	t.Run("missing_logger", func(t *testing.T) {
		t.Parallel()

		l := NewLauncher()
		assert.ErrorIs(t, l.RunWithError(), ErrLoggerNil)
	})

	t.Run("config_errors_surface", func(t *testing.T) {
		t.Parallel()

		l := NewLauncher(WithLogger(log.NewNop()), RunApp("", &stubApp{}))
		err := l.RunWithError()
		require.ErrorIs(t, err, ErrConfigFailed)
		assert.ErrorIs(t, err, ErrEmptyApp)
	})

	t.Run("runs_every_app_once", func(t *testing.T) {
		t.Parallel()

		relay := &stubApp{}
		janitor := &stubApp{}

		l := NewLauncher(
			WithLogger(log.NewNop()),
			RunApp("relay", relay),
			RunApp("janitor", janitor),
		)
		require.NoError(t, l.RunWithError())

		assert.Equal(t, 1, relay.runs)
		assert.Equal(t, 1, janitor.runs)
	})

	t.Run("app_error_does_not_fail_launcher", func(t *testing.T) {
		t.Parallel()

		failing := &stubApp{err: errors.New("relay stopped unexpectedly")}
		healthy := &stubApp{}

		l := NewLauncher(
			WithLogger(log.NewNop()),
			RunApp("failing", failing),
			RunApp("healthy", healthy),
		)
		require.NoError(t, l.RunWithError())

		assert.Equal(t, 1, failing.runs)
		assert.Equal(t, 1, healthy.runs)
	})
}
