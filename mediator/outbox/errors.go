package outbox

import "errors"

var (
	ErrEntryRequired            = errors.New("outbox entry is required")
	ErrRepositoryRequired       = errors.New("outbox repository is required")
	ErrTargetRequired           = errors.New("outbox delivery target is required")
	ErrRelayRequired            = errors.New("outbox relay is required")
	ErrRelayRunning             = errors.New("outbox relay is already running")
	ErrPayloadRequired          = errors.New("outbox entry payload is required")
	ErrPayloadTooLarge          = errors.New("outbox entry payload exceeds maximum allowed size")
	ErrPayloadNotJSON           = errors.New("outbox entry payload must be valid JSON")
	ErrEntryNotFound            = errors.New("outbox entry not found")
	ErrStatusInvalid            = errors.New("invalid outbox status")
	ErrTransitionInvalid        = errors.New("invalid outbox status transition")
	ErrEventTypeRequired        = errors.New("event type is required")
	ErrAggregateIDRequired      = errors.New("aggregate id is required")
	ErrDecoderNotRegistered     = errors.New("no payload decoder registered for event type")
	ErrDecoderAlreadyRegistered = errors.New("payload decoder already registered for event type")
)

// PersistenceError wraps a storage failure during a save or mark
// operation. The driver error stays reachable through errors.Is/As.
type PersistenceError struct {
	Op  string
	Err error
}

// Error returns the formatted persistence failure.
func (e *PersistenceError) Error() string {
	if e == nil {
		return "outbox persistence failed"
	}

	return "outbox persistence failed during " + e.Op + ": " + e.Err.Error()
}

// Unwrap exposes the driver error.
func (e *PersistenceError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// NewPersistenceError wraps a storage failure for the given operation.
// A nil err returns nil.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}

	return &PersistenceError{Op: op, Err: err}
}
