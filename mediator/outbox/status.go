package outbox

import "fmt"

// Raw status values as persisted in storage.
const (
	StatusValuePending    = "PENDING"
	StatusValueProcessing = "PROCESSING"
	StatusValueProcessed  = "PROCESSED"
	StatusValueFailed     = "FAILED"
	StatusValueInvalid    = "INVALID"
)

// Status represents a valid outbox entry lifecycle state.
//
// PENDING entries await their first delivery attempt. PROCESSING marks an
// entry claimed by a relay replica. PROCESSED is terminal success; FAILED
// is retryable failure; INVALID is terminal rejection for entries that can
// never deliver.
type Status string

const (
	StatusPending    Status = StatusValuePending
	StatusProcessing Status = StatusValueProcessing
	StatusProcessed  Status = StatusValueProcessed
	StatusFailed     Status = StatusValueFailed
	StatusInvalid    Status = StatusValueInvalid
)

// ParseStatus validates and converts a raw string status.
func ParseStatus(raw string) (Status, error) {
	status := Status(raw)

	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrStatusInvalid, raw)
	}

	return status, nil
}

// IsValid reports whether the status is part of the outbox lifecycle.
func (status Status) IsValid() bool {
	switch status {
	case StatusPending, StatusProcessing, StatusProcessed, StatusFailed, StatusInvalid:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (status Status) IsTerminal() bool {
	return status == StatusProcessed || status == StatusInvalid
}

// CanTransitionTo reports whether a transition from status to next is allowed.
func (status Status) CanTransitionTo(next Status) bool {
	switch status {
	case StatusPending:
		return next == StatusProcessing
	case StatusFailed:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusProcessing || next == StatusProcessed || next == StatusFailed || next == StatusInvalid
	case StatusProcessed, StatusInvalid:
		return false
	default:
		return false
	}
}

// ValidateTransition validates a status transition using typed lifecycle rules.
func ValidateTransition(fromRaw, toRaw string) error {
	from, err := ParseStatus(fromRaw)
	if err != nil {
		return fmt.Errorf("from status: %w", err)
	}

	to, err := ParseStatus(toRaw)
	if err != nil {
		return fmt.Errorf("to status: %w", err)
	}

	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionInvalid, from, to)
	}

	return nil
}

func (status Status) String() string {
	return string(status)
}
