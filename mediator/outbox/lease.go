package outbox

import "context"

// Lease is a cross-replica mutual exclusion handle taken around one relay
// cycle. Repositories that claim entries atomically (SKIP LOCKED,
// findAndModify) do not need one; stores without row-level claiming use a
// lease so only one replica relays at a time.
type Lease interface {
	// Acquire attempts to take the lease. A false return with nil error
	// means another replica holds it; the cycle is skipped, not failed.
	Acquire(ctx context.Context) (bool, error)
	// Release returns the lease. Safe to call after a failed Acquire.
	Release(ctx context.Context) error
}
