// Package mediator is the in-process message dispatch runtime shared by the
// platform services. Application features are expressed as commands,
// queries, and notifications; the mediator routes each message to exactly
// the right handler(s), wraps execution with an ordered pipeline-behavior
// chain, and fans notifications out under a pluggable dispatch strategy.
//
// Commands and queries resolve to exactly one handler; resolving zero
// handlers fails with ErrHandlerNotFound and more than one with
// ErrAmbiguousHandler. Notifications may have zero handlers, which is a
// successful no-op.
//
// State changes that must also emit a domain event stage the event through
// the outbox subpackage within the same unit of work as the mutation; a
// background relay delivers staged events at least once.
package mediator
