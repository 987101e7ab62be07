// Package outbox implements the transactional outbox pattern: domain
// events are stored in the same transaction as the state change that
// produced them, and a background relay later delivers them to their
// destination with at-least-once semantics.
package outbox
