// Package mongo provides a MongoDB-backed outbox store and repository.
//
// Claiming uses FindOneAndUpdate, which is atomic per document, so
// concurrent relay replicas never claim the same entry. Producers that
// need same-transaction staging run Create inside a session context;
// the collection operations then join the caller's multi-document
// transaction.
package mongo
