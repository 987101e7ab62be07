// Package postgres provides a PostgreSQL-backed outbox store and
// repository.
//
// The repository claims entries with FOR UPDATE SKIP LOCKED and flips them
// to PROCESSING inside the claiming transaction, so multiple relay replicas
// can poll the same table without ever selecting the same entry in one
// cycle. CreateWithTx writes entries inside the caller's transaction,
// giving producers the same-unit-of-work guarantee the outbox pattern is
// built on.
package postgres
