// Package redis provides a Redis-backed relay lease built on the RedLock
// algorithm.
//
// A lease serializes relay cycles across replicas for stores that cannot
// claim entries atomically. Contention is not an error: a busy lease
// means another replica is relaying and this cycle should be skipped.
package redis
