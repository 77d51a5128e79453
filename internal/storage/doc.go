// Package storage owns the shared SQLite database backing the job queue, the
// correction ledger, and the voice library.
//
// Open applies pragmas (WAL, foreign keys, busy timeout), creates or verifies
// the embedded schema, and hands out the connection to the queue and library
// sub-stores. The package also carries the busy-retry execution helpers and the
// nullable/time scan helpers those stores share, plus a CheckHealth diagnostic
// for the status surface.
//
// The database is the single durable source of truth; schema changes bump the
// version in schema.go and users clear the database to adopt the new schema.
package storage
