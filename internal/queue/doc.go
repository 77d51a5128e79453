// Package queue persists diarization jobs in SQLite and exposes the
// scheduler that drives their lifecycle.
//
// The Store wraps the shared database with enqueue/claim/complete/fail
// transitions, priority scheduling with anti-starvation aging, retry backoff
// gates, heartbeat tracking, stuck-job recovery, and retention cleanup. At
// most one job per episode may be pending or processing at a time; enqueues
// that would break this return a DuplicateActiveJobError.
//
// Treat this package as the single source of truth for job semantics; when
// you add new statuses or fields, update schema.sql in internal/storage and
// bump its schema version.
package queue
