// Package workflow drives queued diarization jobs through the pipeline
// stage handler.
//
// The Manager polls the queue, reclaims stale work via heartbeats, claims the
// best eligible job, and runs it through the registered handler while a
// heartbeat goroutine keeps the claim fresh. Failures route through the
// scheduler's single retry-vs-terminal decision point; queue-level
// notifications fire when processing starts and when the queue drains. The
// manager also aggregates queue stats and the handler's health check for
// status surfaces.
package workflow
