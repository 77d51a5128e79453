// Command rollcall is the operator CLI for the speaker-identification
// pipeline: queue inspection and maintenance, episode enqueue and reprocess,
// speaker library management, and review actions on the correction ledger.
//
// The CLI talks to the shared SQLite database directly; daemon liveness is
// probed through the rollcalld lock file rather than an IPC channel.
package main
