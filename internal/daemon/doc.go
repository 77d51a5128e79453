// Package daemon coordinates the long-running rollcall process.
//
// It wires configuration, the shared database, the workflow manager, the
// intake watcher, and the retention janitor into a single lifecycle with
// flock-based locking to prevent multiple instances. On start the daemon
// requeues jobs interrupted by a previous crash before the workflow manager
// begins claiming work.
//
// Keep orchestration logic here: pipeline steps live in their own packages
// while the daemon focuses on startup, shutdown, and background maintenance.
package daemon
