// Package notifications delivers workflow events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when no topic is set. The
// Service methods cover the milestones a library curator cares about: runs
// that left clusters for review, terminal failures, and queue drain
// summaries.
//
// Extend this package if you need alternative transports; workflow code
// depends only on the Service interface.
package notifications
