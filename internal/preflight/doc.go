// Package preflight provides readiness checks for the external tools and
// filesystem paths rollcall depends on.
//
// The CLI "rollcall status" command uses these to display service health:
// directory access for every configured path, the diarization engine and
// ffmpeg binaries, and classifier API reachability when enabled. Each check
// is gated by its config toggle -- disabled features are skipped.
package preflight
