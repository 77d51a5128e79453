// Package diarize wraps the external diarization engine.
//
// The engine is a separate process (Python, GPU-heavy) invoked per job. It
// reads an audio file plus an optional hints file, emits
// "DIARIZATION_PROGRESS <percent> <stage>" lines on stdout while it works,
// and writes an ordered JSON segment list to the requested output path. A
// second subcommand produces voice embeddings for short clips. The Engine
// interface keeps the orchestrator testable; ExecEngine is the production
// implementation.
//
// Failure classification happens here: missing or unreadable input is a
// validation error (retrying cannot help), engine exits, timeouts, and
// malformed output are external-tool or timeout errors the scheduler may
// retry. The package never decides retry policy itself.
package diarize
