// Package hints turns the append-only correction ledger into per-job
// diarization hints.
//
// Correction signals are facts about one segment of one episode: a human
// flagged it, resolved a flag, approved a classification, or corrected the
// transcript. Rows are never updated or deleted; when several signals touch
// the same segment the assembler picks a winner by confidence source
// (text correction beats classification beats resolved flag beats unresolved
// flag) and recency. The winning anchors become the engine-facing hints file,
// written atomically into the job's staging directory.
package hints
