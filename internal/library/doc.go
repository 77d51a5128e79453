// Package library persists the voice library: raw embedding samples and the
// decay-weighted centroids derived from them, keyed by speaker and embedding
// backend.
//
// Samples are append-only facts; centroids are derived rows rebuilt wholesale
// by RecomputeCentroid and never edited in place. Rebuilds weight each sample
// by quality and recency (exponential decay with a configurable half-life,
// measured against the newest contributing sample so repeated rebuilds are
// bit-identical) and serialize per (speaker, backend) through a keyed mutex.
// Every vector is checked against the backend's registered feature dimension
// on the way in; a mismatch rejects the write without touching existing rows.
package library
