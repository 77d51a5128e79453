// Package textutil provides small text helpers shared across the pipeline:
// filename and path-segment sanitization, placeholder speaker-label
// detection, and display-title derivation from audio filenames.
package textutil
