// Package diag provides structured diagnostics for the compiler.
//
// The core pipeline never writes to a terminal or file. Every stage
// reports through a Sink; the CLI decides how records are rendered.
// Records are append-only and preserve source order of detection, so
// a consumer can rely on stable output for identical inputs.
package diag
