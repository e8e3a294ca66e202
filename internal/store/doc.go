// Package store persists compilation artifacts in SQLite, keyed by
// content hash. The cache makes recompilation of unchanged sources a
// single indexed lookup, and the runs table records provenance for
// every pipeline invocation.
package store
