// Package mir defines the mid-level intermediate representation: a
// control-flow graph of basic blocks over an append-only arena of
// SSA values.
//
// This is the foundational layer: every downstream stage (lowering,
// differentiation, optimization, emission) operates on these types.
// Values reference other values only by index into the same arena,
// never by pointer, so the dependency DAG stays relocatable and
// cycle-free and can be read concurrently during optimization.
package mir
