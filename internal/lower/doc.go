// Package lower converts resolved HIR into the MIR control-flow graph:
// structured statements become basic blocks, variable mutation becomes
// SSA values with phi merges at joins, and contribution statements
// become contribute instructions split into their resistive, reactive
// (ddt), and noise parts.
package lower
