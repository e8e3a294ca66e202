// Package va lexes and parses the Verilog-A analog subset consumed by
// the compiler: module headers, port and discipline declarations,
// branch declarations, parameters with range constraints, and the
// analog block with contribution statements.
//
// Input is assumed to be post-preprocessing: `include/`define/`ifdef
// have already been expanded by the external preprocessor. The parser
// builds an untyped AST; name binding and validation happen in the
// hir package.
package va
