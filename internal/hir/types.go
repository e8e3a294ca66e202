// Package hir holds the resolved, typed form of a module: every
// identifier bound to exactly one declaration, every node, branch,
// parameter, and variable assigned a stable small index. Downstream
// stages index arrays; they never look names up again.
package hir

import (
	"github.com/vamodel/valc/internal/diag"
	"github.com/vamodel/valc/internal/mir"
	"github.com/vamodel/valc/internal/va"
)

// VarID indexes a variable in the module's variable table.
type VarID int32

// Var is one analog-block variable.
type Var struct {
	Name string
	Ty   mir.Type
}

// Module is a resolved compilation unit. It owns its node, branch,
// parameter, and variable tables; nothing in it outlives the module.
type Module struct {
	Name     string
	Nodes    []mir.Node
	Branches []mir.Branch
	Params   []mir.Param
	Vars     []Var
	Analog   Stmt // nil when the module has no analog block
	Span     diag.Span
}

// ensureBranch deduplicates branches by ordered endpoint pair.
func (m *Module) ensureBranch(name string, hi, lo mir.NodeID) mir.BranchID {
	for i, br := range m.Branches {
		if br.Hi == hi && br.Lo == lo {
			if br.Name == "" && name != "" {
				m.Branches[i].Name = name
			}
			return mir.BranchID(i)
		}
	}
	m.Branches = append(m.Branches, mir.Branch{Name: name, Hi: hi, Lo: lo})
	return mir.BranchID(len(m.Branches) - 1)
}

// Stmt is a sealed interface over resolved statements.
type Stmt interface{ stmt() }

// Block is a resolved statement group.
type Block struct {
	Stmts []Stmt
}

func (*Block) stmt() {}

// If is a resolved conditional. Cond is boolean-typed.
type If struct {
	Cond Expr
	Then Stmt
	Else Stmt // nil when absent
	Span diag.Span
}

func (*If) stmt() {}

// Assign writes Rhs into a variable.
type Assign struct {
	Var  VarID
	Rhs  Expr
	Span diag.Span
}

func (*Assign) stmt() {}

// Contribution accumulates Rhs into a branch.
type Contribution struct {
	Access va.AccessKind
	Branch mir.BranchID
	Rhs    Expr
	Span   diag.Span
}

func (*Contribution) stmt() {}

// For is a resolved counted loop; lowering unrolls it when its bounds
// are static and rejects it otherwise.
type For struct {
	Init *Assign
	Cond Expr
	Step *Assign
	Body Stmt
	Span diag.Span
}

func (*For) stmt() {}

// While is carried through resolution so lowering can reject it with
// a precise span.
type While struct {
	Cond Expr
	Body Stmt
	Span diag.Span
}

func (*While) stmt() {}

// Repeat runs Body Count times; Count must fold to a constant by
// lowering time.
type Repeat struct {
	Count Expr
	Body  Stmt
	Span  diag.Span
}

func (*Repeat) stmt() {}

// Expr is a sealed interface over resolved, typed expressions.
type Expr interface {
	expr()
	Type() mir.Type
	ExprSpan() diag.Span
}

// Const is a literal.
type Const struct {
	Val  float64
	Ty   mir.Type
	Span diag.Span
}

func (*Const) expr()                 {}
func (e *Const) Type() mir.Type      { return e.Ty }
func (e *Const) ExprSpan() diag.Span { return e.Span }

// ParamRef reads a parameter.
type ParamRef struct {
	ID   mir.ParamID
	Ty   mir.Type
	Span diag.Span
}

func (*ParamRef) expr()                 {}
func (e *ParamRef) Type() mir.Type      { return e.Ty }
func (e *ParamRef) ExprSpan() diag.Span { return e.Span }

// VarRef reads a variable.
type VarRef struct {
	ID   VarID
	Ty   mir.Type
	Span diag.Span
}

func (*VarRef) expr()                 {}
func (e *VarRef) Type() mir.Type      { return e.Ty }
func (e *VarRef) ExprSpan() diag.Span { return e.Span }

// Probe reads a branch quantity: V(...) or I(...).
type Probe struct {
	Access va.AccessKind
	Branch mir.BranchID
	Span   diag.Span
}

func (*Probe) expr()                 {}
func (e *Probe) Type() mir.Type      { return mir.TypeReal }
func (e *Probe) ExprSpan() diag.Span { return e.Span }

// Temperature is the $temperature input.
type Temperature struct {
	Span diag.Span
}

func (*Temperature) expr()                 {}
func (e *Temperature) Type() mir.Type      { return mir.TypeReal }
func (e *Temperature) ExprSpan() diag.Span { return e.Span }

// Binary is a typed binary operation.
type Binary struct {
	Op   mir.BinOp
	X, Y Expr
	Ty   mir.Type
	Span diag.Span
}

func (*Binary) expr()                 {}
func (e *Binary) Type() mir.Type      { return e.Ty }
func (e *Binary) ExprSpan() diag.Span { return e.Span }

// Unary is a typed unary operation.
type Unary struct {
	Op   mir.UnOp
	X    Expr
	Ty   mir.Type
	Span diag.Span
}

func (*Unary) expr()                 {}
func (e *Unary) Type() mir.Type      { return e.Ty }
func (e *Unary) ExprSpan() diag.Span { return e.Span }

// Ternary is cond ? a : b.
type Ternary struct {
	Cond, Then, Else Expr
	Ty               mir.Type
	Span             diag.Span
}

func (*Ternary) expr()                 {}
func (e *Ternary) Type() mir.Type      { return e.Ty }
func (e *Ternary) ExprSpan() diag.Span { return e.Span }

// CallBuiltin invokes one of the closed builtin set.
type CallBuiltin struct {
	Fn   mir.Builtin
	Args []Expr
	Span diag.Span
}

func (*CallBuiltin) expr()                 {}
func (e *CallBuiltin) Type() mir.Type      { return mir.TypeReal }
func (e *CallBuiltin) ExprSpan() diag.Span { return e.Span }

// Ddt marks its argument as a charge/flux quantity.
type Ddt struct {
	Arg  Expr
	Span diag.Span
}

func (*Ddt) expr()                 {}
func (e *Ddt) Type() mir.Type      { return mir.TypeReal }
func (e *Ddt) ExprSpan() diag.Span { return e.Span }

// Limit applies a named limiting function to a probed quantity.
// Args[0] is the raw probe; the rest parameterize the limiter.
type Limit struct {
	Fn   string
	Args []Expr
	Span diag.Span
}

func (*Limit) expr()                 {}
func (e *Limit) Type() mir.Type      { return mir.TypeReal }
func (e *Limit) ExprSpan() diag.Span { return e.Span }

// Noise is a white or flicker noise source.
type Noise struct {
	Kind mir.NoiseKind
	Args []Expr
	Name string
	Span diag.Span
}

func (*Noise) expr()                 {}
func (e *Noise) Type() mir.Type      { return mir.TypeReal }
func (e *Noise) ExprSpan() diag.Span { return e.Span }
