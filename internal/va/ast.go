package va

import "github.com/vamodel/valc/internal/diag"

// SourceFile is one parsed compilation input. It may declare several
// modules; each compiles independently.
type SourceFile struct {
	File    string
	Modules []*Module
}

// Module is one Verilog-A module declaration.
type Module struct {
	Name  string
	Ports []string // header port order
	Items []Item
	Span  diag.Span
}

// Item is a sealed interface over module-level declarations.
type Item interface{ item() }

// PortDir is a port direction keyword.
type PortDir int

const (
	PortInOut PortDir = iota
	PortInput
	PortOutput
)

// PortDecl declares direction for one or more ports.
type PortDecl struct {
	Dir   PortDir
	Names []string
	Span  diag.Span
}

func (*PortDecl) item() {}

// DisciplineDecl binds nodes to a discipline (electrical, thermal, ...).
// Disciplines are uninterpreted names at this stage.
type DisciplineDecl struct {
	Discipline string
	Names      []string
	Span       diag.Span
}

func (*DisciplineDecl) item() {}

// BranchDecl declares a named branch between two nodes, or a node and
// ground when Lo is empty.
type BranchDecl struct {
	Name string
	Hi   string
	Lo   string // "" means ground
	Span diag.Span
}

func (*BranchDecl) item() {}

// DataType is a declared scalar type.
type DataType int

const (
	TypeReal DataType = iota
	TypeInteger
	TypeString
)

// RangeBound is one end of a parameter range constraint.
type RangeBound struct {
	Value     Expr
	Inclusive bool
	Unbounded bool // -inf / inf written as "-inf" / "inf" identifiers
}

// RangeConstraint is a `from` interval or an `exclude` value.
type RangeConstraint struct {
	Exclude bool
	Lo, Hi  RangeBound // for Exclude, only Lo.Value is set
	Span    diag.Span
}

// ParamDecl declares one parameter with its default and constraints.
// Unit and Desc come from an optional (* ... *) attribute block.
type ParamDecl struct {
	Name    string
	Type    DataType
	Default Expr
	Ranges  []RangeConstraint
	Unit    string
	Desc    string
	Span    diag.Span
}

func (*ParamDecl) item() {}

// VarDecl declares analog-block variables at module scope.
type VarDecl struct {
	Type  DataType
	Names []string
	Span  diag.Span
}

func (*VarDecl) item() {}

// AnalogBlock is the `analog` construct; Body is a single statement,
// conventionally a Block.
type AnalogBlock struct {
	Body Stmt
	Span diag.Span
}

func (*AnalogBlock) item() {}

// Stmt is a sealed interface over analog statements.
type Stmt interface{ stmt() }

// Block is a begin/end group, optionally named (begin : name).
type Block struct {
	Label string
	Stmts []Stmt
	Decls []*VarDecl // block-scoped declarations
	Span  diag.Span
}

func (*Block) stmt() {}

// If is a conditional with optional else.
type If struct {
	Cond Expr
	Then Stmt
	Else Stmt // nil when absent
	Span diag.Span
}

func (*If) stmt() {}

// For is a C-style for loop. Only statically bounded loops survive
// lowering; the parser accepts the general form.
type For struct {
	Init *Assign
	Cond Expr
	Step *Assign
	Body Stmt
	Span diag.Span
}

func (*For) stmt() {}

// While is parsed for diagnostics only; lowering rejects it.
type While struct {
	Cond Expr
	Body Stmt
	Span diag.Span
}

func (*While) stmt() {}

// Repeat executes Body Count times; Count must fold to a constant.
type Repeat struct {
	Count Expr
	Body  Stmt
	Span  diag.Span
}

func (*Repeat) stmt() {}

// Assign is `name = expr;`.
type Assign struct {
	Name string
	Rhs  Expr
	Span diag.Span
}

func (*Assign) stmt() {}

// AccessKind distinguishes potential and flow access.
type AccessKind int

const (
	AccessPotential AccessKind = iota // V(...)
	AccessFlow                        // I(...)
)

// BranchRef names the target of a probe or contribution. With a single
// name the parser cannot tell a declared branch from a node-to-ground
// access; it stores the name in Hi and the resolver disambiguates.
type BranchRef struct {
	Hi   string
	Lo   string // "" for single-name references
	Span diag.Span
}

// Contribution is `V(ref) <+ expr;` or `I(ref) <+ expr;`.
type Contribution struct {
	Access AccessKind
	Ref    BranchRef
	Rhs    Expr
	Span   diag.Span
}

func (*Contribution) stmt() {}

// SysCallStmt is a statement-position system task such as
// $strobe(...) or $finish; lowering treats unknown tasks as fatal.
type SysCallStmt struct {
	Name string
	Args []Expr
	Span diag.Span
}

func (*SysCallStmt) stmt() {}

// Expr is a sealed interface over expressions.
type Expr interface {
	expr()
	ExprSpan() diag.Span
}

// NumberLit is a numeric literal.
type NumberLit struct {
	Value float64
	IsInt bool
	Span  diag.Span
}

func (*NumberLit) expr()                   {}
func (e *NumberLit) ExprSpan() diag.Span   { return e.Span }

// StringLit is a string literal (noise source names, $simparam keys).
type StringLit struct {
	Value string
	Span  diag.Span
}

func (*StringLit) expr()                 {}
func (e *StringLit) ExprSpan() diag.Span { return e.Span }

// Ref is an identifier use (parameter, variable, or node in a probe).
type Ref struct {
	Name string
	Span diag.Span
}

func (*Ref) expr()                 {}
func (e *Ref) ExprSpan() diag.Span { return e.Span }

// Unary is -x or !x.
type Unary struct {
	Op   string
	X    Expr
	Span diag.Span
}

func (*Unary) expr()                 {}
func (e *Unary) ExprSpan() diag.Span { return e.Span }

// Binary is a binary operation.
type Binary struct {
	Op   string
	X, Y Expr
	Span diag.Span
}

func (*Binary) expr()                 {}
func (e *Binary) ExprSpan() diag.Span { return e.Span }

// Ternary is cond ? a : b.
type Ternary struct {
	Cond, Then, Else Expr
	Span             diag.Span
}

func (*Ternary) expr()                 {}
func (e *Ternary) ExprSpan() diag.Span { return e.Span }

// Call is a plain function call: exp(x), pow(x,y), white_noise(p,"n").
type Call struct {
	Name string
	Args []Expr
	Span diag.Span
}

func (*Call) expr()                 {}
func (e *Call) ExprSpan() diag.Span { return e.Span }

// SysCall is a system function call: $temperature, $limit(...), $vt.
type SysCall struct {
	Name string
	Args []Expr
	Span diag.Span
}

func (*SysCall) expr()                 {}
func (e *SysCall) ExprSpan() diag.Span { return e.Span }

// Probe is V(...) or I(...) in expression position.
type Probe struct {
	Access AccessKind
	Ref    BranchRef
	Span   diag.Span
}

func (*Probe) expr()                 {}
func (e *Probe) ExprSpan() diag.Span { return e.Span }
