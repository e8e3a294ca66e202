package mir

import (
	"fmt"

	"github.com/vamodel/valc/internal/diag"
)

// ValueID indexes a value in its graph's arena.
type ValueID int32

// NoValue is the sentinel for "no value".
const NoValue ValueID = -1

// BlockID indexes a basic block.
type BlockID int32

// NoBlock is the sentinel for "no block".
const NoBlock BlockID = -1

// NodeID indexes a node in the owning module's node table.
type NodeID int32

// GroundNode is the implicit reference node. It never receives matrix
// rows or columns.
const GroundNode NodeID = -1

// BranchID indexes a branch in the owning module's branch table.
type BranchID int32

// ParamID indexes a parameter.
type ParamID int32

// Type is a value's scalar type.
type Type uint8

const (
	TypeReal Type = iota
	TypeInt
	TypeBool
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeReal:
		return "real"
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Op is the operation performed by one instruction.
type Op uint8

const (
	// OpConst materializes a literal. Payload: Const, type per Ty.
	OpConst Op = iota
	// OpParam reads a parameter value. Payload: Param.
	OpParam
	// OpVoltage reads the potential difference between two nodes.
	// Payload: Hi, Lo (Lo may be GroundNode).
	OpVoltage
	// OpTemperature reads the simulator-supplied device temperature.
	OpTemperature
	// OpBinary applies BinOp to Args[0], Args[1].
	OpBinary
	// OpUnary applies UnOp to Args[0].
	OpUnary
	// OpCall invokes a builtin on Args. Payload: Builtin.
	OpCall
	// OpSelect picks Args[1] when Args[0] is true, else Args[2].
	OpSelect
	// OpPhi merges one definition per predecessor block; Args is
	// parallel to the owning block's Preds list.
	OpPhi
	// OpDdt marks Args[0] as a charge/flux quantity whose time
	// derivative is contributed. It is never evaluated numerically
	// here; the contribution splitter consumes it and the large-signal
	// residual treats a surviving OpDdt as zero.
	OpDdt
	// OpLimit applies a named limiting function. Args[0] is the raw
	// value; remaining args parameterize the limiter. Payload: Limiter.
	// The limited result feeds the residual while derivatives chain
	// through the raw argument only.
	OpLimit
	// OpNoise is a small-signal noise source. Payload: Noise, Args are
	// its power parameters. Evaluates to zero in the residual.
	OpNoise
	// OpContribute accumulates Args[0] into a branch residual.
	// Payload: Contrib. Not referable as an operand.
	OpContribute
	// OpCollapse hints that two nodes may be merged when the branch
	// between them ends up unused. Payload: Hi, Lo.
	OpCollapse
)

// BinOp enumerates binary operators.
type BinOp uint8

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinRem
	BinPow
	BinLt
	BinLe
	BinGt
	BinGe
	BinEq
	BinNe
	BinAnd
	BinOr
)

var binOpNames = [...]string{"add", "sub", "mul", "div", "rem", "pow", "lt", "le", "gt", "ge", "eq", "ne", "and", "or"}

// String implements fmt.Stringer.
func (b BinOp) String() string { return binOpNames[b] }

// UnOp enumerates unary operators.
type UnOp uint8

const (
	UnNeg UnOp = iota
	UnNot
)

// String implements fmt.Stringer.
func (u UnOp) String() string {
	if u == UnNeg {
		return "neg"
	}
	return "not"
}

// NoiseKind enumerates noise source shapes.
type NoiseKind uint8

const (
	// NoiseWhite is white_noise(pwr): flat spectral density.
	NoiseWhite NoiseKind = iota
	// NoiseFlicker is flicker_noise(pwr, exp): pwr/f^exp density.
	NoiseFlicker
)

// String implements fmt.Stringer.
func (k NoiseKind) String() string {
	if k == NoiseWhite {
		return "white"
	}
	return "flicker"
}

// ContribKind distinguishes the static and the reactive part of a
// branch residual. Reactive contributions carry the charge/flux
// argument of a ddt term; the consumer multiplies their derivative
// entries by the per-analysis frequency or time-step factor.
type ContribKind uint8

const (
	ContribResistive ContribKind = iota
	ContribReactive
)

// String implements fmt.Stringer.
func (k ContribKind) String() string {
	if k == ContribResistive {
		return "resistive"
	}
	return "reactive"
}

// Contrib is the payload of an OpContribute instruction. Path is the
// reachability condition of the enclosing block at lowering time; the
// total contribution of a branch is the sum of its contribute
// instructions weighted by their path conditions.
type Contrib struct {
	Branch BranchID
	Kind   ContribKind
	Path   ValueID
}

// NoisePayload describes one noise source instruction.
type NoisePayload struct {
	Kind NoiseKind
	Name string
	// Branch the source injects into; set by the contribution splitter.
	Branch BranchID
}

// Instr is one SSA instruction. Exactly the payload fields relevant to
// Op are populated; everything else stays zero.
type Instr struct {
	Op   Op
	Ty   Type
	Args []ValueID

	Const   float64
	Param   ParamID
	Hi, Lo  NodeID
	Bin     BinOp
	Un      UnOp
	Builtin Builtin
	Limiter string
	Noise   NoisePayload
	Contrib Contrib

	Span diag.Span
}

// TermKind classifies block terminators.
type TermKind uint8

const (
	// TermJump unconditionally transfers to Then.
	TermJump TermKind = iota
	// TermBranch transfers to Then when Cond holds, else to Else.
	TermBranch
	// TermReturn leaves the analog block.
	TermReturn
)

// Terminator ends a basic block.
type Terminator struct {
	Kind TermKind
	Cond ValueID
	Then BlockID
	Else BlockID
}

// Block is one basic block: an ordered list of instructions and a
// terminator. Preds is maintained by the builder and is the merge
// order OpPhi arguments follow.
type Block struct {
	Instrs []ValueID
	Term   Terminator
	Preds  []BlockID
}

// Node is one electrical or thermal terminal.
type Node struct {
	Name       string
	Discipline string
	Port       bool
}

// Internal reports whether the node is compiler- or model-internal
// (not a port).
func (n Node) Internal() bool { return !n.Port }

// Branch is an ordered node pair contributions flow through.
type Branch struct {
	Name string // "" for implicit probe-created branches
	Hi   NodeID
	Lo   NodeID // GroundNode for node-to-ground branches
}

// Range is one resolved parameter constraint with evaluated bounds.
type Range struct {
	Exclude bool
	Lo, Hi  float64
	LoInc   bool
	HiInc   bool
}

// Contains reports whether v satisfies the constraint.
func (r Range) Contains(v float64) bool {
	if r.Exclude {
		return v != r.Lo
	}
	if v < r.Lo || (v == r.Lo && !r.LoInc) {
		return false
	}
	if v > r.Hi || (v == r.Hi && !r.HiInc) {
		return false
	}
	return true
}

// Param is one resolved parameter. Immutable after resolution.
type Param struct {
	Name    string
	Ty      Type
	Default float64
	Ranges  []Range
	Unit    string
	Desc    string
}

// Graph is the lowered MIR for one module. It owns the value arena,
// the block list, and the node/branch/parameter tables. The arena is
// append-only during lowering and differentiation and is never
// mutated structurally after optimization finalizes it.
type Graph struct {
	ModuleName string

	vals   []Instr
	Blocks []Block
	Entry  BlockID
	Exit   BlockID

	Nodes    []Node
	Branches []Branch
	Params   []Param

	// Contribs indexes every OpContribute instruction in emission
	// order, for stages that iterate contributions without walking
	// blocks.
	Contribs []ValueID

	// Noises indexes every OpNoise instruction bound to a branch.
	Noises []ValueID
}

// NewGraph creates an empty graph for the named module.
func NewGraph(module string) *Graph {
	return &Graph{ModuleName: module, Entry: NoBlock, Exit: NoBlock}
}

// NumValues returns the arena size.
func (g *Graph) NumValues() int { return len(g.vals) }

// Value returns the instruction defining id.
func (g *Graph) Value(id ValueID) *Instr { return &g.vals[id] }

// Append adds an instruction to the arena without placing it in a
// block. Callers that need the value evaluated must also place it.
func (g *Graph) Append(in Instr) ValueID {
	g.vals = append(g.vals, in)
	return ValueID(len(g.vals) - 1)
}

// NewBlock adds an empty block and returns its id.
func (g *Graph) NewBlock() BlockID {
	g.Blocks = append(g.Blocks, Block{Term: Terminator{Kind: TermReturn}})
	return BlockID(len(g.Blocks) - 1)
}

// Block returns the block with the given id.
func (g *Graph) Block(id BlockID) *Block { return &g.Blocks[id] }

// Place appends an already-created value to a block's instruction list.
func (g *Graph) Place(b BlockID, v ValueID) {
	blk := &g.Blocks[b]
	blk.Instrs = append(blk.Instrs, v)
}

// Emit appends an instruction to the arena and places it in b.
func (g *Graph) Emit(b BlockID, in Instr) ValueID {
	v := g.Append(in)
	g.Place(b, v)
	return v
}

// SetJump terminates b with an unconditional jump to target and
// records the predecessor edge.
func (g *Graph) SetJump(b, target BlockID) {
	g.Blocks[b].Term = Terminator{Kind: TermJump, Then: target}
	g.Blocks[target].Preds = append(g.Blocks[target].Preds, b)
}

// SetBranch terminates b with a conditional branch and records both
// predecessor edges.
func (g *Graph) SetBranch(b BlockID, cond ValueID, then, els BlockID) {
	g.Blocks[b].Term = Terminator{Kind: TermBranch, Cond: cond, Then: then, Else: els}
	g.Blocks[then].Preds = append(g.Blocks[then].Preds, b)
	g.Blocks[els].Preds = append(g.Blocks[els].Preds, b)
}

// EnsureBranch returns the branch id for the ordered endpoint pair,
// creating it on first use. Branches are deduplicated by (hi, lo).
func (g *Graph) EnsureBranch(name string, hi, lo NodeID) BranchID {
	for i, br := range g.Branches {
		if br.Hi == hi && br.Lo == lo {
			if br.Name == "" && name != "" {
				g.Branches[i].Name = name
			}
			return BranchID(i)
		}
	}
	g.Branches = append(g.Branches, Branch{Name: name, Hi: hi, Lo: lo})
	return BranchID(len(g.Branches) - 1)
}

// ConstReal is shorthand for emitting a real literal.
func (g *Graph) ConstReal(b BlockID, v float64) ValueID {
	return g.Emit(b, Instr{Op: OpConst, Ty: TypeReal, Const: v})
}

// ConstBool is shorthand for emitting a boolean literal.
func (g *Graph) ConstBool(b BlockID, v bool) ValueID {
	c := 0.0
	if v {
		c = 1.0
	}
	return g.Emit(b, Instr{Op: OpConst, Ty: TypeBool, Const: c})
}

// IsConst reports whether id is a literal, and its value.
func (g *Graph) IsConst(id ValueID) (float64, bool) {
	if id == NoValue {
		return 0, false
	}
	in := &g.vals[id]
	if in.Op == OpConst {
		return in.Const, true
	}
	return 0, false
}

// NodeName returns a printable name for a node id, including ground.
func (g *Graph) NodeName(id NodeID) string {
	if id == GroundNode {
		return "gnd"
	}
	return g.Nodes[id].Name
}

// BranchName returns a printable name for a branch.
func (g *Graph) BranchName(id BranchID) string {
	br := g.Branches[id]
	if br.Name != "" {
		return br.Name
	}
	return fmt.Sprintf("(%s,%s)", g.NodeName(br.Hi), g.NodeName(br.Lo))
}

// DependsOnVoltage reports whether the value transitively reads any
// node potential. Used by the contribution splitter to verify that
// factors scaling a ddt term are bias-independent.
func (g *Graph) DependsOnVoltage(id ValueID) bool {
	seen := make(map[ValueID]bool)
	var walk func(v ValueID) bool
	walk = func(v ValueID) bool {
		if v == NoValue || seen[v] {
			return false
		}
		seen[v] = true
		in := &g.vals[v]
		if in.Op == OpVoltage {
			return true
		}
		for _, a := range in.Args {
			if walk(a) {
				return true
			}
		}
		return false
	}
	return walk(id)
}
