package lower

import (
	"fmt"

	"github.com/vamodel/valc/internal/diag"
	"github.com/vamodel/valc/internal/hir"
	"github.com/vamodel/valc/internal/mir"
)

// maxUnroll bounds static loop unrolling. A loop that would expand
// beyond this is treated as having unknown bounds.
const maxUnroll = 65536

// LowerError summarizes a failed lowering; findings are in the sink.
type LowerError struct {
	Module string
	Count  int
}

func (e *LowerError) Error() string {
	return fmt.Sprintf("module %s: lowering failed with %d error(s)", e.Module, e.Count)
}

// LowerModule converts a resolved module into its MIR graph. A non-nil
// error means a fatal diagnostic was recorded and the graph must not
// be used.
func LowerModule(m *hir.Module, sink *diag.Sink) (*mir.Graph, error) {
	g := mir.NewGraph(m.Name)
	g.Nodes = append(g.Nodes, m.Nodes...)
	g.Branches = append(g.Branches, m.Branches...)
	g.Params = append(g.Params, m.Params...)

	b := &builder{
		m:           m,
		g:           g,
		sink:        sink,
		defs:        make(map[hir.VarID]mir.ValueID),
		contributed: make(map[mir.BranchID]bool),
		collapsed:   make(map[mir.BranchID]bool),
	}
	before := sink.ErrorCount()

	b.cur = g.NewBlock()
	g.Entry = b.cur
	b.path = g.ConstBool(b.cur, true)

	if m.Analog != nil {
		b.lowerStmt(m.Analog)
	}

	g.Exit = g.NewBlock()
	g.SetJump(b.cur, g.Exit)

	b.checkBranches()

	if n := sink.ErrorCount() - before; n > 0 {
		return nil, &LowerError{Module: m.Name, Count: n}
	}
	return g, nil
}

type builder struct {
	m    *hir.Module
	g    *mir.Graph
	sink *diag.Sink

	cur  mir.BlockID
	path mir.ValueID // reachability condition of cur

	// defs maps each variable to its live SSA definition in cur.
	defs map[hir.VarID]mir.ValueID

	contributed map[mir.BranchID]bool
	collapsed   map[mir.BranchID]bool
}

func (b *builder) errorf(span diag.Span, format string, args ...any) {
	b.sink.Error(b.m.Name, span, format, args...)
}

// readVar returns the live definition of v, materializing the
// type-appropriate zero for a read before any write (Verilog-A
// variables start at zero).
func (b *builder) readVar(v hir.VarID) mir.ValueID {
	if d, ok := b.defs[v]; ok {
		return d
	}
	d := b.g.Emit(b.cur, mir.Instr{Op: mir.OpConst, Ty: b.m.Vars[v].Ty})
	b.defs[v] = d
	return d
}

func (b *builder) lowerStmt(s hir.Stmt) {
	switch x := s.(type) {
	case *hir.Block:
		for _, st := range x.Stmts {
			b.lowerStmt(st)
		}
	case *hir.Assign:
		if containsDdt(x.Rhs) {
			b.errorf(x.Span, "ddt result must be contributed directly, not stored in a variable")
			return
		}
		if containsNoise(x.Rhs) {
			b.errorf(x.Span, "noise sources must be contributed directly, not stored in a variable")
			return
		}
		b.defs[x.Var] = b.lowerExpr(x.Rhs)
	case *hir.If:
		b.lowerIf(x)
	case *hir.Contribution:
		b.lowerContribution(x)
	case *hir.Repeat:
		count, ok := b.constEval(x.Count, nil)
		if !ok {
			b.errorf(x.Span, "repeat count must be a compile-time constant")
			return
		}
		n := int(count)
		if n < 0 || n > maxUnroll {
			b.errorf(x.Span, "repeat count %d is out of the supported range [0, %d]", n, maxUnroll)
			return
		}
		for i := 0; i < n; i++ {
			b.lowerStmt(x.Body)
		}
	case *hir.For:
		b.lowerFor(x)
	case *hir.While:
		b.errorf(x.Span, "while loops have statically unknown bounds and are not supported in analog blocks")
	}
}

// lowerIf lowers a structured conditional into a diamond of blocks
// with phi merges for every variable the arms redefine.
func (b *builder) lowerIf(x *hir.If) {
	cond := b.lowerExpr(x.Cond)

	thenBlk := b.g.NewBlock()
	elseBlk := b.g.NewBlock()
	joinBlk := b.g.NewBlock()

	b.g.SetBranch(b.cur, cond, thenBlk, elseBlk)
	parentPath := b.path
	parentDefs := cloneDefs(b.defs)

	// Then arm.
	b.cur = thenBlk
	b.path = b.g.Emit(thenBlk, mir.Instr{
		Op: mir.OpBinary, Ty: mir.TypeBool, Bin: mir.BinAnd,
		Args: []mir.ValueID{parentPath, cond},
	})
	b.lowerStmt(x.Then)
	thenEnd := b.cur
	thenDefs := b.defs

	// Else arm.
	b.cur = elseBlk
	b.defs = cloneDefs(parentDefs)
	notCond := b.g.Emit(elseBlk, mir.Instr{
		Op: mir.OpUnary, Ty: mir.TypeBool, Un: mir.UnNot,
		Args: []mir.ValueID{cond},
	})
	b.path = b.g.Emit(elseBlk, mir.Instr{
		Op: mir.OpBinary, Ty: mir.TypeBool, Bin: mir.BinAnd,
		Args: []mir.ValueID{parentPath, notCond},
	})
	if x.Else != nil {
		b.lowerStmt(x.Else)
	}
	elseEnd := b.cur
	elseDefs := b.defs

	b.g.SetJump(thenEnd, joinBlk)
	b.g.SetJump(elseEnd, joinBlk)

	// Merge definitions. Phi argument order follows joinBlk.Preds,
	// which SetJump appended as [thenEnd, elseEnd].
	merged := make(map[hir.VarID]mir.ValueID)
	for v, tDef := range thenDefs {
		eDef, ok := elseDefs[v]
		if !ok {
			eDef = mir.NoValue
		}
		if ok && tDef == eDef {
			merged[v] = tDef
			continue
		}
		if eDef == mir.NoValue {
			// Defined only in the then arm; reads after the join see
			// zero on the else path.
			eDef = b.zeroIn(elseEnd, b.m.Vars[v].Ty)
		}
		phi := b.g.Emit(joinBlk, mir.Instr{
			Op: mir.OpPhi, Ty: b.m.Vars[v].Ty,
			Args: []mir.ValueID{tDef, eDef},
		})
		merged[v] = phi
	}
	for v, eDef := range elseDefs {
		if _, done := thenDefs[v]; done {
			continue
		}
		tDef := b.zeroIn(thenEnd, b.m.Vars[v].Ty)
		phi := b.g.Emit(joinBlk, mir.Instr{
			Op: mir.OpPhi, Ty: b.m.Vars[v].Ty,
			Args: []mir.ValueID{tDef, eDef},
		})
		merged[v] = phi
	}

	b.cur = joinBlk
	b.defs = merged
	b.path = parentPath
}

// zeroIn emits a typed zero at the end of the given block.
func (b *builder) zeroIn(blk mir.BlockID, ty mir.Type) mir.ValueID {
	return b.g.Emit(blk, mir.Instr{Op: mir.OpConst, Ty: ty})
}

func cloneDefs(defs map[hir.VarID]mir.ValueID) map[hir.VarID]mir.ValueID {
	out := make(map[hir.VarID]mir.ValueID, len(defs))
	for k, v := range defs {
		out[k] = v
	}
	return out
}

// lowerFor statically unrolls a counted loop. The loop variable must
// be initialized to a constant, stepped by a constant amount, and the
// condition must depend on the loop variable alone; anything else is
// a statically unknown bound and fatal.
func (b *builder) lowerFor(x *hir.For) {
	if x.Init.Var != x.Step.Var {
		b.errorf(x.Span, "for loop must step the variable it initializes")
		return
	}
	loopVar := x.Init.Var
	if assignsVar(x.Body, loopVar) {
		b.errorf(x.Span, "for loop body must not reassign the loop variable")
		return
	}

	val, ok := b.constEval(x.Init.Rhs, nil)
	if !ok {
		b.errorf(x.Span, "for loop bounds are not statically known")
		return
	}
	for iter := 0; ; iter++ {
		if iter > maxUnroll {
			b.errorf(x.Span, "for loop exceeds %d iterations", maxUnroll)
			return
		}
		env := map[hir.VarID]float64{loopVar: val}
		cont, ok := b.constEval(x.Cond, env)
		if !ok {
			b.errorf(x.Span, "for loop bounds are not statically known")
			return
		}
		if cont == 0 {
			break
		}
		// The loop variable is a constant inside each unrolled copy.
		b.defs[loopVar] = b.g.Emit(b.cur, mir.Instr{
			Op: mir.OpConst, Ty: b.m.Vars[loopVar].Ty, Const: val,
		})
		b.lowerStmt(x.Body)

		next, ok := b.constEval(x.Step.Rhs, env)
		if !ok {
			b.errorf(x.Span, "for loop bounds are not statically known")
			return
		}
		if next == val {
			b.errorf(x.Span, "for loop does not advance")
			return
		}
		val = next
	}
}

// assignsVar reports whether the statement tree writes v.
func assignsVar(s hir.Stmt, v hir.VarID) bool {
	switch x := s.(type) {
	case *hir.Block:
		for _, st := range x.Stmts {
			if assignsVar(st, v) {
				return true
			}
		}
	case *hir.Assign:
		return x.Var == v
	case *hir.If:
		if assignsVar(x.Then, v) {
			return true
		}
		if x.Else != nil {
			return assignsVar(x.Else, v)
		}
	case *hir.For:
		return assignsVar(x.Body, v) || x.Init.Var == v || x.Step.Var == v
	case *hir.Repeat:
		return assignsVar(x.Body, v)
	case *hir.While:
		return assignsVar(x.Body, v)
	}
	return false
}

// constEval folds loop-bound expressions. Parameters are runtime
// inputs and deliberately do not fold here.
func (b *builder) constEval(e hir.Expr, env map[hir.VarID]float64) (float64, bool) {
	switch x := e.(type) {
	case *hir.Const:
		return x.Val, true
	case *hir.VarRef:
		if env != nil {
			if v, ok := env[x.ID]; ok {
				return v, true
			}
		}
		return 0, false
	case *hir.Unary:
		v, ok := b.constEval(x.X, env)
		if !ok {
			return 0, false
		}
		if x.Op == mir.UnNeg {
			return -v, true
		}
		if v == 0 {
			return 1, true
		}
		return 0, true
	case *hir.Binary:
		a, ok := b.constEval(x.X, env)
		if !ok {
			return 0, false
		}
		c, ok := b.constEval(x.Y, env)
		if !ok {
			return 0, false
		}
		return evalBin(x.Op, a, c)
	default:
		return 0, false
	}
}

func evalBin(op mir.BinOp, a, b float64) (float64, bool) {
	boolVal := func(cond bool) (float64, bool) {
		if cond {
			return 1, true
		}
		return 0, true
	}
	switch op {
	case mir.BinAdd:
		return a + b, true
	case mir.BinSub:
		return a - b, true
	case mir.BinMul:
		return a * b, true
	case mir.BinDiv:
		if b == 0 {
			return 0, false
		}
		return a / b, true
	case mir.BinLt:
		return boolVal(a < b)
	case mir.BinLe:
		return boolVal(a <= b)
	case mir.BinGt:
		return boolVal(a > b)
	case mir.BinGe:
		return boolVal(a >= b)
	case mir.BinEq:
		return boolVal(a == b)
	case mir.BinNe:
		return boolVal(a != b)
	case mir.BinAnd:
		return boolVal(a != 0 && b != 0)
	case mir.BinOr:
		return boolVal(a != 0 || b != 0)
	default:
		return 0, false
	}
}

// checkBranches rejects named branches that were declared but never
// contributed to or collapsed.
func (b *builder) checkBranches() {
	for i, br := range b.g.Branches {
		if br.Name == "" {
			continue // implicit probe-created branches may be read-only
		}
		id := mir.BranchID(i)
		if !b.contributed[id] && !b.collapsed[id] {
			b.errorf(b.m.Span, "branch %s is referenced but never contributed to", br.Name)
		}
	}
}
