// Package opt simplifies lowered graphs after differentiation. All
// rewrites are semantics-preserving: constant folding, algebraic
// identities, block-local common subexpression elimination over primal
// and derivative values together, and dead code elimination rooted at
// contributions, noise sources, collapse hints, branch conditions, and
// Jacobian entries.
package opt

import (
	"math"

	"github.com/vamodel/valc/internal/deriv"
	"github.com/vamodel/valc/internal/mir"
)

// Optimize rewrites g in place and re-points the Jacobian entries at
// their simplified values, dropping entries that folded to zero.
func Optimize(g *mir.Graph, m *deriv.Matrix) {
	o := &optimizer{g: g, repl: make(map[mir.ValueID]mir.ValueID)}
	o.run()

	if m != nil {
		m.Resistive = o.sparsify(m.Resistive)
		m.Reactive = o.sparsify(m.Reactive)
	}
	o.eliminateDead(m)
}

type optimizer struct {
	g    *mir.Graph
	repl map[mir.ValueID]mir.ValueID
}

// resolve follows the replacement chain for one operand.
func (o *optimizer) resolve(v mir.ValueID) mir.ValueID {
	for {
		r, ok := o.repl[v]
		if !ok {
			return v
		}
		v = r
	}
}

// cseKey identifies a pure instruction up to operand identity.
type cseKey struct {
	op         mir.Op
	ty         mir.Type
	bin        mir.BinOp
	un         mir.UnOp
	builtin    mir.Builtin
	konst      float64
	param      mir.ParamID
	hi, lo     mir.NodeID
	a0, a1, a2 mir.ValueID
}

func (o *optimizer) run() {
	g := o.g
	for bi := range g.Blocks {
		blk := g.Block(mir.BlockID(bi))
		seen := make(map[cseKey]mir.ValueID)
		for _, v := range blk.Instrs {
			in := g.Value(v)
			for i, a := range in.Args {
				in.Args[i] = o.resolve(a)
			}
			if in.Op == mir.OpContribute && in.Contrib.Path != mir.NoValue {
				in.Contrib.Path = o.resolve(in.Contrib.Path)
			}
			if r, ok := o.simplify(v, in); ok {
				o.repl[v] = r
				continue
			}
			if k, ok := pureKey(in); ok {
				if prev, dup := seen[k]; dup {
					o.repl[v] = prev
					continue
				}
				seen[k] = v
			}
		}
		if blk.Term.Kind == mir.TermBranch {
			blk.Term.Cond = o.resolve(blk.Term.Cond)
		}
	}
}

// pureKey returns the CSE key for value-like instructions. Effectful
// and merge instructions are excluded.
func pureKey(in *mir.Instr) (cseKey, bool) {
	switch in.Op {
	case mir.OpContribute, mir.OpCollapse, mir.OpNoise, mir.OpPhi, mir.OpLimit:
		return cseKey{}, false
	}
	k := cseKey{
		op: in.Op, ty: in.Ty,
		bin: in.Bin, un: in.Un, builtin: in.Builtin,
		konst: in.Const, param: in.Param, hi: in.Hi, lo: in.Lo,
		a0: mir.NoValue, a1: mir.NoValue, a2: mir.NoValue,
	}
	if len(in.Args) > 3 {
		return cseKey{}, false
	}
	if len(in.Args) > 0 {
		k.a0 = in.Args[0]
	}
	if len(in.Args) > 1 {
		k.a1 = in.Args[1]
	}
	if len(in.Args) > 2 {
		k.a2 = in.Args[2]
	}
	return k, true
}

// simplify rewrites v to a constant or an existing value where an
// identity applies. It either mutates the instruction into an OpConst
// in place or returns a replacement id.
func (o *optimizer) simplify(v mir.ValueID, in *mir.Instr) (mir.ValueID, bool) {
	g := o.g
	switch in.Op {
	case mir.OpUnary:
		if c, ok := g.IsConst(in.Args[0]); ok {
			switch in.Un {
			case mir.UnNeg:
				o.toConst(in, -c)
			case mir.UnNot:
				o.toConst(in, boolToFloat(c == 0))
			}
			return mir.NoValue, false
		}
		// neg(neg(x)) = x
		if in.Un == mir.UnNeg {
			arg := g.Value(in.Args[0])
			if arg.Op == mir.OpUnary && arg.Un == mir.UnNeg {
				return arg.Args[0], true
			}
		}

	case mir.OpBinary:
		a, aok := g.IsConst(in.Args[0])
		b, bok := g.IsConst(in.Args[1])
		if aok && bok {
			if c, ok := foldBin(in.Bin, a, b); ok {
				o.toConst(in, c)
				return mir.NoValue, false
			}
		}
		if r, ok := o.identity(in, a, aok, b, bok); ok {
			return r, true
		}

	case mir.OpSelect:
		if c, ok := g.IsConst(in.Args[0]); ok {
			if c != 0 {
				return in.Args[1], true
			}
			return in.Args[2], true
		}
		if in.Args[1] == in.Args[2] {
			return in.Args[1], true
		}

	case mir.OpCall:
		args := make([]float64, len(in.Args))
		for i, a := range in.Args {
			c, ok := g.IsConst(a)
			if !ok {
				return mir.NoValue, false
			}
			args[i] = c
		}
		c := in.Builtin.Eval(args)
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return mir.NoValue, false
		}
		o.toConst(in, c)
	}
	return mir.NoValue, false
}

// identity applies the algebraic rewrites that return an existing
// value.
func (o *optimizer) identity(in *mir.Instr, a float64, aok bool, b float64, bok bool) (mir.ValueID, bool) {
	x, y := in.Args[0], in.Args[1]
	switch in.Bin {
	case mir.BinAdd:
		if aok && a == 0 {
			return y, true
		}
		if bok && b == 0 {
			return x, true
		}
	case mir.BinSub:
		if bok && b == 0 {
			return x, true
		}
		if x == y {
			o.toConst(in, 0)
		}
	case mir.BinMul:
		if aok && a == 0 || bok && b == 0 {
			o.toConst(in, 0)
			return mir.NoValue, false
		}
		if aok && a == 1 {
			return y, true
		}
		if bok && b == 1 {
			return x, true
		}
	case mir.BinDiv:
		if bok && b == 1 {
			return x, true
		}
		if aok && a == 0 && !(bok && b == 0) {
			o.toConst(in, 0)
		}
	case mir.BinPow:
		if bok && b == 1 {
			return x, true
		}
		if bok && b == 0 {
			o.toConst(in, 1)
		}
	}
	return mir.NoValue, false
}

// toConst mutates an instruction into a literal of the same type.
func (o *optimizer) toConst(in *mir.Instr, c float64) {
	in.Op = mir.OpConst
	in.Const = c
	in.Args = nil
	in.Limiter = ""
	in.Noise = mir.NoisePayload{}
	in.Contrib = mir.Contrib{}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// foldBin evaluates a binary operation on two constants. Division by
// zero and domain errors do not fold; they stay runtime values.
func foldBin(op mir.BinOp, a, b float64) (float64, bool) {
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
	case mir.BinRem:
		if b == 0 {
			return 0, false
		}
		return math.Mod(a, b), true
	case mir.BinPow:
		c := math.Pow(a, b)
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return 0, false
		}
		return c, true
	case mir.BinLt:
		return boolToFloat(a < b), true
	case mir.BinLe:
		return boolToFloat(a <= b), true
	case mir.BinGt:
		return boolToFloat(a > b), true
	case mir.BinGe:
		return boolToFloat(a >= b), true
	case mir.BinEq:
		return boolToFloat(a == b), true
	case mir.BinNe:
		return boolToFloat(a != b), true
	case mir.BinAnd:
		return boolToFloat(a != 0 && b != 0), true
	case mir.BinOr:
		return boolToFloat(a != 0 || b != 0), true
	default:
		return 0, false
	}
}

// sparsify re-points entries through the replacement map and drops
// entries whose derivative folded to an exact zero.
func (o *optimizer) sparsify(entries []deriv.Entry) []deriv.Entry {
	out := entries[:0]
	for _, e := range entries {
		e.Val = o.resolve(e.Val)
		if c, ok := o.g.IsConst(e.Val); ok && c == 0 {
			continue
		}
		out = append(out, e)
	}
	return out
}

// eliminateDead removes unreferenced instructions from every block.
// Liveness roots: contributions, collapse hints, bound noise sources,
// branch conditions, phi inputs of live phis, and Jacobian entries.
func (o *optimizer) eliminateDead(m *deriv.Matrix) {
	g := o.g
	live := make([]bool, g.NumValues())
	var mark func(v mir.ValueID)
	mark = func(v mir.ValueID) {
		if v == mir.NoValue || live[v] {
			return
		}
		live[v] = true
		for _, a := range g.Value(v).Args {
			mark(a)
		}
	}

	for bi := range g.Blocks {
		blk := g.Block(mir.BlockID(bi))
		for _, v := range blk.Instrs {
			switch in := g.Value(v); in.Op {
			case mir.OpContribute:
				mark(v)
				mark(in.Contrib.Path)
			case mir.OpCollapse, mir.OpNoise:
				mark(v)
			}
		}
		if blk.Term.Kind == mir.TermBranch {
			mark(blk.Term.Cond)
		}
	}
	if m != nil {
		for _, e := range m.Resistive {
			mark(e.Val)
		}
		for _, e := range m.Reactive {
			mark(e.Val)
		}
	}

	for bi := range g.Blocks {
		blk := g.Block(mir.BlockID(bi))
		kept := blk.Instrs[:0]
		for _, v := range blk.Instrs {
			if live[v] {
				kept = append(kept, v)
			}
		}
		blk.Instrs = kept
	}
}
