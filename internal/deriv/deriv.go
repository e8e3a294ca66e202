// Package deriv computes symbolic derivatives of lowered graphs and
// assembles the sparse Jacobian of every contribution with respect to
// the node potentials.
//
// Differentiation is demand-driven and memoized: a derivative value is
// created at most once per (value, unknown) pair, appended to the same
// block as the value it differentiates so evaluation order is
// preserved. Structurally zero derivatives are represented by the
// NoValue sentinel and never materialize instructions.
package deriv

import (
	"fmt"
	"sort"

	"github.com/vamodel/valc/internal/diag"
	"github.com/vamodel/valc/internal/mir"
)

// Entry is one structurally nonzero Jacobian slot. Val is the id of
// the value holding d(residual_row)/d(V_col) in the graph arena.
type Entry struct {
	Row mir.NodeID
	Col mir.NodeID
	Val mir.ValueID
}

// Matrix is the symbolic Jacobian, split into the static part and the
// charge part. Reactive entries hold dQ/dV; the consumer scales them
// by the per-analysis integration factor. Entries are sorted by
// (Row, Col) and ground never appears in either coordinate.
type Matrix struct {
	Resistive []Entry
	Reactive  []Entry
}

// DiffError summarizes a failed differentiation; findings are in the
// sink.
type DiffError struct {
	Module string
	Count  int
}

func (e *DiffError) Error() string {
	return fmt.Sprintf("module %s: differentiation failed with %d error(s)", e.Module, e.Count)
}

// Differentiate extends g with derivative values for every
// contribution and returns the assembled Jacobian. Accumulation sums
// live in the exit block; operands defined in blocks a given
// evaluation skips contribute zero, which matches the path-weighted
// contribution semantics.
func Differentiate(g *mir.Graph, sink *diag.Sink) (*Matrix, error) {
	d := newDiffer(g, sink)
	before := sink.ErrorCount()

	type slot struct{ row, col mir.NodeID }
	tables := [2]map[slot]mir.ValueID{make(map[slot]mir.ValueID), make(map[slot]mir.ValueID)}

	accumulate := func(kind mir.ContribKind, row, col mir.NodeID, dv mir.ValueID, negate bool) {
		t := tables[kind]
		k := slot{row, col}
		v := dv
		if negate {
			v = g.Emit(g.Exit, mir.Instr{
				Op: mir.OpUnary, Ty: mir.TypeReal, Un: mir.UnNeg,
				Args: []mir.ValueID{dv},
			})
		}
		if prev, ok := t[k]; ok {
			v = g.Emit(g.Exit, mir.Instr{
				Op: mir.OpBinary, Ty: mir.TypeReal, Bin: mir.BinAdd,
				Args: []mir.ValueID{prev, v},
			})
		}
		t[k] = v
	}

	for _, cid := range g.Contribs {
		in := g.Value(cid)
		br := g.Branches[in.Contrib.Branch]
		val := in.Args[0]
		for ni := range g.Nodes {
			col := mir.NodeID(ni)
			dv := d.deriv(val, col)
			if dv == mir.NoValue {
				continue
			}
			if c, ok := g.IsConst(dv); ok && c == 0 {
				continue
			}
			if br.Hi != mir.GroundNode {
				accumulate(in.Contrib.Kind, br.Hi, col, dv, false)
			}
			if br.Lo != mir.GroundNode {
				accumulate(in.Contrib.Kind, br.Lo, col, dv, true)
			}
		}
	}

	if n := sink.ErrorCount() - before; n > 0 {
		return nil, &DiffError{Module: g.ModuleName, Count: n}
	}

	m := &Matrix{}
	for kind, t := range tables {
		entries := make([]Entry, 0, len(t))
		for k, v := range t {
			entries = append(entries, Entry{Row: k.row, Col: k.col, Val: v})
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Row != entries[j].Row {
				return entries[i].Row < entries[j].Row
			}
			return entries[i].Col < entries[j].Col
		})
		if mir.ContribKind(kind) == mir.ContribResistive {
			m.Resistive = entries
		} else {
			m.Reactive = entries
		}
	}
	return m, nil
}

// differ carries the memo table and the value-to-block placement map.
type differ struct {
	g    *mir.Graph
	sink *diag.Sink

	// home maps each value to the block that evaluates it, so
	// derivative instructions land next to their primal.
	home []mir.BlockID

	memo map[dkey]mir.ValueID
}

type dkey struct {
	val  mir.ValueID
	node mir.NodeID
}

func newDiffer(g *mir.Graph, sink *diag.Sink) *differ {
	home := make([]mir.BlockID, g.NumValues())
	for i := range home {
		home[i] = g.Entry
	}
	for bi := range g.Blocks {
		for _, v := range g.Blocks[bi].Instrs {
			home[v] = mir.BlockID(bi)
		}
	}
	return &differ{g: g, sink: sink, home: home, memo: make(map[dkey]mir.ValueID)}
}

// blockOf returns the placement block for a value, tolerating values
// created after the home map was built (their derivatives share the
// placement of the value they were derived for).
func (d *differ) blockOf(v mir.ValueID) mir.BlockID {
	if int(v) < len(d.home) {
		return d.home[v]
	}
	return d.g.Exit
}

// emit places a derivative instruction in the same block as the value
// it belongs to and records the placement.
func (d *differ) emit(at mir.ValueID, in mir.Instr) mir.ValueID {
	blk := d.blockOf(at)
	v := d.g.Emit(blk, in)
	d.home = append(d.home, blk)
	return v
}

func (d *differ) constIn(at mir.ValueID, c float64) mir.ValueID {
	return d.emit(at, mir.Instr{Op: mir.OpConst, Ty: mir.TypeReal, Const: c})
}

// deriv returns d(v)/d(V_node), or NoValue when structurally zero.
func (d *differ) deriv(v mir.ValueID, node mir.NodeID) mir.ValueID {
	k := dkey{v, node}
	if r, ok := d.memo[k]; ok {
		return r
	}
	r := d.derivUncached(v, node)
	d.memo[k] = r
	return r
}

func (d *differ) derivUncached(v mir.ValueID, node mir.NodeID) mir.ValueID {
	in := d.g.Value(v)
	switch in.Op {
	case mir.OpConst, mir.OpParam, mir.OpTemperature, mir.OpNoise:
		return mir.NoValue

	case mir.OpVoltage:
		switch {
		case in.Hi == node && in.Lo == node:
			return mir.NoValue
		case in.Hi == node:
			return d.constIn(v, 1)
		case in.Lo == node:
			return d.constIn(v, -1)
		default:
			return mir.NoValue
		}

	case mir.OpUnary:
		if in.Un == mir.UnNot {
			return mir.NoValue
		}
		da := d.deriv(in.Args[0], node)
		if da == mir.NoValue {
			return mir.NoValue
		}
		return d.emit(v, mir.Instr{
			Op: mir.OpUnary, Ty: mir.TypeReal, Un: mir.UnNeg,
			Args: []mir.ValueID{da}, Span: in.Span,
		})

	case mir.OpBinary:
		return d.derivBinary(v, in, node)

	case mir.OpSelect:
		dt := d.deriv(in.Args[1], node)
		de := d.deriv(in.Args[2], node)
		if dt == mir.NoValue && de == mir.NoValue {
			return mir.NoValue
		}
		if dt == mir.NoValue {
			dt = d.constIn(in.Args[1], 0)
		}
		if de == mir.NoValue {
			de = d.constIn(in.Args[2], 0)
		}
		return d.emit(v, mir.Instr{
			Op: mir.OpSelect, Ty: mir.TypeReal,
			Args: []mir.ValueID{in.Args[0], dt, de}, Span: in.Span,
		})

	case mir.OpPhi:
		blk := d.blockOf(v)
		preds := d.g.Block(blk).Preds
		dargs := make([]mir.ValueID, len(in.Args))
		all0 := true
		for i, a := range in.Args {
			dargs[i] = d.deriv(a, node)
			if dargs[i] != mir.NoValue {
				all0 = false
			}
		}
		if all0 {
			return mir.NoValue
		}
		for i, da := range dargs {
			if da == mir.NoValue {
				// Zero materialized in the matching predecessor keeps
				// phi arguments parallel to Preds.
				z := d.g.Emit(preds[i], mir.Instr{Op: mir.OpConst, Ty: mir.TypeReal})
				d.home = append(d.home, preds[i])
				dargs[i] = z
			}
		}
		phi := d.g.Emit(blk, mir.Instr{Op: mir.OpPhi, Ty: mir.TypeReal, Args: dargs, Span: in.Span})
		d.home = append(d.home, blk)
		return phi

	case mir.OpCall:
		return d.derivCall(v, in, node)

	case mir.OpDdt:
		// The reactive Jacobian is dQ/dV; differentiate the charge.
		return d.deriv(in.Args[0], node)

	case mir.OpLimit:
		// The limited value feeds the residual, but the derivative
		// chains through the raw argument alone so Newton iterates on
		// the true characteristic.
		return d.deriv(in.Args[0], node)

	default:
		return mir.NoValue
	}
}

// mul emits a product, folding the by-one cases.
func (d *differ) mul(at, a, b mir.ValueID, span diag.Span) mir.ValueID {
	if c, ok := d.g.IsConst(a); ok && c == 1 {
		return b
	}
	if c, ok := d.g.IsConst(b); ok && c == 1 {
		return a
	}
	return d.emit(at, mir.Instr{
		Op: mir.OpBinary, Ty: mir.TypeReal, Bin: mir.BinMul,
		Args: []mir.ValueID{a, b}, Span: span,
	})
}

func (d *differ) bin(at mir.ValueID, op mir.BinOp, a, b mir.ValueID, span diag.Span) mir.ValueID {
	return d.emit(at, mir.Instr{
		Op: mir.OpBinary, Ty: mir.TypeReal, Bin: op,
		Args: []mir.ValueID{a, b}, Span: span,
	})
}

func (d *differ) neg(at, a mir.ValueID, span diag.Span) mir.ValueID {
	return d.emit(at, mir.Instr{
		Op: mir.OpUnary, Ty: mir.TypeReal, Un: mir.UnNeg,
		Args: []mir.ValueID{a}, Span: span,
	})
}

func (d *differ) call(at mir.ValueID, fn mir.Builtin, span diag.Span, args ...mir.ValueID) mir.ValueID {
	return d.emit(at, mir.Instr{
		Op: mir.OpCall, Ty: mir.TypeReal, Builtin: fn,
		Args: args, Span: span,
	})
}

func (d *differ) derivBinary(v mir.ValueID, in *mir.Instr, node mir.NodeID) mir.ValueID {
	a, b := in.Args[0], in.Args[1]
	switch in.Bin {
	case mir.BinLt, mir.BinLe, mir.BinGt, mir.BinGe, mir.BinEq, mir.BinNe, mir.BinAnd, mir.BinOr:
		return mir.NoValue
	}
	da := d.deriv(a, node)
	db := d.deriv(b, node)
	if da == mir.NoValue && db == mir.NoValue {
		return mir.NoValue
	}

	switch in.Bin {
	case mir.BinAdd:
		if da == mir.NoValue {
			return db
		}
		if db == mir.NoValue {
			return da
		}
		return d.bin(v, mir.BinAdd, da, db, in.Span)

	case mir.BinSub:
		if db == mir.NoValue {
			return da
		}
		if da == mir.NoValue {
			return d.neg(v, db, in.Span)
		}
		return d.bin(v, mir.BinSub, da, db, in.Span)

	case mir.BinMul:
		var lhs, rhs mir.ValueID = mir.NoValue, mir.NoValue
		if da != mir.NoValue {
			lhs = d.mul(v, da, b, in.Span)
		}
		if db != mir.NoValue {
			rhs = d.mul(v, a, db, in.Span)
		}
		if lhs == mir.NoValue {
			return rhs
		}
		if rhs == mir.NoValue {
			return lhs
		}
		return d.bin(v, mir.BinAdd, lhs, rhs, in.Span)

	case mir.BinDiv:
		if db == mir.NoValue {
			return d.bin(v, mir.BinDiv, da, b, in.Span)
		}
		// (da - v*db) / b, reusing the quotient value itself.
		vdb := d.mul(v, v, db, in.Span)
		num := vdb
		if da != mir.NoValue {
			num = d.bin(v, mir.BinSub, da, vdb, in.Span)
		} else {
			num = d.neg(v, vdb, in.Span)
		}
		return d.bin(v, mir.BinDiv, num, b, in.Span)

	case mir.BinPow:
		return d.derivPow(v, a, b, da, db, in.Span)

	case mir.BinRem:
		// a - trunc(a/b)*b steps where the quotient jumps; between
		// steps the derivative is da when the divisor is constant.
		if db == mir.NoValue {
			return da
		}
		d.sink.Error(d.g.ModuleName, in.Span, "cannot differentiate a remainder by a bias-dependent divisor")
		return mir.NoValue

	default:
		return mir.NoValue
	}
}

// derivPow differentiates a**b. The common parameter-exponent case
// folds to the power rule; the general case uses the logarithmic form
// a**b * (db*ln(a) + b*da/a).
func (d *differ) derivPow(v, a, b, da, db mir.ValueID, span diag.Span) mir.ValueID {
	if db == mir.NoValue {
		one := d.constIn(v, 1)
		bm1 := d.bin(v, mir.BinSub, b, one, span)
		p := d.bin(v, mir.BinPow, a, bm1, span)
		return d.mul(v, d.mul(v, b, p, span), da, span)
	}
	var sum mir.ValueID = mir.NoValue
	lnA := d.call(v, mir.BuiltinLn, span, a)
	sum = d.mul(v, db, lnA, span)
	if da != mir.NoValue {
		frac := d.bin(v, mir.BinDiv, d.mul(v, b, da, span), a, span)
		sum = d.bin(v, mir.BinAdd, sum, frac, span)
	}
	return d.mul(v, v, sum, span)
}

func (d *differ) derivCall(v mir.ValueID, in *mir.Instr, node mir.NodeID) mir.ValueID {
	dargs := make([]mir.ValueID, len(in.Args))
	all0 := true
	for i, a := range in.Args {
		dargs[i] = d.deriv(a, node)
		if dargs[i] != mir.NoValue {
			all0 = false
		}
	}
	if all0 {
		return mir.NoValue
	}
	if !in.Builtin.HasDerivative() {
		d.sink.Error(d.g.ModuleName, in.Span, "cannot differentiate %s: it has no derivative rule", in.Builtin)
		return mir.NoValue
	}

	a := in.Args[0]
	da := dargs[0]
	span := in.Span

	switch in.Builtin {
	case mir.BuiltinExp:
		return d.mul(v, v, da, span)
	case mir.BuiltinLn:
		return d.bin(v, mir.BinDiv, da, a, span)
	case mir.BuiltinLog10:
		ln10 := d.constIn(v, 2.302585092994046)
		return d.bin(v, mir.BinDiv, da, d.mul(v, a, ln10, span), span)
	case mir.BuiltinSqrt:
		two := d.constIn(v, 2)
		return d.bin(v, mir.BinDiv, da, d.mul(v, two, v, span), span)
	case mir.BuiltinSin:
		return d.mul(v, d.call(v, mir.BuiltinCos, span, a), da, span)
	case mir.BuiltinCos:
		return d.neg(v, d.mul(v, d.call(v, mir.BuiltinSin, span, a), da, span), span)
	case mir.BuiltinTan:
		one := d.constIn(v, 1)
		sec2 := d.bin(v, mir.BinAdd, one, d.mul(v, v, v, span), span)
		return d.mul(v, sec2, da, span)
	case mir.BuiltinASin, mir.BuiltinACos:
		one := d.constIn(v, 1)
		root := d.call(v, mir.BuiltinSqrt, span, d.bin(v, mir.BinSub, one, d.mul(v, a, a, span), span))
		q := d.bin(v, mir.BinDiv, da, root, span)
		if in.Builtin == mir.BuiltinACos {
			return d.neg(v, q, span)
		}
		return q
	case mir.BuiltinATan:
		one := d.constIn(v, 1)
		den := d.bin(v, mir.BinAdd, one, d.mul(v, a, a, span), span)
		return d.bin(v, mir.BinDiv, da, den, span)
	case mir.BuiltinATan2:
		y, x := in.Args[0], in.Args[1]
		dy, dx := dargs[0], dargs[1]
		den := d.bin(v, mir.BinAdd, d.mul(v, x, x, span), d.mul(v, y, y, span), span)
		var num mir.ValueID = mir.NoValue
		if dy != mir.NoValue {
			num = d.mul(v, x, dy, span)
		}
		if dx != mir.NoValue {
			t := d.mul(v, y, dx, span)
			if num == mir.NoValue {
				num = d.neg(v, t, span)
			} else {
				num = d.bin(v, mir.BinSub, num, t, span)
			}
		}
		return d.bin(v, mir.BinDiv, num, den, span)
	case mir.BuiltinSinH:
		return d.mul(v, d.call(v, mir.BuiltinCosH, span, a), da, span)
	case mir.BuiltinCosH:
		return d.mul(v, d.call(v, mir.BuiltinSinH, span, a), da, span)
	case mir.BuiltinTanH:
		one := d.constIn(v, 1)
		sech2 := d.bin(v, mir.BinSub, one, d.mul(v, v, v, span), span)
		return d.mul(v, sech2, da, span)
	case mir.BuiltinPow:
		return d.derivPow(v, in.Args[0], in.Args[1], dargs[0], dargs[1], span)
	case mir.BuiltinMin:
		cond := d.bin(v, mir.BinLt, in.Args[0], in.Args[1], span)
		return d.selectOf(v, cond, dargs[0], dargs[1], in.Args, span)
	case mir.BuiltinMax:
		cond := d.bin(v, mir.BinGt, in.Args[0], in.Args[1], span)
		return d.selectOf(v, cond, dargs[0], dargs[1], in.Args, span)
	case mir.BuiltinAbs:
		zero := d.constIn(v, 0)
		cond := d.bin(v, mir.BinLt, a, zero, span)
		return d.selectOf(v, cond, d.neg(v, da, span), da, in.Args, span)
	case mir.BuiltinFloor, mir.BuiltinCeil:
		return mir.NoValue
	case mir.BuiltinHypot:
		x, y := in.Args[0], in.Args[1]
		dx, dy := dargs[0], dargs[1]
		var num mir.ValueID = mir.NoValue
		if dx != mir.NoValue {
			num = d.mul(v, x, dx, span)
		}
		if dy != mir.NoValue {
			t := d.mul(v, y, dy, span)
			if num == mir.NoValue {
				num = t
			} else {
				num = d.bin(v, mir.BinAdd, num, t, span)
			}
		}
		return d.bin(v, mir.BinDiv, num, v, span)
	default:
		d.sink.Error(d.g.ModuleName, in.Span, "cannot differentiate %s: it has no derivative rule", in.Builtin)
		return mir.NoValue
	}
}

// selectOf builds select(cond, t, e) with zeros materialized for
// structurally zero arms.
func (d *differ) selectOf(v, cond, t, e mir.ValueID, args []mir.ValueID, span diag.Span) mir.ValueID {
	if t == mir.NoValue {
		t = d.constIn(args[0], 0)
	}
	if e == mir.NoValue {
		e = d.constIn(args[len(args)-1], 0)
	}
	return d.emit(v, mir.Instr{
		Op: mir.OpSelect, Ty: mir.TypeReal,
		Args: []mir.ValueID{cond, t, e}, Span: span,
	})
}
