package lower

import (
	"github.com/vamodel/valc/internal/diag"
	"github.com/vamodel/valc/internal/hir"
	"github.com/vamodel/valc/internal/mir"
	"github.com/vamodel/valc/internal/va"
)

// term is one additive component of a contribution right-hand side.
type term struct {
	e    hir.Expr
	sign int
}

// splitSum flattens the additive spine of an expression. Only +, -,
// and unary negation are transparent; everything else is opaque and
// becomes a single term.
func splitSum(e hir.Expr, sign int, out []term) []term {
	switch x := e.(type) {
	case *hir.Binary:
		switch x.Op {
		case mir.BinAdd:
			out = splitSum(x.X, sign, out)
			return splitSum(x.Y, sign, out)
		case mir.BinSub:
			out = splitSum(x.X, sign, out)
			return splitSum(x.Y, -sign, out)
		}
	case *hir.Unary:
		if x.Op == mir.UnNeg {
			return splitSum(x.X, -sign, out)
		}
	}
	return append(out, term{e: e, sign: sign})
}

// lowerContribution splits a contribution statement into its resistive,
// reactive, and noise parts and emits the corresponding instructions.
//
// Flow contributions decompose additively: ddt terms carry charge into
// a reactive contribute, white/flicker noise terms bind a noise source
// to the branch, and everything else sums into one resistive
// contribute. Potential contributions are only accepted in the node
// collapse form V(br) <+ 0.
func (b *builder) lowerContribution(x *hir.Contribution) {
	br := b.g.Branches[x.Branch]

	if x.Access == va.AccessPotential {
		if v, ok := b.constEval(x.Rhs, nil); ok && v == 0 {
			b.g.Emit(b.cur, mir.Instr{
				Op: mir.OpCollapse, Ty: mir.TypeReal,
				Hi: br.Hi, Lo: br.Lo, Span: x.Span,
			})
			b.collapsed[x.Branch] = true
			return
		}
		b.errorf(x.Span, "potential contributions are not supported; only V(branch) <+ 0 node collapse is accepted")
		return
	}

	terms := splitSum(x.Rhs, 1, nil)

	var resistive, charges []signedVal
	for _, t := range terms {
		switch {
		case containsNoise(t.e):
			n, ok := t.e.(*hir.Noise)
			if !ok {
				b.errorf(t.e.ExprSpan(), "noise sources must be direct additive terms of a flow contribution")
				continue
			}
			if t.sign < 0 {
				b.errorf(n.Span, "noise sources cannot be negated")
				continue
			}
			args := make([]mir.ValueID, len(n.Args))
			for i, a := range n.Args {
				args[i] = b.lowerExpr(a)
			}
			id := b.g.Emit(b.cur, mir.Instr{
				Op: mir.OpNoise, Ty: mir.TypeReal,
				Noise: mir.NoisePayload{Kind: n.Kind, Name: n.Name, Branch: x.Branch},
				Args:  args, Span: n.Span,
			})
			b.g.Noises = append(b.g.Noises, id)
		case containsDdt(t.e):
			q, ok := b.lowerChargeTerm(t.e)
			if !ok {
				continue
			}
			charges = append(charges, signedVal{id: q, sign: t.sign})
		default:
			resistive = append(resistive, signedVal{id: b.lowerExpr(t.e), sign: t.sign})
		}
	}

	if len(resistive) > 0 || (len(charges) == 0 && len(terms) == len(resistive)) {
		val := b.sumSigned(resistive, x.Span)
		c := b.g.Emit(b.cur, mir.Instr{
			Op: mir.OpContribute, Ty: mir.TypeReal,
			Args:    []mir.ValueID{val},
			Contrib: mir.Contrib{Branch: x.Branch, Kind: mir.ContribResistive, Path: b.path},
			Span:    x.Span,
		})
		b.g.Contribs = append(b.g.Contribs, c)
	}
	if len(charges) > 0 {
		q := b.sumSigned(charges, x.Span)
		ddt := b.g.Emit(b.cur, mir.Instr{
			Op: mir.OpDdt, Ty: mir.TypeReal,
			Args: []mir.ValueID{q}, Span: x.Span,
		})
		c := b.g.Emit(b.cur, mir.Instr{
			Op: mir.OpContribute, Ty: mir.TypeReal,
			Args:    []mir.ValueID{ddt},
			Contrib: mir.Contrib{Branch: x.Branch, Kind: mir.ContribReactive, Path: b.path},
			Span:    x.Span,
		})
		b.g.Contribs = append(b.g.Contribs, c)
	}

	b.contributed[x.Branch] = true
}

type signedVal struct {
	id   mir.ValueID
	sign int
}

// sumSigned folds a signed value list into one value in the current
// block. An empty list yields a real zero.
func (b *builder) sumSigned(vals []signedVal, span diag.Span) mir.ValueID {
	if len(vals) == 0 {
		return b.g.ConstReal(b.cur, 0)
	}
	acc := vals[0].id
	if vals[0].sign < 0 {
		acc = b.g.Emit(b.cur, mir.Instr{
			Op: mir.OpUnary, Ty: mir.TypeReal, Un: mir.UnNeg,
			Args: []mir.ValueID{acc}, Span: span,
		})
	}
	for _, v := range vals[1:] {
		op := mir.BinAdd
		if v.sign < 0 {
			op = mir.BinSub
		}
		acc = b.g.Emit(b.cur, mir.Instr{
			Op: mir.OpBinary, Ty: mir.TypeReal, Bin: op,
			Args: []mir.ValueID{acc, v.id}, Span: span,
		})
	}
	return acc
}

// lowerChargeTerm extracts the charge value of one ddt term. The term
// must be ddt(q) scaled by bias-independent factors; the factor folds
// into the charge, so the reactive derivative chain stays exact.
func (b *builder) lowerChargeTerm(e hir.Expr) (mir.ValueID, bool) {
	switch x := e.(type) {
	case *hir.Ddt:
		return b.lowerExpr(x.Arg), true
	case *hir.Unary:
		if x.Op == mir.UnNeg {
			q, ok := b.lowerChargeTerm(x.X)
			if !ok {
				return mir.NoValue, false
			}
			return b.g.Emit(b.cur, mir.Instr{
				Op: mir.OpUnary, Ty: mir.TypeReal, Un: mir.UnNeg,
				Args: []mir.ValueID{q}, Span: x.Span,
			}), true
		}
	case *hir.Binary:
		switch x.Op {
		case mir.BinMul:
			if containsDdt(x.X) && containsDdt(x.Y) {
				b.errorf(x.Span, "product of two ddt terms is not supported")
				return mir.NoValue, false
			}
			qe, fe := x.X, x.Y
			if containsDdt(x.Y) {
				qe, fe = x.Y, x.X
			}
			q, ok := b.lowerChargeTerm(qe)
			if !ok {
				return mir.NoValue, false
			}
			f := b.lowerExpr(fe)
			if b.g.DependsOnVoltage(f) {
				b.errorf(fe.ExprSpan(), "factor scaling a ddt term must not depend on node potentials")
				return mir.NoValue, false
			}
			return b.g.Emit(b.cur, mir.Instr{
				Op: mir.OpBinary, Ty: mir.TypeReal, Bin: mir.BinMul,
				Args: []mir.ValueID{q, f}, Span: x.Span,
			}), true
		case mir.BinDiv:
			if containsDdt(x.Y) {
				b.errorf(x.Span, "ddt cannot appear in a divisor")
				return mir.NoValue, false
			}
			q, ok := b.lowerChargeTerm(x.X)
			if !ok {
				return mir.NoValue, false
			}
			f := b.lowerExpr(x.Y)
			if b.g.DependsOnVoltage(f) {
				b.errorf(x.Y.ExprSpan(), "factor scaling a ddt term must not depend on node potentials")
				return mir.NoValue, false
			}
			return b.g.Emit(b.cur, mir.Instr{
				Op: mir.OpBinary, Ty: mir.TypeReal, Bin: mir.BinDiv,
				Args: []mir.ValueID{q, f}, Span: x.Span,
			}), true
		}
	}
	b.errorf(e.ExprSpan(), "ddt must appear as an additive contribution term, optionally scaled by a bias-independent factor")
	return mir.NoValue, false
}
