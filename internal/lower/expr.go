package lower

import (
	"github.com/vamodel/valc/internal/hir"
	"github.com/vamodel/valc/internal/mir"
)

// lowerExpr emits the value computing e in the current block.
func (b *builder) lowerExpr(e hir.Expr) mir.ValueID {
	switch x := e.(type) {
	case *hir.Const:
		return b.g.Emit(b.cur, mir.Instr{Op: mir.OpConst, Ty: x.Ty, Const: x.Val, Span: x.Span})
	case *hir.ParamRef:
		return b.g.Emit(b.cur, mir.Instr{Op: mir.OpParam, Ty: x.Ty, Param: x.ID, Span: x.Span})
	case *hir.VarRef:
		return b.readVar(x.ID)
	case *hir.Probe:
		br := b.g.Branches[x.Branch]
		return b.g.Emit(b.cur, mir.Instr{Op: mir.OpVoltage, Ty: mir.TypeReal, Hi: br.Hi, Lo: br.Lo, Span: x.Span})
	case *hir.Temperature:
		return b.g.Emit(b.cur, mir.Instr{Op: mir.OpTemperature, Ty: mir.TypeReal, Span: x.Span})
	case *hir.Unary:
		arg := b.lowerExpr(x.X)
		return b.g.Emit(b.cur, mir.Instr{Op: mir.OpUnary, Ty: x.Ty, Un: x.Op, Args: []mir.ValueID{arg}, Span: x.Span})
	case *hir.Binary:
		lhs := b.lowerExpr(x.X)
		rhs := b.lowerExpr(x.Y)
		return b.g.Emit(b.cur, mir.Instr{Op: mir.OpBinary, Ty: x.Ty, Bin: x.Op, Args: []mir.ValueID{lhs, rhs}, Span: x.Span})
	case *hir.Ternary:
		cond := b.lowerExpr(x.Cond)
		then := b.lowerExpr(x.Then)
		els := b.lowerExpr(x.Else)
		return b.g.Emit(b.cur, mir.Instr{Op: mir.OpSelect, Ty: x.Ty, Args: []mir.ValueID{cond, then, els}, Span: x.Span})
	case *hir.CallBuiltin:
		args := make([]mir.ValueID, len(x.Args))
		for i, a := range x.Args {
			args[i] = b.lowerExpr(a)
		}
		return b.g.Emit(b.cur, mir.Instr{Op: mir.OpCall, Ty: mir.TypeReal, Builtin: x.Fn, Args: args, Span: x.Span})
	case *hir.Limit:
		args := make([]mir.ValueID, len(x.Args))
		for i, a := range x.Args {
			args[i] = b.lowerExpr(a)
		}
		return b.g.Emit(b.cur, mir.Instr{Op: mir.OpLimit, Ty: mir.TypeReal, Limiter: x.Fn, Args: args, Span: x.Span})
	case *hir.Ddt:
		arg := b.lowerExpr(x.Arg)
		return b.g.Emit(b.cur, mir.Instr{Op: mir.OpDdt, Ty: mir.TypeReal, Args: []mir.ValueID{arg}, Span: x.Span})
	case *hir.Noise:
		args := make([]mir.ValueID, len(x.Args))
		for i, a := range x.Args {
			args[i] = b.lowerExpr(a)
		}
		return b.g.Emit(b.cur, mir.Instr{
			Op: mir.OpNoise, Ty: mir.TypeReal,
			Noise: mir.NoisePayload{Kind: x.Kind, Name: x.Name, Branch: -1},
			Args:  args, Span: x.Span,
		})
	default:
		// Unreachable for well-formed HIR; emit a zero so lowering can
		// continue collecting diagnostics.
		return b.g.Emit(b.cur, mir.Instr{Op: mir.OpConst, Ty: mir.TypeReal})
	}
}

// containsDdt reports whether the expression tree contains a ddt call.
func containsDdt(e hir.Expr) bool {
	switch x := e.(type) {
	case *hir.Ddt:
		return true
	case *hir.Unary:
		return containsDdt(x.X)
	case *hir.Binary:
		return containsDdt(x.X) || containsDdt(x.Y)
	case *hir.Ternary:
		return containsDdt(x.Cond) || containsDdt(x.Then) || containsDdt(x.Else)
	case *hir.CallBuiltin:
		for _, a := range x.Args {
			if containsDdt(a) {
				return true
			}
		}
	case *hir.Limit:
		for _, a := range x.Args {
			if containsDdt(a) {
				return true
			}
		}
	case *hir.Noise:
		for _, a := range x.Args {
			if containsDdt(a) {
				return true
			}
		}
	}
	return false
}

// containsNoise reports whether the expression tree contains a noise
// source.
func containsNoise(e hir.Expr) bool {
	switch x := e.(type) {
	case *hir.Noise:
		return true
	case *hir.Unary:
		return containsNoise(x.X)
	case *hir.Binary:
		return containsNoise(x.X) || containsNoise(x.Y)
	case *hir.Ternary:
		return containsNoise(x.Cond) || containsNoise(x.Then) || containsNoise(x.Else)
	case *hir.CallBuiltin:
		for _, a := range x.Args {
			if containsNoise(a) {
				return true
			}
		}
	case *hir.Limit:
		for _, a := range x.Args {
			if containsNoise(a) {
				return true
			}
		}
	case *hir.Ddt:
		return containsNoise(x.Arg)
	}
	return false
}
