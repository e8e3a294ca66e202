package opt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vamodel/valc/internal/deriv"
	"github.com/vamodel/valc/internal/diag"
	"github.com/vamodel/valc/internal/hir"
	"github.com/vamodel/valc/internal/lower"
	"github.com/vamodel/valc/internal/mir"
	"github.com/vamodel/valc/internal/opt"
	"github.com/vamodel/valc/internal/osdi"
	"github.com/vamodel/valc/internal/va"
)

func compile(t *testing.T, src string) (*mir.Graph, *deriv.Matrix) {
	t.Helper()
	sf, err := va.Parse("test.va", src)
	require.NoError(t, err)
	sink := diag.NewSink()
	m, err := hir.Resolve(sf.Modules[0], sink)
	require.NoError(t, err)
	g, err := lower.LowerModule(m, sink)
	require.NoError(t, err)
	mat, err := deriv.Differentiate(g, sink)
	require.NoError(t, err)
	return g, mat
}

func countOps(g *mir.Graph, op mir.Op) int {
	n := 0
	for _, blk := range g.Blocks {
		for _, id := range blk.Instrs {
			if g.Value(id).Op == op {
				n++
			}
		}
	}
	return n
}

func TestOptimizeStripsIdentities(t *testing.T) {
	src := `
module m(a);
    electrical a;
    analog I(a) <+ V(a) * 1.0 + 0.0;
endmodule
`
	g, mat := compile(t, src)
	opt.Optimize(g, mat)

	require.Len(t, g.Contribs, 1)
	c := g.Value(g.Contribs[0])
	// x*1 + 0 collapses to the probe itself.
	assert.Equal(t, mir.OpVoltage, g.Value(c.Args[0]).Op)
}

func TestOptimizeConstFolding(t *testing.T) {
	src := `
module m(a);
    electrical a;
    analog I(a) <+ (2.0 * 3.0) * V(a);
endmodule
`
	g, mat := compile(t, src)
	opt.Optimize(g, mat)

	require.Len(t, g.Contribs, 1)
	mul := g.Value(g.Value(g.Contribs[0]).Args[0])
	require.Equal(t, mir.OpBinary, mul.Op)

	folded := false
	for _, a := range mul.Args {
		if v, ok := g.IsConst(a); ok && v == 6 {
			folded = true
		}
	}
	assert.True(t, folded)
}

func TestOptimizeDoesNotFoldDivisionByZero(t *testing.T) {
	src := `
module m(a);
    electrical a;
    analog I(a) <+ V(a) + 1.0 / 0.0;
endmodule
`
	g, mat := compile(t, src)
	opt.Optimize(g, mat)

	// The div survives so the failure stays a runtime matter.
	assert.Equal(t, 1, countBin(g, mir.BinDiv))
}

func countBin(g *mir.Graph, op mir.BinOp) int {
	n := 0
	for _, blk := range g.Blocks {
		for _, id := range blk.Instrs {
			in := g.Value(id)
			if in.Op == mir.OpBinary && in.Bin == op {
				n++
			}
		}
	}
	return n
}

func TestOptimizeCSEMergesProbes(t *testing.T) {
	src := `
module m(a);
    electrical a;
    analog I(a) <+ V(a) * V(a);
endmodule
`
	g, mat := compile(t, src)
	require.Equal(t, 2, countOps(g, mir.OpVoltage))
	opt.Optimize(g, mat)
	assert.Equal(t, 1, countOps(g, mir.OpVoltage))
}

func TestOptimizeDCERemovesUnusedComputation(t *testing.T) {
	src := `
module m(a);
    electrical a;
    real unused;
    analog begin
        unused = sin(V(a));
        I(a) <+ V(a) / 10.0;
    end
endmodule
`
	g, mat := compile(t, src)
	require.Equal(t, 1, countOps(g, mir.OpCall))
	opt.Optimize(g, mat)
	assert.Equal(t, 0, countOps(g, mir.OpCall))
}

func TestOptimizeKeepsPathConditions(t *testing.T) {
	src := `
module m(a);
    electrical a;
    parameter real mode = 1.0;
    analog begin
        if (mode > 0.5)
            I(a) <+ V(a) / 10.0;
    end
endmodule
`
	g, mat := compile(t, src)
	opt.Optimize(g, mat)

	require.Len(t, g.Contribs, 1)
	c := g.Value(g.Contribs[0])
	assert.NotEqual(t, mir.NoValue, c.Contrib.Path)
	// The path value must survive elimination; it is a root even though
	// no instruction lists it as an argument.
	placed := false
	for _, blk := range g.Blocks {
		for _, id := range blk.Instrs {
			if id == c.Contrib.Path {
				placed = true
			}
		}
	}
	assert.True(t, placed)
}

func TestOptimizeSparsifiesZeroEntries(t *testing.T) {
	src := `
module m(a);
    electrical a;
    analog I(a) <+ V(a) - V(a);
endmodule
`
	g, mat := compile(t, src)
	require.NotEmpty(t, mat.Resistive)
	opt.Optimize(g, mat)
	// d(V - V)/dV folds to zero, so the slot disappears.
	assert.Empty(t, mat.Resistive)
}

func TestOptimizeKeepsMatrixEntriesAlive(t *testing.T) {
	src := `
module m(a, b);
    electrical a, b;
    parameter real r = 100.0;
    analog I(a, b) <+ V(a, b) / r;
endmodule
`
	g, mat := compile(t, src)
	opt.Optimize(g, mat)

	require.Len(t, mat.Resistive, 4)
	for _, e := range mat.Resistive {
		placed := false
		for _, blk := range g.Blocks {
			for _, id := range blk.Instrs {
				if id == e.Val {
					placed = true
				}
			}
		}
		assert.True(t, placed, "entry (%d,%d) value eliminated", e.Row, e.Col)
	}
}

func TestOptimizePreservesCollapseAndNoise(t *testing.T) {
	src := `
module m(a, b);
    electrical a, b, mid;
    branch (a, mid) sh;
    parameter real r = 50.0;
    analog begin
        V(sh) <+ 0.0;
        I(mid, b) <+ V(mid, b) / r;
        I(mid, b) <+ white_noise(4e-21 / r, "thermal");
    end
endmodule
`
	g, mat := compile(t, src)
	opt.Optimize(g, mat)

	assert.Equal(t, 1, countOps(g, mir.OpCollapse))
	assert.Equal(t, 1, countOps(g, mir.OpNoise))
	require.Len(t, g.Noises, 1)
}

// jacValues keys a Jacobian slice by (row, col) so sparsity patterns
// of different descriptors can be compared; absent slots read as zero.
func jacValues(d *osdi.Descriptor, vals []float64) map[[2]int32]float64 {
	m := make(map[[2]int32]float64, len(d.Entries))
	for i, e := range d.Entries {
		m[[2]int32{e.Row, e.Col}] = vals[i]
	}
	return m
}

func TestOptimizePreservesEvaluation(t *testing.T) {
	// Conditional arms, a shared exponential, foldable constants, and
	// identity operands all in one module. The optimized graph must
	// evaluate exactly like the raw one at every operating point.
	src := `
module pw(a, c);
    electrical a, c;
    parameter real is = 1e-14 from (0:inf);
    parameter real thr = 0.3;
    real vd, i0;
    analog begin
        vd = V(a, c);
        i0 = is * (exp(vd / 0.025) - 1.0) + is * (exp(vd / 0.025) - 1.0) * 1.0e-3;
        if (vd > thr)
            I(a, c) <+ i0 * 1.0 + vd * vd / (2.0 * 3.0);
        else
            I(a, c) <+ 0.1 * i0 + 0.0;
        I(a, c) <+ ddt(1.0e-12 * vd * vd);
    end
endmodule
`
	raw, rawMat := compile(t, src)
	optimized, optMat := compile(t, src)
	opt.Optimize(optimized, optMat)

	rawBE := osdi.NewInterp(raw, rawMat)
	optBE := osdi.NewInterp(optimized, optMat)

	for _, v := range []float64{-0.5, 0.0, 0.25, 0.3, 0.35, 0.6} {
		in := osdi.Inputs{Voltages: []float64{v, 0}, Params: []float64{1e-14, 0.3}}
		want, err := rawBE.Eval(in)
		require.NoError(t, err)
		got, err := optBE.Eval(in)
		require.NoError(t, err)

		for i := range want.Residual {
			assert.InDelta(t, want.Residual[i], got.Residual[i], 0, "residual node %d at v=%g", i, v)
			assert.InDelta(t, want.Charge[i], got.Charge[i], 0, "charge node %d at v=%g", i, v)
		}
		gotRes := jacValues(optBE.Descriptor(), got.Resistive)
		for k, w := range jacValues(rawBE.Descriptor(), want.Resistive) {
			assert.InDelta(t, w, gotRes[k], 0, "resistive (%d,%d) at v=%g", k[0], k[1], v)
		}
		gotRea := jacValues(optBE.Descriptor(), got.Reactive)
		for k, w := range jacValues(rawBE.Descriptor(), want.Reactive) {
			assert.InDelta(t, w, gotRea[k], 0, "reactive (%d,%d) at v=%g", k[0], k[1], v)
		}
	}
}

func TestOptimizeNegNegCancels(t *testing.T) {
	src := `
module m(a);
    electrical a;
    real x;
    analog begin
        x = -(-V(a));
        I(a) <+ x;
    end
endmodule
`
	g, mat := compile(t, src)
	opt.Optimize(g, mat)

	require.Len(t, g.Contribs, 1)
	c := g.Value(g.Contribs[0])
	assert.Equal(t, mir.OpVoltage, g.Value(c.Args[0]).Op)
}
