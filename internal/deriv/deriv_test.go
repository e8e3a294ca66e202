package deriv_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vamodel/valc/internal/deriv"
	"github.com/vamodel/valc/internal/diag"
	"github.com/vamodel/valc/internal/hir"
	"github.com/vamodel/valc/internal/lower"
	"github.com/vamodel/valc/internal/mir"
	"github.com/vamodel/valc/internal/va"
)

func lowerSrc(t *testing.T, src string) (*mir.Graph, *diag.Sink) {
	t.Helper()
	sf, err := va.Parse("test.va", src)
	require.NoError(t, err)
	sink := diag.NewSink()
	m, err := hir.Resolve(sf.Modules[0], sink)
	require.NoError(t, err)
	g, err := lower.LowerModule(m, sink)
	require.NoError(t, err)
	return g, sink
}

type cell struct{ row, col mir.NodeID }

func cells(entries []deriv.Entry) []cell {
	out := make([]cell, len(entries))
	for i, e := range entries {
		out[i] = cell{e.Row, e.Col}
	}
	return out
}

func TestDifferentiateResistor(t *testing.T) {
	src := `
module res(a, b);
    electrical a, b;
    parameter real r = 100.0 from (0:inf);
    analog I(a, b) <+ V(a, b) / r;
endmodule
`
	g, sink := lowerSrc(t, src)
	m, err := deriv.Differentiate(g, sink)
	require.NoError(t, err)

	// Full 2x2 stamp, sorted by (row, col).
	assert.Equal(t, []cell{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, cells(m.Resistive))
	assert.Empty(t, m.Reactive)

	for _, e := range m.Resistive {
		assert.NotEqual(t, mir.NoValue, e.Val)
	}
}

func TestDifferentiateCapacitor(t *testing.T) {
	src := `
module cap(a, b);
    electrical a, b;
    parameter real c = 1e-12;
    analog I(a, b) <+ ddt(c * V(a, b));
endmodule
`
	g, sink := lowerSrc(t, src)
	m, err := deriv.Differentiate(g, sink)
	require.NoError(t, err)

	assert.Empty(t, m.Resistive)
	assert.Equal(t, []cell{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, cells(m.Reactive))
}

func TestDifferentiateGroundedBranchSkipsGroundAxes(t *testing.T) {
	src := `
module gr(a);
    electrical a;
    analog I(a) <+ V(a) / 50.0;
endmodule
`
	g, sink := lowerSrc(t, src)
	m, err := deriv.Differentiate(g, sink)
	require.NoError(t, err)

	// The ground node gets neither a row nor a column.
	assert.Equal(t, []cell{{0, 0}}, cells(m.Resistive))
}

func TestDifferentiateBiasIndependentIsEmpty(t *testing.T) {
	src := `
module src(a);
    electrical a;
    parameter real i0 = 1e-3;
    analog I(a) <+ i0;
endmodule
`
	g, sink := lowerSrc(t, src)
	m, err := deriv.Differentiate(g, sink)
	require.NoError(t, err)
	assert.Empty(t, m.Resistive)
	assert.Empty(t, m.Reactive)
}

func TestDifferentiateTransitionFatal(t *testing.T) {
	src := `
module tr(a);
    electrical a;
    analog I(a) <+ transition(V(a), 0.0, 1e-9);
endmodule
`
	g, sink := lowerSrc(t, src)
	_, err := deriv.Differentiate(g, sink)
	require.Error(t, err)

	var de *deriv.DiffError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "tr", de.Module)

	found := false
	for _, r := range sink.Records() {
		if r.Severity == diag.SeverityError && strings.Contains(r.Message, "cannot differentiate transition") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDifferentiateLimitChainsThroughRawArg(t *testing.T) {
	src := `
module lim(a, c);
    electrical a, c;
    real vd;
    analog begin
        vd = $limit(V(a, c), "pnjlim", 0.025, 0.7);
        I(a, c) <+ vd / 10.0;
    end
endmodule
`
	g, sink := lowerSrc(t, src)
	m, err := deriv.Differentiate(g, sink)
	require.NoError(t, err)

	// The limited value still depends on V(a, c), so the full stamp
	// appears even though limiting itself has no derivative of its own.
	assert.Equal(t, []cell{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, cells(m.Resistive))
}

func TestDifferentiateConditionalContribution(t *testing.T) {
	src := `
module cond(a);
    electrical a;
    parameter real mode = 1.0;
    analog begin
        if (mode > 0.5)
            I(a) <+ V(a) / 10.0;
        else
            I(a) <+ V(a) / 20.0;
    end
endmodule
`
	g, sink := lowerSrc(t, src)
	m, err := deriv.Differentiate(g, sink)
	require.NoError(t, err)

	// Both arms fold into one accumulated (a, a) slot.
	assert.Equal(t, []cell{{0, 0}}, cells(m.Resistive))
}

func TestDifferentiatePlacesDerivativesInArena(t *testing.T) {
	src := `
module res(a, b);
    electrical a, b;
    analog I(a, b) <+ V(a, b) / 100.0;
endmodule
`
	g, sink := lowerSrc(t, src)
	before := g.NumValues()
	m, err := deriv.Differentiate(g, sink)
	require.NoError(t, err)

	assert.Greater(t, g.NumValues(), before)
	for _, e := range m.Resistive {
		assert.Less(t, int(e.Val), g.NumValues())
	}
}

func TestDifferentiateMixedDiode(t *testing.T) {
	src := `
module dio(a, c);
    electrical a, c;
    parameter real is = 1e-14;
    parameter real cj0 = 1e-12;
    analog begin
        I(a, c) <+ is * (exp(V(a, c) / 0.025) - 1.0);
        I(a, c) <+ ddt(cj0 * V(a, c));
    end
endmodule
`
	g, sink := lowerSrc(t, src)
	m, err := deriv.Differentiate(g, sink)
	require.NoError(t, err)

	assert.Equal(t, []cell{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, cells(m.Resistive))
	assert.Equal(t, []cell{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, cells(m.Reactive))
}
