package osdi_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vamodel/valc/internal/deriv"
	"github.com/vamodel/valc/internal/diag"
	"github.com/vamodel/valc/internal/hir"
	"github.com/vamodel/valc/internal/lower"
	"github.com/vamodel/valc/internal/opt"
	"github.com/vamodel/valc/internal/osdi"
	"github.com/vamodel/valc/internal/va"
)

func buildBackend(t *testing.T, src string) *osdi.Interp {
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
	opt.Optimize(g, mat)
	return osdi.NewInterp(g, mat)
}

const resistorSrc = `
module res(a, b);
    electrical a, b;
    parameter real r = 100.0 from (0:inf);
    analog I(a, b) <+ V(a, b) / r;
endmodule
`

func entryIndex(d *osdi.Descriptor, row, col int32) int {
	for i, e := range d.Entries {
		if e.Row == row && e.Col == col {
			return i
		}
	}
	return -1
}

func TestInterpResistor(t *testing.T) {
	be := buildBackend(t, resistorSrc)
	d := be.Descriptor()

	require.Len(t, d.Nodes, 2)
	require.Len(t, d.Params, 1)
	require.Len(t, d.Entries, 4)

	const r = 100.0
	out, err := be.Eval(osdi.Inputs{
		Voltages:    []float64{1.0, 0.25},
		Params:      []float64{r},
		Temperature: 300.15,
	})
	require.NoError(t, err)

	i := (1.0 - 0.25) / r
	assert.InEpsilon(t, i, out.Residual[0], 1e-12)
	assert.InEpsilon(t, -i, out.Residual[1], 1e-12)

	g := 1 / r
	assert.InEpsilon(t, g, out.Resistive[entryIndex(d, 0, 0)], 1e-12)
	assert.InEpsilon(t, -g, out.Resistive[entryIndex(d, 0, 1)], 1e-12)
	assert.InEpsilon(t, -g, out.Resistive[entryIndex(d, 1, 0)], 1e-12)
	assert.InEpsilon(t, g, out.Resistive[entryIndex(d, 1, 1)], 1e-12)

	for _, v := range out.Reactive {
		assert.Zero(t, v)
	}
}

func TestInterpDiode(t *testing.T) {
	src := `
module dio(a, c);
    electrical a, c;
    parameter real is = 1e-14 from (0:inf);
    parameter real n = 1.0 from (0:10];
    analog I(a, c) <+ is * (exp(V(a, c) / (n * 0.025)) - 1.0);
endmodule
`
	be := buildBackend(t, src)
	d := be.Descriptor()

	const (
		is = 1e-14
		vt = 0.025
		vd = 0.6
	)
	out, err := be.Eval(osdi.Inputs{
		Voltages: []float64{vd, 0},
		Params:   []float64{is, 1.0},
	})
	require.NoError(t, err)

	id := is * (math.Exp(vd/vt) - 1)
	assert.InEpsilon(t, id, out.Residual[0], 1e-12)
	assert.InEpsilon(t, -id, out.Residual[1], 1e-12)

	gd := is * math.Exp(vd/vt) / vt
	assert.InEpsilon(t, gd, out.Resistive[entryIndex(d, 0, 0)], 1e-9)
	assert.InEpsilon(t, -gd, out.Resistive[entryIndex(d, 0, 1)], 1e-9)
}

func TestInterpCapacitorCharge(t *testing.T) {
	src := `
module cap(a, b);
    electrical a, b;
    parameter real c = 1e-12;
    analog I(a, b) <+ ddt(c * V(a, b));
endmodule
`
	be := buildBackend(t, src)
	d := be.Descriptor()

	const c = 2e-12
	out, err := be.Eval(osdi.Inputs{
		Voltages: []float64{1.5, 0.5},
		Params:   []float64{c},
	})
	require.NoError(t, err)

	// DC residual of a pure capacitor is zero; the charge carries c*v.
	assert.Zero(t, out.Residual[0])
	assert.Zero(t, out.Residual[1])
	q := c * 1.0
	assert.InEpsilon(t, q, out.Charge[0], 1e-12)
	assert.InEpsilon(t, -q, out.Charge[1], 1e-12)

	assert.InEpsilon(t, c, out.Reactive[entryIndex(d, 0, 0)], 1e-12)
	assert.InEpsilon(t, -c, out.Reactive[entryIndex(d, 0, 1)], 1e-12)
}

func TestInterpConditionalPaths(t *testing.T) {
	src := `
module sw(a);
    electrical a;
    parameter real thr = 0.5;
    analog begin
        if (V(a) > thr)
            I(a) <+ V(a) * V(a);
        else
            I(a) <+ 0.1 * V(a);
    end
endmodule
`
	be := buildBackend(t, src)
	d := be.Descriptor()

	// Both arms stamp the same slot; the sum over arms sees the skipped
	// arm's derivative as zero, so only the taken arm's value lands.
	on, err := be.Eval(osdi.Inputs{Voltages: []float64{1.0}, Params: []float64{0.5}})
	require.NoError(t, err)
	assert.InEpsilon(t, 1.0, on.Residual[0], 1e-12)
	assert.InEpsilon(t, 2.0, on.Resistive[entryIndex(d, 0, 0)], 1e-12)

	off, err := be.Eval(osdi.Inputs{Voltages: []float64{0.2}, Params: []float64{0.5}})
	require.NoError(t, err)
	assert.InEpsilon(t, 0.02, off.Residual[0], 1e-12)
	assert.InEpsilon(t, 0.1, off.Resistive[entryIndex(d, 0, 0)], 1e-12)
}

func TestInterpLimitIsIdentity(t *testing.T) {
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
	be := buildBackend(t, src)
	out, err := be.Eval(osdi.Inputs{Voltages: []float64{0.8, 0}, Params: nil})
	require.NoError(t, err)
	assert.InEpsilon(t, 0.08, out.Residual[0], 1e-12)
}

func TestInterpTemperature(t *testing.T) {
	src := `
module th(a);
    electrical a;
    analog I(a) <+ V(a) * $temperature / 300.0;
endmodule
`
	be := buildBackend(t, src)
	out, err := be.Eval(osdi.Inputs{Voltages: []float64{1.0}, Params: nil, Temperature: 350.0})
	require.NoError(t, err)
	assert.InEpsilon(t, 350.0/300.0, out.Residual[0], 1e-12)
}

func TestInterpNoiseDensities(t *testing.T) {
	src := `
module r(a, b);
    electrical a, b;
    parameter real res = 100.0;
    analog begin
        I(a, b) <+ V(a, b) / res;
        I(a, b) <+ white_noise(4e-21 / res, "thermal");
        I(a, b) <+ flicker_noise(1e-12 / res, 1.0, "fl");
    end
endmodule
`
	be := buildBackend(t, src)
	d := be.Descriptor()

	require.Len(t, d.Noise, 2)
	assert.Equal(t, "thermal", d.Noise[0].Name)
	assert.False(t, d.Noise[0].Flicker)
	assert.True(t, d.Noise[1].Flicker)

	out, err := be.Eval(osdi.Inputs{Voltages: []float64{0.1, 0}, Params: []float64{200.0}})
	require.NoError(t, err)
	require.Len(t, out.Noise, 2)
	assert.InEpsilon(t, 4e-21/200.0, out.Noise[0].Power, 1e-12)
	assert.Zero(t, out.Noise[0].Exponent)
	assert.InEpsilon(t, 1e-12/200.0, out.Noise[1].Power, 1e-12)
	assert.InEpsilon(t, 1.0, out.Noise[1].Exponent, 1e-12)
	// Noise injects nothing into the DC residual.
	assert.InEpsilon(t, 0.1/200.0, out.Residual[0], 1e-12)
}

func TestValidateParams(t *testing.T) {
	be := buildBackend(t, resistorSrc)

	require.NoError(t, be.ValidateParams([]float64{50.0}))

	err := be.ValidateParams([]float64{0})
	require.Error(t, err)
	var pre *osdi.ParamRangeError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, "r", pre.Param)
	assert.Equal(t, 0.0, pre.Value)

	_, err = be.Eval(osdi.Inputs{Voltages: []float64{1, 0}, Params: []float64{-1}})
	require.Error(t, err)
	require.ErrorAs(t, err, &pre)
}

func TestValidateParamsExclude(t *testing.T) {
	src := `
module m(a);
    electrical a;
    parameter real r = 1.0 from [0:inf) exclude 0;
    analog I(a) <+ V(a) * r;
endmodule
`
	be := buildBackend(t, src)
	require.NoError(t, be.ValidateParams([]float64{1}))
	assert.Error(t, be.ValidateParams([]float64{0}))
}

func TestEvalInputShapeErrors(t *testing.T) {
	be := buildBackend(t, resistorSrc)

	_, err := be.Eval(osdi.Inputs{Voltages: []float64{1}, Params: []float64{100}})
	var ee *osdi.EvalError
	require.ErrorAs(t, err, &ee)

	_, err = be.Eval(osdi.Inputs{Voltages: []float64{1, 0}, Params: nil})
	require.ErrorAs(t, err, &ee)
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	src := `
module full(a, c);
    electrical a, c, mid;
    branch (a, mid) sh;
    parameter real is = 1e-14 from (0:inf);
    parameter real cj0 = 1e-12 from [0:inf);
    analog begin
        V(sh) <+ 0.0;
        I(mid, c) <+ is * (exp(V(mid, c) / 0.025) - 1.0);
        I(mid, c) <+ ddt(cj0 * V(mid, c));
        I(mid, c) <+ white_noise(2.0 * 1.602176634e-19 * is, "shot");
    end
endmodule
`
	be := buildBackend(t, src)
	d := be.Descriptor()

	data := d.EncodeBinary()
	got, err := osdi.DecodeBinary(data)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestEncodeDeterministic(t *testing.T) {
	b1 := buildBackend(t, resistorSrc)
	b2 := buildBackend(t, resistorSrc)
	assert.Equal(t, b1.Descriptor().EncodeBinary(), b2.Descriptor().EncodeBinary())
}

func TestDecodeRejectsCorruptInput(t *testing.T) {
	be := buildBackend(t, resistorSrc)
	data := be.Descriptor().EncodeBinary()

	t.Run("bad_magic", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[0] ^= 0xff
		_, err := osdi.DecodeBinary(bad)
		require.Error(t, err)
	})
	t.Run("truncated", func(t *testing.T) {
		_, err := osdi.DecodeBinary(data[:len(data)/2])
		require.Error(t, err)
	})
	t.Run("trailing_garbage", func(t *testing.T) {
		_, err := osdi.DecodeBinary(append(append([]byte(nil), data...), 0x00))
		require.Error(t, err)
	})
	t.Run("empty", func(t *testing.T) {
		_, err := osdi.DecodeBinary(nil)
		require.Error(t, err)
	})
}
