package va

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const diodeSrc = `
// Junction diode with depletion charge.
module diode(a, c);
    inout a, c;
    electrical a, c;
    (* unit="A", desc="saturation current" *)
    parameter real is = 1e-14 from (0:inf);
    parameter real n = 1.0 from (0:10];
    parameter real cj0 = 1e-12 from [0:inf);
    real vd, id;
    analog begin
        vd = V(a, c);
        id = is * (exp(vd / (n * 0.0258520269)) - 1.0);
        I(a, c) <+ id;
        I(a, c) <+ ddt(cj0 * vd);
    end
endmodule
`

func TestParseDiode(t *testing.T) {
	sf, err := Parse("diode.va", diodeSrc)
	require.NoError(t, err)
	require.Len(t, sf.Modules, 1)

	m := sf.Modules[0]
	assert.Equal(t, "diode", m.Name)
	assert.Equal(t, []string{"a", "c"}, m.Ports)

	var params []*ParamDecl
	var analog *AnalogBlock
	for _, item := range m.Items {
		switch it := item.(type) {
		case *ParamDecl:
			params = append(params, it)
		case *AnalogBlock:
			analog = it
		}
	}
	require.Len(t, params, 3)
	require.NotNil(t, analog)

	is := params[0]
	assert.Equal(t, "is", is.Name)
	assert.Equal(t, TypeReal, is.Type)
	assert.Equal(t, "A", is.Unit)
	assert.Equal(t, "saturation current", is.Desc)
	require.Len(t, is.Ranges, 1)
	assert.False(t, is.Ranges[0].Exclude)
	assert.False(t, is.Ranges[0].Lo.Inclusive)
	assert.True(t, is.Ranges[0].Hi.Unbounded)

	n := params[1]
	require.Len(t, n.Ranges, 1)
	assert.False(t, n.Ranges[0].Lo.Inclusive)
	assert.True(t, n.Ranges[0].Hi.Inclusive)

	body, ok := analog.Body.(*Block)
	require.True(t, ok)
	require.Len(t, body.Stmts, 4)

	contrib, ok := body.Stmts[2].(*Contribution)
	require.True(t, ok)
	assert.Equal(t, AccessFlow, contrib.Access)
	assert.Equal(t, "a", contrib.Ref.Hi)
	assert.Equal(t, "c", contrib.Ref.Lo)
}

func TestParseScaleFactors(t *testing.T) {
	tests := []struct {
		name string
		lit  string
		want float64
	}{
		{"tera", "2T", 2e12},
		{"giga", "3G", 3e9},
		{"mega", "4M", 4e6},
		{"kilo_upper", "5K", 5e3},
		{"kilo_lower", "5k", 5e3},
		{"milli", "6m", 6e-3},
		{"micro", "7u", 7e-6},
		{"nano", "8n", 8e-9},
		{"pico", "9p", 9e-12},
		{"femto", "1f", 1e-15},
		{"atto", "2a", 2e-18},
		{"exponent", "1.5e-3", 1.5e-3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := "module m(a); electrical a; parameter real p = " + tt.lit + "; analog I(a) <+ p; endmodule"
			sf, err := Parse("m.va", src)
			require.NoError(t, err)

			var p *ParamDecl
			for _, item := range sf.Modules[0].Items {
				if pd, ok := item.(*ParamDecl); ok {
					p = pd
				}
			}
			require.NotNil(t, p)
			lit, ok := p.Default.(*NumberLit)
			require.True(t, ok)
			assert.InEpsilon(t, tt.want, lit.Value, 1e-12)
		})
	}
}

func TestParsePrecedence(t *testing.T) {
	src := "module m(a); electrical a; analog I(a) <+ 1.0 + 2.0 * 3.0 ** 2.0; endmodule"
	sf, err := Parse("m.va", src)
	require.NoError(t, err)

	contrib := firstContribution(t, sf.Modules[0])
	add, ok := contrib.Rhs.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "+", add.Op)

	mul, ok := add.Y.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "*", mul.Op)

	pow, ok := mul.Y.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "**", pow.Op)
}

func TestParsePowerRightAssociative(t *testing.T) {
	src := "module m(a); electrical a; analog I(a) <+ 2.0 ** 3.0 ** 2.0; endmodule"
	sf, err := Parse("m.va", src)
	require.NoError(t, err)

	contrib := firstContribution(t, sf.Modules[0])
	outer, ok := contrib.Rhs.(*Binary)
	require.True(t, ok)
	require.Equal(t, "**", outer.Op)

	// Right-associative: 2 ** (3 ** 2).
	inner, ok := outer.Y.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "**", inner.Op)
}

func TestParseBranchAndCollapse(t *testing.T) {
	src := `
module m(a, b);
    electrical a, b, mid;
    branch (a, mid) br_series;
    analog begin
        V(br_series) <+ 0.0;
        I(mid, b) <+ V(mid, b) / 1.0;
    end
endmodule
`
	sf, err := Parse("m.va", src)
	require.NoError(t, err)

	var br *BranchDecl
	for _, item := range sf.Modules[0].Items {
		if b, ok := item.(*BranchDecl); ok {
			br = b
		}
	}
	require.NotNil(t, br)
	assert.Equal(t, "br_series", br.Name)
	assert.Equal(t, "a", br.Hi)
	assert.Equal(t, "mid", br.Lo)

	contrib := firstContribution(t, sf.Modules[0])
	assert.Equal(t, AccessPotential, contrib.Access)
	assert.Equal(t, "br_series", contrib.Ref.Hi)
	assert.Empty(t, contrib.Ref.Lo)
}

func TestParseExcludeRange(t *testing.T) {
	src := "module m(a); electrical a; parameter real r = 1.0 from [0:inf) exclude 0; analog I(a) <+ V(a)/r; endmodule"
	sf, err := Parse("m.va", src)
	require.NoError(t, err)

	var p *ParamDecl
	for _, item := range sf.Modules[0].Items {
		if pd, ok := item.(*ParamDecl); ok {
			p = pd
		}
	}
	require.NotNil(t, p)
	require.Len(t, p.Ranges, 2)
	assert.False(t, p.Ranges[0].Exclude)
	assert.True(t, p.Ranges[1].Exclude)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"no_module", "parameter real x = 1;"},
		{"unterminated_module", "module m(a); electrical a;"},
		{"bad_contribution_op", "module m(a); electrical a; analog I(a) < 1.0; endmodule"},
		{"missing_semicolon", "module m(a); electrical a analog I(a) <+ 1.0; endmodule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.va", tt.src)
			require.Error(t, err)

			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.NotEmpty(t, pe.Message)
		})
	}
}

func TestLexErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unterminated_string", `module m(a); electrical a; analog I(a) <+ white_noise(1.0, "th; endmodule`},
		{"unterminated_comment", "module m(a); /* no end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.va", tt.src)
			require.Error(t, err)

			var le *LexError
			require.ErrorAs(t, err, &le)
			assert.NotEmpty(t, le.Message)
		})
	}
}

func TestParseMultipleModules(t *testing.T) {
	src := `
module one(a); electrical a; analog I(a) <+ 1.0; endmodule
module two(b); electrical b; analog I(b) <+ 2.0; endmodule
`
	sf, err := Parse("two.va", src)
	require.NoError(t, err)
	require.Len(t, sf.Modules, 2)
	assert.Equal(t, "one", sf.Modules[0].Name)
	assert.Equal(t, "two", sf.Modules[1].Name)
}

// firstContribution digs the first contribution statement out of the
// module's analog block.
func firstContribution(t *testing.T, m *Module) *Contribution {
	t.Helper()
	var analog *AnalogBlock
	for _, item := range m.Items {
		if a, ok := item.(*AnalogBlock); ok {
			analog = a
		}
	}
	require.NotNil(t, analog)

	var find func(s Stmt) *Contribution
	find = func(s Stmt) *Contribution {
		switch x := s.(type) {
		case *Contribution:
			return x
		case *Block:
			for _, st := range x.Stmts {
				if c := find(st); c != nil {
					return c
				}
			}
		}
		return nil
	}
	c := find(analog.Body)
	require.NotNil(t, c)
	return c
}
