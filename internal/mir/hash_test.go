package mir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashWithDomainSeparation(t *testing.T) {
	data := []byte("same payload")
	a := HashWithDomain(DomainSource, data)
	b := HashWithDomain(DomainGraph, data)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
}

func TestSourceHashDeterministic(t *testing.T) {
	src := "module m(a); electrical a; analog I(a) <+ V(a); endmodule"
	assert.Equal(t, SourceHash(src), SourceHash(src))
	assert.NotEqual(t, SourceHash(src), SourceHash(src+" "))
}

func TestHashUnicodeNormalization(t *testing.T) {
	// U+00E9 versus e + U+0301 combining acute: same NFC form, so module
	// names spelled either way hash identically.
	g1 := NewGraph("café")
	g2 := NewGraph("café")
	assert.Equal(t, g1.ContentHash(), g2.ContentHash())
}

func buildResistorGraph(r float64) *Graph {
	g := NewGraph("res")
	g.Nodes = []Node{
		{Name: "a", Discipline: "electrical", Port: true},
		{Name: "b", Discipline: "electrical", Port: true},
	}
	g.Branches = []Branch{{Hi: 0, Lo: 1}}
	g.Params = []Param{{Name: "r", Ty: TypeReal, Default: r}}

	blk := g.NewBlock()
	g.Entry = blk
	path := g.ConstBool(blk, true)
	v := g.Emit(blk, Instr{Op: OpVoltage, Ty: TypeReal, Hi: 0, Lo: 1})
	p := g.Emit(blk, Instr{Op: OpParam, Ty: TypeReal, Param: 0})
	i := g.Emit(blk, Instr{Op: OpBinary, Ty: TypeReal, Bin: BinDiv, Args: []ValueID{v, p}})
	c := g.Emit(blk, Instr{
		Op: OpContribute, Ty: TypeReal, Args: []ValueID{i},
		Contrib: Contrib{Branch: 0, Kind: ContribResistive, Path: path},
	})
	g.Contribs = append(g.Contribs, c)

	g.Exit = g.NewBlock()
	g.SetJump(blk, g.Exit)
	return g
}

func TestContentHashStable(t *testing.T) {
	g1 := buildResistorGraph(100)
	g2 := buildResistorGraph(100)
	assert.Equal(t, g1.ContentHash(), g2.ContentHash())
}

func TestContentHashSensitivity(t *testing.T) {
	base := buildResistorGraph(100).ContentHash()

	t.Run("param_default", func(t *testing.T) {
		assert.NotEqual(t, base, buildResistorGraph(200).ContentHash())
	})
	t.Run("module_name", func(t *testing.T) {
		g := buildResistorGraph(100)
		g.ModuleName = "other"
		assert.NotEqual(t, base, g.ContentHash())
	})
	t.Run("node_table", func(t *testing.T) {
		g := buildResistorGraph(100)
		g.Nodes[1].Port = false
		assert.NotEqual(t, base, g.ContentHash())
	})
	t.Run("instruction_payload", func(t *testing.T) {
		g := buildResistorGraph(100)
		for i := 0; i < g.NumValues(); i++ {
			in := g.Value(ValueID(i))
			if in.Op == OpBinary {
				in.Bin = BinMul
			}
		}
		assert.NotEqual(t, base, g.ContentHash())
	})
}

func TestEnsureBranchDeduplicates(t *testing.T) {
	g := NewGraph("m")
	g.Nodes = []Node{{Name: "a"}, {Name: "b"}}

	b1 := g.EnsureBranch("", 0, 1)
	b2 := g.EnsureBranch("named", 0, 1)
	require.Equal(t, b1, b2)
	// A later name claims the anonymous branch.
	assert.Equal(t, "named", g.Branches[b1].Name)

	// Reversed endpoints are a distinct branch.
	b3 := g.EnsureBranch("", 1, 0)
	assert.NotEqual(t, b1, b3)
}

func TestRangeContains(t *testing.T) {
	halfOpen := Range{Lo: 0, Hi: 10, LoInc: false, HiInc: true}
	assert.False(t, halfOpen.Contains(0))
	assert.True(t, halfOpen.Contains(5))
	assert.True(t, halfOpen.Contains(10))
	assert.False(t, halfOpen.Contains(10.5))

	excl := Range{Exclude: true, Lo: 0}
	assert.False(t, excl.Contains(0))
	assert.True(t, excl.Contains(1))
}

func TestDependsOnVoltage(t *testing.T) {
	g := buildResistorGraph(100)

	var vDiv, vParam ValueID = NoValue, NoValue
	for i := 0; i < g.NumValues(); i++ {
		switch g.Value(ValueID(i)).Op {
		case OpBinary:
			vDiv = ValueID(i)
		case OpParam:
			vParam = ValueID(i)
		}
	}
	require.NotEqual(t, NoValue, vDiv)
	require.NotEqual(t, NoValue, vParam)

	assert.True(t, g.DependsOnVoltage(vDiv))
	assert.False(t, g.DependsOnVoltage(vParam))
}

func TestDumpDeterministic(t *testing.T) {
	g := buildResistorGraph(100)
	d1 := g.Dump()
	d2 := g.Dump()
	assert.Equal(t, d1, d2)
	assert.Contains(t, d1, "module res")
	assert.Contains(t, d1, "voltage a, b")
	assert.Contains(t, d1, "contribute resistive")
}

func TestBuiltinTable(t *testing.T) {
	b, ok := LookupBuiltin("exp")
	require.True(t, ok)
	assert.Equal(t, BuiltinExp, b)
	assert.Equal(t, 1, b.Arity())
	assert.True(t, b.HasDerivative())
	assert.InEpsilon(t, 2.718281828459045, b.Eval([]float64{1}), 1e-15)

	tr, ok := LookupBuiltin("transition")
	require.True(t, ok)
	assert.False(t, tr.HasDerivative())
	// DC pass-through.
	assert.Equal(t, 0.5, tr.Eval([]float64{0.5, 1e-9}))

	_, ok = LookupBuiltin("nosuch")
	assert.False(t, ok)
}
