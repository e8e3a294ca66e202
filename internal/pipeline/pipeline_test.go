package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vamodel/valc/internal/diag"
	"github.com/vamodel/valc/internal/osdi"
	"github.com/vamodel/valc/internal/store"
	"github.com/vamodel/valc/internal/va"
)

const resistorText = `
module res(a, b);
    electrical a, b;
    parameter real r = 100.0 from (0:inf);
    analog I(a, b) <+ V(a, b) / r;
endmodule
`

const twoModuleText = `
module alpha(a);
    electrical a;
    analog I(a) <+ V(a) / 10.0;
endmodule
module beta(b);
    electrical b;
    analog I(b) <+ V(b) / 20.0;
endmodule
`

func parseFirst(t *testing.T, text string) *va.Module {
	t.Helper()
	sf, err := va.Parse("test.va", text)
	require.NoError(t, err)
	return sf.Modules[0]
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCompileModule(t *testing.T) {
	sink := diag.NewSink()
	res, err := CompileModule(parseFirst(t, resistorText), sink)
	require.NoError(t, err)
	assert.False(t, sink.HasErrors())

	assert.Equal(t, "res", res.Module)
	assert.Len(t, res.GraphHash, 64)
	assert.NotEmpty(t, res.Dump)
	require.NotNil(t, res.Backend)

	d, err := osdi.DecodeBinary(res.Descriptor)
	require.NoError(t, err)
	assert.Equal(t, "res", d.Module)
	assert.Equal(t, res.GraphHash, d.GraphHash)
	assert.Len(t, d.Entries, 4)
}

func TestCompileModuleDeterministic(t *testing.T) {
	r1, err := CompileModule(parseFirst(t, resistorText), diag.NewSink())
	require.NoError(t, err)
	r2, err := CompileModule(parseFirst(t, resistorText), diag.NewSink())
	require.NoError(t, err)

	assert.Equal(t, r1.GraphHash, r2.GraphHash)
	assert.Equal(t, r1.Descriptor, r2.Descriptor)
	assert.Equal(t, r1.Dump, r2.Dump)
}

func TestRunMultipleModulesSorted(t *testing.T) {
	r := NewRunner(Options{Workers: 4})
	sink := diag.NewSink()

	results, runID, err := r.Run(context.Background(), []Source{
		{File: "two.va", Text: twoModuleText},
	}, sink)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].Module)
	assert.Equal(t, "beta", results[1].Module)
	assert.False(t, results[0].CacheHit)
}

func TestRunCacheHit(t *testing.T) {
	s := openTestStore(t)
	r := NewRunner(Options{Workers: 1, Store: s})
	ctx := context.Background()
	sources := []Source{{File: "res.va", Text: resistorText}}

	first, _, err := r.Run(ctx, sources, diag.NewSink())
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.False(t, first[0].CacheHit)

	second, _, err := r.Run(ctx, sources, diag.NewSink())
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.True(t, second[0].CacheHit)

	// The persisted descriptor stands in for the full compilation.
	assert.Nil(t, second[0].Graph)
	assert.Nil(t, second[0].Backend)
	assert.Equal(t, first[0].Descriptor, second[0].Descriptor)
	assert.Equal(t, first[0].GraphHash, second[0].GraphHash)
	assert.Equal(t, first[0].Dump, second[0].Dump)

	n, err := s.CountArtifacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunCacheMissOnChangedSource(t *testing.T) {
	s := openTestStore(t)
	r := NewRunner(Options{Workers: 1, Store: s})
	ctx := context.Background()

	_, _, err := r.Run(ctx, []Source{{File: "res.va", Text: resistorText}}, diag.NewSink())
	require.NoError(t, err)

	changed := resistorText + "\n// touched\n"
	results, _, err := r.Run(ctx, []Source{{File: "res.va", Text: changed}}, diag.NewSink())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].CacheHit)
}

func TestRunPartialFailure(t *testing.T) {
	bad := `
module broken(a);
    electrical a;
    analog begin
        while (V(a) < 1.0)
            I(a) <+ 1.0;
    end
endmodule
`
	r := NewRunner(Options{Workers: 2})
	sink := diag.NewSink()

	results, _, err := r.Run(context.Background(), []Source{
		{File: "good.va", Text: resistorText},
		{File: "bad.va", Text: bad},
	}, sink)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"broken"}, ce.Failed)

	// The good module still compiled.
	require.Len(t, results, 1)
	assert.Equal(t, "res", results[0].Module)
	assert.True(t, sink.HasErrors())
}

func TestRunParseFailure(t *testing.T) {
	r := NewRunner(Options{})
	sink := diag.NewSink()

	_, _, err := r.Run(context.Background(), []Source{
		{File: "junk.va", Text: "this is not verilog"},
	}, sink)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"junk.va"}, ce.Failed)
	assert.True(t, sink.HasErrors())
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(Options{Workers: 2})
	_, _, err := r.Run(ctx, []Source{{File: "res.va", Text: resistorText}}, diag.NewSink())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunRecordsProvenance(t *testing.T) {
	s := openTestStore(t)
	r := NewRunner(Options{Workers: 1, Store: s})

	_, runID, err := r.Run(context.Background(), []Source{
		{File: "res.va", Text: resistorText},
	}, diag.NewSink())
	require.NoError(t, err)

	var status string
	require.NoError(t, s.DB().QueryRow(`SELECT status FROM runs WHERE id = ?`, runID).Scan(&status))
	assert.Equal(t, "ok", status)
}

func TestManifestHashOrderSensitive(t *testing.T) {
	a := Source{File: "a.va", Text: "aa"}
	b := Source{File: "b.va", Text: "bb"}
	assert.Equal(t, manifestHash([]Source{a, b}), manifestHash([]Source{a, b}))
	assert.NotEqual(t, manifestHash([]Source{a, b}), manifestHash([]Source{b, a}))
}
