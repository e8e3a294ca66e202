package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vamodel/valc/internal/osdi"
)

const resistorText = `
module res(a, b);
    electrical a, b;
    parameter real r = 100.0 from (0:inf);
    analog I(a, b) <+ V(a, b) / r;
endmodule
`

func writeSource(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

// execute runs the CLI with fresh buffers and returns stdout, stderr,
// and the command error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "res.va", resistorText)

	out, _, err := execute(t, "check", src)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 1 module(s) ok")
}

func TestCheckCommandFailure(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "bad.va", `
module bad(a);
    electrical a;
    analog begin
        while (V(a) < 1.0)
            I(a) <+ 1.0;
    end
endmodule
`)

	_, _, err := execute(t, "check", src)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestCompileCommandWritesDescriptor(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "res.va", resistorText)
	outDir := t.TempDir()

	out, _, err := execute(t, "compile", "--out-dir", outDir, src)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Compiled 1 module(s)")

	data, err := os.ReadFile(filepath.Join(outDir, "res.vad"))
	require.NoError(t, err)
	d, err := osdi.DecodeBinary(data)
	require.NoError(t, err)
	assert.Equal(t, "res", d.Module)
}

func TestCompileCommandJSON(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "res.va", resistorText)

	out, _, err := execute(t, "--format", "json", "compile", src)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	payload, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var summary CompileSummary
	require.NoError(t, json.Unmarshal(payload, &summary))
	assert.NotEmpty(t, summary.RunID)
	require.Len(t, summary.Modules, 1)
	assert.Equal(t, "res", summary.Modules[0].Module)
	assert.Len(t, summary.Modules[0].GraphHash, 64)
}

func TestCompileCommandCache(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "res.va", resistorText)
	cache := filepath.Join(t.TempDir(), "cache.db")

	_, _, err := execute(t, "compile", "--cache", cache, src)
	require.NoError(t, err)

	out, _, err := execute(t, "compile", "--cache", cache, src)
	require.NoError(t, err)
	assert.Contains(t, out, "(cached)")
}

func TestCompileCommandManifest(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "res.va", resistorText)
	mf := writeSource(t, dir, "job.cue", `
name:    "job"
sources: ["res.va"]
`)

	out, _, err := execute(t, "compile", "--manifest", mf)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Compiled 1 module(s)")
}

func TestCompileCommandNoInput(t *testing.T) {
	_, _, err := execute(t, "compile")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCompileCommandMissingFile(t *testing.T) {
	_, _, err := execute(t, "compile", filepath.Join(t.TempDir(), "missing.va"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCompileCommandCompilationFailure(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "bad.va", `
module bad(a);
    electrical a;
    analog I(a) <+ V(b);
endmodule
`)

	_, errOut, err := execute(t, "compile", src)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	// Diagnostics land on stderr in text mode.
	assert.Contains(t, errOut, "unresolved node b")
}

func TestDumpCommand(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "res.va", resistorText)

	out, _, err := execute(t, "dump", src)
	require.NoError(t, err)
	assert.Contains(t, out, "module res")
	assert.Contains(t, out, "contribute resistive")
}

func TestDumpCommandModuleSelect(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "two.va", `
module one(a); electrical a; analog I(a) <+ V(a); endmodule
module two(b); electrical b; analog I(b) <+ V(b); endmodule
`)

	out, _, err := execute(t, "dump", "--module", "two", src)
	require.NoError(t, err)
	assert.Contains(t, out, "module two")

	_, _, err = execute(t, "dump", "--module", "three", src)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDescriptorCommand(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "res.va", resistorText)
	outDir := t.TempDir()

	_, _, err := execute(t, "compile", "--out-dir", outDir, src)
	require.NoError(t, err)

	out, _, err := execute(t, "descriptor", filepath.Join(outDir, "res.vad"))
	require.NoError(t, err)
	assert.Contains(t, out, "module res (descriptor v1)")
	assert.Contains(t, out, "node a electrical port")
	assert.Contains(t, out, "param r default=100")
	assert.Contains(t, out, "jacobian (a,a) R")
}

func TestDescriptorCommandRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	bad := writeSource(t, dir, "junk.vad", "not a descriptor")

	_, _, err := execute(t, "descriptor", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestInvalidFormatFlag(t *testing.T) {
	_, _, err := execute(t, "--format", "xml", "check", "whatever.va")
	require.Error(t, err)
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "boom")))
	assert.Equal(t, ExitFailure, GetExitCode(WrapExitError(ExitFailure, "wrap", assert.AnError)))
}
