// Package manifest loads compile-job manifests written in CUE. A
// manifest names the sources to compile and how: cache location,
// worker count, and an optional module filter. CUE gives the job file
// types and defaults without a bespoke parser.
package manifest

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Manifest describes one compile job.
type Manifest struct {
	// Name identifies the job in logs and run provenance.
	Name string
	// Sources are the Verilog-A files to compile, relative to the
	// manifest's directory unless absolute.
	Sources []string
	// Cache is the SQLite artifact database path; empty disables the
	// persistent cache.
	Cache string
	// Workers bounds parallel module compilations; 0 means one per CPU.
	Workers int
	// Modules optionally restricts which declared modules to emit.
	Modules []string
}

// schema constrains manifests and supplies defaults. Unification with
// the user's file rejects unknown fields and wrong types with
// positioned errors.
const schema = `
{
	name:     string
	sources:  [...string] & [_, ...]
	cache:    string | *""
	workers:  int & >=0 | *0
	modules:  [...string] | *[]
}
`

// ManifestError is a positioned manifest failure.
type ManifestError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ManifestError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads and compiles a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(path, string(data))
}

// Parse compiles manifest text against the schema.
func Parse(filename, src string) (*Manifest, error) {
	ctx := cuecontext.New()

	sv := ctx.CompileString(schema)
	if err := sv.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	unified := sv.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	return decode(unified)
}

func decode(v cue.Value) (*Manifest, error) {
	m := &Manifest{}
	var err error

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if !nameVal.Exists() {
		return nil, &ManifestError{Field: "name", Message: "name is required", Pos: v.Pos()}
	}
	if m.Name, err = nameVal.String(); err != nil {
		return nil, formatCUEError(err)
	}

	srcVal := v.LookupPath(cue.ParsePath("sources"))
	iter, err := srcVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		m.Sources = append(m.Sources, s)
	}
	if len(m.Sources) == 0 {
		return nil, &ManifestError{Field: "sources", Message: "at least one source is required", Pos: srcVal.Pos()}
	}

	if m.Cache, err = v.LookupPath(cue.ParsePath("cache")).String(); err != nil {
		return nil, formatCUEError(err)
	}

	workers, err := v.LookupPath(cue.ParsePath("workers")).Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	m.Workers = int(workers)

	modVal := v.LookupPath(cue.ParsePath("modules"))
	iter, err = modVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		m.Modules = append(m.Modules, s)
	}

	return m, nil
}

// Wants reports whether the manifest selects the named module. An
// empty filter selects everything.
func (m *Manifest) Wants(module string) bool {
	if len(m.Modules) == 0 {
		return true
	}
	for _, name := range m.Modules {
		if name == module {
			return true
		}
	}
	return false
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &ManifestError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
