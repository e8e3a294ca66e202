// Package pipeline drives compilation end to end: parse, resolve,
// lower, differentiate, optimize, emit. Each stage is a pure function
// of its input, so results are memoized by content hash, first in
// memory for the current run, then in the SQLite artifact store across
// runs. Modules compile independently on a worker pool.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vamodel/valc/internal/deriv"
	"github.com/vamodel/valc/internal/diag"
	"github.com/vamodel/valc/internal/hir"
	"github.com/vamodel/valc/internal/lower"
	"github.com/vamodel/valc/internal/mir"
	"github.com/vamodel/valc/internal/opt"
	"github.com/vamodel/valc/internal/osdi"
	"github.com/vamodel/valc/internal/store"
	"github.com/vamodel/valc/internal/va"
)

// Source is one compilation input.
type Source struct {
	File string
	Text string
}

// Result is one compiled module.
type Result struct {
	Module     string
	SourceHash string
	GraphHash  string

	// Graph, Matrix, and Backend are nil on a cache hit: the persisted
	// descriptor stands in for the full compilation.
	Graph   *mir.Graph
	Matrix  *deriv.Matrix
	Backend osdi.Backend

	Descriptor []byte
	Dump       string
	CacheHit   bool
}

// CompileError reports that one or more modules failed; the per-module
// findings are in the sink the caller supplied.
type CompileError struct {
	Failed []string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compilation failed for %d module(s)", len(e.Failed))
}

// Options configures a Runner.
type Options struct {
	// Workers bounds parallel module compilations; 0 means GOMAXPROCS.
	Workers int
	// Store enables the persistent artifact cache when non-nil.
	Store *store.Store
}

// Runner executes compilations. One Runner may serve many Run calls;
// each call gets a fresh provenance id.
type Runner struct {
	opts Options
}

// NewRunner creates a runner.
func NewRunner(opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Runner{opts: opts}
}

// CompileModule runs the full stage chain on one resolved source
// module. It is the uncached compilation path; Run wraps it with
// memoization.
func CompileModule(src *va.Module, sink *diag.Sink) (*Result, error) {
	resolved, err := hir.Resolve(src, sink)
	if err != nil {
		return nil, err
	}
	g, err := lower.LowerModule(resolved, sink)
	if err != nil {
		return nil, err
	}
	m, err := deriv.Differentiate(g, sink)
	if err != nil {
		return nil, err
	}
	opt.Optimize(g, m)

	backend := osdi.NewInterp(g, m)
	desc := backend.Descriptor()

	return &Result{
		Module:     src.Name,
		GraphHash:  g.ContentHash(),
		Graph:      g,
		Matrix:     m,
		Backend:    backend,
		Descriptor: desc.EncodeBinary(),
		Dump:       g.Dump(),
	}, nil
}

// Run compiles every module in every source. The returned results are
// sorted by module name regardless of worker scheduling. A non-nil
// error of type *CompileError means some modules failed; the
// successful results are still returned.
func (r *Runner) Run(ctx context.Context, sources []Source, sink *diag.Sink) ([]*Result, string, error) {
	runID := uuid.NewString()
	if r.opts.Store != nil {
		if err := r.opts.Store.BeginRun(ctx, runID, manifestHash(sources)); err != nil {
			return nil, runID, err
		}
	}

	type job struct {
		mod        *va.Module
		sourceHash string
	}
	var jobs []job
	var failed []string

	for _, src := range sources {
		sf, err := va.Parse(src.File, src.Text)
		if err != nil {
			if pe, ok := err.(*va.ParseError); ok {
				sink.Error("", pe.Span, "%s", pe.Message)
			} else {
				sink.Error("", diag.Span{File: src.File}, "%v", err)
			}
			failed = append(failed, src.File)
			continue
		}
		srcHash := mir.SourceHash(src.Text)
		for _, m := range sf.Modules {
			jobs = append(jobs, job{mod: m, sourceHash: srcHash})
		}
	}

	results := make([]*Result, len(jobs))
	errs := make([]error, len(jobs))

	sem := make(chan struct{}, r.opts.Workers)
	var wg sync.WaitGroup
	for i, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, j job) {
			defer wg.Done()
			defer func() { <-sem }()
			if ctx.Err() != nil {
				errs[i] = ctx.Err()
				return
			}
			results[i], errs[i] = r.compileOne(ctx, j.mod, j.sourceHash, sink)
		}(i, j)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		if r.opts.Store != nil {
			_ = r.opts.Store.FinishRun(context.WithoutCancel(ctx), runID, "canceled")
		}
		return nil, runID, err
	}

	var ok []*Result
	for i, res := range results {
		if errs[i] != nil || res == nil {
			failed = append(failed, jobs[i].mod.Name)
			continue
		}
		ok = append(ok, res)
	}
	sort.Slice(ok, func(i, j int) bool { return ok[i].Module < ok[j].Module })

	status := "ok"
	var err error
	if len(failed) > 0 {
		status = "failed"
		err = &CompileError{Failed: failed}
	}
	if r.opts.Store != nil {
		_ = r.opts.Store.FinishRun(ctx, runID, status)
	}
	return ok, runID, err
}

// compileOne serves one module, consulting the cache first. The cache
// key is (source hash, module name): identical text always lowers to
// the identical graph, so the stored descriptor is valid verbatim.
func (r *Runner) compileOne(ctx context.Context, mod *va.Module, sourceHash string, sink *diag.Sink) (*Result, error) {
	if r.opts.Store != nil {
		a, hit, err := r.opts.Store.GetBySource(ctx, sourceHash, mod.Name)
		if err != nil {
			return nil, err
		}
		if hit {
			return &Result{
				Module:     a.Module,
				SourceHash: a.SourceHash,
				GraphHash:  a.GraphHash,
				Descriptor: a.Descriptor,
				Dump:       a.Dump,
				CacheHit:   true,
			}, nil
		}
	}

	res, err := CompileModule(mod, sink)
	if err != nil {
		return nil, err
	}
	res.SourceHash = sourceHash

	if r.opts.Store != nil {
		err := r.opts.Store.PutArtifact(ctx, store.Artifact{
			GraphHash:  res.GraphHash,
			Module:     res.Module,
			SourceHash: sourceHash,
			Descriptor: res.Descriptor,
			Dump:       res.Dump,
		})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// manifestHash fingerprints the whole input set for run provenance.
func manifestHash(sources []Source) string {
	var all []byte
	for _, s := range sources {
		all = append(all, s.File...)
		all = append(all, 0)
		all = append(all, s.Text...)
		all = append(all, 0)
	}
	return mir.HashWithDomain("valc/manifest/v1", all)
}
