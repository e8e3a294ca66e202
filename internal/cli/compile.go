package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vamodel/valc/internal/diag"
	"github.com/vamodel/valc/internal/manifest"
	"github.com/vamodel/valc/internal/pipeline"
	"github.com/vamodel/valc/internal/store"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Manifest string
	Cache    string
	Workers  int
	OutDir   string
}

// ModuleSummary is the per-module payload of a successful compile.
type ModuleSummary struct {
	Module     string `json:"module"`
	SourceHash string `json:"source_hash"`
	GraphHash  string `json:"graph_hash"`
	CacheHit   bool   `json:"cache_hit"`
	Output     string `json:"output,omitempty"`
}

// CompileSummary is the compile command's result payload.
type CompileSummary struct {
	RunID   string          `json:"run_id"`
	Modules []ModuleSummary `json:"modules"`
}

func (s *CompileSummary) String() string {
	out := fmt.Sprintf("✓ Compiled %d module(s), run %s", len(s.Modules), s.RunID)
	for _, m := range s.Modules {
		cached := ""
		if m.CacheHit {
			cached = " (cached)"
		}
		out += fmt.Sprintf("\n  %s %s%s", m.Module, m.GraphHash[:12], cached)
	}
	return out
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile [files...]",
		Short: "Compile Verilog-A sources to descriptors",
		Long: `Compile Verilog-A compact models into binary descriptors.

Sources come from the argument list or from a CUE manifest. With a
cache database, unchanged sources are served from the artifact store.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Manifest, "manifest", "m", "", "CUE compile-job manifest")
	cmd.Flags().StringVar(&opts.Cache, "cache", "", "SQLite artifact cache path")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "parallel module compilations (0 = one per CPU)")
	cmd.Flags().StringVarP(&opts.OutDir, "out-dir", "o", "", "write <module>.vad descriptor files here")

	return cmd
}

func runCompile(opts *CompileOptions, args []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	files := args
	var filter *manifest.Manifest
	if opts.Manifest != "" {
		m, err := manifest.Load(opts.Manifest)
		if err != nil {
			_ = formatter.Error("E_MANIFEST", err.Error(), nil)
			return WrapExitError(ExitCommandError, "manifest", err)
		}
		filter = m
		base := filepath.Dir(opts.Manifest)
		for _, s := range m.Sources {
			if !filepath.IsAbs(s) {
				s = filepath.Join(base, s)
			}
			files = append(files, s)
		}
		if opts.Cache == "" {
			opts.Cache = m.Cache
		}
		if opts.Workers == 0 {
			opts.Workers = m.Workers
		}
	}
	if len(files) == 0 {
		_ = formatter.Error("E_NO_INPUT", "no source files; pass paths or --manifest", nil)
		return NewExitError(ExitCommandError, "no source files")
	}

	var sources []pipeline.Source
	for _, f := range files {
		text, err := os.ReadFile(f)
		if err != nil {
			_ = formatter.Error("E_READ", err.Error(), nil)
			return WrapExitError(ExitCommandError, "read source", err)
		}
		sources = append(sources, pipeline.Source{File: f, Text: string(text)})
	}

	popts := pipeline.Options{Workers: opts.Workers}
	if opts.Cache != "" {
		st, err := store.Open(opts.Cache)
		if err != nil {
			_ = formatter.Error("E_CACHE", err.Error(), nil)
			return WrapExitError(ExitCommandError, "open cache", err)
		}
		defer st.Close()
		popts.Store = st
	}

	sink := diag.NewSink()
	results, runID, err := pipeline.NewRunner(popts).Run(cmd.Context(), sources, sink)

	var compileErr *pipeline.CompileError
	if err != nil && !errors.As(err, &compileErr) {
		_ = formatter.Error("E_RUN", err.Error(), sink.Records())
		return WrapExitError(ExitCommandError, "compile", err)
	}

	summary := &CompileSummary{RunID: runID}
	for _, r := range results {
		if filter != nil && !filter.Wants(r.Module) {
			continue
		}
		ms := ModuleSummary{
			Module:     r.Module,
			SourceHash: r.SourceHash,
			GraphHash:  r.GraphHash,
			CacheHit:   r.CacheHit,
		}
		if opts.OutDir != "" {
			out := filepath.Join(opts.OutDir, r.Module+".vad")
			if err := os.WriteFile(out, r.Descriptor, 0o644); err != nil {
				_ = formatter.Error("E_WRITE", err.Error(), sink.Records())
				return WrapExitError(ExitCommandError, "write descriptor", err)
			}
			ms.Output = out
		}
		summary.Modules = append(summary.Modules, ms)
		formatter.VerboseLog("compiled %s: graph %s", r.Module, r.GraphHash)
	}

	if compileErr != nil {
		_ = formatter.Error("E_COMPILE", compileErr.Error(), sink.Records())
		return NewExitError(ExitFailure, compileErr.Error())
	}
	return formatter.Success(summary, sink.Records())
}
