package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vamodel/valc/internal/diag"
	"github.com/vamodel/valc/internal/pipeline"
	"github.com/vamodel/valc/internal/va"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Module string
}

// NewDumpCommand creates the dump command: print the optimized IR of
// one module as deterministic text.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "dump <file>",
		Short:         "Print the lowered graph of a module",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Module, "module", "", "module to dump (default: first in file)")
	return cmd
}

func runDump(opts *DumpOptions, file string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	text, err := os.ReadFile(file)
	if err != nil {
		_ = formatter.Error("E_READ", err.Error(), nil)
		return WrapExitError(ExitCommandError, "read source", err)
	}
	sf, err := va.Parse(file, string(text))
	if err != nil {
		_ = formatter.Error("E_PARSE", err.Error(), nil)
		return NewExitError(ExitFailure, err.Error())
	}

	mod := sf.Modules[0]
	if opts.Module != "" {
		mod = nil
		for _, m := range sf.Modules {
			if m.Name == opts.Module {
				mod = m
				break
			}
		}
		if mod == nil {
			msg := fmt.Sprintf("no module named %q in %s", opts.Module, file)
			_ = formatter.Error("E_MODULE", msg, nil)
			return NewExitError(ExitCommandError, msg)
		}
	}

	sink := diag.NewSink()
	res, err := pipeline.CompileModule(mod, sink)
	if err != nil {
		_ = formatter.Error("E_COMPILE", err.Error(), sink.Records())
		return NewExitError(ExitFailure, err.Error())
	}

	return formatter.Success(res.Dump, sink.Records())
}
