package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vamodel/valc/internal/diag"
	"github.com/vamodel/valc/internal/hir"
	"github.com/vamodel/valc/internal/lower"
	"github.com/vamodel/valc/internal/va"
)

// NewCheckCommand creates the check command: front-end validation
// without descriptor emission.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "check <files...>",
		Short:         "Parse, resolve, and lower sources without emitting",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runCheck(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	sink := diag.NewSink()
	modules := 0
	for _, f := range files {
		text, err := os.ReadFile(f)
		if err != nil {
			_ = formatter.Error("E_READ", err.Error(), nil)
			return WrapExitError(ExitCommandError, "read source", err)
		}
		sf, err := va.Parse(f, string(text))
		if err != nil {
			if pe, ok := err.(*va.ParseError); ok {
				sink.Error("", pe.Span, "%s", pe.Message)
			} else {
				sink.Error("", diag.Span{File: f}, "%v", err)
			}
			continue
		}
		for _, mod := range sf.Modules {
			modules++
			resolved, err := hir.Resolve(mod, sink)
			if err != nil {
				continue
			}
			// Lowering performs the contribution and loop legality
			// checks, which is most of what check is for.
			_, _ = lower.LowerModule(resolved, sink)
		}
	}

	if sink.HasErrors() {
		msg := fmt.Sprintf("check failed with %d error(s)", sink.ErrorCount())
		_ = formatter.Error("E_CHECK", msg, sink.Records())
		return NewExitError(ExitFailure, msg)
	}
	return formatter.Success(fmt.Sprintf("✓ %d module(s) ok", modules), sink.Records())
}
