package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vamodel/valc/internal/osdi"
)

// NewDescriptorCommand creates the descriptor command: decode a
// compiled .vad file and print its tables.
func NewDescriptorCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "descriptor <file.vad>",
		Short:         "Decode and print a compiled descriptor",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescriptor(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runDescriptor(opts *RootOptions, file string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	data, err := os.ReadFile(file)
	if err != nil {
		_ = formatter.Error("E_READ", err.Error(), nil)
		return WrapExitError(ExitCommandError, "read descriptor", err)
	}
	d, err := osdi.DecodeBinary(data)
	if err != nil {
		_ = formatter.Error("E_DECODE", err.Error(), nil)
		return NewExitError(ExitFailure, err.Error())
	}

	if formatter.Format == "json" {
		return formatter.Success(d, nil)
	}
	return formatter.Success(formatDescriptor(d), nil)
}

func formatDescriptor(d *osdi.Descriptor) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "module %s (descriptor v%d)\n", d.Module, d.Version)
	fmt.Fprintf(&sb, "graph %s\n", d.GraphHash)

	node := func(i int32) string {
		if i < 0 {
			return "gnd"
		}
		return d.Nodes[i].Name
	}

	for _, n := range d.Nodes {
		kind := "internal"
		if n.Port {
			kind = "port"
		}
		fmt.Fprintf(&sb, "node %s %s %s\n", n.Name, n.Discipline, kind)
	}
	for _, p := range d.Params {
		fmt.Fprintf(&sb, "param %s default=%g", p.Name, p.Default)
		if p.Unit != "" {
			fmt.Fprintf(&sb, " unit=%q", p.Unit)
		}
		if p.Desc != "" {
			fmt.Fprintf(&sb, " desc=%q", p.Desc)
		}
		sb.WriteByte('\n')
	}
	for _, e := range d.Entries {
		kind := ""
		if e.Kind&osdi.EntryResistive != 0 {
			kind += "R"
		}
		if e.Kind&osdi.EntryReactive != 0 {
			kind += "C"
		}
		fmt.Fprintf(&sb, "jacobian (%s,%s) %s\n", node(e.Row), node(e.Col), kind)
	}
	for _, n := range d.Noise {
		shape := "white"
		if n.Flicker {
			shape = "flicker"
		}
		fmt.Fprintf(&sb, "noise %s %s (%s,%s)\n", n.Name, shape, node(n.Hi), node(n.Lo))
	}
	for _, c := range d.Collapse {
		fmt.Fprintf(&sb, "collapse (%s,%s)\n", node(c.Hi), node(c.Lo))
	}
	return strings.TrimRight(sb.String(), "\n")
}
