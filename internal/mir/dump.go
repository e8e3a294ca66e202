package mir

import (
	"fmt"
	"strings"
)

// Dump renders the graph as deterministic text. Golden tests compare
// this form; the encoding must not depend on map iteration order.
func (g *Graph) Dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "module %s\n", g.ModuleName)

	for i, n := range g.Nodes {
		kind := "internal"
		if n.Port {
			kind = "port"
		}
		fmt.Fprintf(&sb, "  node n%d %s %s %s\n", i, n.Name, n.Discipline, kind)
	}
	for i := range g.Branches {
		fmt.Fprintf(&sb, "  branch b%d %s\n", i, g.BranchName(BranchID(i)))
	}
	for i, p := range g.Params {
		fmt.Fprintf(&sb, "  param p%d %s %s default=%g\n", i, p.Name, p.Ty, p.Default)
	}

	for bi := range g.Blocks {
		blk := &g.Blocks[bi]
		fmt.Fprintf(&sb, "block%d:", bi)
		if BlockID(bi) == g.Entry {
			sb.WriteString(" // entry")
		}
		if BlockID(bi) == g.Exit {
			sb.WriteString(" // exit")
		}
		sb.WriteByte('\n')
		for _, v := range blk.Instrs {
			fmt.Fprintf(&sb, "  v%d = %s\n", v, g.FormatInstr(v))
		}
		switch blk.Term.Kind {
		case TermJump:
			fmt.Fprintf(&sb, "  jump block%d\n", blk.Term.Then)
		case TermBranch:
			fmt.Fprintf(&sb, "  br v%d, block%d, block%d\n", blk.Term.Cond, blk.Term.Then, blk.Term.Else)
		case TermReturn:
			sb.WriteString("  return\n")
		}
	}
	return sb.String()
}

// FormatInstr renders one instruction.
func (g *Graph) FormatInstr(id ValueID) string {
	in := g.Value(id)
	args := func() string {
		parts := make([]string, len(in.Args))
		for i, a := range in.Args {
			parts[i] = fmt.Sprintf("v%d", a)
		}
		return strings.Join(parts, ", ")
	}
	switch in.Op {
	case OpConst:
		return fmt.Sprintf("const %s %g", in.Ty, in.Const)
	case OpParam:
		return fmt.Sprintf("param %s", g.Params[in.Param].Name)
	case OpVoltage:
		return fmt.Sprintf("voltage %s, %s", g.NodeName(in.Hi), g.NodeName(in.Lo))
	case OpTemperature:
		return "temperature"
	case OpBinary:
		return fmt.Sprintf("%s %s", in.Bin, args())
	case OpUnary:
		return fmt.Sprintf("%s %s", in.Un, args())
	case OpCall:
		return fmt.Sprintf("call %s(%s)", in.Builtin, args())
	case OpSelect:
		return fmt.Sprintf("select %s", args())
	case OpPhi:
		return fmt.Sprintf("phi %s", args())
	case OpDdt:
		return fmt.Sprintf("ddt %s", args())
	case OpLimit:
		return fmt.Sprintf("limit %s(%s)", in.Limiter, args())
	case OpNoise:
		return fmt.Sprintf("noise %s %q(%s)", in.Noise.Kind, in.Noise.Name, args())
	case OpContribute:
		return fmt.Sprintf("contribute %s %s, %s if v%d", in.Contrib.Kind, g.BranchName(in.Contrib.Branch), args(), in.Contrib.Path)
	case OpCollapse:
		return fmt.Sprintf("collapse %s, %s", g.NodeName(in.Hi), g.NodeName(in.Lo))
	default:
		return fmt.Sprintf("op(%d) %s", in.Op, args())
	}
}
