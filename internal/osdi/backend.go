package osdi

import (
	"fmt"
	"math"

	"github.com/vamodel/valc/internal/deriv"
	"github.com/vamodel/valc/internal/mir"
)

// Inputs is one operating point. Voltages and Params are indexed by
// the descriptor's node and parameter tables; ground is implicit zero.
type Inputs struct {
	Voltages    []float64
	Params      []float64
	Temperature float64
}

// NoiseVal is the evaluated spectral density of one noise source.
// Exponent is the frequency exponent of flicker sources and zero for
// white sources.
type NoiseVal struct {
	Power    float64
	Exponent float64
}

// Outputs holds one evaluation: per-node residuals and charges, the
// Jacobian values parallel to the descriptor's sparsity entries, and
// the noise source densities. Entries a matrix does not participate in
// evaluate to zero.
type Outputs struct {
	Residual  []float64
	Charge    []float64
	Resistive []float64
	Reactive  []float64
	Noise     []NoiseVal
}

// Backend evaluates a compiled module at operating points.
type Backend interface {
	Descriptor() *Descriptor
	Eval(in Inputs) (*Outputs, error)
}

// EvalError reports an invalid evaluation request.
type EvalError struct {
	Module string
	Reason string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("module %s: %s", e.Module, e.Reason)
}

// ParamRangeError reports a parameter value outside its declared
// bounds.
type ParamRangeError struct {
	Module string
	Param  string
	Value  float64
}

func (e *ParamRangeError) Error() string {
	return fmt.Sprintf("module %s: parameter %s value %g violates its declared range", e.Module, e.Param, e.Value)
}

// Interp is the reference backend: it walks the lowered control flow
// graph directly. Value slots default to zero, so instructions in
// blocks an evaluation never reaches read as zero, which matches the
// path-weighted contribution semantics. Limiting functions evaluate as
// identity on their raw argument; they only shape the Newton
// trajectory, not the converged characteristic.
type Interp struct {
	g    *mir.Graph
	desc *Descriptor

	// Jacobian value ids parallel to desc.Entries, NoValue where the
	// matrix has no slot there.
	resVals []mir.ValueID
	reaVals []mir.ValueID
}

// NewInterp builds an interpreter backend over an optimized graph and
// its Jacobian.
func NewInterp(g *mir.Graph, m *deriv.Matrix) *Interp {
	desc := Emit(g, m)
	it := &Interp{
		g:       g,
		desc:    desc,
		resVals: make([]mir.ValueID, len(desc.Entries)),
		reaVals: make([]mir.ValueID, len(desc.Entries)),
	}
	type slot struct{ row, col int32 }
	res := make(map[slot]mir.ValueID, len(m.Resistive))
	for _, e := range m.Resistive {
		res[slot{int32(e.Row), int32(e.Col)}] = e.Val
	}
	rea := make(map[slot]mir.ValueID, len(m.Reactive))
	for _, e := range m.Reactive {
		rea[slot{int32(e.Row), int32(e.Col)}] = e.Val
	}
	for i, s := range desc.Entries {
		it.resVals[i] = mir.NoValue
		it.reaVals[i] = mir.NoValue
		if v, ok := res[slot{s.Row, s.Col}]; ok {
			it.resVals[i] = v
		}
		if v, ok := rea[slot{s.Row, s.Col}]; ok {
			it.reaVals[i] = v
		}
	}
	return it
}

// Descriptor implements Backend.
func (it *Interp) Descriptor() *Descriptor { return it.desc }

// ValidateParams checks every parameter against its declared ranges.
// A value must satisfy at least one inclusion range (when any exist)
// and no exclusion.
func (it *Interp) ValidateParams(params []float64) error {
	for i, p := range it.g.Params {
		if i >= len(params) {
			break
		}
		if !paramAllowed(p, params[i]) {
			return &ParamRangeError{Module: it.g.ModuleName, Param: p.Name, Value: params[i]}
		}
	}
	return nil
}

func paramAllowed(p mir.Param, v float64) bool {
	hasInclude := false
	included := false
	for _, r := range p.Ranges {
		if r.Exclude {
			if v == r.Lo {
				return false
			}
			continue
		}
		hasInclude = true
		if r.Contains(v) {
			included = true
		}
	}
	return !hasInclude || included
}

// Eval implements Backend.
func (it *Interp) Eval(in Inputs) (*Outputs, error) {
	g := it.g
	if len(in.Voltages) != len(g.Nodes) {
		return nil, &EvalError{Module: g.ModuleName, Reason: fmt.Sprintf("got %d voltages, node table has %d", len(in.Voltages), len(g.Nodes))}
	}
	if len(in.Params) != len(g.Params) {
		return nil, &EvalError{Module: g.ModuleName, Reason: fmt.Sprintf("got %d parameters, parameter table has %d", len(in.Params), len(g.Params))}
	}
	if err := it.ValidateParams(in.Params); err != nil {
		return nil, err
	}

	out := &Outputs{
		Residual:  make([]float64, len(g.Nodes)),
		Charge:    make([]float64, len(g.Nodes)),
		Resistive: make([]float64, len(it.desc.Entries)),
		Reactive:  make([]float64, len(it.desc.Entries)),
	}
	slots := make([]float64, g.NumValues())

	voltage := func(n mir.NodeID) float64 {
		if n == mir.GroundNode {
			return 0
		}
		return in.Voltages[n]
	}

	prev := mir.NoBlock
	cur := g.Entry
	for steps := 0; ; steps++ {
		if steps > len(g.Blocks) {
			return nil, &EvalError{Module: g.ModuleName, Reason: "control flow graph is cyclic"}
		}
		blk := g.Block(cur)
		for _, v := range blk.Instrs {
			it.step(v, slots, in, voltage, prev, out)
		}
		switch blk.Term.Kind {
		case mir.TermJump:
			prev, cur = cur, blk.Term.Then
		case mir.TermBranch:
			if slots[blk.Term.Cond] != 0 {
				prev, cur = cur, blk.Term.Then
			} else {
				prev, cur = cur, blk.Term.Else
			}
		case mir.TermReturn:
			it.finish(slots, out)
			return out, nil
		}
	}
}

func (it *Interp) step(v mir.ValueID, slots []float64, in Inputs, voltage func(mir.NodeID) float64, prev mir.BlockID, out *Outputs) {
	g := it.g
	instr := g.Value(v)
	switch instr.Op {
	case mir.OpConst:
		slots[v] = instr.Const
	case mir.OpParam:
		slots[v] = in.Params[instr.Param]
	case mir.OpVoltage:
		slots[v] = voltage(instr.Hi) - voltage(instr.Lo)
	case mir.OpTemperature:
		slots[v] = in.Temperature
	case mir.OpBinary:
		slots[v] = evalBin(instr.Bin, slots[instr.Args[0]], slots[instr.Args[1]])
	case mir.OpUnary:
		if instr.Un == mir.UnNeg {
			slots[v] = -slots[instr.Args[0]]
		} else if slots[instr.Args[0]] == 0 {
			slots[v] = 1
		} else {
			slots[v] = 0
		}
	case mir.OpCall:
		args := make([]float64, len(instr.Args))
		for i, a := range instr.Args {
			args[i] = slots[a]
		}
		slots[v] = instr.Builtin.Eval(args)
	case mir.OpSelect:
		if slots[instr.Args[0]] != 0 {
			slots[v] = slots[instr.Args[1]]
		} else {
			slots[v] = slots[instr.Args[2]]
		}
	case mir.OpPhi:
		blk := g.Block(it.blockOf(v))
		for i, p := range blk.Preds {
			if p == prev {
				slots[v] = slots[instr.Args[i]]
				break
			}
		}
	case mir.OpDdt:
		// Large-signal DC: d/dt of anything is zero. The charge flows
		// out through the reactive contribute below.
		slots[v] = 0
	case mir.OpLimit:
		slots[v] = slots[instr.Args[0]]
	case mir.OpNoise:
		slots[v] = 0
	case mir.OpContribute:
		val := slots[instr.Args[0]]
		br := g.Branches[instr.Contrib.Branch]
		dst := out.Residual
		if instr.Contrib.Kind == mir.ContribReactive {
			dst = out.Charge
			// The contribute argument is the ddt marker; the charge is
			// its operand.
			val = slots[g.Value(instr.Args[0]).Args[0]]
		}
		if br.Hi != mir.GroundNode {
			dst[br.Hi] += val
		}
		if br.Lo != mir.GroundNode {
			dst[br.Lo] -= val
		}
	case mir.OpCollapse:
		// Static hint, nothing to evaluate.
	}
}

// blockOf finds the block evaluating v. Phi resolution is the only
// caller; graphs stay small enough that a scan is fine.
func (it *Interp) blockOf(v mir.ValueID) mir.BlockID {
	for bi := range it.g.Blocks {
		for _, iv := range it.g.Blocks[bi].Instrs {
			if iv == v {
				return mir.BlockID(bi)
			}
		}
	}
	return it.g.Entry
}

// finish reads the Jacobian and noise values out of the slot array.
func (it *Interp) finish(slots []float64, out *Outputs) {
	for i := range it.desc.Entries {
		if v := it.resVals[i]; v != mir.NoValue {
			out.Resistive[i] = slots[v]
		}
		if v := it.reaVals[i]; v != mir.NoValue {
			out.Reactive[i] = slots[v]
		}
	}
	for _, nid := range it.g.Noises {
		in := it.g.Value(nid)
		nv := NoiseVal{Power: slots[in.Args[0]]}
		if in.Noise.Kind == mir.NoiseFlicker && len(in.Args) > 1 {
			nv.Exponent = slots[in.Args[1]]
		}
		out.Noise = append(out.Noise, nv)
	}
}

func evalBin(op mir.BinOp, a, b float64) float64 {
	bf := func(c bool) float64 {
		if c {
			return 1
		}
		return 0
	}
	switch op {
	case mir.BinAdd:
		return a + b
	case mir.BinSub:
		return a - b
	case mir.BinMul:
		return a * b
	case mir.BinDiv:
		return a / b
	case mir.BinRem:
		return math.Mod(a, b)
	case mir.BinPow:
		return math.Pow(a, b)
	case mir.BinLt:
		return bf(a < b)
	case mir.BinLe:
		return bf(a <= b)
	case mir.BinGt:
		return bf(a > b)
	case mir.BinGe:
		return bf(a >= b)
	case mir.BinEq:
		return bf(a == b)
	case mir.BinNe:
		return bf(a != b)
	case mir.BinAnd:
		return bf(a != 0 && b != 0)
	case mir.BinOr:
		return bf(a != 0 || b != 0)
	default:
		return 0
	}
}
