package harness

import (
	"fmt"
	"math"

	"github.com/vamodel/valc/internal/osdi"
)

// Mismatch is one Jacobian slot where the analytic value disagrees
// with the finite-difference estimate beyond tolerance.
type Mismatch struct {
	Point    string
	Kind     string // "resistive" or "reactive"
	Row, Col string // node names
	Analytic float64
	Numeric  float64
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s %s d(%s)/dV(%s): analytic %g, finite-difference %g",
		m.Point, m.Kind, m.Row, m.Col, m.Analytic, m.Numeric)
}

// ValidateJacobian compares every descriptor sparsity slot against a
// central finite difference of the residual (resistive) and the charge
// (reactive). Slots agree when |analytic - numeric| is within relTol
// of the larger magnitude or under the absTol floor.
//
// The check also catches missing sparsity: a column whose perturbation
// moves a residual row that has no descriptor slot is reported with an
// analytic value of zero.
func ValidateJacobian(b osdi.Backend, in osdi.Inputs, relTol, absTol float64) ([]Mismatch, error) {
	desc := b.Descriptor()
	base, err := b.Eval(in)
	if err != nil {
		return nil, err
	}

	type slot struct{ row, col int }
	analytic := make(map[slot][2]float64, len(desc.Entries))
	for i, e := range desc.Entries {
		analytic[slot{int(e.Row), int(e.Col)}] = [2]float64{base.Resistive[i], base.Reactive[i]}
	}

	var mismatches []Mismatch
	nodeName := func(i int) string { return desc.Nodes[i].Name }

	for col := range desc.Nodes {
		h := 1e-6 * (1 + math.Abs(in.Voltages[col]))

		up := perturb(in, col, +h)
		outUp, err := b.Eval(up)
		if err != nil {
			return nil, err
		}
		down := perturb(in, col, -h)
		outDown, err := b.Eval(down)
		if err != nil {
			return nil, err
		}

		for row := range desc.Nodes {
			fdRes := (outUp.Residual[row] - outDown.Residual[row]) / (2 * h)
			fdCharge := (outUp.Charge[row] - outDown.Charge[row]) / (2 * h)
			a := analytic[slot{row, col}]

			if !agree(a[0], fdRes, relTol, absTol) {
				mismatches = append(mismatches, Mismatch{
					Kind: "resistive", Row: nodeName(row), Col: nodeName(col),
					Analytic: a[0], Numeric: fdRes,
				})
			}
			if !agree(a[1], fdCharge, relTol, absTol) {
				mismatches = append(mismatches, Mismatch{
					Kind: "reactive", Row: nodeName(row), Col: nodeName(col),
					Analytic: a[1], Numeric: fdCharge,
				})
			}
		}
	}
	return mismatches, nil
}

func perturb(in osdi.Inputs, node int, delta float64) osdi.Inputs {
	v := make([]float64, len(in.Voltages))
	copy(v, in.Voltages)
	v[node] += delta
	out := in
	out.Voltages = v
	return out
}

// agree applies the relative tolerance with an absolute floor.
func agree(a, b, relTol, absTol float64) bool {
	diff := math.Abs(a - b)
	if diff <= absTol {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return diff <= relTol*scale
}
