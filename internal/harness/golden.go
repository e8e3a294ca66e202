package harness

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/vamodel/valc/internal/osdi"
)

// Snapshot renders a result as deterministic text for golden
// comparison. Floats use %.9g so the encoding is stable across
// platforms while still resolving tolerance-level differences. The
// graph hash is deliberately absent: traces pin the numerics, and
// rehashing on internal changes would churn every fixture.
func (r *Result) Snapshot() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "scenario %s\n", r.Scenario)
	fmt.Fprintf(&sb, "module %s\n", r.Module)

	d := r.Descriptor
	for _, e := range d.Entries {
		kind := ""
		if e.Kind&osdi.EntryResistive != 0 {
			kind += "R"
		}
		if e.Kind&osdi.EntryReactive != 0 {
			kind += "C"
		}
		fmt.Fprintf(&sb, "entry (%s,%s) %s\n", d.Nodes[e.Row].Name, d.Nodes[e.Col].Name, kind)
	}
	for _, c := range d.Collapse {
		lo := "gnd"
		if c.Lo >= 0 {
			lo = d.Nodes[c.Lo].Name
		}
		fmt.Fprintf(&sb, "collapse (%s,%s)\n", d.Nodes[c.Hi].Name, lo)
	}

	for _, pt := range r.Points {
		fmt.Fprintf(&sb, "point %s\n", pt.Name)
		for i, v := range pt.Residual {
			if v != 0 || pt.Charge[i] != 0 {
				fmt.Fprintf(&sb, "  node %s residual %.9g charge %.9g\n", d.Nodes[i].Name, v, pt.Charge[i])
			}
		}
		for i, e := range d.Entries {
			fmt.Fprintf(&sb, "  jac (%s,%s) %.9g %.9g\n",
				d.Nodes[e.Row].Name, d.Nodes[e.Col].Name, pt.Resistive[i], pt.Reactive[i])
		}
		for i, n := range pt.Noise {
			fmt.Fprintf(&sb, "  noise %s %.9g %.9g\n", d.Noise[i].Name, n.Power, n.Exponent)
		}
	}

	for _, m := range r.Mismatches {
		fmt.Fprintf(&sb, "MISMATCH %s\n", m)
	}
	return sb.String()
}

// RunWithGolden executes a scenario file and compares its snapshot
// against testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenarioPath string) *Result {
	t.Helper()

	s, err := LoadScenario(scenarioPath)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	res, err := Run(s, filepath.Dir(scenarioPath))
	if err != nil {
		t.Fatalf("run scenario %s: %v", s.Name, err)
	}

	g := goldie.New(t, goldie.WithFixtureDir(filepath.Join("testdata", "golden")), goldie.WithNameSuffix(".golden"))
	g.Assert(t, s.Name, []byte(res.Snapshot()))
	return res
}
