// Package harness runs scenario files: compile a Verilog-A source,
// sweep operating points through the interpreter backend, and check
// the analytic Jacobian against central finite differences. Golden
// files pin the numeric traces.
package harness

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vamodel/valc/internal/diag"
	"github.com/vamodel/valc/internal/mir"
	"github.com/vamodel/valc/internal/osdi"
	"github.com/vamodel/valc/internal/pipeline"
	"github.com/vamodel/valc/internal/va"
)

// defaultTemperature is 27 degrees Celsius in kelvin, the conventional
// simulator default.
const defaultTemperature = 300.15

// PointResult is the evaluation of one sweep point.
type PointResult struct {
	Name      string
	Residual  []float64
	Charge    []float64
	Resistive []float64
	Reactive  []float64
	Noise     []osdi.NoiseVal
}

// Result is the outcome of one scenario run.
type Result struct {
	Scenario   string
	Module     string
	GraphHash  string
	Descriptor *osdi.Descriptor
	Points     []PointResult
	Mismatches []Mismatch
}

// Pass reports whether every enabled check held.
func (r *Result) Pass() bool { return len(r.Mismatches) == 0 }

// Run executes a scenario. Paths in the scenario resolve relative to
// baseDir.
func Run(s *Scenario, baseDir string) (*Result, error) {
	srcPath := s.Source
	if !filepath.IsAbs(srcPath) {
		srcPath = filepath.Join(baseDir, srcPath)
	}
	text, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}

	sf, err := va.Parse(s.Source, string(text))
	if err != nil {
		return nil, err
	}
	mod := sf.Modules[0]
	if s.Module != "" {
		mod = nil
		for _, m := range sf.Modules {
			if m.Name == s.Module {
				mod = m
				break
			}
		}
		if mod == nil {
			return nil, fmt.Errorf("source declares no module named %q", s.Module)
		}
	}

	sink := diag.NewSink()
	compiled, err := pipeline.CompileModule(mod, sink)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w (%d diagnostics)", mod.Name, err, len(sink.Records()))
	}

	backend := compiled.Backend
	desc := backend.Descriptor()

	params, err := paramVector(compiled.Graph, s.Params)
	if err != nil {
		return nil, err
	}

	temp := s.Temperature
	if temp == 0 {
		temp = defaultTemperature
	}

	res := &Result{
		Scenario:   s.Name,
		Module:     compiled.Module,
		GraphHash:  compiled.GraphHash,
		Descriptor: desc,
	}
	relTol, absTol := s.Checks.Tolerances()

	for _, pt := range s.Sweep {
		voltages, err := voltageVector(compiled.Graph, pt.Voltages)
		if err != nil {
			return nil, fmt.Errorf("point %s: %w", pt.Name, err)
		}
		in := osdi.Inputs{Voltages: voltages, Params: params, Temperature: temp}
		out, err := backend.Eval(in)
		if err != nil {
			return nil, fmt.Errorf("point %s: %w", pt.Name, err)
		}
		res.Points = append(res.Points, PointResult{
			Name:      pt.Name,
			Residual:  out.Residual,
			Charge:    out.Charge,
			Resistive: out.Resistive,
			Reactive:  out.Reactive,
			Noise:     out.Noise,
		})

		if s.Checks.FDJacobian {
			mm, err := ValidateJacobian(backend, in, relTol, absTol)
			if err != nil {
				return nil, fmt.Errorf("point %s: %w", pt.Name, err)
			}
			for i := range mm {
				mm[i].Point = pt.Name
			}
			res.Mismatches = append(res.Mismatches, mm...)
		}
	}
	return res, nil
}

// paramVector builds the parameter inputs from declared defaults plus
// scenario overrides. Unknown override names are errors.
func paramVector(g *mir.Graph, overrides map[string]float64) ([]float64, error) {
	vals := make([]float64, len(g.Params))
	index := make(map[string]int, len(g.Params))
	for i, p := range g.Params {
		vals[i] = p.Default
		index[p.Name] = i
	}
	for name, v := range overrides {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
		vals[i] = v
	}
	return vals, nil
}

// voltageVector maps named node potentials onto the node table.
func voltageVector(g *mir.Graph, named map[string]float64) ([]float64, error) {
	vals := make([]float64, len(g.Nodes))
	index := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		index[n.Name] = i
	}
	for name, v := range named {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("unknown node %q", name)
		}
		vals[i] = v
	}
	return vals, nil
}
