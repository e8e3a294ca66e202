package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance run: compile a source, evaluate the
// model over a sweep of operating points, and validate the analytic
// Jacobian against finite differences.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Source is the Verilog-A file to compile, relative to the
	// scenario file location.
	Source string `yaml:"source"`

	// Module selects which declared module to evaluate. Empty means
	// the file's first module.
	Module string `yaml:"module,omitempty"`

	// Temperature is the device temperature in kelvin. Zero means the
	// conventional 300.15 (27 degrees Celsius).
	Temperature float64 `yaml:"temperature,omitempty"`

	// Params overrides parameter defaults by name.
	Params map[string]float64 `yaml:"params,omitempty"`

	// Sweep lists the operating points to evaluate.
	Sweep []Point `yaml:"sweep"`

	// Checks configures validation of each point.
	Checks Checks `yaml:"checks,omitempty"`
}

// Point is one operating point of a sweep.
type Point struct {
	// Name labels the point in results and goldens.
	Name string `yaml:"name"`

	// Voltages maps node names to potentials; unnamed nodes sit at
	// zero.
	Voltages map[string]float64 `yaml:"voltages"`
}

// Checks selects validations and their tolerances.
type Checks struct {
	// FDJacobian enables finite-difference validation of both Jacobian
	// matrices at every sweep point.
	FDJacobian bool `yaml:"fd_jacobian,omitempty"`

	// RelTol is the relative mismatch tolerance; zero means 1e-6.
	RelTol float64 `yaml:"rel_tol,omitempty"`

	// AbsTol is the absolute floor under which mismatches are ignored;
	// zero means 1e-9.
	AbsTol float64 `yaml:"abs_tol,omitempty"`
}

// Tolerances returns the effective tolerances with defaults applied.
func (c Checks) Tolerances() (rel, abs float64) {
	rel, abs = c.RelTol, c.AbsTol
	if rel == 0 {
		rel = 1e-6
	}
	if abs == 0 {
		abs = 1e-9
	}
	return rel, abs
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Source == "" {
		return fmt.Errorf("source is required")
	}
	if len(s.Sweep) == 0 {
		return fmt.Errorf("sweep must list at least one point")
	}
	seen := make(map[string]bool, len(s.Sweep))
	for i, p := range s.Sweep {
		if p.Name == "" {
			return fmt.Errorf("sweep point %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate sweep point name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
