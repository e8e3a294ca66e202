package diag

import (
	"fmt"
	"sync"
)

// Severity classifies a diagnostic record.
type Severity int

const (
	// SeverityWarning marks a non-fatal finding; compilation continues.
	SeverityWarning Severity = iota
	// SeverityError marks a finding that is fatal for its module.
	SeverityError
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Span identifies a half-open byte range in a source file.
// Line and Col are 1-based and refer to the start of the span.
type Span struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line"`
	Col  int    `json:"col"`
	Len  int    `json:"len,omitempty"`
}

// String renders the span the way compilers conventionally do.
func (s Span) String() string {
	if s.File == "" {
		return fmt.Sprintf("%d:%d", s.Line, s.Col)
	}
	return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Col)
}

// Record is one structured diagnostic.
//
// Records cross the diagnostics boundary of the compiler: the CLI and
// IDE surfaces consume them verbatim, so field names are part of the
// external contract.
type Record struct {
	Severity Severity `json:"severity"`
	Span     Span     `json:"span"`
	Message  string   `json:"message"`
	Module   string   `json:"module,omitempty"`
}

// String renders a record in file:line:col: severity: message form.
func (r Record) String() string {
	return fmt.Sprintf("%s: %s: %s", r.Span, r.Severity, r.Message)
}

// Sink collects diagnostic records in detection order.
//
// A Sink is safe for concurrent use: module compilations running on
// separate workers report into the same sink. Appends from a single
// goroutine keep their relative order.
type Sink struct {
	mu      sync.Mutex
	records []Record
	errors  int
}

// NewSink creates an empty sink.
func NewSink() *Sink {
	return &Sink{}
}

// Report appends a record.
func (s *Sink) Report(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	if r.Severity == SeverityError {
		s.errors++
	}
}

// Error reports a fatal diagnostic for the given module.
func (s *Sink) Error(module string, span Span, format string, args ...any) {
	s.Report(Record{
		Severity: SeverityError,
		Span:     span,
		Message:  fmt.Sprintf(format, args...),
		Module:   module,
	})
}

// Warn reports a non-fatal diagnostic for the given module.
func (s *Sink) Warn(module string, span Span, format string, args ...any) {
	s.Report(Record{
		Severity: SeverityWarning,
		Span:     span,
		Message:  fmt.Sprintf(format, args...),
		Module:   module,
	})
}

// Records returns a copy of all records in detection order.
func (s *Sink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// ErrorCount returns the number of error-severity records.
func (s *Sink) ErrorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

// HasErrors reports whether any fatal diagnostic was recorded.
func (s *Sink) HasErrors() bool {
	return s.ErrorCount() > 0
}

// ModuleRecords returns the records attributed to one module, in order.
func (s *Sink) ModuleRecords(module string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.records {
		if r.Module == module {
			out = append(out, r)
		}
	}
	return out
}
