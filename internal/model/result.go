package model

// TestRunResult is the structured outcome of one test procedure run.
// Immutable once produced; consumed by the rule verifier and the
// diagnosis engine.
type TestRunResult struct {
	SchemaVersion int           `yaml:"schema_version"`
	FileType      string        `yaml:"file_type"`
	Procedure     string        `yaml:"procedure"`
	Outcomes      []TestOutcome `yaml:"outcomes"`
	Incomplete    bool          `yaml:"incomplete"`
	StartedAt     string        `yaml:"started_at"`
	FinishedAt    string        `yaml:"finished_at"`
}

type TestOutcome struct {
	Name   string     `yaml:"name"`
	Status TestStatus `yaml:"status"`
	Output string     `yaml:"output,omitempty"`
}

const TestRunResultFileType = "test_run_result"

// Counts aggregates per-status totals. Derived on demand, never stored.
func (r *TestRunResult) Counts() map[TestStatus]int {
	counts := make(map[TestStatus]int)
	for _, o := range r.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// Failed reports whether any test ended in fail or error.
func (r *TestRunResult) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Status == TestStatusFail || o.Status == TestStatusError {
			return true
		}
	}
	return false
}

// AllPassed reports whether the run completed with at least one outcome
// and nothing failing, erroring, or timing out.
func (r *TestRunResult) AllPassed() bool {
	if len(r.Outcomes) == 0 || r.Incomplete {
		return false
	}
	for _, o := range r.Outcomes {
		switch o.Status {
		case TestStatusFail, TestStatusError, TestStatusTimeout:
			return false
		}
	}
	return true
}

// Failures returns the failing and erroring outcomes, preserving order.
func (r *TestRunResult) Failures() []TestOutcome {
	var out []TestOutcome
	for _, o := range r.Outcomes {
		if o.Status == TestStatusFail || o.Status == TestStatusError {
			out = append(out, o)
		}
	}
	return out
}
