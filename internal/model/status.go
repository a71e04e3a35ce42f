package model

import "fmt"

// Step is a workflow coordinator state.
type Step string

const (
	StepIdle       Step = "idle"
	StepNavigating Step = "navigating"
	StepFetching   Step = "fetching"
	StepVerifying  Step = "verifying"
	StepTesting    Step = "testing"
	StepDiagnosing Step = "diagnosing"
	StepUploading  Step = "uploading"
	StepDone       Step = "done"
	StepFailed     Step = "failed"
	StepRolledBack Step = "rolled_back"
)

// StepOutcome classifies how a single step ended.
type StepOutcome string

const (
	OutcomeOK        StepOutcome = "ok"
	OutcomeFailed    StepOutcome = "failed"
	OutcomeSkipped   StepOutcome = "skipped"
	OutcomeCancelled StepOutcome = "cancelled"
)

// TestStatus is the per-test outcome status of a test run.
type TestStatus string

const (
	TestStatusPass    TestStatus = "pass"
	TestStatusFail    TestStatus = "fail"
	TestStatusError   TestStatus = "error"
	TestStatusSkipped TestStatus = "skipped"
	TestStatusTimeout TestStatus = "timeout"
)

// Terminal cycle states. A new cycle resets to idle via ResetStep, never
// through the transition map.
var terminalSteps = map[Step]bool{
	StepDone:       true,
	StepFailed:     true,
	StepRolledBack: true,
}

// failed is reachable from every non-idle state on unrecoverable error,
// so it is listed per source step rather than special-cased.
var validStepTransitions = map[Step]map[Step]bool{
	StepIdle: {
		StepNavigating: true,
	},
	StepNavigating: {
		StepFetching: true,
		StepFailed:   true,
	},
	StepFetching: {
		StepVerifying: true,
		StepDone:      true, // no new release upstream
		StepFailed:    true,
	},
	StepVerifying: {
		StepTesting: true,
		StepFailed:  true,
	},
	StepTesting: {
		StepDiagnosing: true,
		StepFailed:     true,
	},
	StepDiagnosing: {
		StepUploading:  true,
		StepDone:       true,
		StepIdle:       true, // failing tests under threshold: wait for next cycle
		StepRolledBack: true,
		StepFailed:     true,
	},
	StepUploading: {
		StepDone:   true,
		StepFailed: true,
	},
}

func IsTerminalStep(s Step) bool {
	return terminalSteps[s]
}

func ValidateStepTransition(from, to Step) error {
	if IsTerminalStep(from) {
		return fmt.Errorf("cannot transition from terminal step %q", from)
	}
	allowed, ok := validStepTransitions[from]
	if !ok {
		return fmt.Errorf("unknown step %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid step transition: %q → %q", from, to)
	}
	return nil
}

func ValidTestStatus(s TestStatus) bool {
	switch s {
	case TestStatusPass, TestStatusFail, TestStatusError, TestStatusSkipped, TestStatusTimeout:
		return true
	}
	return false
}
