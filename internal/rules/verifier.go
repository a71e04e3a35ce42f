// Package rules evaluates the fixed battery of release-acceptance
// checks against recorded evidence. Every rule is a pure predicate:
// no network, no filesystem, no side effects.
package rules

import (
	"time"

	"github.com/msageha/relcycle/internal/model"
)

// Evidence is everything the verifier may consider: the latest test
// run, the current release record, and how many observation records
// the watch loop captured during the run.
type Evidence struct {
	TestRun          *model.TestRunResult
	Release          *model.ReleaseRecord
	ObservationCount int
}

// CheckResult reports one rule's verdict.
type CheckResult struct {
	Rule      string `yaml:"rule"`
	Satisfied bool   `yaml:"satisfied"`
	Detail    string `yaml:"detail"`
}

type rule struct {
	name  string
	check func(Evidence) (bool, string)
}

// The battery is fixed. Order is the reporting order.
var battery = []rule{
	{"live_run_validated", liveRunValidated},
	{"judgment_from_execution", judgmentFromExecution},
	{"full_suite_exercised", fullSuiteExercised},
	{"no_incomplete_run", noIncompleteRun},
	{"release_record_current", releaseRecordCurrent},
}

// Verifier runs the battery.
type Verifier struct {
	// MaxRecordAge bounds release_record_current. Zero disables the
	// age check and only requires that a record exists.
	MaxRecordAge time.Duration
}

// VerifyAll evaluates every rule against the evidence. Rules never
// short-circuit: the caller needs the complete failure set.
func (v *Verifier) VerifyAll(ev Evidence) []CheckResult {
	results := make([]CheckResult, 0, len(battery))
	for _, r := range battery {
		ok, detail := r.check(ev)
		results = append(results, CheckResult{Rule: r.name, Satisfied: ok, Detail: detail})
	}
	if v.MaxRecordAge > 0 {
		for i := range results {
			if results[i].Rule == "release_record_current" && results[i].Satisfied {
				ok, detail := recordFresh(ev, v.MaxRecordAge)
				results[i].Satisfied = ok
				if detail != "" {
					results[i].Detail = detail
				}
			}
		}
	}
	return results
}

// AllSatisfied reports whether every check passed.
func AllSatisfied(results []CheckResult) bool {
	for _, r := range results {
		if !r.Satisfied {
			return false
		}
	}
	return true
}

// Unsatisfied returns the failing checks, preserving battery order.
func Unsatisfied(results []CheckResult) []CheckResult {
	var out []CheckResult
	for _, r := range results {
		if !r.Satisfied {
			out = append(out, r)
		}
	}
	return out
}

// liveRunValidated: the fix was exercised against a real run, meaning
// a test run exists and at least one test actually executed.
func liveRunValidated(ev Evidence) (bool, string) {
	if ev.TestRun == nil {
		return false, "no test run recorded"
	}
	if len(ev.TestRun.Outcomes) == 0 {
		return false, "test run produced no outcomes"
	}
	return true, "test run with executed outcomes present"
}

// judgmentFromExecution: the verdict rests on execution evidence, not
// inspection alone — the run must carry observation records from the
// live session.
func judgmentFromExecution(ev Evidence) (bool, string) {
	if ev.TestRun == nil {
		return false, "no test run recorded"
	}
	if ev.ObservationCount == 0 {
		return false, "no observation records captured during the run"
	}
	return true, "execution observed live"
}

// fullSuiteExercised: nothing in the run was skipped.
func fullSuiteExercised(ev Evidence) (bool, string) {
	if ev.TestRun == nil {
		return false, "no test run recorded"
	}
	for _, o := range ev.TestRun.Outcomes {
		if o.Status == model.TestStatusSkipped {
			return false, "skipped test: " + o.Name
		}
	}
	return true, "no skipped tests"
}

// noIncompleteRun: the run finished inside its time budget.
func noIncompleteRun(ev Evidence) (bool, string) {
	if ev.TestRun == nil {
		return false, "no test run recorded"
	}
	if ev.TestRun.Incomplete {
		return false, "run hit the timeout before completing"
	}
	return true, "run completed"
}

// releaseRecordCurrent: the evidence describes the release actually in
// the tree.
func releaseRecordCurrent(ev Evidence) (bool, string) {
	if ev.Release == nil || ev.Release.Tag == "" {
		return false, "no current release record"
	}
	return true, "release " + ev.Release.Tag + " recorded"
}

func recordFresh(ev Evidence, maxAge time.Duration) (bool, string) {
	fetched, err := time.Parse(time.RFC3339, ev.Release.FetchedAt)
	if err != nil {
		return false, "release record has unparsable fetch time"
	}
	if time.Since(fetched) > maxAge {
		return false, "release record older than " + maxAge.String()
	}
	return true, ""
}
