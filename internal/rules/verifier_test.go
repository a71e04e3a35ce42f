package rules

import (
	"testing"
	"time"

	"github.com/msageha/relcycle/internal/model"
)

func passingEvidence() Evidence {
	return Evidence{
		TestRun: &model.TestRunResult{
			Outcomes: []model.TestOutcome{
				{Name: "login", Status: model.TestStatusPass},
				{Name: "checkout", Status: model.TestStatusPass},
			},
		},
		Release: &model.ReleaseRecord{
			Tag:       "v1.2.0",
			FetchedAt: time.Now().UTC().Format(time.RFC3339),
		},
		ObservationCount: 4,
	}
}

func resultFor(t *testing.T, results []CheckResult, name string) CheckResult {
	t.Helper()
	for _, r := range results {
		if r.Rule == name {
			return r
		}
	}
	t.Fatalf("rule %s missing from results", name)
	return CheckResult{}
}

func TestVerifyAll_AllSatisfied(t *testing.T) {
	v := &Verifier{}
	results := v.VerifyAll(passingEvidence())

	if len(results) != 5 {
		t.Fatalf("expected the full battery, got %d results", len(results))
	}
	if !AllSatisfied(results) {
		t.Errorf("clean evidence failed checks: %+v", Unsatisfied(results))
	}
}

func TestVerifyAll_NoShortCircuit(t *testing.T) {
	v := &Verifier{}
	// Nothing recorded at all: every rule must still report
	results := v.VerifyAll(Evidence{})

	if len(results) != 5 {
		t.Fatalf("missing rules in result set: %d", len(results))
	}
	for _, r := range results {
		if r.Satisfied {
			t.Errorf("rule %s passed with no evidence", r.Rule)
		}
		if r.Detail == "" {
			t.Errorf("rule %s gave no detail", r.Rule)
		}
	}
}

func TestVerifyAll_SkippedTestFails(t *testing.T) {
	ev := passingEvidence()
	ev.TestRun.Outcomes = append(ev.TestRun.Outcomes, model.TestOutcome{
		Name: "reporting", Status: model.TestStatusSkipped,
	})

	results := (&Verifier{}).VerifyAll(ev)
	r := resultFor(t, results, "full_suite_exercised")
	if r.Satisfied {
		t.Error("skipped test did not fail full_suite_exercised")
	}

	// Independence: the other rules still pass
	if !resultFor(t, results, "live_run_validated").Satisfied {
		t.Error("unrelated rule affected by a skip")
	}
}

func TestVerifyAll_IncompleteRunFails(t *testing.T) {
	ev := passingEvidence()
	ev.TestRun.Incomplete = true

	results := (&Verifier{}).VerifyAll(ev)
	if resultFor(t, results, "no_incomplete_run").Satisfied {
		t.Error("incomplete run passed no_incomplete_run")
	}
}

func TestVerifyAll_NoObservations(t *testing.T) {
	ev := passingEvidence()
	ev.ObservationCount = 0

	results := (&Verifier{}).VerifyAll(ev)
	if resultFor(t, results, "judgment_from_execution").Satisfied {
		t.Error("run with no observations passed judgment_from_execution")
	}
}

func TestVerifyAll_StaleRecord(t *testing.T) {
	ev := passingEvidence()
	ev.Release.FetchedAt = time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)

	fresh := (&Verifier{}).VerifyAll(ev)
	if !resultFor(t, fresh, "release_record_current").Satisfied {
		t.Error("age check applied with MaxRecordAge disabled")
	}

	aged := (&Verifier{MaxRecordAge: 24 * time.Hour}).VerifyAll(ev)
	if resultFor(t, aged, "release_record_current").Satisfied {
		t.Error("stale record passed release_record_current")
	}
}

func TestUnsatisfied(t *testing.T) {
	results := []CheckResult{
		{Rule: "a", Satisfied: true},
		{Rule: "b", Satisfied: false},
		{Rule: "c", Satisfied: false},
	}
	failing := Unsatisfied(results)
	if len(failing) != 2 || failing[0].Rule != "b" || failing[1].Rule != "c" {
		t.Errorf("unexpected failing set: %+v", failing)
	}
}
