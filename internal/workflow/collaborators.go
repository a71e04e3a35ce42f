package workflow

import (
	"context"
	"strings"

	"github.com/msageha/relcycle/internal/model"
)

// SessionNavigator drives the external session (browser, terminal,
// remote console) the test procedure depends on. The coordinator only
// cares about readiness; how the session gets there is the
// navigator's business.
type SessionNavigator interface {
	IsReady(ctx context.Context) (bool, error)
	EnsureReady(ctx context.Context) error
}

// ReadyNavigator is the navigator for trees whose test procedure
// needs no external session. Always ready.
type ReadyNavigator struct{}

func (ReadyNavigator) IsReady(ctx context.Context) (bool, error) { return true, nil }
func (ReadyNavigator) EnsureReady(ctx context.Context) error     { return nil }

// Remediation is one candidate strategy for a diagnosed failure.
type Remediation struct {
	Strategy string `yaml:"strategy"`
	Detail   string `yaml:"detail"`
}

// DiagnosisEngine turns a set of failing outcomes into candidate
// remediation strategies. Opaque to the coordinator: an engine may be
// heuristic, model-backed, or a human queue.
type DiagnosisEngine interface {
	Diagnose(ctx context.Context, failures []model.TestOutcome) ([]Remediation, error)
}

// HeuristicEngine is the built-in diagnosis engine. It buckets
// failures by coarse signal in the captured output.
type HeuristicEngine struct{}

func (HeuristicEngine) Diagnose(ctx context.Context, failures []model.TestOutcome) ([]Remediation, error) {
	var out []Remediation
	for _, f := range failures {
		out = append(out, Remediation{
			Strategy: classify(f),
			Detail:   "test " + f.Name,
		})
	}
	return out, nil
}

func classify(f model.TestOutcome) string {
	lower := strings.ToLower(f.Output)
	switch {
	case f.Status == model.TestStatusTimeout:
		return "raise_timeout_or_reduce_load"
	case f.Status == model.TestStatusError:
		return "inspect_environment"
	case strings.Contains(lower, "connection") || strings.Contains(lower, "refused"):
		return "check_service_availability"
	case strings.Contains(lower, "assert") || strings.Contains(lower, "expected"):
		return "review_recent_change"
	default:
		return "rerun_and_compare"
	}
}
