package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/msageha/relcycle/internal/observe"
	"github.com/msageha/relcycle/internal/rules"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the working rules against recorded evidence",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}

	ev := rules.Evidence{}
	if run, ok, err := a.runner.LatestResult(); err == nil && ok {
		ev.TestRun = &run
	}
	if rec, err := a.gate.CurrentRecord(); err == nil && rec.Tag != "" {
		ev.Release = &rec
	}
	ev.ObservationCount = countObservations(filepath.Join(a.workDir, "observations"))

	results := a.verifier.VerifyAll(ev)
	for _, r := range results {
		mark := "ok  "
		if !r.Satisfied {
			mark = "FAIL"
		}
		fmt.Printf("%s %-24s %s\n", mark, r.Rule, r.Detail)
	}
	if !rules.AllSatisfied(results) {
		return exitWith(ExitRules, fmt.Errorf("%d of %d rules unsatisfied", len(rules.Unsatisfied(results)), len(results)))
	}
	return nil
}

// countObservations sums records across all recorded sessions.
func countObservations(dir string) int {
	paths, err := filepath.Glob(filepath.Join(dir, "session_*.jsonl"))
	if err != nil {
		return 0
	}
	total := 0
	for _, p := range paths {
		recs, err := observe.ReadSession(p)
		if err != nil {
			continue
		}
		total += len(recs)
	}
	return total
}
