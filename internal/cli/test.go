package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/relcycle/internal/model"
	"github.com/msageha/relcycle/internal/workflow"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run the configured test procedure against the tree",
	Args:  cobra.NoArgs,
	RunE:  runTest,
}

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Diagnose the latest test run and suggest remediations",
	Args:  cobra.NoArgs,
	RunE:  runSolve,
}

func init() {
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(solveCmd)
}

func runTest(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	unlock, err := a.lockTree()
	if err != nil {
		return err
	}
	defer unlock()
	run, err := a.runner.Run(cmd.Context())
	if err != nil {
		return err
	}
	printRun(&run)
	if !run.AllPassed() {
		return exitWith(ExitTestsFailed, fmt.Errorf("test procedure did not fully pass"))
	}
	return nil
}

func runSolve(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	run, ok, err := a.runner.LatestResult()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no test run recorded yet; run 'relcycle test' first")
	}
	failures := run.Failures()
	if len(failures) == 0 && !run.Incomplete {
		fmt.Println("Latest run has no failures; nothing to solve")
		return nil
	}

	engine := workflow.HeuristicEngine{}
	rems, err := engine.Diagnose(cmd.Context(), failures)
	if err != nil {
		return err
	}
	if run.Incomplete {
		fmt.Println("Run was incomplete; consider raising test.timeout_sec")
	}
	for _, r := range rems {
		fmt.Printf("%-32s %s\n", r.Strategy, r.Detail)
	}
	return nil
}

func printRun(run *model.TestRunResult) {
	for _, o := range run.Outcomes {
		fmt.Printf("%-8s %s\n", string(o.Status), o.Name)
	}
	counts := run.Counts()
	fmt.Printf("\n%d passed, %d failed, %d errored, %d skipped",
		counts[model.TestStatusPass], counts[model.TestStatusFail],
		counts[model.TestStatusError], counts[model.TestStatusSkipped])
	if counts[model.TestStatusTimeout] > 0 {
		fmt.Printf(", %d timed out", counts[model.TestStatusTimeout])
	}
	if run.Incomplete {
		fmt.Print(" (incomplete)")
	}
	fmt.Println()
}
