package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/msageha/relcycle/internal/events"
	"github.com/msageha/relcycle/internal/model"
	"github.com/msageha/relcycle/internal/observe"
	"github.com/msageha/relcycle/internal/workflow"
)

var workflowResetFlag bool

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Run one full release cycle in the foreground",
	Args:  cobra.NoArgs,
	RunE:  runWorkflow,
}

func init() {
	workflowCmd.Flags().BoolVar(&workflowResetFlag, "reset", false, "reset a terminal cycle state back to idle and exit")
	rootCmd.AddCommand(workflowCmd)
}

// buildCoordinator assembles the full coordinator with the audit
// logger subscribed to the event bus. The returned cleanup closes the
// bus, logger, and recorder.
func buildCoordinator(a *app) (*workflow.Coordinator, func(), error) {
	bus := events.NewBus(0)
	logger, err := events.NewAuditLogger(filepath.Join(a.workDir, "logs", "audit.jsonl"), 0)
	if err != nil {
		return nil, nil, err
	}
	for _, t := range []events.EventType{
		events.EventCycleStarted,
		events.EventCycleSkipped,
		events.EventCycleFinished,
		events.EventStepTransition,
		events.EventRollback,
		events.EventObservation,
	} {
		bus.Subscribe(t, func(ev events.Event) {
			_ = logger.Log(string(ev.Type), ev.Data)
		})
	}

	recorder, err := observe.NewRecorder(filepath.Join(a.workDir, "observations"))
	if err != nil {
		logger.Close()
		return nil, nil, err
	}

	coord, err := workflow.New(a.cfg, a.treePath, a.workDir, workflow.Deps{
		Store:     a.store,
		Gate:      a.gate,
		Runner:    a.runner,
		Verifier:  a.verifier,
		Navigator: workflow.ReadyNavigator{},
		Recorder:  recorder,
		Bus:       bus,
		Locks:     a.locks,
	})
	if err != nil {
		recorder.Close()
		logger.Close()
		return nil, nil, err
	}

	cleanup := func() {
		recorder.Close()
		bus.Close()
		logger.Close()
	}
	return coord, cleanup, nil
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	coord, cleanup, err := buildCoordinator(a)
	if err != nil {
		return err
	}
	defer cleanup()

	if workflowResetFlag {
		if err := coord.Reset(); err != nil {
			return err
		}
		fmt.Println("Workflow state reset to idle")
		return nil
	}

	result, err := coord.RunCycle(cmd.Context())
	if err != nil {
		return exitWith(cycleExitCode(err), err)
	}
	if result.Skipped {
		return exitWith(ExitBusy, workflow.ErrCycleInFlight)
	}

	fmt.Printf("Cycle %s finished in step %s\n", result.CycleID, result.FinalStep)
	if result.Fetched {
		fmt.Printf("Fetched release %s\n", result.Release.Tag)
	}
	if result.TestRun != nil {
		printRun(result.TestRun)
	}
	for _, r := range result.Remediations {
		fmt.Printf("remediation: %-32s %s\n", r.Strategy, r.Detail)
	}
	if result.RolledBack {
		fmt.Println("Failure streak hit the threshold; tree rolled back")
	}
	if result.TestRun != nil && !result.TestRun.AllPassed() {
		return exitWith(ExitTestsFailed, errors.New("test procedure did not fully pass"))
	}
	return nil
}

// cycleExitCode buckets a failed cycle by the step that broke it.
func cycleExitCode(err error) int {
	var se *workflow.StepError
	if !errors.As(err, &se) {
		return ExitGeneric
	}
	switch se.Step {
	case model.StepFetching, model.StepUploading:
		return ExitRelease
	case model.StepDiagnosing:
		// The only diagnosing failure is a rollback that went wrong.
		return ExitSavePoint
	default:
		return ExitGeneric
	}
}
