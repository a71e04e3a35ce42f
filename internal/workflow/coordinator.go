// Package workflow drives the release-validate-test-fix cycle as an
// explicit state machine. One coordinator owns one target tree; at
// most one cycle runs at a time.
package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/msageha/relcycle/internal/events"
	"github.com/msageha/relcycle/internal/lock"
	"github.com/msageha/relcycle/internal/model"
	"github.com/msageha/relcycle/internal/observe"
	"github.com/msageha/relcycle/internal/release"
	"github.com/msageha/relcycle/internal/rules"
	"github.com/msageha/relcycle/internal/savepoint"
	"github.com/msageha/relcycle/internal/testrun"
	yamlutil "github.com/msageha/relcycle/internal/yaml"
)

// Deps carries the coordinator's collaborators. Store, Gate, Runner,
// Verifier, Navigator, and Locks are required; Diagnosis defaults to
// the heuristic engine, Recorder, Observations, and Bus may be nil.
type Deps struct {
	Store        *savepoint.Store
	Gate         *release.Gate
	Runner       *testrun.Runner
	Verifier     *rules.Verifier
	Navigator    SessionNavigator
	Diagnosis    DiagnosisEngine
	Recorder     *observe.Recorder
	Observations observe.Source
	Bus          *events.Bus
	Locks        *lock.MutexMap
}

// CycleResult summarizes one RunCycle invocation.
type CycleResult struct {
	CycleID      string
	Skipped      bool
	FinalStep    model.Step
	Fetched      bool
	Release      model.ReleaseRecord
	TestRun      *model.TestRunResult
	RuleResults  []rules.CheckResult
	Remediations []Remediation
	RolledBack   bool
}

// Coordinator executes cycles against one target tree and persists its
// state after every transition.
type Coordinator struct {
	cfg          model.Config
	treePath     string
	statePath    string
	treeLockPath string

	store        *savepoint.Store
	gate         *release.Gate
	runner       *testrun.Runner
	verifier     *rules.Verifier
	navigator    SessionNavigator
	diagnosis    DiagnosisEngine
	recorder     *observe.Recorder
	observations observe.Source
	bus          *events.Bus
	locks        *lock.MutexMap

	navPoll time.Duration

	mu    sync.Mutex
	state *model.WorkflowState
}

// New builds a coordinator, restoring persisted state from workDir if
// present.
func New(cfg model.Config, treePath, workDir string, deps Deps) (*Coordinator, error) {
	c := &Coordinator{
		cfg:          cfg,
		treePath:     treePath,
		statePath:    filepath.Join(workDir, "workflow_state.yaml"),
		treeLockPath: lock.TreeLockPath(workDir),
		store:        deps.Store,
		gate:         deps.Gate,
		runner:       deps.Runner,
		verifier:     deps.Verifier,
		navigator:    deps.Navigator,
		diagnosis:    deps.Diagnosis,
		recorder:     deps.Recorder,
		observations: deps.Observations,
		bus:          deps.Bus,
		locks:        deps.Locks,
		navPoll:      time.Second,
	}
	if c.diagnosis == nil {
		c.diagnosis = HeuristicEngine{}
	}

	var state model.WorkflowState
	if err := yamlutil.ReadInto(c.statePath, &state); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load workflow state: %w", err)
		}
		c.state = model.NewWorkflowState()
	} else {
		c.state = &state
	}
	return c, nil
}

// State returns a copy of the current persisted state.
func (c *Coordinator) State() model.WorkflowState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := *c.state
	st.StepHistory = append([]model.StepRecord(nil), c.state.StepHistory...)
	return st
}

// Reset moves a terminal state back to idle. Terminal steps are never
// exited through the transition map, only through an explicit reset.
func (c *Coordinator) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !model.IsTerminalStep(c.state.CurrentStep) && c.state.CurrentStep != model.StepIdle {
		return fmt.Errorf("cannot reset: cycle in step %s", c.state.CurrentStep)
	}
	c.state.CurrentStep = model.StepIdle
	c.state.CycleID = ""
	return c.persistLocked()
}

// RunCycle executes one full cycle. A concurrent cycle on the same
// tree makes this a skip, not a wait. Cancellation is honored at step
// boundaries only; no step is interrupted mid-operation.
func (c *Coordinator) RunCycle(ctx context.Context) (CycleResult, error) {
	return c.runCycle(ctx, "")
}

// RunCycleTag runs one cycle pinned to a specific release tag instead
// of checking upstream for the newest one. The pinned tag is always
// fetched, even when it is older than the recorded one.
func (c *Coordinator) RunCycleTag(ctx context.Context, tag string) (CycleResult, error) {
	return c.runCycle(ctx, tag)
}

func (c *Coordinator) runCycle(ctx context.Context, pinTag string) (CycleResult, error) {
	cycleKey := lock.CycleKey(c.treePath)
	if !c.locks.TryLock(cycleKey) {
		c.publish(events.EventCycleSkipped, map[string]interface{}{"tree": c.treePath})
		return CycleResult{Skipped: true}, nil
	}
	defer c.locks.Unlock(cycleKey)

	// The MutexMap only excludes cycles within this process. The flock
	// extends the exclusion to other relcycle processes touching the
	// same tree.
	treeLock := lock.NewFileLock(c.treeLockPath)
	if err := treeLock.TryLock(); err != nil {
		c.publish(events.EventCycleSkipped, map[string]interface{}{"tree": c.treePath})
		return CycleResult{Skipped: true}, nil
	}
	defer func() { _ = treeLock.Unlock() }()

	cycleID, err := model.GenerateID(model.IDTypeCycle)
	if err != nil {
		return CycleResult{}, err
	}

	c.mu.Lock()
	if model.IsTerminalStep(c.state.CurrentStep) {
		c.state.CurrentStep = model.StepIdle
	}
	c.state.CycleID = cycleID
	c.mu.Unlock()

	result := CycleResult{CycleID: cycleID}
	c.publish(events.EventCycleStarted, map[string]interface{}{"cycle_id": cycleID})

	finalStep, err := c.runSteps(ctx, cycleID, pinTag, &result)
	result.FinalStep = finalStep
	c.drainObservations(ctx)

	c.publish(events.EventCycleFinished, map[string]interface{}{
		"cycle_id":   cycleID,
		"final_step": string(finalStep),
	})
	return result, err
}

func (c *Coordinator) runSteps(ctx context.Context, cycleID, pinTag string, result *CycleResult) (model.Step, error) {
	// Navigating
	if err := c.transition(cycleID, model.StepNavigating, model.OutcomeOK, ""); err != nil {
		return c.currentStep(), err
	}
	if err := c.waitForSession(ctx); err != nil {
		return c.fail(cycleID, model.StepNavigating, err)
	}
	if err := c.checkCancelled(ctx, cycleID); err != nil {
		return c.currentStep(), err
	}

	// Pre-fetch save point: taken only at the start of a failing
	// streak, so a later rollback lands on the snapshot from before
	// the streak's first fetch.
	if c.cfg.SavePoints.AutoCreateEnabled() && c.failureStreak() == 0 {
		sp, err := c.store.Create("", savepoint.Metadata{Reason: "auto before fetch"})
		if err != nil {
			return c.fail(cycleID, model.StepNavigating, err)
		}
		c.setLastSavePoint(sp.ID)
	}

	// Fetching
	if err := c.transition(cycleID, model.StepFetching, model.OutcomeOK, ""); err != nil {
		return c.currentStep(), err
	}
	var (
		rec     model.ReleaseRecord
		fetched bool
		err     error
	)
	if pinTag != "" {
		rec, err = c.gate.Fetch(ctx, pinTag)
		fetched = err == nil
	} else {
		rec, fetched, err = c.gate.CheckAndFetch(ctx)
	}
	if err != nil {
		return c.fail(cycleID, model.StepFetching, err)
	}
	result.Fetched = fetched
	result.Release = rec
	if !fetched {
		// Nothing newer upstream: the cycle ends here
		if err := c.transition(cycleID, model.StepDone, model.OutcomeSkipped, "no new release"); err != nil {
			return c.currentStep(), err
		}
		return model.StepDone, nil
	}
	if err := c.checkCancelled(ctx, cycleID); err != nil {
		return c.currentStep(), err
	}

	// Verifying: rule failures are recorded, never blocking — the run
	// that follows produces the evidence the next verification needs.
	if err := c.transition(cycleID, model.StepVerifying, model.OutcomeOK, ""); err != nil {
		return c.currentStep(), err
	}
	result.RuleResults = c.verifier.VerifyAll(c.gatherEvidence())
	if err := c.checkCancelled(ctx, cycleID); err != nil {
		return c.currentStep(), err
	}

	// Testing
	if err := c.transition(cycleID, model.StepTesting, model.OutcomeOK, ""); err != nil {
		return c.currentStep(), err
	}
	run, err := c.runner.Run(ctx)
	if err != nil {
		return c.fail(cycleID, model.StepTesting, err)
	}
	result.TestRun = &run
	if err := c.checkCancelled(ctx, cycleID); err != nil {
		return c.currentStep(), err
	}

	// Diagnosing
	if err := c.transition(cycleID, model.StepDiagnosing, model.OutcomeOK, ""); err != nil {
		return c.currentStep(), err
	}
	return c.diagnose(ctx, cycleID, run, result)
}

func (c *Coordinator) diagnose(ctx context.Context, cycleID string, run model.TestRunResult, result *CycleResult) (model.Step, error) {
	if run.AllPassed() {
		c.setFailureStreak(0)
		result.RuleResults = c.verifier.VerifyAll(c.gatherEvidence())

		if !c.cfg.Workflow.AutoUploadEnabled() {
			if err := c.transition(cycleID, model.StepDone, model.OutcomeOK, "all tests passed"); err != nil {
				return c.currentStep(), err
			}
			return model.StepDone, nil
		}

		if err := c.transition(cycleID, model.StepUploading, model.OutcomeOK, ""); err != nil {
			return c.currentStep(), err
		}
		if err := c.gate.Push(ctx, "validated release "+result.Release.Tag); err != nil {
			// Completed test and diagnosis work stands; only the
			// publish failed.
			return c.fail(cycleID, model.StepUploading, err)
		}
		if err := c.transition(cycleID, model.StepDone, model.OutcomeOK, "uploaded"); err != nil {
			return c.currentStep(), err
		}
		return model.StepDone, nil
	}

	streak := c.failureStreak() + 1
	c.setFailureStreak(streak)

	if streak < c.cfg.Workflow.FailureStreakThreshold {
		rems, err := c.diagnosis.Diagnose(ctx, run.Failures())
		if err == nil {
			result.Remediations = rems
		}
		detail := fmt.Sprintf("failure streak %d of %d", streak, c.cfg.Workflow.FailureStreakThreshold)
		if err := c.transition(cycleID, model.StepIdle, model.OutcomeOK, detail); err != nil {
			return c.currentStep(), err
		}
		return model.StepIdle, nil
	}

	// Circuit breaker: the streak hit the threshold, restore the
	// snapshot from before the streak began.
	spID := c.lastSavePointID()
	if spID == "" {
		return c.fail(cycleID, model.StepDiagnosing, fmt.Errorf("failure streak at threshold but no save point recorded"))
	}
	if err := c.store.Rollback(spID); err != nil {
		return c.fail(cycleID, model.StepDiagnosing, err)
	}
	c.setFailureStreak(0)
	result.RolledBack = true
	c.publish(events.EventRollback, map[string]interface{}{
		"cycle_id":      cycleID,
		"save_point_id": spID,
	})
	if err := c.transition(cycleID, model.StepRolledBack, model.OutcomeOK, "rolled back to "+spID); err != nil {
		return c.currentStep(), err
	}
	return model.StepRolledBack, nil
}

// waitForSession asks the navigator to get ready, then polls within
// the configured bound.
func (c *Coordinator) waitForSession(ctx context.Context) error {
	wait := time.Duration(c.cfg.Workflow.NavigationWaitSec) * time.Second
	deadline := time.Now().Add(wait)

	if err := c.navigator.EnsureReady(ctx); err != nil {
		return fmt.Errorf("ensure session ready: %w", err)
	}
	for {
		ready, err := c.navigator.IsReady(ctx)
		if err != nil {
			return fmt.Errorf("check session ready: %w", err)
		}
		if ready {
			return nil
		}
		if time.Now().After(deadline) {
			return &NavigationTimeoutError{Waited: wait}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.navPoll):
		}
	}
}

// drainObservations takes one non-blocking poll of the observation
// source at cycle end. Poll errors drop the batch; observation is a
// sink, never a correctness dependency.
func (c *Coordinator) drainObservations(ctx context.Context) {
	if c.observations == nil || c.recorder == nil {
		return
	}
	recs, err := c.observations.Poll(ctx)
	if err != nil {
		return
	}
	for _, rec := range recs {
		if err := c.recorder.Append(rec); err != nil {
			return
		}
		c.publish(events.EventObservation, map[string]interface{}{
			"kind": rec.Kind,
			"text": rec.Text,
		})
	}
}

func (c *Coordinator) gatherEvidence() rules.Evidence {
	ev := rules.Evidence{}
	if run, ok, err := c.runner.LatestResult(); err == nil && ok {
		ev.TestRun = &run
	}
	if rec, err := c.gate.CurrentRecord(); err == nil && rec.Tag != "" {
		ev.Release = &rec
	}
	if c.recorder != nil {
		ev.ObservationCount = c.recorder.Count()
	}
	return ev
}

// fail records the failing step and moves the machine to failed.
func (c *Coordinator) fail(cycleID string, step model.Step, cause error) (model.Step, error) {
	stepErr := &StepError{Step: step, LastSavePointID: c.lastSavePointID(), Err: cause}
	_ = c.transition(cycleID, model.StepFailed, model.OutcomeFailed, stepErr.Error())
	return model.StepFailed, stepErr
}

func (c *Coordinator) checkCancelled(ctx context.Context, cycleID string) error {
	if ctx.Err() == nil {
		return nil
	}
	_ = c.transition(cycleID, model.StepFailed, model.OutcomeCancelled, "cycle cancelled")
	return ctx.Err()
}

func (c *Coordinator) transition(cycleID string, to model.Step, outcome model.StepOutcome, detail string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.state.CurrentStep
	if from != to {
		if err := model.ValidateStepTransition(from, to); err != nil {
			return err
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	c.state.CurrentStep = to
	c.state.StepHistory = append(c.state.StepHistory, model.StepRecord{
		CycleID:   cycleID,
		Step:      to,
		Outcome:   outcome,
		Detail:    detail,
		Timestamp: now,
	})
	c.state.UpdatedAt = now

	if err := c.persistLocked(); err != nil {
		return err
	}
	c.publish(events.EventStepTransition, map[string]interface{}{
		"cycle_id": cycleID,
		"from":     string(from),
		"to":       string(to),
		"detail":   detail,
	})
	return nil
}

func (c *Coordinator) persistLocked() error {
	c.state.SchemaVersion = yamlutil.CurrentSchemaVersion
	c.state.FileType = model.WorkflowStateFileType
	if err := yamlutil.AtomicWrite(c.statePath, c.state); err != nil {
		return fmt.Errorf("persist workflow state: %w", err)
	}
	return nil
}

func (c *Coordinator) publish(t events.EventType, data map[string]interface{}) {
	if c.bus != nil {
		c.bus.Publish(t, data)
	}
}

func (c *Coordinator) currentStep() model.Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.CurrentStep
}

func (c *Coordinator) failureStreak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.FailureStreak
}

func (c *Coordinator) setFailureStreak(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.FailureStreak = n
	_ = c.persistLocked()
}

func (c *Coordinator) lastSavePointID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.LastSavePointID
}

func (c *Coordinator) setLastSavePoint(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.LastSavePointID = id
	_ = c.persistLocked()
}
