package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/msageha/relcycle/internal/model"
)

// ErrCycleInFlight reports that another cycle already holds the cycle
// lock. Attempts are skipped, never queued.
var ErrCycleInFlight = errors.New("workflow cycle already in flight")

// NavigationTimeoutError reports that the external session never
// signalled ready within the bounded wait.
type NavigationTimeoutError struct {
	Waited time.Duration
}

func (e *NavigationTimeoutError) Error() string {
	return fmt.Sprintf("session not ready after %s", e.Waited)
}

// StepError ties a failure to the step it happened in, so operators
// see the failing step name, the underlying error kind, and the last
// save point usable for a manual rollback.
type StepError struct {
	Step            model.Step
	LastSavePointID string
	Err             error
}

func (e *StepError) Error() string {
	if e.LastSavePointID != "" {
		return fmt.Sprintf("step %s failed: %v (last save point: %s)", e.Step, e.Err, e.LastSavePointID)
	}
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
