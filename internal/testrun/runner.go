// Package testrun executes the configured test procedure against the
// target tree and turns its output into structured outcomes. Execution
// failure is data, not an error: every run yields a result.
package testrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/msageha/relcycle/internal/lock"
	"github.com/msageha/relcycle/internal/model"
	yamlutil "github.com/msageha/relcycle/internal/yaml"
)

// Runner executes one configured procedure in the target tree.
type Runner struct {
	treePath   string
	workDir    string
	resultPath string
	command    []string
	timeout    time.Duration
	locks      *lock.MutexMap
}

// NewRunner builds a runner for the given tree and test config.
func NewRunner(treePath, workDir string, cfg model.TestConfig, locks *lock.MutexMap) *Runner {
	return &Runner{
		treePath:   treePath,
		workDir:    workDir,
		resultPath: filepath.Join(workDir, "test_run_result.yaml"),
		command:    cfg.Command,
		timeout:    time.Duration(cfg.TimeoutSec) * time.Second,
		locks:      locks,
	}
}

// Run executes the procedure and returns its structured result. The
// result is also persisted as the tree's latest run, for the rule
// verifier and the status surface. Run never returns a non-nil error
// for a failing or crashing procedure — only for an inability to
// record the result.
func (r *Runner) Run(ctx context.Context) (model.TestRunResult, error) {
	key := lock.TreeKey(r.treePath)
	r.locks.Lock(key)
	defer r.locks.Unlock(key)

	started := time.Now().UTC()

	runCtx := ctx
	var cancel context.CancelFunc
	if r.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.command[0], r.command[1:]...)
	cmd.Dir = r.treePath
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	finished := time.Now().UTC()
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)

	outcomes := ParseOutput(buf.String())

	result := model.TestRunResult{
		SchemaVersion: yamlutil.CurrentSchemaVersion,
		FileType:      model.TestRunResultFileType,
		Procedure:     strings.Join(r.command, " "),
		Outcomes:      outcomes,
		StartedAt:     started.Format(time.RFC3339),
		FinishedAt:    finished.Format(time.RFC3339),
	}

	if timedOut {
		// Everything reported before the deadline stands; the run as a
		// whole is incomplete and carries one timeout marker.
		result.Incomplete = true
		result.Outcomes = append(result.Outcomes, model.TestOutcome{
			Name:   "procedure",
			Status: model.TestStatusTimeout,
			Output: fmt.Sprintf("procedure exceeded %s", r.timeout),
		})
	} else if runErr != nil && len(outcomes) == 0 {
		// Abnormal exit with nothing parsable: synthesize one error
		// entry so downstream logic sees a uniform result shape.
		result.Outcomes = []model.TestOutcome{{
			Name:   "procedure",
			Status: model.TestStatusError,
			Output: fmt.Sprintf("%v: %s", runErr, tail(buf.String(), 2000)),
		}}
	}

	if err := yamlutil.AtomicWrite(r.resultPath, &result); err != nil {
		return result, fmt.Errorf("persist test run result: %w", err)
	}
	return result, nil
}

// LatestResult loads the most recent persisted run for this tree.
// A tree that never ran returns a zero result and nil error.
func (r *Runner) LatestResult() (model.TestRunResult, bool, error) {
	var result model.TestRunResult
	if err := yamlutil.ReadInto(r.resultPath, &result); err != nil {
		if os.IsNotExist(err) {
			return model.TestRunResult{}, false, nil
		}
		return model.TestRunResult{}, false, fmt.Errorf("load test run result: %w", err)
	}
	return result, true, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
