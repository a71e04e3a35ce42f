package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/relcycle/internal/lock"
	"github.com/msageha/relcycle/internal/model"
	"github.com/msageha/relcycle/internal/setup"
	"github.com/msageha/relcycle/internal/workflow"
)

func TestFindTreeFrom(t *testing.T) {
	tree := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tree, setup.WorkspaceDirName), 0755))
	nested := filepath.Join(tree, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	got, err := findTreeFrom(nested)
	require.NoError(t, err)
	assert.Equal(t, tree, got)

	got, err = findTreeFrom(tree)
	require.NoError(t, err)
	assert.Equal(t, tree, got)
}

func TestFindTreeFromNoWorkspace(t *testing.T) {
	_, err := findTreeFrom(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), setup.WorkspaceDirName)
}

func TestCycleExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"fetch failure", &workflow.StepError{Step: model.StepFetching, Err: errors.New("x")}, ExitRelease},
		{"upload failure", &workflow.StepError{Step: model.StepUploading, Err: errors.New("x")}, ExitRelease},
		{"rollback failure", &workflow.StepError{Step: model.StepDiagnosing, Err: errors.New("x")}, ExitSavePoint},
		{"test step failure", &workflow.StepError{Step: model.StepTesting, Err: errors.New("x")}, ExitGeneric},
		{"plain error", errors.New("x"), ExitGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cycleExitCode(tt.err))
		})
	}
}

func TestExitErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := exitWith(ExitBusy, cause)

	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, ExitBusy, ee.code)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestLockTreeBusy(t *testing.T) {
	workDir := t.TempDir()
	a := &app{workDir: workDir}

	// A monitor cycle in another process holds the same flock.
	held := lock.NewFileLock(lock.TreeLockPath(workDir))
	require.NoError(t, held.TryLock())
	defer held.Unlock()

	_, err := a.lockTree()
	require.Error(t, err)
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, ExitBusy, ee.code)

	require.NoError(t, held.Unlock())
	unlock, err := a.lockTree()
	require.NoError(t, err)
	unlock()
}

func TestConfigLookup(t *testing.T) {
	cfg := model.DefaultConfig()

	val, err := configLookup(cfg, "repo.branch")
	require.NoError(t, err)
	assert.Equal(t, "main", val)

	val, err = configLookup(cfg, "workflow.failure_streak_threshold")
	require.NoError(t, err)
	assert.Equal(t, 3, val)

	_, err = configLookup(cfg, "repo.nope")
	assert.Error(t, err)
}

func TestConfigAssign(t *testing.T) {
	cfg := model.DefaultConfig()

	out, err := configAssign(cfg, "repo.url", "git@example.com:demo/app.git")
	require.NoError(t, err)
	assert.Equal(t, "git@example.com:demo/app.git", out.Repo.URL)

	out, err = configAssign(cfg, "test.timeout_sec", "600")
	require.NoError(t, err)
	assert.Equal(t, 600, out.Test.TimeoutSec)

	out, err = configAssign(cfg, "workflow.auto_upload", "false")
	require.NoError(t, err)
	assert.False(t, out.Workflow.AutoUploadEnabled())

	out, err = configAssign(cfg, "test.command", "./run.sh, --fast")
	require.NoError(t, err)
	assert.Equal(t, []string{"./run.sh", "--fast"}, out.Test.Command)
}

func TestConfigAssignRejectsBadValues(t *testing.T) {
	cfg := model.DefaultConfig()

	_, err := configAssign(cfg, "test.timeout_sec", "soon")
	assert.Error(t, err)

	_, err = configAssign(cfg, "nosuch.key", "v")
	assert.Error(t, err)
}
