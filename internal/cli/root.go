// Package cli wires the relcycle command tree together. Every command
// resolves the workspace by walking up from the working directory, the
// same way git finds its repository.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/msageha/relcycle/internal/lock"
	"github.com/msageha/relcycle/internal/model"
	"github.com/msageha/relcycle/internal/release"
	"github.com/msageha/relcycle/internal/rules"
	"github.com/msageha/relcycle/internal/savepoint"
	"github.com/msageha/relcycle/internal/setup"
	"github.com/msageha/relcycle/internal/testrun"
	"github.com/msageha/relcycle/internal/uds"
)

const version = "1.0.0"

// Process exit codes. Scripts drive relcycle, so failures carry their
// category in the exit status.
const (
	ExitOK          = 0
	ExitGeneric     = 1
	ExitRelease     = 2
	ExitTestsFailed = 3
	ExitRules       = 4
	ExitSavePoint   = 5
	ExitBusy        = 6
)

// exitError carries a category code up to Execute.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

var rootCmd = &cobra.Command{
	Use:   "relcycle",
	Short: "Release-validate-test-fix cycle automation for a target tree",
	Long: `relcycle automates the release cycle of a deployed tree: fetch the
latest tagged release, validate working rules, run the test procedure,
diagnose failures, and either publish the validated state or roll back
to a save point when failures persist.

State lives in a .relcycle/ workspace inside the target tree. Run
'relcycle init' once per tree to create it.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree and translates errors into exit codes.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "relcycle: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(ExitGeneric)
	}
}

// findTree walks up from the working directory looking for a
// .relcycle/ workspace and returns the tree that contains it.
func findTree() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return findTreeFrom(dir)
}

func findTreeFrom(dir string) (string, error) {
	for {
		candidate := filepath.Join(dir, setup.WorkspaceDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s/ workspace found; run 'relcycle init' in the target tree first", setup.WorkspaceDirName)
		}
		dir = parent
	}
}

// app bundles the collaborators every workspace command needs.
type app struct {
	treePath string
	workDir  string
	cfg      model.Config
	locks    *lock.MutexMap
	store    *savepoint.Store
	gate     *release.Gate
	runner   *testrun.Runner
	verifier *rules.Verifier
}

func openApp() (*app, error) {
	treePath, err := findTree()
	if err != nil {
		return nil, err
	}
	cfg, err := setup.LoadConfig(treePath)
	if err != nil {
		return nil, err
	}
	workDir := setup.WorkDir(treePath)
	locks := lock.NewMutexMap()

	client := &release.GitClient{
		URL:        cfg.Repo.URL,
		Branch:     cfg.Repo.Branch,
		TreePath:   treePath,
		SSHKeyPath: cfg.Repo.SSHKeyPath,
	}

	return &app{
		treePath: treePath,
		workDir:  workDir,
		cfg:      cfg,
		locks:    locks,
		store:    savepoint.NewStore(treePath, workDir, cfg.SavePoints, locks),
		gate:     release.NewGate(treePath, workDir, cfg.Repo.URL, client, locks),
		runner:   testrun.NewRunner(treePath, workDir, cfg.Test, locks),
		verifier: &rules.Verifier{},
	}, nil
}

func (a *app) socketPath() string {
	return filepath.Join(a.workDir, uds.DefaultSocketName)
}

// lockTree takes the cross-process tree lock for commands that mutate
// the tree or its snapshots directly. A monitor cycle holds the same
// flock, so overlapping whole-tree work fails fast as busy instead of
// racing it.
func (a *app) lockTree() (func(), error) {
	fl := lock.NewFileLock(lock.TreeLockPath(a.workDir))
	if err := fl.TryLock(); err != nil {
		return nil, exitWith(ExitBusy, fmt.Errorf("tree is busy: %w", err))
	}
	return func() { _ = fl.Unlock() }, nil
}
