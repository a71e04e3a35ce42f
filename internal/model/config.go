// Package model defines the data structures for relcycle's configuration,
// workflow state, release records, and test results.
package model

type Config struct {
	Project    ProjectConfig    `yaml:"project"`
	Repo       RepoConfig       `yaml:"repo"`
	Tree       TreeConfig       `yaml:"tree"`
	Test       TestConfig       `yaml:"test"`
	SavePoints SavePointsConfig `yaml:"save_points"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type RepoConfig struct {
	URL        string `yaml:"url"`
	Branch     string `yaml:"branch"`
	SSHKeyPath string `yaml:"ssh_key_path,omitempty"`
}

type TreeConfig struct {
	Path string `yaml:"path"`
}

type TestConfig struct {
	Command    []string `yaml:"command"`
	TimeoutSec int      `yaml:"timeout_sec"`
}

// The auto_* toggles default to true, so they are pointers: a
// hand-edited config that omits the key must read as "default", not
// as false the way a plain bool's zero value would.
type SavePointsConfig struct {
	Max        int   `yaml:"max"`
	AutoCreate *bool `yaml:"auto_create"`
	AutoBackup *bool `yaml:"auto_backup_before_rollback"`
}

// AutoCreateEnabled reports auto_create, true when the key is absent.
func (c SavePointsConfig) AutoCreateEnabled() bool { return boolOr(c.AutoCreate, true) }

// AutoBackupEnabled reports auto_backup_before_rollback, true when the
// key is absent.
func (c SavePointsConfig) AutoBackupEnabled() bool { return boolOr(c.AutoBackup, true) }

type WorkflowConfig struct {
	FailureStreakThreshold int   `yaml:"failure_streak_threshold"`
	AutoUpload             *bool `yaml:"auto_upload"`
	NavigationWaitSec      int   `yaml:"navigation_wait_sec"`
}

// AutoUploadEnabled reports auto_upload, true when the key is absent.
func (c WorkflowConfig) AutoUploadEnabled() bool { return boolOr(c.AutoUpload, true) }

// Bool builds a *bool for the config toggles.
func Bool(v bool) *bool { return &v }

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

type MonitorConfig struct {
	CheckIntervalSec   int `yaml:"check_interval_sec"`
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with every tunable at its default.
func DefaultConfig() Config {
	return Config{
		Repo: RepoConfig{
			Branch: "main",
		},
		Test: TestConfig{
			Command:    []string{"./start_and_test.sh"},
			TimeoutSec: 1800,
		},
		SavePoints: SavePointsConfig{
			Max:        10,
			AutoCreate: Bool(true),
			AutoBackup: Bool(true),
		},
		Workflow: WorkflowConfig{
			FailureStreakThreshold: 3,
			AutoUpload:             Bool(true),
			NavigationWaitSec:      60,
		},
		Monitor: MonitorConfig{
			CheckIntervalSec:   3600,
			ShutdownTimeoutSec: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ApplyDefaults fills zero-valued tunables in place. Loaded configs pass
// through this so a hand-edited file with missing keys stays usable.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.Repo.Branch == "" {
		c.Repo.Branch = def.Repo.Branch
	}
	if len(c.Test.Command) == 0 {
		c.Test.Command = def.Test.Command
	}
	if c.Test.TimeoutSec <= 0 {
		c.Test.TimeoutSec = def.Test.TimeoutSec
	}
	if c.SavePoints.Max <= 0 {
		c.SavePoints.Max = def.SavePoints.Max
	}
	if c.SavePoints.AutoCreate == nil {
		c.SavePoints.AutoCreate = def.SavePoints.AutoCreate
	}
	if c.SavePoints.AutoBackup == nil {
		c.SavePoints.AutoBackup = def.SavePoints.AutoBackup
	}
	if c.Workflow.AutoUpload == nil {
		c.Workflow.AutoUpload = def.Workflow.AutoUpload
	}
	if c.Workflow.FailureStreakThreshold <= 0 {
		c.Workflow.FailureStreakThreshold = def.Workflow.FailureStreakThreshold
	}
	if c.Workflow.NavigationWaitSec <= 0 {
		c.Workflow.NavigationWaitSec = def.Workflow.NavigationWaitSec
	}
	if c.Monitor.CheckIntervalSec <= 0 {
		c.Monitor.CheckIntervalSec = def.Monitor.CheckIntervalSec
	}
	if c.Monitor.ShutdownTimeoutSec <= 0 {
		c.Monitor.ShutdownTimeoutSec = def.Monitor.ShutdownTimeoutSec
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}
