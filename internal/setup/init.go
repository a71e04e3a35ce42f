// Package setup handles relcycle workspace initialization.
package setup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/msageha/relcycle/internal/model"
	atomicyaml "github.com/msageha/relcycle/internal/yaml"
)

// WorkspaceDirName is the workspace directory created inside a target
// tree. Tree snapshots, copies, and hashes always skip it.
const WorkspaceDirName = ".relcycle"

// WorkDir returns the workspace path for a target tree.
func WorkDir(treePath string) string {
	return filepath.Join(treePath, WorkspaceDirName)
}

// Run initializes the .relcycle/ workspace inside the target tree.
// projectName defaults to the tree's directory basename; repoURL may
// be empty and set later via config.
func Run(treePath, projectName, repoURL string) error {
	absTree, err := filepath.Abs(treePath)
	if err != nil {
		return fmt.Errorf("resolve tree path: %w", err)
	}

	base := WorkDir(absTree)
	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	dirs := []string{
		"save_points",
		"logs",
		"locks",
		"triggers",
		"quarantine",
		"observations",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfg := generateConfig(absTree, projectName, repoURL)
	if err := atomicyaml.AtomicWrite(filepath.Join(base, "config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	state := model.NewWorkflowState()
	state.SchemaVersion = atomicyaml.CurrentSchemaVersion
	if err := atomicyaml.AtomicWrite(filepath.Join(base, "workflow_state.yaml"), state); err != nil {
		return fmt.Errorf("write workflow_state.yaml: %w", err)
	}

	if err := atomicyaml.GenerateSkeleton(filepath.Join(base, "save_points", "index.yaml"), model.SavePointIndexFileType); err != nil {
		return fmt.Errorf("write save point index: %w", err)
	}

	// Empty monitor.lock so the flock target exists up front
	if err := os.WriteFile(filepath.Join(base, "locks", "monitor.lock"), nil, 0600); err != nil {
		return fmt.Errorf("create monitor.lock: %w", err)
	}

	return nil
}

// LoadConfig reads the workspace config, filling defaulted fields.
func LoadConfig(treePath string) (model.Config, error) {
	var cfg model.Config
	path := filepath.Join(WorkDir(treePath), "config.yaml")
	if err := atomicyaml.ReadInto(path, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// SaveConfig writes the workspace config atomically.
func SaveConfig(treePath string, cfg model.Config) error {
	path := filepath.Join(WorkDir(treePath), "config.yaml")
	if err := atomicyaml.AtomicWrite(path, &cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

func generateConfig(treePath, projectName, repoURL string) *model.Config {
	cfg := model.DefaultConfig()
	if projectName != "" {
		cfg.Project.Name = projectName
	} else {
		cfg.Project.Name = filepath.Base(treePath)
	}
	cfg.Tree.Path = treePath
	cfg.Repo.URL = repoURL
	return &cfg
}
