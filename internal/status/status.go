// Package status reports the workspace's current condition: monitor
// liveness, workflow step, current release, test results, and save
// points.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/msageha/relcycle/internal/model"
	"github.com/msageha/relcycle/internal/uds"
	relyaml "github.com/msageha/relcycle/internal/yaml"
)

type WorkspaceStatus struct {
	Monitor    MonitorStatus      `json:"monitor"`
	Workflow   WorkflowSummary    `json:"workflow"`
	Release    ReleaseSummary     `json:"release"`
	LastRun    *TestRunSummary    `json:"last_run,omitempty"`
	SavePoints []SavePointSummary `json:"save_points,omitempty"`
	Dirty      bool               `json:"dirty"`
}

type MonitorStatus struct {
	Running       bool `json:"running"`
	CyclesRun     int  `json:"cycles_run,omitempty"`
	CyclesSkipped int  `json:"cycles_skipped,omitempty"`
}

type WorkflowSummary struct {
	CurrentStep   string `json:"current_step"`
	CycleID       string `json:"cycle_id,omitempty"`
	FailureStreak int    `json:"failure_streak"`
	LastSavePoint string `json:"last_save_point,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

type ReleaseSummary struct {
	Tag       string `json:"tag,omitempty"`
	FetchedAt string `json:"fetched_at,omitempty"`
}

type TestRunSummary struct {
	Passed     int    `json:"passed"`
	Failed     int    `json:"failed"`
	Errors     int    `json:"errors"`
	Skipped    int    `json:"skipped"`
	Incomplete bool   `json:"incomplete"`
	FinishedAt string `json:"finished_at,omitempty"`
}

type SavePointSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Gather assembles the workspace status from persisted records and
// the monitor's control socket. Missing records degrade to empty
// sections, never errors: status must work on a half-built workspace.
func Gather(workDir string) WorkspaceStatus {
	var s WorkspaceStatus

	s.Monitor = checkMonitor(filepath.Join(workDir, uds.DefaultSocketName))

	var state model.WorkflowState
	if err := relyaml.ReadInto(filepath.Join(workDir, "workflow_state.yaml"), &state); err == nil {
		s.Workflow = WorkflowSummary{
			CurrentStep:   string(state.CurrentStep),
			CycleID:       state.CycleID,
			FailureStreak: state.FailureStreak,
			LastSavePoint: state.LastSavePointID,
			UpdatedAt:     state.UpdatedAt,
		}
	}

	var rec model.ReleaseRecord
	if err := relyaml.ReadInto(filepath.Join(workDir, "release_record.yaml"), &rec); err == nil {
		s.Release = ReleaseSummary{Tag: rec.Tag, FetchedAt: rec.FetchedAt}
	}

	var run model.TestRunResult
	if err := relyaml.ReadInto(filepath.Join(workDir, "test_run_result.yaml"), &run); err == nil {
		counts := run.Counts()
		s.LastRun = &TestRunSummary{
			Passed:     counts[model.TestStatusPass],
			Failed:     counts[model.TestStatusFail],
			Errors:     counts[model.TestStatusError],
			Skipped:    counts[model.TestStatusSkipped],
			Incomplete: run.Incomplete,
			FinishedAt: run.FinishedAt,
		}
	}

	var idx struct {
		Dirty      bool              `yaml:"dirty"`
		SavePoints []model.SavePoint `yaml:"save_points"`
	}
	if err := relyaml.ReadInto(filepath.Join(workDir, "save_points", "index.yaml"), &idx); err == nil {
		s.Dirty = idx.Dirty
		// Newest first
		for i := len(idx.SavePoints) - 1; i >= 0; i-- {
			sp := idx.SavePoints[i]
			s.SavePoints = append(s.SavePoints, SavePointSummary{
				ID:        sp.ID,
				Name:      sp.Name,
				Reason:    sp.Reason,
				CreatedAt: sp.CreatedAt,
			})
		}
	}

	return s
}

// Run gathers and prints the workspace status.
func Run(workDir string, jsonOutput bool) error {
	s := Gather(workDir)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	printStatus(s)
	return nil
}

func checkMonitor(sockPath string) MonitorStatus {
	client := uds.NewClient(sockPath)
	resp, err := client.SendCommand(uds.CmdStatus, nil)
	if err != nil || !resp.Success {
		return MonitorStatus{Running: false}
	}
	var data uds.StatusData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return MonitorStatus{Running: true}
	}
	return MonitorStatus{
		Running:       true,
		CyclesRun:     data.CyclesRun,
		CyclesSkipped: data.CyclesSkipped,
	}
}

func printStatus(s WorkspaceStatus) {
	if s.Monitor.Running {
		fmt.Printf("Monitor: running (cycles run=%d skipped=%d)\n", s.Monitor.CyclesRun, s.Monitor.CyclesSkipped)
	} else {
		fmt.Println("Monitor: stopped")
	}

	fmt.Printf("\nWorkflow: step=%s streak=%d\n", orDash(s.Workflow.CurrentStep), s.Workflow.FailureStreak)
	if s.Workflow.CycleID != "" {
		fmt.Printf("  cycle: %s\n", s.Workflow.CycleID)
	}
	if s.Workflow.LastSavePoint != "" {
		fmt.Printf("  last save point: %s\n", s.Workflow.LastSavePoint)
	}
	if s.Dirty {
		fmt.Println("  WARNING: last rollback left the tree incomplete")
	}

	if s.Release.Tag != "" {
		fmt.Printf("\nRelease: %s (fetched %s)\n", s.Release.Tag, s.Release.FetchedAt)
	} else {
		fmt.Println("\nRelease: none fetched")
	}

	if s.LastRun != nil {
		fmt.Printf("\nLast run: %d passed, %d failed, %d errors, %d skipped",
			s.LastRun.Passed, s.LastRun.Failed, s.LastRun.Errors, s.LastRun.Skipped)
		if s.LastRun.Incomplete {
			fmt.Print(" (incomplete)")
		}
		fmt.Println()
	}

	if len(s.SavePoints) > 0 {
		fmt.Println("\nSave points:")
		fmt.Printf("  %-24s  %-28s  %s\n", "ID", "NAME", "CREATED")
		for _, sp := range s.SavePoints {
			fmt.Printf("  %-24s  %-28s  %s\n", sp.ID, sp.Name, sp.CreatedAt)
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
