package model

import "time"

// WorkflowState is the coordinator's persisted run record. Only the
// coordinator mutates it; step history accumulates across invocations
// for audit.
type WorkflowState struct {
	SchemaVersion   int          `yaml:"schema_version"`
	FileType        string       `yaml:"file_type"`
	CycleID         string       `yaml:"cycle_id"`
	CurrentStep     Step         `yaml:"current_step"`
	FailureStreak   int          `yaml:"failure_streak"`
	LastSavePointID string       `yaml:"last_save_point_id"`
	StepHistory     []StepRecord `yaml:"step_history"`
	UpdatedAt       string       `yaml:"updated_at"`
}

type StepRecord struct {
	CycleID   string      `yaml:"cycle_id"`
	Step      Step        `yaml:"step"`
	Outcome   StepOutcome `yaml:"outcome"`
	Detail    string      `yaml:"detail,omitempty"`
	Timestamp string      `yaml:"timestamp"`
}

const WorkflowStateFileType = "workflow_state"

// NewWorkflowState returns a fresh state record in the idle step.
func NewWorkflowState() *WorkflowState {
	return &WorkflowState{
		SchemaVersion: 1,
		FileType:      WorkflowStateFileType,
		CurrentStep:   StepIdle,
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
}
