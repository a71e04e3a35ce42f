package yaml

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/relcycle/internal/model"
)

func Quarantine(workDir, filePath string) error {
	quarantineDir := filepath.Join(workDir, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}

	baseName := filepath.Base(filePath)
	timestamp := time.Now().Format("20060102T150405")
	quarantineName := fmt.Sprintf("%s.%s.corrupt", baseName, timestamp)
	quarantinePath := filepath.Join(quarantineDir, quarantineName)

	if err := os.Rename(filePath, quarantinePath); err != nil {
		return fmt.Errorf("move to quarantine: %w", err)
	}

	log.Printf("quarantined corrupted file: %s → %s", filePath, quarantinePath)
	return nil
}

func RestoreFromBackup(filePath string) error {
	bakPath := filePath + ".bak"
	if _, err := os.Stat(bakPath); os.IsNotExist(err) {
		return fmt.Errorf("no backup file: %s", bakPath)
	}

	content, err := os.ReadFile(bakPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	// Validate backup is valid YAML
	if err := validateYAML(content); err != nil {
		return fmt.Errorf("backup YAML is also corrupted: %w", err)
	}

	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}

	log.Printf("restored from backup: %s → %s", bakPath, filePath)
	return nil
}

func GenerateSkeleton(filePath string, fileType string) error {
	skeleton := generateSkeletonForType(fileType)
	content, err := yamlv3.Marshal(skeleton)
	if err != nil {
		return fmt.Errorf("marshal skeleton: %w", err)
	}

	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("write skeleton: %w", err)
	}

	log.Printf("generated skeleton: %s (type: %s)", filePath, fileType)
	return nil
}

func RecoverCorruptedFile(workDir, filePath, fileType string) error {
	// Step 1: Quarantine the corrupted file
	if err := Quarantine(workDir, filePath); err != nil {
		return fmt.Errorf("quarantine failed: %w", err)
	}

	// Step 2: Try to restore from .bak
	if err := RestoreFromBackup(filePath); err != nil {
		log.Printf("backup restore failed for %s: %v — falling back to skeleton generation", filePath, err)
	} else {
		return nil
	}

	// Step 3: Generate minimal skeleton
	if err := GenerateSkeleton(filePath, fileType); err != nil {
		return fmt.Errorf("skeleton generation failed: %w", err)
	}

	return nil
}

func generateSkeletonForType(fileType string) any {
	switch fileType {
	case model.WorkflowStateFileType:
		return map[string]any{
			"schema_version":     CurrentSchemaVersion,
			"file_type":          model.WorkflowStateFileType,
			"cycle_id":           "",
			"current_step":       "idle",
			"failure_streak":     0,
			"last_save_point_id": "",
			"step_history":       []any{},
			"updated_at":         "",
		}
	case model.ReleaseRecordFileType:
		return map[string]any{
			"schema_version": CurrentSchemaVersion,
			"file_type":      model.ReleaseRecordFileType,
			"tag":            "",
			"source":         "",
			"destination":    "",
			"fetched_at":     "",
		}
	case model.TestRunResultFileType:
		return map[string]any{
			"schema_version": CurrentSchemaVersion,
			"file_type":      model.TestRunResultFileType,
			"procedure":      "",
			"outcomes":       []any{},
			"incomplete":     false,
			"started_at":     "",
			"finished_at":    "",
		}
	case model.SavePointIndexFileType:
		return map[string]any{
			"schema_version": CurrentSchemaVersion,
			"file_type":      model.SavePointIndexFileType,
			"dirty":          false,
			"save_points":    []any{},
		}
	default:
		return map[string]any{
			"schema_version": CurrentSchemaVersion,
			"file_type":      fileType,
		}
	}
}
