package yaml

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateSchemaHeader(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
		wantErr  bool
	}{
		{"valid workflow state", "schema_version: 1\nfile_type: workflow_state\n", "workflow_state", false},
		{"valid any expected", "schema_version: 1\nfile_type: release_record\n", "", false},
		{"missing version", "file_type: workflow_state\n", "", true},
		{"future version", "schema_version: 99\nfile_type: workflow_state\n", "", true},
		{"missing file type", "schema_version: 1\n", "", true},
		{"unknown file type", "schema_version: 1\nfile_type: mystery\n", "", true},
		{"type mismatch", "schema_version: 1\nfile_type: release_record\n", "workflow_state", true},
		{"not yaml", "::::", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, tt.content)
			err := ValidateSchemaHeader(path, tt.expected)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchemaHeader() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNeedsMigration(t *testing.T) {
	if NeedsMigration(CurrentSchemaVersion) {
		t.Error("current version should not need migration")
	}
	if !NeedsMigration(0) {
		t.Error("version 0 should need migration")
	}
}
