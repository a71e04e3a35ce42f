package yaml

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/relcycle/internal/model"
)

// CurrentSchemaVersion is stamped into every persisted record. Readers
// accept anything from 1 up to this; newer files belong to a newer
// binary and are rejected rather than guessed at.
const CurrentSchemaVersion = 1

var validFileTypes = map[string]bool{
	model.WorkflowStateFileType:  true,
	model.ReleaseRecordFileType:  true,
	model.TestRunResultFileType:  true,
	model.SavePointIndexFileType: true,
}

// SchemaHeader is the two-field prologue shared by every record file.
type SchemaHeader struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
}

// ValidateSchemaHeader checks the file at path carries a readable
// header of the expected type. An empty expectedFileType accepts any
// known type.
func ValidateSchemaHeader(path string, expectedFileType string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return ValidateSchemaHeaderFromBytes(content, expectedFileType)
}

func ValidateSchemaHeaderFromBytes(content []byte, expectedFileType string) error {
	var header SchemaHeader
	if err := yamlv3.Unmarshal(content, &header); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	switch {
	case header.SchemaVersion < 1:
		return fmt.Errorf("invalid schema_version %d (must be >= 1)", header.SchemaVersion)
	case header.SchemaVersion > CurrentSchemaVersion:
		return fmt.Errorf("unsupported schema_version %d (max supported: %d)", header.SchemaVersion, CurrentSchemaVersion)
	case header.FileType == "":
		return fmt.Errorf("missing file_type")
	case !validFileTypes[header.FileType]:
		return fmt.Errorf("unknown file_type: %q", header.FileType)
	case expectedFileType != "" && header.FileType != expectedFileType:
		return fmt.Errorf("file_type mismatch: got %q, expected %q", header.FileType, expectedFileType)
	}
	return nil
}

// NeedsMigration reports whether a record predates the current schema.
func NeedsMigration(schemaVersion int) bool {
	return schemaVersion < CurrentSchemaVersion
}
