package model

// ReleaseRecord identifies the release currently occupying the target
// tree. At most one record is current per tree; a successful fetch
// supersedes the previous record rather than mutating it.
type ReleaseRecord struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
	Tag           string `yaml:"tag"`
	Source        string `yaml:"source"`
	Destination   string `yaml:"destination"`
	FetchedAt     string `yaml:"fetched_at"`
}

const ReleaseRecordFileType = "release_record"
