package model

// SavePoint describes one immutable whole-tree snapshot. The content
// hash is computed over the snapshotted tree at creation time and never
// changes afterwards.
const SavePointIndexFileType = "save_point_index"

type SavePoint struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	ContentHash string `yaml:"content_hash"`
	Reason      string `yaml:"reason,omitempty"`
	ReleaseTag  string `yaml:"release_tag,omitempty"`
	CreatedAt   string `yaml:"created_at"`
}
