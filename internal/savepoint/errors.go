package savepoint

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a rollback or delete names an unknown
// save point identifier.
var ErrNotFound = errors.New("save point not found")

// SnapshotError reports a failed snapshot capture. The target tree is
// untouched; only the partially written snapshot is discarded.
type SnapshotError struct {
	Path string
	Err  error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot of %s failed: %v", e.Path, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// RollbackError reports a restore that failed mid-copy. The target tree
// is in a diagnosably incomplete state: the store's dirty flag is set
// and must be surfaced, never treated as success.
type RollbackError struct {
	ID  string
	Err error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback to %s failed, tree left incomplete: %v", e.ID, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }
