// Package savepoint implements the versioned save point store: durable,
// restorable whole-tree snapshots of a target working tree with a FIFO
// retention cap.
package savepoint

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/msageha/relcycle/internal/lock"
	"github.com/msageha/relcycle/internal/model"
	"github.com/msageha/relcycle/internal/tree"
	yamlutil "github.com/msageha/relcycle/internal/yaml"
)

const indexFileType = model.SavePointIndexFileType

// Metadata carries the optional context attached to a save point at
// creation time.
type Metadata struct {
	Reason     string
	ReleaseTag string
}

// indexFile is the persisted save point index. Entries are kept in
// creation order; eviction always removes the head.
type indexFile struct {
	SchemaVersion int               `yaml:"schema_version"`
	FileType      string            `yaml:"file_type"`
	Dirty         bool              `yaml:"dirty"`
	SavePoints    []model.SavePoint `yaml:"save_points"`
}

// Store manages snapshots of one target tree. All operations take the
// tree-scoped lock, making them mutually exclusive with workflow
// cycles, fetches, and test runs touching the same tree.
type Store struct {
	treePath   string
	dir        string
	indexPath  string
	max        int
	autoBackup bool
	locks      *lock.MutexMap
}

// NewStore creates a store rooted at workDir/save_points for treePath.
func NewStore(treePath, workDir string, cfg model.SavePointsConfig, locks *lock.MutexMap) *Store {
	dir := filepath.Join(workDir, "save_points")
	return &Store{
		treePath:   treePath,
		dir:        dir,
		indexPath:  filepath.Join(dir, "index.yaml"),
		max:        cfg.Max,
		autoBackup: cfg.AutoBackupEnabled(),
		locks:      locks,
	}
}

// Create captures the full current state of the target tree as a new
// immutable save point. If the store is at capacity the oldest save
// point is evicted first.
func (s *Store) Create(name string, meta Metadata) (model.SavePoint, error) {
	key := lock.TreeKey(s.treePath)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	return s.createLocked(name, meta)
}

// createLocked assumes the tree lock is held.
func (s *Store) createLocked(name string, meta Metadata) (model.SavePoint, error) {
	id, err := model.GenerateID(model.IDTypeSavePoint)
	if err != nil {
		return model.SavePoint{}, &SnapshotError{Path: s.treePath, Err: err}
	}
	now := time.Now().UTC()
	if name == "" {
		name = "save_point_" + now.Format("20060102_150405")
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return model.SavePoint{}, &SnapshotError{Path: s.treePath, Err: err}
	}

	snapDir := filepath.Join(s.dir, id)
	if err := tree.Copy(s.treePath, snapDir, tree.DefaultSkip); err != nil {
		// Discard the partial snapshot; the tree itself is untouched
		_ = os.RemoveAll(snapDir)
		return model.SavePoint{}, &SnapshotError{Path: s.treePath, Err: err}
	}

	hash, err := tree.Hash(snapDir, tree.DefaultSkip)
	if err != nil {
		_ = os.RemoveAll(snapDir)
		return model.SavePoint{}, &SnapshotError{Path: s.treePath, Err: err}
	}

	sp := model.SavePoint{
		ID:          id,
		Name:        name,
		ContentHash: hash,
		Reason:      meta.Reason,
		ReleaseTag:  meta.ReleaseTag,
		CreatedAt:   now.Format(time.RFC3339),
	}

	idx, err := s.loadIndex()
	if err != nil {
		_ = os.RemoveAll(snapDir)
		return model.SavePoint{}, &SnapshotError{Path: s.treePath, Err: err}
	}
	idx.SavePoints = append(idx.SavePoints, sp)

	// FIFO eviction by age: drop from the head until under the cap
	for len(idx.SavePoints) > s.max {
		evicted := idx.SavePoints[0]
		idx.SavePoints = idx.SavePoints[1:]
		_ = os.RemoveAll(filepath.Join(s.dir, evicted.ID))
	}

	if err := s.writeIndex(idx); err != nil {
		_ = os.RemoveAll(snapDir)
		return model.SavePoint{}, &SnapshotError{Path: s.treePath, Err: err}
	}

	return sp, nil
}

// List returns all save points, newest first. Ordering follows
// creation order, so equal timestamps still list deterministically.
func (s *Store) List() ([]model.SavePoint, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	out := make([]model.SavePoint, len(idx.SavePoints))
	for i, sp := range idx.SavePoints {
		out[len(out)-1-i] = sp
	}
	return out, nil
}

// Get returns the save point with the given id.
func (s *Store) Get(id string) (model.SavePoint, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return model.SavePoint{}, err
	}
	for _, sp := range idx.SavePoints {
		if sp.ID == id {
			return sp, nil
		}
	}
	return model.SavePoint{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Rollback replaces the entire target tree with the snapshot's
// content. Destructive to uncommitted state: callers wanting to
// recover the pre-rollback tree must snapshot first. When auto-backup
// is enabled the store does that itself, unless creating the backup
// would evict the rollback target.
func (s *Store) Rollback(id string) error {
	key := lock.TreeKey(s.treePath)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	idx, err := s.loadIndex()
	if err != nil {
		return err
	}

	pos := -1
	for i, sp := range idx.SavePoints {
		if sp.ID == id {
			pos = i
			break
		}
	}
	if pos == -1 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	target := idx.SavePoints[pos]

	if s.autoBackup {
		// Backing up at capacity evicts the head; skip when the head is
		// the snapshot being restored.
		wouldEvictTarget := len(idx.SavePoints) >= s.max && pos == 0
		if !wouldEvictTarget {
			if _, err := s.createLocked("auto_backup_before_rollback_to_"+target.Name, Metadata{Reason: "pre-rollback backup"}); err != nil {
				return fmt.Errorf("pre-rollback backup: %w", err)
			}
		}
	}

	snapDir := filepath.Join(s.dir, id)
	if err := tree.Replace(snapDir, s.treePath, tree.DefaultSkip); err != nil {
		s.markDirty(true)
		return &RollbackError{ID: id, Err: err}
	}

	s.markDirty(false)
	return nil
}

// Delete removes a save point and its snapshot directory.
func (s *Store) Delete(id string) error {
	key := lock.TreeKey(s.treePath)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	idx, err := s.loadIndex()
	if err != nil {
		return err
	}

	for i, sp := range idx.SavePoints {
		if sp.ID == id {
			idx.SavePoints = append(idx.SavePoints[:i], idx.SavePoints[i+1:]...)
			if err := s.writeIndex(idx); err != nil {
				return err
			}
			return os.RemoveAll(filepath.Join(s.dir, id))
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Dirty reports whether the last rollback left the tree incomplete.
func (s *Store) Dirty() (bool, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return false, err
	}
	return idx.Dirty, nil
}

func (s *Store) markDirty(dirty bool) {
	idx, err := s.loadIndex()
	if err != nil {
		return
	}
	if idx.Dirty == dirty {
		return
	}
	idx.Dirty = dirty
	_ = s.writeIndex(idx)
}

func (s *Store) loadIndex() (*indexFile, error) {
	var idx indexFile
	if err := yamlutil.ReadInto(s.indexPath, &idx); err != nil {
		if os.IsNotExist(err) {
			return &indexFile{SchemaVersion: yamlutil.CurrentSchemaVersion, FileType: indexFileType}, nil
		}
		return nil, fmt.Errorf("load save point index: %w", err)
	}
	return &idx, nil
}

func (s *Store) writeIndex(idx *indexFile) error {
	idx.SchemaVersion = yamlutil.CurrentSchemaVersion
	idx.FileType = indexFileType
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create save point dir: %w", err)
	}
	if err := yamlutil.AtomicWrite(s.indexPath, idx); err != nil {
		return fmt.Errorf("write save point index: %w", err)
	}
	return nil
}
