package savepoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/msageha/relcycle/internal/lock"
	"github.com/msageha/relcycle/internal/model"
	"github.com/msageha/relcycle/internal/tree"
)

func newTestStore(t *testing.T, max int, autoBackup bool) (*Store, string) {
	t.Helper()
	treePath := t.TempDir()
	workDir := t.TempDir()
	cfg := model.SavePointsConfig{Max: max, AutoBackup: model.Bool(autoBackup)}
	return NewStore(treePath, workDir, cfg, lock.NewMutexMap()), treePath
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestStore_CreateAndList(t *testing.T) {
	store, treePath := newTestStore(t, 10, false)
	writeFile(t, filepath.Join(treePath, "main.txt"), "v1")

	sp, err := store.Create("first", Metadata{Reason: "manual"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if sp.ID == "" || sp.ContentHash == "" {
		t.Fatalf("save point missing id or hash: %+v", sp)
	}
	if !model.ValidateID(sp.ID) {
		t.Errorf("invalid save point id %q", sp.ID)
	}
	if typ, err := model.ParseIDType(sp.ID); err != nil || typ != model.IDTypeSavePoint {
		t.Errorf("unexpected id type for %q: %v %v", sp.ID, typ, err)
	}

	list, err := store.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != sp.ID {
		t.Fatalf("unexpected list: %+v", list)
	}
	if list[0].Reason != "manual" {
		t.Errorf("reason not persisted: %+v", list[0])
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	store, treePath := newTestStore(t, 10, false)
	writeFile(t, filepath.Join(treePath, "f.txt"), "x")

	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		sp, err := store.Create(name, Metadata{})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, sp.ID)
	}

	list, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 save points, got %d", len(list))
	}
	for i := 0; i < 3; i++ {
		if list[i].ID != ids[2-i] {
			t.Errorf("position %d: got %s, want %s", i, list[i].ID, ids[2-i])
		}
	}
}

func TestStore_EvictsOldestAtCapacity(t *testing.T) {
	store, treePath := newTestStore(t, 2, false)
	writeFile(t, filepath.Join(treePath, "f.txt"), "x")

	a, err := store.Create("a", Metadata{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := store.Create("b", Metadata{})
	if err != nil {
		t.Fatal(err)
	}
	c, err := store.Create("c", Metadata{})
	if err != nil {
		t.Fatal(err)
	}

	list, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 save points, got %d", len(list))
	}
	if list[0].ID != c.ID || list[1].ID != b.ID {
		t.Errorf("expected [c b], got [%s %s]", list[0].ID, list[1].ID)
	}

	// The evicted snapshot directory is gone
	if _, err := os.Stat(filepath.Join(store.dir, a.ID)); !os.IsNotExist(err) {
		t.Errorf("evicted snapshot dir still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.dir, c.ID)); err != nil {
		t.Errorf("surviving snapshot dir missing: %v", err)
	}
}

func TestStore_RollbackRestoresContent(t *testing.T) {
	store, treePath := newTestStore(t, 10, false)
	writeFile(t, filepath.Join(treePath, "main.txt"), "v1")
	writeFile(t, filepath.Join(treePath, "sub", "lib.txt"), "lib-v1")

	sp, err := store.Create("before-change", Metadata{})
	if err != nil {
		t.Fatal(err)
	}

	// Mutate the tree: edit, add, delete
	writeFile(t, filepath.Join(treePath, "main.txt"), "v2")
	writeFile(t, filepath.Join(treePath, "new.txt"), "added")
	if err := os.RemoveAll(filepath.Join(treePath, "sub")); err != nil {
		t.Fatal(err)
	}

	if err := store.Rollback(sp.ID); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(treePath, "main.txt"))
	if err != nil || string(got) != "v1" {
		t.Errorf("main.txt not restored: %q, %v", got, err)
	}
	got, err = os.ReadFile(filepath.Join(treePath, "sub", "lib.txt"))
	if err != nil || string(got) != "lib-v1" {
		t.Errorf("sub/lib.txt not restored: %q, %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(treePath, "new.txt")); !os.IsNotExist(err) {
		t.Errorf("file added after snapshot survived rollback")
	}
}

func TestStore_RollbackRoundTripHash(t *testing.T) {
	store, treePath := newTestStore(t, 10, false)
	writeFile(t, filepath.Join(treePath, "a.txt"), "alpha")
	writeFile(t, filepath.Join(treePath, "d", "b.txt"), "beta")

	sp, err := store.Create("snap", Metadata{})
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(treePath, "a.txt"), "mutated")
	writeFile(t, filepath.Join(treePath, "extra.txt"), "junk")

	if err := store.Rollback(sp.ID); err != nil {
		t.Fatal(err)
	}

	hash, err := tree.Hash(treePath, tree.DefaultSkip)
	if err != nil {
		t.Fatal(err)
	}
	if hash != sp.ContentHash {
		t.Errorf("post-rollback tree hash %s does not match snapshot hash %s", hash, sp.ContentHash)
	}
}

func TestStore_RollbackUnknownID(t *testing.T) {
	store, _ := newTestStore(t, 10, false)

	err := store.Rollback("sp_0000000000_deadbeef")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_AutoBackupBeforeRollback(t *testing.T) {
	store, treePath := newTestStore(t, 10, true)
	writeFile(t, filepath.Join(treePath, "f.txt"), "v1")

	sp, err := store.Create("snap", Metadata{})
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(treePath, "f.txt"), "v2")
	if err := store.Rollback(sp.ID); err != nil {
		t.Fatal(err)
	}

	list, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected backup + original, got %d save points", len(list))
	}
	if list[0].Reason != "pre-rollback backup" {
		t.Errorf("newest save point is not the backup: %+v", list[0])
	}

	// The backup captured the pre-rollback state
	if err := store.Rollback(list[0].ID); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(treePath, "f.txt"))
	if err != nil || string(got) != "v2" {
		t.Errorf("backup did not capture pre-rollback content: %q, %v", got, err)
	}
}

func TestStore_AutoBackupSkippedWhenItWouldEvictTarget(t *testing.T) {
	store, treePath := newTestStore(t, 1, true)
	writeFile(t, filepath.Join(treePath, "f.txt"), "v1")

	sp, err := store.Create("only", Metadata{})
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(treePath, "f.txt"), "v2")
	if err := store.Rollback(sp.ID); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(treePath, "f.txt"))
	if err != nil || string(got) != "v1" {
		t.Errorf("rollback target was evicted by its own backup: %q, %v", got, err)
	}
}

func TestStore_Delete(t *testing.T) {
	store, treePath := newTestStore(t, 10, false)
	writeFile(t, filepath.Join(treePath, "f.txt"), "x")

	sp, err := store.Create("doomed", Metadata{})
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(sp.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	list, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("save point survived delete: %+v", list)
	}
	if _, err := os.Stat(filepath.Join(store.dir, sp.ID)); !os.IsNotExist(err) {
		t.Errorf("snapshot dir survived delete")
	}

	if err := store.Delete(sp.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestStore_RollbackFailureSetsDirtyFlag(t *testing.T) {
	store, treePath := newTestStore(t, 10, false)
	writeFile(t, filepath.Join(treePath, "f.txt"), "v1")

	sp, err := store.Create("snap", Metadata{})
	if err != nil {
		t.Fatal(err)
	}

	// Destroy the snapshot directory so Replace fails mid-flight
	if err := os.RemoveAll(filepath.Join(store.dir, sp.ID)); err != nil {
		t.Fatal(err)
	}

	err = store.Rollback(sp.ID)
	var rbErr *RollbackError
	if !errors.As(err, &rbErr) {
		t.Fatalf("expected RollbackError, got %v", err)
	}

	dirty, err := store.Dirty()
	if err != nil {
		t.Fatal(err)
	}
	if !dirty {
		t.Error("dirty flag not set after failed rollback")
	}

	// A successful rollback clears it
	sp2, err := store.Create("recovery", Metadata{})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Rollback(sp2.ID); err != nil {
		t.Fatal(err)
	}
	dirty, err = store.Dirty()
	if err != nil {
		t.Fatal(err)
	}
	if dirty {
		t.Error("dirty flag not cleared after successful rollback")
	}
}

func TestStore_SkipsWorkspaceDirs(t *testing.T) {
	store, treePath := newTestStore(t, 10, false)
	writeFile(t, filepath.Join(treePath, "f.txt"), "x")
	writeFile(t, filepath.Join(treePath, ".relcycle", "state.yaml"), "internal")
	writeFile(t, filepath.Join(treePath, ".git", "HEAD"), "ref")

	sp, err := store.Create("snap", Metadata{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(store.dir, sp.ID, ".relcycle")); !os.IsNotExist(err) {
		t.Error("snapshot captured .relcycle")
	}
	if _, err := os.Stat(filepath.Join(store.dir, sp.ID, ".git")); !os.IsNotExist(err) {
		t.Error("snapshot captured .git")
	}

	// Rollback keeps the live workspace dirs in place
	if err := store.Rollback(sp.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(treePath, ".relcycle", "state.yaml")); err != nil {
		t.Errorf("rollback clobbered .relcycle: %v", err)
	}
}
