package release

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/msageha/relcycle/internal/lock"
)

// fakeClient serves releases from an in-memory map of tag -> files.
type fakeClient struct {
	mu       sync.Mutex
	tags     []string // newest first
	content  map[string]map[string]string
	links    map[string]map[string]string // tag -> symlink name -> target
	fetches  int
	pushErr  error
	pushed   []string
	fetchErr error
}

func (f *fakeClient) LatestTag(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tags) == 0 {
		return "", fmt.Errorf("%w: no tags", ErrReleaseNotFound)
	}
	return f.tags[0], nil
}

func (f *fakeClient) Tags(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tags...), nil
}

func (f *fakeClient) FetchTag(ctx context.Context, tag, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return f.fetchErr
	}
	files, ok := f.content[tag]
	if !ok {
		return fmt.Errorf("%w: tag %s", ErrReleaseNotFound, tag)
	}
	for name, body := range files {
		path := filepath.Join(dst, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			return err
		}
	}
	for name, target := range f.links[tag] {
		if err := os.Symlink(target, filepath.Join(dst, name)); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeClient) Push(ctx context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, message)
	return nil
}

func newTestGate(t *testing.T, client VersionControlClient) (*Gate, string) {
	t.Helper()
	treePath := t.TempDir()
	workDir := t.TempDir()
	return NewGate(treePath, workDir, "ssh://example/repo.git", client, lock.NewMutexMap()), treePath
}

func TestGate_FetchReplacesTree(t *testing.T) {
	client := &fakeClient{
		tags: []string{"v1.1.0", "v1.0.0"},
		content: map[string]map[string]string{
			"v1.1.0": {"app.txt": "new", "lib/util.txt": "helper"},
		},
	}
	gate, treePath := newTestGate(t, client)

	// Pre-existing content the replace must remove
	if err := os.WriteFile(filepath.Join(treePath, "stale.txt"), []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	rec, err := gate.Fetch(context.Background(), "")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if rec.Tag != "v1.1.0" {
		t.Errorf("expected latest tag v1.1.0, got %s", rec.Tag)
	}
	if rec.Destination != treePath {
		t.Errorf("record destination mismatch: %s", rec.Destination)
	}

	got, err := os.ReadFile(filepath.Join(treePath, "app.txt"))
	if err != nil || string(got) != "new" {
		t.Errorf("fetched content missing: %q, %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(treePath, "stale.txt")); !os.IsNotExist(err) {
		t.Errorf("stale content survived whole replace")
	}

	current, err := gate.CurrentRecord()
	if err != nil {
		t.Fatal(err)
	}
	if current.Tag != "v1.1.0" {
		t.Errorf("record not persisted: %+v", current)
	}
}

func TestGate_FetchUnknownTag(t *testing.T) {
	client := &fakeClient{
		tags:    []string{"v1.0.0"},
		content: map[string]map[string]string{"v1.0.0": {"a.txt": "x"}},
	}
	gate, treePath := newTestGate(t, client)
	if err := os.WriteFile(filepath.Join(treePath, "keep.txt"), []byte("keep"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := gate.Fetch(context.Background(), "v9.9.9")
	if !errors.Is(err, ErrReleaseNotFound) {
		t.Fatalf("expected ErrReleaseNotFound, got %v", err)
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Errorf("expected FetchError wrapper, got %T", err)
	}

	// Tree untouched on failure
	if _, err := os.Stat(filepath.Join(treePath, "keep.txt")); err != nil {
		t.Errorf("failed fetch disturbed the tree: %v", err)
	}
	rec, err := gate.CurrentRecord()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Tag != "" {
		t.Errorf("failed fetch persisted a record: %+v", rec)
	}
}

func TestGate_FetchFailureMidReplaceRestoresTree(t *testing.T) {
	// v2.0.0 fetches fine but cannot be copied into the tree: the
	// dangling symlink fails the copy after aaa.txt already landed.
	client := &fakeClient{
		tags: []string{"v2.0.0", "v1.0.0"},
		content: map[string]map[string]string{
			"v1.0.0": {"keep.txt": "prior"},
			"v2.0.0": {"aaa.txt": "new"},
		},
		links: map[string]map[string]string{
			"v2.0.0": {"zzz-link": "no-such-target"},
		},
	}
	gate, treePath := newTestGate(t, client)
	ctx := context.Background()

	if _, err := gate.Fetch(ctx, "v1.0.0"); err != nil {
		t.Fatal(err)
	}

	_, err := gate.Fetch(ctx, "v2.0.0")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}

	// Prior content back in place, partial new content gone
	got, readErr := os.ReadFile(filepath.Join(treePath, "keep.txt"))
	if readErr != nil || string(got) != "prior" {
		t.Errorf("prior content not restored after failed replace: %q, %v", got, readErr)
	}
	if _, statErr := os.Stat(filepath.Join(treePath, "aaa.txt")); !os.IsNotExist(statErr) {
		t.Error("partial new content survived failed replace")
	}
	rec, recErr := gate.CurrentRecord()
	if recErr != nil {
		t.Fatal(recErr)
	}
	if rec.Tag != "v1.0.0" {
		t.Errorf("failed fetch disturbed the release record: %+v", rec)
	}
}

func TestGate_IsNewReleaseAvailable(t *testing.T) {
	client := &fakeClient{
		tags:    []string{"v1.0.0"},
		content: map[string]map[string]string{"v1.0.0": {"a.txt": "x"}},
	}
	gate, _ := newTestGate(t, client)
	ctx := context.Background()

	avail, tag, err := gate.IsNewReleaseAvailable(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !avail || tag != "v1.0.0" {
		t.Errorf("expected new release before first fetch, got avail=%v tag=%s", avail, tag)
	}

	if _, err := gate.Fetch(ctx, ""); err != nil {
		t.Fatal(err)
	}

	avail, _, err = gate.IsNewReleaseAvailable(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if avail {
		t.Error("same tag reported as new immediately after fetch")
	}

	// A strictly newer tag appears upstream
	client.mu.Lock()
	client.tags = append([]string{"v1.1.0"}, client.tags...)
	client.content["v1.1.0"] = map[string]string{"a.txt": "y"}
	client.mu.Unlock()

	avail, tag, err = gate.IsNewReleaseAvailable(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !avail || tag != "v1.1.0" {
		t.Errorf("newer upstream tag not detected: avail=%v tag=%s", avail, tag)
	}
}

func TestGate_CheckAndFetch(t *testing.T) {
	client := &fakeClient{
		tags:    []string{"v2.0.0"},
		content: map[string]map[string]string{"v2.0.0": {"a.txt": "two"}},
	}
	gate, _ := newTestGate(t, client)
	ctx := context.Background()

	rec, fetched, err := gate.CheckAndFetch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !fetched || rec.Tag != "v2.0.0" {
		t.Fatalf("first check-and-fetch should fetch: fetched=%v rec=%+v", fetched, rec)
	}

	// Nothing newer: no-op
	_, fetched, err = gate.CheckAndFetch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if fetched {
		t.Error("check-and-fetch fetched with nothing newer upstream")
	}
}

func TestGate_PushErrorWrapped(t *testing.T) {
	client := &fakeClient{pushErr: errors.New("remote rejected")}
	gate, _ := newTestGate(t, client)

	err := gate.Push(context.Background(), "apply fix")
	var pe *PushError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PushError, got %v", err)
	}
}

func TestGate_ReleaseByTag(t *testing.T) {
	client := &fakeClient{tags: []string{"v1.1.0", "v1.0.0"}}
	gate, _ := newTestGate(t, client)
	ctx := context.Background()

	tag, err := gate.ReleaseByTag(ctx, "v1.0.0")
	if err != nil || tag != "v1.0.0" {
		t.Errorf("known tag lookup failed: %s, %v", tag, err)
	}
	if _, err := gate.ReleaseByTag(ctx, "v3.0.0"); !errors.Is(err, ErrReleaseNotFound) {
		t.Errorf("expected ErrReleaseNotFound, got %v", err)
	}
}

func TestCompareTags(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"v1.0.0", "v1.0.0", 0},
		{"v1.1.0", "v1.0.0", 1},
		{"v1.0.0", "v1.1.0", -1},
		{"v1.10.0", "v1.9.0", 1},
		{"v2.0.0", "v1.99.99", 1},
		{"v1.0.0", "v1.0", 1},
		{"1.2.3", "v1.2.3", 0},
	}
	for _, c := range cases {
		got := CompareTags(c.a, c.b)
		if (got > 0) != (c.want > 0) || (got < 0) != (c.want < 0) {
			t.Errorf("CompareTags(%s, %s) = %d, want sign of %d", c.a, c.b, got, c.want)
		}
	}
}
