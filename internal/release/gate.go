// Package release decides whether a newer release exists upstream and
// moves release content in and out of the target tree.
package release

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/msageha/relcycle/internal/lock"
	"github.com/msageha/relcycle/internal/model"
	"github.com/msageha/relcycle/internal/tree"
	yamlutil "github.com/msageha/relcycle/internal/yaml"
)

// RecordFileName is the release record's filename inside the
// workspace dir. The monitor reads it directly for status reporting.
const RecordFileName = "release_record.yaml"

// Gate owns the current release record for one target tree. Fetches
// stage into a scratch directory first, so a failed fetch never leaves
// the tree partially replaced.
type Gate struct {
	treePath   string
	workDir    string
	recordPath string
	source     string
	client     VersionControlClient
	locks      *lock.MutexMap
	group      singleflight.Group
}

// NewGate builds a gate backed by the given version-control client.
func NewGate(treePath, workDir, source string, client VersionControlClient, locks *lock.MutexMap) *Gate {
	return &Gate{
		treePath:   treePath,
		workDir:    workDir,
		recordPath: filepath.Join(workDir, RecordFileName),
		source:     source,
		client:     client,
		locks:      locks,
	}
}

// CurrentRecord returns the record of the release occupying the tree.
// A tree that never fetched has a zero record and nil error.
func (g *Gate) CurrentRecord() (model.ReleaseRecord, error) {
	var rec model.ReleaseRecord
	if err := yamlutil.ReadInto(g.recordPath, &rec); err != nil {
		if os.IsNotExist(err) {
			return model.ReleaseRecord{}, nil
		}
		return model.ReleaseRecord{}, fmt.Errorf("load release record: %w", err)
	}
	return rec, nil
}

// IsNewReleaseAvailable reports whether upstream has a tag strictly
// newer than the recorded one. Read-only: neither the record nor the
// tree is touched.
func (g *Gate) IsNewReleaseAvailable(ctx context.Context) (bool, string, error) {
	latest, err := g.client.LatestTag(ctx)
	if err != nil {
		return false, "", &FetchError{Tag: "latest", Err: err}
	}
	rec, err := g.CurrentRecord()
	if err != nil {
		return false, "", err
	}
	if rec.Tag == "" {
		return true, latest, nil
	}
	return CompareTags(latest, rec.Tag) > 0, latest, nil
}

// Fetch replaces the entire tree with the tagged release content and
// persists a new release record. An empty tag means latest. A failure
// at any point leaves the tree and the prior record intact.
func (g *Gate) Fetch(ctx context.Context, tag string) (model.ReleaseRecord, error) {
	key := lock.TreeKey(g.treePath)
	g.locks.Lock(key)
	defer g.locks.Unlock(key)

	return g.fetchLocked(ctx, tag)
}

func (g *Gate) fetchLocked(ctx context.Context, tag string) (model.ReleaseRecord, error) {
	if tag == "" {
		latest, err := g.client.LatestTag(ctx)
		if err != nil {
			return model.ReleaseRecord{}, &FetchError{Tag: "latest", Err: err}
		}
		tag = latest
	}

	staging, err := os.MkdirTemp(g.workDir, "fetch-"+tag+"-*")
	if err != nil {
		return model.ReleaseRecord{}, &FetchError{Tag: tag, Err: err}
	}
	defer os.RemoveAll(staging)

	// FetchTag wants a fresh dst
	dst := filepath.Join(staging, "content")
	if err := g.client.FetchTag(ctx, tag, dst); err != nil {
		return model.ReleaseRecord{}, &FetchError{Tag: tag, Err: err}
	}

	// Swap-based replace: the prior content is moved aside and restored
	// if the copy fails, so FetchError can keep its untouched guarantee
	// even for mid-replace failures.
	if err := tree.ReplaceSwap(dst, g.treePath, g.workDir, tree.DefaultSkip); err != nil {
		return model.ReleaseRecord{}, &FetchError{Tag: tag, Err: err}
	}

	rec := model.ReleaseRecord{
		SchemaVersion: yamlutil.CurrentSchemaVersion,
		FileType:      model.ReleaseRecordFileType,
		Tag:           tag,
		Source:        g.source,
		Destination:   g.treePath,
		FetchedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	if err := yamlutil.AtomicWrite(g.recordPath, &rec); err != nil {
		return model.ReleaseRecord{}, fmt.Errorf("persist release record: %w", err)
	}
	return rec, nil
}

// CheckAndFetch is the atomic check-then-fetch gate. Concurrent calls
// collapse into a single upstream round trip; the tag seen by the
// check is the tag fetched, so no release can slip in between the two.
// Returns the fetched record and true, or a zero record and false when
// nothing newer exists.
func (g *Gate) CheckAndFetch(ctx context.Context) (model.ReleaseRecord, bool, error) {
	type outcome struct {
		rec     model.ReleaseRecord
		fetched bool
	}

	v, err, _ := g.group.Do(lock.TreeKey(g.treePath), func() (any, error) {
		key := lock.TreeKey(g.treePath)
		g.locks.Lock(key)
		defer g.locks.Unlock(key)

		latest, err := g.client.LatestTag(ctx)
		if err != nil {
			return outcome{}, &FetchError{Tag: "latest", Err: err}
		}
		rec, err := g.CurrentRecord()
		if err != nil {
			return outcome{}, err
		}
		if rec.Tag != "" && CompareTags(latest, rec.Tag) <= 0 {
			return outcome{}, nil
		}

		fetched, err := g.fetchLocked(ctx, latest)
		if err != nil {
			return outcome{}, err
		}
		return outcome{rec: fetched, fetched: true}, nil
	})
	if err != nil {
		return model.ReleaseRecord{}, false, err
	}
	out := v.(outcome)
	return out.rec, out.fetched, nil
}

// Push publishes the tree's local changes upstream. Never retried:
// a rejected push needs an operator decision.
func (g *Gate) Push(ctx context.Context, message string) error {
	key := lock.TreeKey(g.treePath)
	g.locks.Lock(key)
	defer g.locks.Unlock(key)

	if err := g.client.Push(ctx, message); err != nil {
		return &PushError{Err: err}
	}
	return nil
}

// ListReleases returns the upstream tags, newest first.
func (g *Gate) ListReleases(ctx context.Context) ([]string, error) {
	return g.client.Tags(ctx)
}

// ReleaseByTag confirms a tag exists upstream.
func (g *Gate) ReleaseByTag(ctx context.Context, tag string) (string, error) {
	tags, err := g.client.Tags(ctx)
	if err != nil {
		return "", err
	}
	for _, t := range tags {
		if t == tag {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrReleaseNotFound, tag)
}
