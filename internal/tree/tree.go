// Package tree implements whole-tree copy, replace, and hashing for the
// save point store and release gate. Snapshot granularity is full copy,
// never incremental diffing.
package tree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultSkip lists directory entries never carried by a tree copy:
// the workspace itself, git metadata, and editor temp state would make
// snapshots self-referential or non-reproducible.
var DefaultSkip = []string{".relcycle", ".git"}

func skipped(name string, skip []string) bool {
	for _, s := range skip {
		if name == s {
			return true
		}
	}
	return false
}

// Copy copies src into dst recursively, preserving file modes. Entries
// in skip are only honored at the top level, matching the layout of a
// working tree with its workspace dir beside the sources.
func Copy(src, dst string, skip []string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("create destination %s: %w", dst, err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read source %s: %w", src, err)
	}

	for _, entry := range entries {
		if skipped(entry.Name(), skip) {
			continue
		}
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyDir(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("create dir %s: %w", dst, err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", src, err)
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Sync()
}

// Clear removes every top-level entry of dir except those in skip.
func Clear(dir string, skip []string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if skipped(entry.Name(), skip) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Replace clears dst (honoring skip), then copies src into it. The
// caller must hold the tree lock; Replace itself is not atomic across
// crashes, which is why callers surface mid-replace failures as typed
// errors rather than retrying silently.
func Replace(src, dst string, skip []string) error {
	if err := Clear(dst, skip); err != nil {
		return err
	}
	return Copy(src, dst, skip)
}

// ReplaceSwap replaces dst's content with src's without exposing a
// half-replaced tree to a copy failure: the prior top-level entries are
// renamed aside into a backup dir under scratch first, and renamed back
// if the copy fails. scratch must live on the same filesystem as dst.
// The caller must hold the tree lock.
func ReplaceSwap(src, dst, scratch string, skip []string) error {
	backup, err := os.MkdirTemp(scratch, "prior-*")
	if err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	entries, err := os.ReadDir(dst)
	if err != nil {
		os.RemoveAll(backup)
		return fmt.Errorf("read dir %s: %w", dst, err)
	}

	var moved []string
	for _, entry := range entries {
		if skipped(entry.Name(), skip) {
			continue
		}
		if err := os.Rename(filepath.Join(dst, entry.Name()), filepath.Join(backup, entry.Name())); err != nil {
			// Nothing new copied yet: just put back what already moved.
			for _, name := range moved {
				_ = os.Rename(filepath.Join(backup, name), filepath.Join(dst, name))
			}
			os.RemoveAll(backup)
			return fmt.Errorf("stage aside %s: %w", entry.Name(), err)
		}
		moved = append(moved, entry.Name())
	}

	if err := Copy(src, dst, skip); err != nil {
		if rerr := restorePrior(backup, dst, moved, skip); rerr != nil {
			return fmt.Errorf("copy failed (%v), restore prior content: %w", err, rerr)
		}
		return err
	}
	return os.RemoveAll(backup)
}

// restorePrior drops whatever a failed copy managed to place, then
// renames the prior entries back from the backup dir. All prior entries
// were moved out before the copy started, so every non-skip entry left
// in dst is partial new content.
func restorePrior(backup, dst string, moved []string, skip []string) error {
	if err := Clear(dst, skip); err != nil {
		return err
	}
	for _, name := range moved {
		if err := os.Rename(filepath.Join(backup, name), filepath.Join(dst, name)); err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
	}
	return os.RemoveAll(backup)
}

// Hash computes a deterministic content hash of the tree: sha256 over
// relative path, file mode, and content of every regular file, walked
// in sorted order. Stable across machines for identical content.
func Hash(root string, skip []string) (string, error) {
	h := sha256.New()

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		top := strings.SplitN(rel, string(os.PathSeparator), 2)[0]
		if skipped(top, skip) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Strings(paths)
	for _, rel := range paths {
		full := filepath.Join(root, rel)
		info, err := os.Stat(full)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", rel, err)
		}
		fmt.Fprintf(h, "%s\x00%o\x00", filepath.ToSlash(rel), info.Mode().Perm())

		f, err := os.Open(full)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", rel, err)
		}
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", fmt.Errorf("hash %s: %w", rel, err)
		}
		f.Close()
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
