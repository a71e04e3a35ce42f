package release

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// VersionControlClient abstracts the upstream release source. The
// production implementation shells out to git; tests substitute fakes.
type VersionControlClient interface {
	// LatestTag returns the newest release tag upstream.
	LatestTag(ctx context.Context) (string, error)
	// Tags returns every release tag upstream, newest first.
	Tags(ctx context.Context) ([]string, error)
	// FetchTag materializes the tagged content into dst. dst must not
	// exist; a failed fetch leaves no usable dst behind.
	FetchTag(ctx context.Context, tag, dst string) error
	// Push publishes local tree changes upstream with the given message.
	Push(ctx context.Context, message string) error
}

// GitClient talks to a git remote. Fetches are shallow single-branch
// clones with the .git directory stripped, so the fetched content is a
// plain tree.
type GitClient struct {
	URL        string
	Branch     string
	TreePath   string
	SSHKeyPath string
}

func (g *GitClient) env() []string {
	env := os.Environ()
	if g.SSHKeyPath != "" {
		env = append(env, fmt.Sprintf("GIT_SSH_COMMAND=ssh -i %s -o IdentitiesOnly=yes", g.SSHKeyPath))
	}
	return env
}

func (g *GitClient) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = g.env()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// LatestTag lists remote tags and returns the highest by version order.
func (g *GitClient) LatestTag(ctx context.Context) (string, error) {
	tags, err := g.Tags(ctx)
	if err != nil {
		return "", err
	}
	if len(tags) == 0 {
		return "", fmt.Errorf("%w: remote %s has no tags", ErrReleaseNotFound, g.URL)
	}
	return tags[0], nil
}

// Tags returns the remote's tags sorted newest first.
func (g *GitClient) Tags(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "", "ls-remote", "--tags", "--refs", g.URL)
	if err != nil {
		return nil, err
	}

	var tags []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		ref := strings.TrimPrefix(fields[1], "refs/tags/")
		if ref != fields[1] {
			tags = append(tags, ref)
		}
	}
	sort.Slice(tags, func(i, j int) bool {
		return CompareTags(tags[i], tags[j]) > 0
	})
	return tags, nil
}

// FetchTag shallow-clones the tag into dst and strips .git.
func (g *GitClient) FetchTag(ctx context.Context, tag, dst string) error {
	if _, err := g.run(ctx, "", "clone", "--depth", "1", "--branch", tag, g.URL, dst); err != nil {
		_ = os.RemoveAll(dst)
		if strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: tag %s", ErrReleaseNotFound, tag)
		}
		return err
	}
	if err := os.RemoveAll(filepath.Join(dst, ".git")); err != nil {
		_ = os.RemoveAll(dst)
		return fmt.Errorf("strip .git from fetched tree: %w", err)
	}
	return nil
}

// Push stages everything in the tree, commits, and pushes the branch.
// A tree with nothing to commit still pushes, so a previously committed
// but unpushed state goes out.
func (g *GitClient) Push(ctx context.Context, message string) error {
	if _, err := g.run(ctx, g.TreePath, "add", "-A"); err != nil {
		return err
	}
	out, err := g.run(ctx, g.TreePath, "commit", "-m", message)
	if err != nil && !strings.Contains(out, "nothing to commit") {
		return err
	}
	if _, err := g.run(ctx, g.TreePath, "push", "origin", g.Branch); err != nil {
		return err
	}
	return nil
}

// CompareTags orders release tags. Numeric runs compare numerically so
// v1.10.0 sorts after v1.9.0; otherwise byte order applies.
func CompareTags(a, b string) int {
	ap := splitTag(a)
	bp := splitTag(b)
	for i := 0; i < len(ap) && i < len(bp); i++ {
		an, aErr := strconv.Atoi(ap[i])
		bn, bErr := strconv.Atoi(bp[i])
		if aErr == nil && bErr == nil {
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
			continue
		}
		if ap[i] != bp[i] {
			if ap[i] < bp[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ap) < len(bp):
		return -1
	case len(ap) > len(bp):
		return 1
	}
	return 0
}

func splitTag(tag string) []string {
	tag = strings.TrimPrefix(tag, "v")
	return strings.FieldsFunc(tag, func(r rune) bool {
		return r == '.' || r == '-' || r == '+'
	})
}
