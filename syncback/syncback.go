// Package syncback implements the exit-time Sync Aggregator: an
// optional squash of the session's auto-commits, followed by
// materializing the upper layer (plus any explicit include paths) back
// onto the main repository's working tree.
package syncback

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/branchbox/branchbox/classify"
	"github.com/branchbox/branchbox/gitrepo"
)

// Decision is what the Sync Aggregator proposes to do with one path.
type Decision int

const (
	Write Decision = iota
	Delete
	Omit
)

func (d Decision) String() string {
	switch d {
	case Write:
		return "write"
	case Delete:
		return "delete"
	default:
		return "omit"
	}
}

// DecisionCallback lets an external caller (the CLI layer) confirm or
// skip a proposed sync decision for relPath. The Aggregator only
// proposes decisions; policy for presenting and overriding them is an
// out-of-scope external concern.
type DecisionCallback func(relPath string, cls classify.Classification, decision Decision) (proceed bool)

// Options configures one Sync call.
type Options struct {
	// Squash, if true and CommitCount >= 1, soft-resets the worktree
	// repo to BaseSHA and recommits with SquashMessage before
	// materializing anything.
	Squash       bool
	CommitCount  int
	BaseSHA      string
	SquashMessage string

	// IncludePaths lists relative paths that must be considered for
	// sync even if they only exist in the lower layer (never touched
	// in the upper layer during the session).
	IncludePaths []string
}

// Result summarizes what Sync did.
type Result struct {
	Written []string
	Deleted []string
	Skipped []string
}

// Aggregator performs exit-time sync for one session.
type Aggregator struct {
	// WorktreeRepo is the session's git worktree (the overlay's lower
	// layer), treated as the source of truth after auto-commits since
	// those have already filtered gitignored material.
	WorktreeRepo *gitrepo.Repo
	UpperDir     string
	MainRepoDir  string
	Classifier   *classify.Classifier
	Decide       DecisionCallback
}

const (
	whiteoutPrefix = ".wh."
	opaqueMarker   = ".wh..wh..opq"
)

func whiteoutTarget(name string) (target string, ok bool) {
	if name == opaqueMarker || !strings.HasPrefix(name, whiteoutPrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, whiteoutPrefix), true
}

// candidate is one path the aggregator has decided needs a sync
// decision, and whether it is a deletion (whiteout) or a write.
type candidate struct {
	relPath string
	deleted bool
}

// Sync runs the full exit-time pipeline: optional squash, then
// enumerate, classify, decide, and materialize.
func (a *Aggregator) Sync(ctx context.Context, opts Options) (*Result, error) {
	if opts.Squash && opts.CommitCount >= 1 {
		if err := a.squash(ctx, opts.BaseSHA, opts.SquashMessage); err != nil {
			return nil, fmt.Errorf("syncback: squash: %w", err)
		}
	}

	candidates, err := a.enumerate(opts.IncludePaths)
	if err != nil {
		return nil, fmt.Errorf("syncback: enumerate: %w", err)
	}

	result := &Result{}
	include := map[string]bool{}
	for _, p := range opts.IncludePaths {
		include[filepath.ToSlash(p)] = true
	}

	for _, c := range candidates {
		cls, err := a.Classifier.Classify(ctx, c.relPath)
		if err != nil {
			return nil, fmt.Errorf("syncback: classify %q: %w", c.relPath, err)
		}

		forced := include[c.relPath]
		if !forced && (cls == classify.Skip || cls == classify.Ignored) {
			result.Skipped = append(result.Skipped, c.relPath)
			continue
		}

		decision := Write
		if c.deleted {
			decision = Delete
		}

		if a.Decide != nil && !a.Decide(c.relPath, cls, decision) {
			result.Skipped = append(result.Skipped, c.relPath)
			continue
		}

		if c.deleted {
			if err := a.materializeDelete(c.relPath); err != nil {
				return nil, fmt.Errorf("syncback: delete %q: %w", c.relPath, err)
			}
			result.Deleted = append(result.Deleted, c.relPath)
			continue
		}

		if err := a.materializeWrite(c.relPath); err != nil {
			return nil, fmt.Errorf("syncback: write %q: %w", c.relPath, err)
		}
		result.Written = append(result.Written, c.relPath)
	}

	return result, nil
}

func (a *Aggregator) squash(ctx context.Context, baseSHA, message string) error {
	if err := a.WorktreeRepo.ResetSoft(ctx, baseSHA); err != nil {
		return err
	}
	if err := a.WorktreeRepo.Add(ctx, "."); err != nil {
		return err
	}
	staged, err := a.WorktreeRepo.HasStagedChanges(ctx)
	if err != nil {
		return err
	}
	if !staged {
		return nil
	}
	_, err = a.WorktreeRepo.Commit(ctx, message)
	return err
}

// enumerate walks the upper layer for regular entries and whiteout
// markers, then appends any caller-supplied include paths not already
// covered, matching spec.md's "upper layer plus explicit include
// paths" rule.
func (a *Aggregator) enumerate(includePaths []string) ([]candidate, error) {
	seen := map[string]bool{}
	var out []candidate

	err := filepath.WalkDir(a.UpperDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if path == a.UpperDir {
			return nil
		}
		rel, err := filepath.Rel(a.UpperDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		base := filepath.Base(rel)

		if base == opaqueMarker {
			return nil
		}
		if target, ok := whiteoutTarget(base); ok {
			targetRel := filepath.ToSlash(filepath.Join(filepath.Dir(rel), target))
			if !seen[targetRel] {
				seen[targetRel] = true
				out = append(out, candidate{relPath: targetRel, deleted: true})
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !seen[rel] {
			seen[rel] = true
			out = append(out, candidate{relPath: rel})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, p := range includePaths {
		rel := filepath.ToSlash(p)
		if seen[rel] {
			continue
		}
		seen[rel] = true
		out = append(out, candidate{relPath: rel})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].relPath < out[j].relPath })
	return out, nil
}

func (a *Aggregator) materializeDelete(relPath string) error {
	dest := filepath.Join(a.MainRepoDir, filepath.FromSlash(relPath))
	err := os.Remove(dest)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (a *Aggregator) materializeWrite(relPath string) error {
	src := filepath.Join(a.WorktreeRepo.Dir, filepath.FromSlash(relPath))
	fi, err := os.Lstat(src)
	if err != nil {
		return err
	}

	dest := filepath.Join(a.MainRepoDir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	if fi.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		os.Remove(dest)
		return os.Symlink(target, dest)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
