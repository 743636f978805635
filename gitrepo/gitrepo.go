// Package gitrepo shells out to the git CLI for every worktree and
// commit operation the overlay's sync pipeline needs. It intentionally
// does not use a Go git library: the classifier's gitignore semantics
// must match the installed git binary exactly, and `git check-ignore`
// has no client-library equivalent with the same exit-code contract.
package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// checkIgnoreTimeout bounds a single `git check-ignore` invocation; a
// run that exceeds it is reported as ErrGitCheckFailed.
const checkIgnoreTimeout = 3 * time.Second

// ErrGitCheckFailed covers git invocations that fail in a way that is
// not a normal "no" answer: check-ignore exit codes >= 2, or a command
// that times out or cannot be run at all.
var ErrGitCheckFailed = errors.New("gitrepo: git check failed")

// Repo wraps a single worktree directory that all commands run in.
type Repo struct {
	Dir string
}

// New returns a Repo rooted at dir. dir must already be a working tree
// (or worktree) checkout; New does not create anything.
func New(dir string) *Repo {
	return &Repo{Dir: dir}
}

func (r *Repo) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	return cmd
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := r.command(ctx, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w\noutput: %s", strings.Join(args, " "), err, out)
	}
	return string(out), nil
}

// CheckIgnore reports whether relPath is covered by .gitignore, per
// `git check-ignore -q`'s exit-code contract: 0 means ignored, 1 means
// not ignored, and >= 2 is a hard failure surfaced as
// ErrGitCheckFailed rather than silently treated as "not ignored".
func (r *Repo) CheckIgnore(ctx context.Context, relPath string) (ignored bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, checkIgnoreTimeout)
	defer cancel()
	cmd := r.command(ctx, "check-ignore", "-q", relPath)
	err = cmd.Run()
	if err == nil {
		return true, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case 1:
			return false, nil
		default:
			return false, fmt.Errorf("%w: check-ignore %q exited %d", ErrGitCheckFailed, relPath, exitErr.ExitCode())
		}
	}
	return false, fmt.Errorf("%w: check-ignore %q: %v", ErrGitCheckFailed, relPath, err)
}

// Add stages relPath.
func (r *Repo) Add(ctx context.Context, relPath string) error {
	_, err := r.run(ctx, "add", "--", relPath)
	return err
}

// RmCached unstages and removes relPath from the index without
// touching the already-deleted working tree file.
func (r *Repo) RmCached(ctx context.Context, relPath string) error {
	_, err := r.run(ctx, "rm", "--cached", "--ignore-unmatch", "--", relPath)
	return err
}

// HasStagedChanges reports whether the index differs from HEAD.
func (r *Repo) HasStagedChanges(ctx context.Context) (bool, error) {
	cmd := r.command(ctx, "diff", "--cached", "--quiet")
	err := cmd.Run()
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, fmt.Errorf("git diff --cached --quiet: %w", err)
}

// Commit creates a commit with message, returning the new HEAD SHA.
func (r *Repo) Commit(ctx context.Context, message string) (sha string, err error) {
	if _, err = r.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	return r.RevParse(ctx, "HEAD")
}

// RevParse resolves a revision (e.g. "HEAD") to its full SHA.
func (r *Repo) RevParse(ctx context.Context, rev string) (string, error) {
	out, err := r.run(ctx, "rev-parse", rev)
	return strings.TrimSpace(out), err
}

// ResetSoft moves HEAD (and only HEAD; the index and working tree are
// untouched) to sha, used both to squash auto-commits and to roll back
// a failed commit.
func (r *Repo) ResetSoft(ctx context.Context, sha string) error {
	_, err := r.run(ctx, "reset", "--soft", sha)
	return err
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	return strings.TrimSpace(out), err
}

// WorktreeAdd creates a new worktree at path on branch, creating the
// branch if it does not already exist locally.
func (r *Repo) WorktreeAdd(ctx context.Context, path, branch string) error {
	cmd := r.command(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	branchExists := cmd.Run() == nil

	var args []string
	if branchExists {
		args = []string{"worktree", "add", path, branch}
	} else {
		args = []string{"worktree", "add", "-b", branch, path}
	}
	_, err := r.run(ctx, args...)
	return err
}

// WorktreeRemove removes a worktree previously created by WorktreeAdd.
func (r *Repo) WorktreeRemove(ctx context.Context, path string) error {
	_, err := r.run(ctx, "worktree", "remove", "--force", path)
	return err
}

// MergeBase returns the merge base of the two revisions. The squash
// path does not use it: its base is the HEAD SHA recorded at mount.
func (r *Repo) MergeBase(ctx context.Context, a, b string) (string, error) {
	out, err := r.run(ctx, "merge-base", a, b)
	return strings.TrimSpace(out), err
}

// Status runs `git status --porcelain` and returns the raw lines. The
// sync aggregator does not use it; it walks the upper layer instead.
func (r *Repo) Status(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// ReadBlob reads the contents of relPath as committed at rev.
func (r *Repo) ReadBlob(ctx context.Context, rev, relPath string) ([]byte, error) {
	cmd := r.command(ctx, "show", fmt.Sprintf("%s:%s", rev, relPath))
	var buf bytes.Buffer
	cmd.Stdout = &buf
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git show %s:%s: %w\n%s", rev, relPath, err, stderr.String())
	}
	return buf.Bytes(), nil
}
