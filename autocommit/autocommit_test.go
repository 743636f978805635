package autocommit

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/branchbox/branchbox/changelog"
	"github.com/branchbox/branchbox/classify"
	"github.com/branchbox/branchbox/clock"
	"github.com/branchbox/branchbox/gitrepo"
	"github.com/branchbox/branchbox/internal/config"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) *gitrepo.Repo {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init", "-q", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x\n"), 0644))
	run("add", ".")
	run("commit", "-q", "-m", "initial")
	return gitrepo.New(dir)
}

func newTestLoop(t *testing.T, repo *gitrepo.Repo, cfg config.CommitConfig) (*Loop, *changelog.Log) {
	log := changelog.New()
	classifier := classify.New(nil, nil, nil, repo)
	fc := &clock.FakeClock{WaitTime: 20 * time.Millisecond}
	loop := New(log, classifier, repo, fc, cfg, "main")
	return loop, log
}

func defaultCommitConfig() config.CommitConfig {
	return config.CommitConfig{
		DebounceMs:           1,
		AutoCommitMessage:    "auto-save",
		SquashCommitMessage:  "{branch}",
		HookTimeoutMs:        1000,
		GitCommandTimeoutSec: 5,
	}
}

func TestLoopCommitsDrainedChanges(t *testing.T) {
	repo := initRepo(t)
	loop, log := newTestLoop(t, repo, defaultCommitConfig())

	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir, "a.txt"), []byte("hello"), 0644))
	log.Append("a.txt", changelog.Created, time.Now())

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	loop.Notify()
	time.Sleep(100 * time.Millisecond)
	loop.Stop()
	<-done

	require.Equal(t, 1, loop.CommitCount())

	out, err := exec.Command("git", "-C", repo.Dir, "log", "-1", "--pretty=%s").CombinedOutput()
	require.NoError(t, err)
	require.Contains(t, string(out), "auto-save")
}

func TestLoopFinalDrainOnStop(t *testing.T) {
	repo := initRepo(t)
	loop, log := newTestLoop(t, repo, defaultCommitConfig())

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir, "b.txt"), []byte("hi"), 0644))
	log.Append("b.txt", changelog.Created, time.Now())

	loop.Stop()
	<-done

	require.Equal(t, 1, loop.CommitCount(), "stop must drain pending entries before returning")
}

func TestLoopSkipsSkipClassifiedPaths(t *testing.T) {
	repo := initRepo(t)
	cfg := defaultCommitConfig()
	log := changelog.New()
	classifier := classify.New(nil, nil, []string{"vendor/**"}, repo)
	fc := &clock.FakeClock{WaitTime: 5 * time.Millisecond}
	loop := New(log, classifier, repo, fc, cfg, "main")

	require.NoError(t, os.MkdirAll(filepath.Join(repo.Dir, "vendor"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir, "vendor", "pkg.go"), []byte("x"), 0644))
	log.Append("vendor/pkg.go", changelog.Created, time.Now())

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()
	loop.Stop()
	<-done

	require.Equal(t, 0, loop.CommitCount(), "skip-classified paths must never be committed")
}
