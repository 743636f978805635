package gitrepo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// initRepo creates a throwaway git repository with an initial commit
// and returns a Repo rooted at it.
func initRepo(t *testing.T) *Repo {
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

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.log\n"), 0644))
	run("add", ".")
	run("commit", "-q", "-m", "initial")

	return New(dir)
}

func TestCheckIgnore(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()

	ignored, err := repo.CheckIgnore(ctx, "debug.log")
	require.NoError(t, err)
	require.True(t, ignored)

	ignored, err = repo.CheckIgnore(ctx, "README.md")
	require.NoError(t, err)
	require.False(t, ignored)
}

func TestAddCommitRevParse(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir, "a.txt"), []byte("content"), 0644))
	require.NoError(t, repo.Add(ctx, "a.txt"))

	staged, err := repo.HasStagedChanges(ctx)
	require.NoError(t, err)
	require.True(t, staged)

	before, err := repo.RevParse(ctx, "HEAD")
	require.NoError(t, err)

	sha, err := repo.Commit(ctx, "add a.txt")
	require.NoError(t, err)
	require.NotEqual(t, before, sha)

	head, err := repo.RevParse(ctx, "HEAD")
	require.NoError(t, err)
	require.Equal(t, sha, head)
}

func TestRmCached(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.RmCached(ctx, "README.md"))
	staged, err := repo.HasStagedChanges(ctx)
	require.NoError(t, err)
	require.True(t, staged)
}

func TestResetSoftRollsBackCommit(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()

	before, err := repo.RevParse(ctx, "HEAD")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir, "b.txt"), []byte("x"), 0644))
	require.NoError(t, repo.Add(ctx, "b.txt"))
	_, err = repo.Commit(ctx, "temp")
	require.NoError(t, err)

	require.NoError(t, repo.ResetSoft(ctx, before))

	head, err := repo.RevParse(ctx, "HEAD")
	require.NoError(t, err)
	require.Equal(t, before, head)
}

func TestCurrentBranch(t *testing.T) {
	repo := initRepo(t)
	branch, err := repo.CurrentBranch(context.Background())
	require.NoError(t, err)
	require.Equal(t, "main", branch)
}

func TestWorktreeAddAndRemove(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()
	wtPath := filepath.Join(t.TempDir(), "wt")

	require.NoError(t, repo.WorktreeAdd(ctx, wtPath, "feature-x"))
	_, err := os.Stat(filepath.Join(wtPath, "README.md"))
	require.NoError(t, err)

	require.NoError(t, repo.WorktreeRemove(ctx, wtPath))
	_, err = os.Stat(wtPath)
	require.True(t, os.IsNotExist(err))
}

func TestReadBlob(t *testing.T) {
	repo := initRepo(t)
	content, err := repo.ReadBlob(context.Background(), "HEAD", "README.md")
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(content))
}
