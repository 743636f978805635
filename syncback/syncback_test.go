package syncback

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/branchbox/branchbox/classify"
	"github.com/branchbox/branchbox/gitrepo"
	"github.com/stretchr/testify/require"
)

func initWorktree(t *testing.T) *gitrepo.Repo {
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

func TestSyncWritesUpperFilesToMainRepo(t *testing.T) {
	repo := initWorktree(t)
	upper := t.TempDir()
	mainRepo := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir, "new.txt"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(upper, "new.txt"), []byte("hello"), 0644))

	agg := &Aggregator{
		WorktreeRepo: repo,
		UpperDir:     upper,
		MainRepoDir:  mainRepo,
		Classifier:   classify.New(nil, nil, nil, repo),
	}

	result, err := agg.Sync(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"new.txt"}, result.Written)

	data, err := os.ReadFile(filepath.Join(mainRepo, "new.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestSyncDeletesForWhiteoutMarkers(t *testing.T) {
	repo := initWorktree(t)
	upper := t.TempDir()
	mainRepo := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(mainRepo, "doomed.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(upper, ".wh.doomed.txt"), nil, 0644))

	agg := &Aggregator{
		WorktreeRepo: repo,
		UpperDir:     upper,
		MainRepoDir:  mainRepo,
		Classifier:   classify.New(nil, nil, nil, repo),
	}

	result, err := agg.Sync(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"doomed.txt"}, result.Deleted)
	require.NoFileExists(t, filepath.Join(mainRepo, "doomed.txt"))
}

func TestSyncSkipsAlwaysSkipPaths(t *testing.T) {
	repo := initWorktree(t)
	upper := t.TempDir()
	mainRepo := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(repo.Dir, "vendor"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir, "vendor", "pkg.go"), []byte("x"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(upper, "vendor"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(upper, "vendor", "pkg.go"), []byte("x"), 0644))

	agg := &Aggregator{
		WorktreeRepo: repo,
		UpperDir:     upper,
		MainRepoDir:  mainRepo,
		Classifier:   classify.New(nil, nil, []string{"vendor/**"}, repo),
	}

	result, err := agg.Sync(context.Background(), Options{})
	require.NoError(t, err)
	require.Empty(t, result.Written)
	require.Equal(t, []string{"vendor/pkg.go"}, result.Skipped)
}

func TestSyncDecisionCallbackCanVeto(t *testing.T) {
	repo := initWorktree(t)
	upper := t.TempDir()
	mainRepo := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir, "new.txt"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(upper, "new.txt"), []byte("hello"), 0644))

	agg := &Aggregator{
		WorktreeRepo: repo,
		UpperDir:     upper,
		MainRepoDir:  mainRepo,
		Classifier:   classify.New(nil, nil, nil, repo),
		Decide: func(relPath string, cls classify.Classification, decision Decision) bool {
			return false
		},
	}

	result, err := agg.Sync(context.Background(), Options{})
	require.NoError(t, err)
	require.Empty(t, result.Written)
	require.Equal(t, []string{"new.txt"}, result.Skipped)
	require.NoFileExists(t, filepath.Join(mainRepo, "new.txt"))
}

func TestSyncIncludesLowerOnlyExplicitPath(t *testing.T) {
	repo := initWorktree(t)
	upper := t.TempDir()
	mainRepo := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir, "README.md"), []byte("updated\n"), 0644))

	agg := &Aggregator{
		WorktreeRepo: repo,
		UpperDir:     upper,
		MainRepoDir:  mainRepo,
		Classifier:   classify.New(nil, nil, nil, repo),
	}

	result, err := agg.Sync(context.Background(), Options{IncludePaths: []string{"README.md"}})
	require.NoError(t, err)
	require.Equal(t, []string{"README.md"}, result.Written)
}

func TestSquashResetsAndRecommits(t *testing.T) {
	repo := initWorktree(t)
	ctx := context.Background()
	base, err := repo.RevParse(ctx, "HEAD")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir, "a.txt"), []byte("a"), 0644))
	require.NoError(t, repo.Add(ctx, "."))
	_, err = repo.Commit(ctx, "auto-save 1")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir, "b.txt"), []byte("b"), 0644))
	require.NoError(t, repo.Add(ctx, "."))
	_, err = repo.Commit(ctx, "auto-save 2")
	require.NoError(t, err)

	upper := t.TempDir()
	mainRepo := t.TempDir()
	agg := &Aggregator{
		WorktreeRepo: repo,
		UpperDir:     upper,
		MainRepoDir:  mainRepo,
		Classifier:   classify.New(nil, nil, nil, repo),
	}

	_, err = agg.Sync(ctx, Options{
		Squash:        true,
		CommitCount:   2,
		BaseSHA:       base,
		SquashMessage: "squashed",
	})
	require.NoError(t, err)

	cmd := exec.Command("git", "-C", repo.Dir, "log", "--oneline")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err)
	require.Equal(t, 2, len(splitLines(string(out))), "expect initial commit + one squashed commit")
}

func splitLines(s string) []string {
	var lines []string
	cur := ""
	for _, r := range s {
		if r == '\n' {
			if cur != "" {
				lines = append(lines, cur)
			}
			cur = ""
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}
