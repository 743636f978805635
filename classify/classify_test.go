package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/branchbox/branchbox/gitrepo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	ignored map[string]bool
	err     error
}

func (s stubChecker) CheckIgnore(_ context.Context, relPath string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.ignored[relPath], nil
}

func TestClassifyPrecedenceOrder(t *testing.T) {
	c := New(
		[]string{".claude/**"},
		[]string{"important.env"},
		[]string{"vendor/**"},
		stubChecker{ignored: map[string]bool{"important.env": true, "vendor/pkg.go": true}},
	)
	ctx := context.Background()

	testData := []struct {
		path     string
		expected Classification
	}{
		{".claude/config.toml", Passthrough},
		{"important.env", Include},
		{"vendor/pkg.go", Skip},
		{"src/main.go", Normal},
	}

	for _, test := range testData {
		got, err := c.Classify(ctx, test.path)
		require.NoError(t, err)
		assert.Equal(t, test.expected, got, "path %q", test.path)
	}
}

func TestClassifyConsultsGitignore(t *testing.T) {
	c := New(nil, nil, nil, stubChecker{ignored: map[string]bool{".env": true}})

	got, err := c.Classify(context.Background(), ".env")

	require.NoError(t, err)
	assert.Equal(t, Ignored, got)
}

func TestClassifyDotSlashStripping(t *testing.T) {
	c := New(nil, []string{".env"}, nil, nil)

	got, err := c.Classify(context.Background(), "./.env")

	require.NoError(t, err)
	assert.Equal(t, Include, got, "a leading ./ must not defeat an exact-match pattern")
}

func TestClassifySurfacesGitCheckFailure(t *testing.T) {
	c := New(nil, nil, nil, stubChecker{err: gitrepo.ErrGitCheckFailed})

	_, err := c.Classify(context.Background(), "somefile.go")

	assert.ErrorIs(t, err, gitrepo.ErrGitCheckFailed, "a hard git-check failure must not be silently treated as normal")
}

func TestClassifyNoRepoTreatsUnmatchedAsNormal(t *testing.T) {
	c := New(nil, nil, nil, nil)

	got, err := c.Classify(context.Background(), "whatever.go")

	require.NoError(t, err)
	assert.Equal(t, Normal, got)
}

func TestClassifyStringer(t *testing.T) {
	assert.Equal(t, "passthrough", Passthrough.String())
	assert.Equal(t, "normal", Normal.String())
	assert.True(t, errors.Is(gitrepo.ErrGitCheckFailed, gitrepo.ErrGitCheckFailed))
}
