package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, 5000, cfg.Commit.DebounceMs, "auto_commit_debounce_ms should default to 5000ms")
	assert.Equal(t, 1, cfg.Fuse.TTLSecs, "fuse_ttl_secs should default to 1 second")
	assert.Equal(t, "auto-save", cfg.Commit.AutoCommitMessage)
	assert.Equal(t, "{branch}", cfg.Commit.SquashCommitMessage)
	assert.Empty(t, cfg.Sync.Passthrough)
	assert.Empty(t, cfg.Sync.AlwaysSkip)
	assert.Empty(t, cfg.Sync.AlwaysInclude)
	assert.NoError(t, Validate(cfg))
}

func TestSquashCommitMessageBranchPlaceholder(t *testing.T) {
	cfg := Defaults()

	expanded := ExpandTemplate(cfg.Commit.SquashCommitMessage, "feature-test")

	assert.Contains(t, expanded, "feature-test")
}

func TestValidateRejectsNonPositiveDebounce(t *testing.T) {
	cfg := Defaults()
	cfg.Commit.DebounceMs = 0

	err := Validate(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "debounce-ms")
}

func TestValidateRejectsEmptyCommitMessages(t *testing.T) {
	cfg := Defaults()
	cfg.Commit.AutoCommitMessage = ""

	assert.Error(t, Validate(cfg))
}

func TestResolvedPathRejectsRelative(t *testing.T) {
	var p ResolvedPath

	err := p.UnmarshalText([]byte("relative/path"))

	assert.Error(t, err)
}

func TestResolvedPathAcceptsAbsolute(t *testing.T) {
	var p ResolvedPath

	err := p.UnmarshalText([]byte("/abs/path"))

	require.NoError(t, err)
	assert.Equal(t, ResolvedPath("/abs/path"), p)
}

func TestLogSeverityRank(t *testing.T) {
	testData := []struct {
		severity LogSeverity
		rank     int
	}{
		{TraceLogSeverity, 0},
		{DebugLogSeverity, 1},
		{InfoLogSeverity, 2},
		{WarningLogSeverity, 3},
		{ErrorLogSeverity, 4},
		{OffLogSeverity, 5},
		{LogSeverity("bogus"), -1},
	}

	for _, test := range testData {
		assert.Equal(t, test.rank, test.severity.Rank())
	}
}

func TestCleanupPolicyUnmarshal(t *testing.T) {
	var c CleanupPolicy

	require.NoError(t, c.UnmarshalText([]byte("Squash")))
	assert.Equal(t, CleanupSquash, c)

	assert.Error(t, c.UnmarshalText([]byte("bogus")))
}
