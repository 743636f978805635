// Package config defines the options the overlay+sync core recognizes
// (spec §6). It is deliberately narrow: loading these values from a
// config file or command-line flags, tilde-expanding paths, and
// persisting them back to disk are external, out-of-scope concerns.
// This package only owns the struct, its defaults, and validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the set of options the Session Controller, Path Classifier,
// and Auto-Commit Loop consult. Options are grouped by section, and
// their keys are the hyphenated names in the yaml/mapstructure tags.
type Config struct {
	Paths   PathsConfig   `yaml:"paths" mapstructure:"paths"`
	Sync    SyncConfig    `yaml:"sync" mapstructure:"sync"`
	Commit  CommitConfig  `yaml:"commit" mapstructure:"commit"`
	Fuse    FuseConfig    `yaml:"fuse" mapstructure:"fuse"`
	Cleanup CleanupConfig `yaml:"cleanup" mapstructure:"cleanup"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// PathsConfig controls where per-session state is materialized.
type PathsConfig struct {
	WorktreeDir ResolvedPath `yaml:"worktree-dir" mapstructure:"worktree-dir"`
	MountDir    ResolvedPath `yaml:"mount-dir" mapstructure:"mount-dir"`
	RegistryDir ResolvedPath `yaml:"registry-dir" mapstructure:"registry-dir"`
}

// SyncConfig drives the Path Classifier and Sync Aggregator.
type SyncConfig struct {
	Passthrough       []string `yaml:"passthrough" mapstructure:"passthrough"`
	AlwaysSkip        []string `yaml:"always-skip" mapstructure:"always-skip"`
	AlwaysInclude     []string `yaml:"always-include" mapstructure:"always-include"`
	GitCheckTimeoutMs int      `yaml:"git-check-timeout-ms" mapstructure:"git-check-timeout-ms"`
}

// CommitConfig drives the Auto-Commit Loop and exit-time squash.
type CommitConfig struct {
	DebounceMs           int    `yaml:"auto-commit-debounce-ms" mapstructure:"auto-commit-debounce-ms"`
	AutoCommitMessage    string `yaml:"auto-commit-message" mapstructure:"auto-commit-message"`
	SquashCommitMessage  string `yaml:"squash-commit-message" mapstructure:"squash-commit-message"`
	MessageHook          string `yaml:"commit-message-hook" mapstructure:"commit-message-hook"`
	HookTimeoutMs        int    `yaml:"commit-message-hook-timeout-ms" mapstructure:"commit-message-hook-timeout-ms"`
	GitCommandTimeoutSec int    `yaml:"git-command-timeout-sec" mapstructure:"git-command-timeout-sec"`
}

// FuseConfig controls the mount's kernel-facing behavior.
type FuseConfig struct {
	TTLSecs int `yaml:"ttl-secs" mapstructure:"ttl-secs"`
}

// CleanupConfig controls the default exit-time disposition.
type CleanupConfig struct {
	OnExit CleanupPolicy `yaml:"on-exit" mapstructure:"on-exit"`
}

// LoggingConfig controls the structured logger (internal/logger).
type LoggingConfig struct {
	Severity  LogSeverity `yaml:"severity" mapstructure:"severity"`
	Format    string      `yaml:"format" mapstructure:"format"` // "text" or "json"
	FilePath  ResolvedPath `yaml:"file-path" mapstructure:"file-path"`
	LogRotate LogRotateConfig `yaml:"log-rotate" mapstructure:"log-rotate"`
}

// LogRotateConfig mirrors the teacher's cfg.LogRotateLoggingConfig.
type LogRotateConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb" mapstructure:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count" mapstructure:"backup-file-count"`
	Compress        bool `yaml:"compress" mapstructure:"compress"`
}

// DebounceDuration returns CommitConfig.DebounceMs as a time.Duration.
func (c CommitConfig) DebounceDuration() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// FuseTTL returns FuseConfig.TTLSecs as a time.Duration.
func (f FuseConfig) FuseTTL() time.Duration {
	return time.Duration(f.TTLSecs) * time.Second
}

// ExpandTemplate replaces "{branch}" in a commit-message template with
// the current branch name.
func ExpandTemplate(template, branch string) string {
	return strings.ReplaceAll(template, "{branch}", branch)
}

// Validate reports the first structural problem found in cfg, if any.
// It does not attempt path existence checks — that belongs to session
// startup, not config validation.
func Validate(cfg Config) error {
	if cfg.Commit.DebounceMs <= 0 {
		return fmt.Errorf("commit.auto-commit-debounce-ms must be positive, got %d", cfg.Commit.DebounceMs)
	}
	if cfg.Fuse.TTLSecs < 0 {
		return fmt.Errorf("fuse.ttl-secs must be non-negative, got %d", cfg.Fuse.TTLSecs)
	}
	if cfg.Commit.AutoCommitMessage == "" {
		return fmt.Errorf("commit.auto-commit-message must not be empty")
	}
	if cfg.Commit.SquashCommitMessage == "" {
		return fmt.Errorf("commit.squash-commit-message must not be empty")
	}
	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", cfg.Logging.Format)
	}
	return nil
}
