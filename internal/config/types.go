package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// ResolvedPath is a filesystem path that must be absolute. Tilde expansion
// and config-file-relative resolution are the responsibility of the
// (out-of-scope) loader that populates a Config; this type only validates.
type ResolvedPath string

func (p *ResolvedPath) UnmarshalText(text []byte) error {
	s := string(text)
	if s != "" && !filepath.IsAbs(s) {
		return fmt.Errorf("path %q must be absolute", s)
	}
	*p = ResolvedPath(s)
	return nil
}

func (p ResolvedPath) MarshalText() ([]byte, error) {
	return []byte(p), nil
}

func (p ResolvedPath) String() string {
	return string(p)
}

// LogSeverity mirrors the teacher's cfg.LogSeverity: an ordered set of
// logging levels that can be compared by rank.
type LogSeverity string

const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

var severityRanking = map[LogSeverity]int{
	TraceLogSeverity:   0,
	DebugLogSeverity:   1,
	InfoLogSeverity:    2,
	WarningLogSeverity: 3,
	ErrorLogSeverity:   4,
	OffLogSeverity:     5,
}

func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := LogSeverity(strings.ToUpper(string(text)))
	if _, ok := severityRanking[level]; !ok {
		return fmt.Errorf("invalid log severity %q: must be one of [TRACE, DEBUG, INFO, WARNING, ERROR, OFF]", text)
	}
	*l = level
	return nil
}

func (l LogSeverity) Rank() int {
	if rank, ok := severityRanking[l]; ok {
		return rank
	}
	return -1
}

// CleanupPolicy selects what happens to the session's resources on exit.
type CleanupPolicy string

const (
	CleanupSquash   CleanupPolicy = "squash"
	CleanupPreserve CleanupPolicy = "preserve"
	CleanupDiscard  CleanupPolicy = "discard"
)

func (c *CleanupPolicy) UnmarshalText(text []byte) error {
	v := CleanupPolicy(strings.ToLower(string(text)))
	valid := []CleanupPolicy{CleanupSquash, CleanupPreserve, CleanupDiscard}
	if !slices.Contains(valid, v) {
		return fmt.Errorf("invalid cleanup policy %q: must be one of %v", text, valid)
	}
	*c = v
	return nil
}
