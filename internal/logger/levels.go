package logger

import (
	"log/slog"
	"math"

	"github.com/branchbox/branchbox/internal/config"
)

// The six severities recognized by config.LogSeverity are mapped onto
// slog levels below and above the four slog defines natively, so that
// TRACE sorts below DEBUG and OFF suppresses everything.
const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelOff   slog.Level = math.MaxInt32
)

func severityToLevel(severity config.LogSeverity) slog.Level {
	switch severity {
	case config.TraceLogSeverity:
		return LevelTrace
	case config.DebugLogSeverity:
		return LevelDebug
	case config.InfoLogSeverity:
		return LevelInfo
	case config.WarningLogSeverity:
		return LevelWarn
	case config.ErrorLogSeverity:
		return LevelError
	case config.OffLogSeverity:
		return LevelOff
	default:
		return LevelInfo
	}
}

func levelToSeverityString(level slog.Level) string {
	switch {
	case level < LevelDebug:
		return "TRACE"
	case level < LevelInfo:
		return "DEBUG"
	case level < LevelWarn:
		return "INFO"
	case level < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// setLoggingLevel updates programLevel in place to match severity.
func setLoggingLevel(severity config.LogSeverity, programLevel *slog.LevelVar) {
	programLevel.Set(severityToLevel(severity))
}
