// Package logger is the structured logger every other package writes
// session events through. Output goes either to stderr or, once
// InitLogFile has run, to a rotated file via lumberjack; format is
// either "text" (human-tailed) or "json".
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/branchbox/branchbox/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// loggerFactory owns the handler configuration so that SetLogFormat and
// InitLogFile can rebuild defaultLogger without callers re-threading a
// config value through every log call.
type loggerFactory struct {
	file            *lumberjack.Logger
	asyncFile       *AsyncLogger
	sysWriter       io.Writer
	format          string
	level           config.LogSeverity
	logRotateConfig config.LogRotateConfig
	programLevel    *slog.LevelVar
}

func (f *loggerFactory) writer() io.Writer {
	if f.asyncFile != nil {
		return f.asyncFile
	}
	if f.sysWriter != nil {
		return f.sysWriter
	}
	return os.Stderr
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, programLevel *slog.LevelVar, prefix string) slog.Handler {
	return newSeverityHandler(w, programLevel, prefix, f.format == "json")
}

func (f *loggerFactory) rebuild() {
	f.programLevel.Set(severityToLevel(f.level))
	defaultLogger = slog.New(f.createJsonOrTextHandler(f.writer(), f.programLevel, ""))
}

var (
	defaultLoggerFactory = &loggerFactory{
		sysWriter:    os.Stderr,
		format:       "text",
		level:        config.InfoLogSeverity,
		programLevel: func() *slog.LevelVar { v := new(slog.LevelVar); v.Set(LevelInfo); return v }(),
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, defaultLoggerFactory.programLevel, ""))
)

// InitLogFile points the default logger at a rotated file, replacing
// stderr output. It is called once during session startup with the
// logging section of the resolved config.
func InitLogFile(cfg config.LoggingConfig) error {
	if cfg.FilePath == "" {
		return nil
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.FilePath.String(),
		MaxSize:    cfg.LogRotate.MaxFileSizeMb,
		MaxBackups: cfg.LogRotate.BackupFileCount,
		Compress:   cfg.LogRotate.Compress,
	}

	format := cfg.Format
	if format == "" {
		format = "text"
	}

	programLevel := new(slog.LevelVar)
	defaultLoggerFactory = &loggerFactory{
		file:            lj,
		asyncFile:       NewAsyncLogger(lj, asyncLogBufferSize),
		sysWriter:       nil,
		format:          format,
		level:           cfg.Severity,
		logRotateConfig: cfg.LogRotate,
		programLevel:    programLevel,
	}
	defaultLoggerFactory.rebuild()
	return nil
}

// SetLogFormat switches between "text" and "json" output without
// touching the destination writer or severity threshold.
func SetLogFormat(format string) {
	if format == "" {
		format = "json"
	}
	defaultLoggerFactory.format = format
	defaultLoggerFactory.rebuild()
}

// SetLogSeverity updates the threshold below which records are dropped.
func SetLogSeverity(severity config.LogSeverity) {
	defaultLoggerFactory.level = severity
	setLoggingLevel(severity, defaultLoggerFactory.programLevel)
}

func Tracef(format string, args ...any) {
	defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...any) {
	defaultLogger.Log(context.Background(), LevelDebug, fmt.Sprintf(format, args...))
}

func Infof(format string, args ...any) {
	defaultLogger.Log(context.Background(), LevelInfo, fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...any) {
	defaultLogger.Log(context.Background(), LevelWarn, fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...any) {
	defaultLogger.Log(context.Background(), LevelError, fmt.Sprintf(format, args...))
}
