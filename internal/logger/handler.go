package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// severityHandler writes one line per record in either a fixed-width
// text layout or a compact JSON layout, neither of which is what
// slog's built-in handlers produce. Session logs are read by humans
// tailing a file and, for the JSON form, by tools that want a
// timestamp split into seconds and nanos rather than RFC3339.
type severityHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  *slog.LevelVar
	prefix string
	json   bool
}

const textTimeLayout = "2006/01/02 15:04:05.000000"

func newSeverityHandler(out io.Writer, level *slog.LevelVar, prefix string, asJSON bool) *severityHandler {
	return &severityHandler{
		mu:     &sync.Mutex{},
		out:    out,
		level:  level,
		prefix: prefix,
		json:   asJSON,
	}
}

func (h *severityHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *severityHandler) Handle(_ context.Context, r slog.Record) error {
	severity := levelToSeverityString(r.Level)
	message := h.prefix + r.Message

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.json {
		_, err := fmt.Fprintf(h.out,
			"{\"timestamp\":{\"seconds\":%d,\"nanos\":%d},\"severity\":\"%s\",\"message\":\"%s\"}\n",
			r.Time.Unix(), r.Time.Nanosecond(), severity, message)
		return err
	}

	_, err := fmt.Fprintf(h.out, "time=\"%s\" severity=%s message=\"%s\"\n",
		r.Time.Format(textTimeLayout), severity, message)
	return err
}

func (h *severityHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *severityHandler) WithGroup(_ string) slog.Handler {
	return h
}

var _ slog.Handler = (*severityHandler)(nil)
