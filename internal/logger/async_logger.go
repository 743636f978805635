package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// asyncLogBufferSize bounds how many pending writes an AsyncLogger will
// queue before it starts dropping messages rather than blocking the
// FUSE op that triggered the log line.
const asyncLogBufferSize = 4096

// AsyncLogger decouples log writes from the rotated file they target:
// a single goroutine owns the underlying writer, so filesystem ops
// that log never block on disk I/O or lumberjack's rotation lock. A
// full buffer means a caller is logging faster than the file can
// absorb it; that message is dropped and a warning is written to
// stderr instead of blocking.
type AsyncLogger struct {
	out     io.WriteCloser
	entries chan []byte
	done    chan struct{}
	once    sync.Once
}

// NewAsyncLogger starts the background writer goroutine immediately.
func NewAsyncLogger(out io.WriteCloser, bufferSize int) *AsyncLogger {
	a := &AsyncLogger{
		out:     out,
		entries: make(chan []byte, bufferSize),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncLogger) run() {
	defer close(a.done)
	for entry := range a.entries {
		if _, err := a.out.Write(entry); err != nil {
			fmt.Fprintf(os.Stderr, "asynclogger: write failed: %v\n", err)
		}
	}
}

// Write copies p and enqueues it; p may be reused by the caller as
// soon as Write returns.
func (a *AsyncLogger) Write(p []byte) (int, error) {
	entry := make([]byte, len(p))
	copy(entry, p)

	select {
	case a.entries <- entry:
	default:
		fmt.Fprintln(os.Stderr, "asynclogger: log buffer is full, dropping message.")
	}
	return len(p), nil
}

// Close drains the remaining queue and closes the underlying writer.
// It is safe to call more than once.
func (a *AsyncLogger) Close() error {
	a.once.Do(func() {
		close(a.entries)
	})
	<-a.done
	return a.out.Close()
}

var _ io.WriteCloser = (*AsyncLogger)(nil)
