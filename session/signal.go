package session

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/branchbox/branchbox/internal/logger"
)

// RegisterInterruptHandler unmounts and tears down the session on
// SIGINT or SIGTERM, so a user killing the hosted process's terminal
// still leaves the mountpoint clean. The returned stop function
// deregisters the handler once normal shutdown has already run.
func (c *Controller) RegisterInterruptHandler(ctx context.Context) (stop func()) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case <-signalChan:
			logger.Infof("session %s: received interrupt, shutting down", c.Branch)
			c.Shutdown(ctx)
		case <-done:
		}
	}()

	return func() {
		close(done)
		signal.Stop(signalChan)
	}
}
