// Package cancel implements the cooperative shutdown flag observed at
// safe suspension points across the engine.
package cancel

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
)

// Controller is a process-wide stop flag. It is set once by an external
// interrupt and read, never cleared, at bounded-work boundaries (one
// sitemap fetch, one sub-batch).
type Controller struct {
	flagged atomic.Bool
	once    sync.Once
	done    chan struct{}
}

// New returns an unsignalled Controller.
func New() *Controller {
	return &Controller{done: make(chan struct{})}
}

// Signal sets the stop flag. Subsequent calls are no-ops.
func (c *Controller) Signal() {
	c.once.Do(func() {
		c.flagged.Store(true)
		close(c.done)
	})
}

// Signalled reports whether a stop was requested.
func (c *Controller) Signalled() bool {
	return c.flagged.Load()
}

// Done returns a channel closed on the first Signal, for select loops.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Install wires SIGINT/SIGTERM to the controller. The first signal flips
// the flag so in-flight work can settle and state can be persisted; a
// second signal kills the process outright.
func (c *Controller) Install(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Warn("interrupt received, finishing current batch", zap.String("signal", sig.String()))
		c.Signal()
		sig = <-sigCh
		logger.Error("second interrupt, exiting immediately", zap.String("signal", sig.String()))
		os.Exit(130)
	}()
}
