package keepalive

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is how often the controller re-reads the persisted flag.
const DefaultPollInterval = 5 * time.Second

// FlagSource reports whether auto-refresh is currently enabled.
type FlagSource interface {
	AutoRefresh(ctx context.Context) (bool, error)
}

// Controller starts and stops a Loop to follow the persisted auto-refresh
// flag, so toggling the flag off halts a running chain. It owns at most one
// Handle at a time.
type Controller struct {
	loop   *Loop
	flags  FlagSource
	poll   time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	handle *Handle
}

// NewController wires loop to flags.
func NewController(loop *Loop, flags FlagSource, poll time.Duration, logger *zap.Logger) *Controller {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		loop:   loop,
		flags:  flags,
		poll:   poll,
		logger: logger.Named("controller"),
	}
}

// Run follows the flag until ctx is cancelled, then stops any running loop
// and returns nil.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	defer c.stop()

	c.sync(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.sync(ctx)
		}
	}
}

// Running reports whether a loop is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

// NextCheck reports the next scheduled check of the active loop.
func (c *Controller) NextCheck() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return time.Time{}, false
	}
	return c.handle.NextCheck(), true
}

func (c *Controller) sync(ctx context.Context) {
	enabled, err := c.flags.AutoRefresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("Could not read auto-refresh flag, keeping current state.", zap.Error(err))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case enabled && c.handle == nil:
		c.logger.Info("Auto refresh enabled, starting keepalive loop.")
		c.handle = c.loop.Start(ctx)
	case !enabled && c.handle != nil:
		c.logger.Info("Auto refresh disabled, stopping keepalive loop.")
		c.handle.Stop()
		c.handle = nil
	}
}

func (c *Controller) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		c.handle.Stop()
		c.handle = nil
	}
}
