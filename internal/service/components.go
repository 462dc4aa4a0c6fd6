// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionkeeper/internal/browser"
	"github.com/xkilldash9x/sessionkeeper/internal/config"
	"github.com/xkilldash9x/sessionkeeper/internal/harvest"
	"github.com/xkilldash9x/sessionkeeper/internal/keepalive"
	"github.com/xkilldash9x/sessionkeeper/internal/network"
	"github.com/xkilldash9x/sessionkeeper/internal/notify"
	"github.com/xkilldash9x/sessionkeeper/internal/settings"
	"github.com/xkilldash9x/sessionkeeper/internal/store"
)

const shutdownTimeout = 30 * time.Second

// BrowserManager is the part of *browser.Manager the components need to
// release.
type BrowserManager interface {
	Shutdown(ctx context.Context) error
}

// Components holds the initialized services a command works with. State is
// always present; the browser half is only set when requested.
type Components struct {
	Store    store.Store
	Settings *settings.Settings
	Notifier notify.Notifier

	BrowserManager BrowserManager
	Session        *browser.Session
	Fetcher        *network.Fetcher

	logger *zap.Logger
}

// Harvester builds a harvester over the open session. It panics if the
// components were created without a browser.
func (c *Components) Harvester(cfg config.HarvestConfig, target string) *harvest.Harvester {
	if c.Session == nil {
		panic("service: harvester requested without a browser session")
	}
	caps := harvest.Capabilities{
		Page:     c.Session,
		Observer: c.Session,
		Watcher:  c.Session,
	}
	if c.Fetcher != nil {
		caps.Fetcher = c.Fetcher
	}
	return harvest.New(caps, target, cfg, c.logger)
}

// Controller builds the auto-refresh controller: a keepalive loop reloading
// the open session, switched on and off by the persisted flag.
func (c *Components) Controller(cfg config.KeepaliveConfig) *keepalive.Controller {
	if c.Session == nil {
		panic("service: controller requested without a browser session")
	}
	loop := keepalive.NewLoop(c.Settings, c.Session, cfg.Interval, c.logger, keepalive.WithClock(c.Settings.Now))
	return keepalive.NewController(loop, c.Settings, cfg.PollInterval, c.logger)
}

// Shutdown releases everything in reverse order of creation. It is safe on a
// partially initialized value.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	if c.Session != nil {
		c.Session.Close()
		logger.Debug("Browser session closed.")
	}

	if c.BrowserManager != nil {
		// Separate context so the browser gets a graceful close even when the
		// command context was already cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := c.BrowserManager.Shutdown(ctx); err != nil {
			logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser manager shut down.")
		}
	}

	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			logger.Warn("Error closing state store.", zap.Error(err))
		} else {
			logger.Debug("State store closed.")
		}
	}

	logger.Debug("All components shut down.")
}
