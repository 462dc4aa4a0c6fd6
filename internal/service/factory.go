// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionkeeper/internal/browser"
	"github.com/xkilldash9x/sessionkeeper/internal/config"
	"github.com/xkilldash9x/sessionkeeper/internal/network"
	"github.com/xkilldash9x/sessionkeeper/internal/notify"
	"github.com/xkilldash9x/sessionkeeper/internal/settings"
	"github.com/xkilldash9x/sessionkeeper/internal/store"
)

// Options selects which halves of the component graph Create builds.
type Options struct {
	// Browser launches Chromium, opens the target and prepares the
	// side-fetch client.
	Browser bool
}

// ComponentFactory creates the components a command needs.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct {
	openStore  func(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error)
	newManager func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*browser.Manager, error)
}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{openStore: store.Open, newManager: browser.NewManager}
}

// Create handles dependency injection and initialization. On failure any
// component already built is shut down before the error is returned.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (_ *Components, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Components{logger: logger}
	defer func() {
		if err != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(err))
			c.Shutdown()
		}
	}()

	// 1. State
	st, err := f.openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	c.Store = st
	c.Settings = settings.New(st, settings.WithCookieTTL(cfg.Harvest.CookieTTL))
	c.Notifier = notify.New(cfg.Notify, logger)
	logger.Debug("State initialized.", zap.String("store", cfg.Store.Type))

	if !opts.Browser {
		return c, nil
	}

	// 2. Browser and target tab
	manager, err := f.newManager(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	c.BrowserManager = manager

	session, err := manager.NewSession(ctx, cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to open target: %w", err)
	}
	c.Session = session

	// 3. Side-fetch client. Each request first copies the tab's cookies for
	// its URL, so requests to any host carry the same session.
	if cfg.Harvest.SideFetch {
		netCfg := cfg.Network
		if netCfg.UserAgent == "" && cfg.Browser.Stealth {
			netCfg.UserAgent = cfg.Browser.Persona.UserAgent
		}
		fetcher, err := network.NewFetcher(netCfg, cfg.Harvest, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create side-fetch client: %w", err)
		}
		fetcher.UseCookieSource(session)
		c.Fetcher = fetcher
	}

	logger.Info("Components initialized.", zap.String("target", cfg.Target.URL))
	return c, nil
}
