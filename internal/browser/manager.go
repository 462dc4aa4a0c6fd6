// Package browser drives a Chromium tab over the DevTools protocol and
// exposes it through the capabilities the keepalive loop and the harvester
// consume.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionkeeper/internal/browser/stealth"
	"github.com/xkilldash9x/sessionkeeper/internal/config"
)

const startupTimeout = 30 * time.Second

// Manager owns the browser process. Sessions are tabs within it.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager launches the browser and verifies it responds. It returns
// ErrProfileInUse (wrapped) without launching anything if another browser
// holds the configured profile.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := checkProfile(profileDir(cfg)); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:      cfg,
		logger:   logger.Named("browser_manager"),
		sessions: make(map[string]*Session),
	}

	m.logger.Info("Launching browser...", zap.Bool("headless", cfg.Headless))
	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Debugf),
	)

	startCtx, cancel := CombineContext(m.browserCtx, ctx)
	defer cancel()
	startCtx, cancelTimeout := context.WithTimeout(startCtx, startupTimeout)
	defer cancelTimeout()

	// The first Run on the browser context starts the process.
	if err := chromedp.Run(startCtx); err != nil {
		m.browserCancel()
		m.allocCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched.")
	return m, nil
}

// NewSession opens a tab on target.URL. It returns ErrOffTarget (wrapped) if
// the page that loads does not match target.Match.
func (m *Manager) NewSession(ctx context.Context, target config.TargetConfig) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser manager is shut down")
	}
	m.mu.Unlock()

	var setup chromedp.Tasks
	if m.cfg.Stealth {
		setup = stealth.Apply(stealth.NewPersona(m.cfg.Persona), m.logger)
	}
	s := newSession(m.browserCtx, target, m.cfg.NavigationTimeout, setup, m.logger)
	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
	}
	if err := s.open(ctx); err != nil {
		s.Close()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

// Shutdown closes every session and then the browser. It waits at most until
// ctx is done for a graceful close before killing the process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	m.logger.Info("Shutting down browser.", zap.Int("open_sessions", len(sessions)))
	for _, s := range sessions {
		s.Close()
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(m.browserCtx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
		m.logger.Warn("Graceful browser close timed out, killing process.")
	}
	m.browserCancel()
	m.allocCancel()
	return err
}
