package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/sessionkeeper/internal/browser"
	"github.com/xkilldash9x/sessionkeeper/internal/config"
	"github.com/xkilldash9x/sessionkeeper/internal/harvest"
)

// scriptedHarvester returns its results in order, then empty results.
type scriptedHarvester struct {
	mu      sync.Mutex
	results []harvest.Result
	calls   int
}

func (h *scriptedHarvester) Harvest(context.Context) harvest.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if len(h.results) == 0 {
		return harvest.Result{ID: fmt.Sprintf("h%d", h.calls)}
	}
	res := h.results[0]
	h.results = h.results[1:]
	return res
}

// recordingSaver keeps saved values and signals each save.
type recordingSaver struct {
	mu    sync.Mutex
	saved []string
	err   error
	done  chan struct{}
}

func (s *recordingSaver) SaveCookies(_ context.Context, cookies string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, cookies)
	if s.done != nil && len(s.saved) == 2 {
		close(s.done)
	}
	return nil
}

func TestHarvestEvery(t *testing.T) {
	t.Run("saves non-empty results each period", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		h := &scriptedHarvester{results: []harvest.Result{
			{ID: "a", Cookies: "SUB=1"},
			{ID: "b"},
			{ID: "c", Cookies: "SUB=2; SUBP=x"},
		}}
		saver := &recordingSaver{done: make(chan struct{})}

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- harvestEvery(ctx, h, saver, 5*time.Millisecond, zaptest.NewLogger(t)) }()

		select {
		case <-saver.done:
		case <-time.After(5 * time.Second):
			t.Fatal("scheduled harvests did not save twice")
		}
		cancel()
		require.NoError(t, <-errc)

		saver.mu.Lock()
		defer saver.mu.Unlock()
		assert.Equal(t, []string{"SUB=1", "SUB=2; SUBP=x"}, saver.saved, "empty harvests are not saved")
	})

	t.Run("save failure does not stop the schedule", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		h := &scriptedHarvester{}
		for i := 0; i < 100; i++ {
			h.results = append(h.results, harvest.Result{Cookies: "SUB=1"})
		}
		saver := &recordingSaver{err: errors.New("disk full")}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
		defer cancel()
		require.NoError(t, harvestEvery(ctx, h, saver, 5*time.Millisecond, zaptest.NewLogger(t)))

		h.mu.Lock()
		defer h.mu.Unlock()
		assert.GreaterOrEqual(t, h.calls, 2)
	})

	t.Run("cancelled before the first period", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		h := &scriptedHarvester{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, harvestEvery(ctx, h, &recordingSaver{}, time.Hour, zaptest.NewLogger(t)))
		assert.Zero(t, h.calls)
	})
}

func TestRunFlags(t *testing.T) {
	env := newTestEnv(t)
	root := NewRootCommand()
	var cfg *config.Config
	for _, c := range root.Commands() {
		if c.Name() == "run" {
			c.RunE = func(cmd *cobra.Command, args []string) error {
				var err error
				cfg, err = getConfig(cmd)
				return err
			}
		}
	}

	_, err := runRoot(t, root, "--config", env.configPath, "run", "--harvest-every", "10m", "--headless=false")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 10*time.Minute, cfg.Harvest.Every)
	assert.False(t, cfg.Browser.Headless)
}

func TestHarvestCommand_ProfileInUse(t *testing.T) {
	env := newTestEnv(t)
	useFactory(t, &stubFactory{err: fmt.Errorf("failed to initialize browser manager: %w", browser.ErrProfileInUse)})

	_, err := env.execute(t, "harvest")
	require.ErrorIs(t, err, browser.ErrProfileInUse)
	assert.Contains(t, err.Error(), "--harvest-every")
}
