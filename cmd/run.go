// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/sessionkeeper/internal/config"
	"github.com/xkilldash9x/sessionkeeper/internal/harvest"
	"github.com/xkilldash9x/sessionkeeper/internal/observability"
	"github.com/xkilldash9x/sessionkeeper/internal/service"
)

// errTabClosed is returned by run when the browser goes away underneath it.
var errTabClosed = errors.New("browser tab closed")

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Open the target page and reload it while auto refresh is on",
		Long: `Launches Chromium on the target page and stays in the foreground. The
auto_refresh flag is polled; while it is on, the page is reloaded whenever
more than the keepalive interval has passed since the last reload. Use
'sessionkeeper toggle on|off' from another shell to flip the flag.

The daemon owns the browser profile, so a separate 'sessionkeeper harvest'
cannot run next to it. With --harvest-every the daemon harvests on its own
tab instead and saves the result for 'sessionkeeper cookies'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg, observability.GetLogger())
		},
	}

	runCmd.Flags().Duration("interval", 0, "reload when more than this much time passed since the last reload (default 20m)")
	runCmd.Flags().Duration("poll", 0, "how often the auto refresh flag is re-read (default 5s)")
	runCmd.Flags().Bool("headless", true, "run Chromium without a window")
	runCmd.Flags().Duration("harvest-every", 0, "harvest and save cookies at this period, 0 disables")
	bindFlag(runCmd.Flags(), "interval", "keepalive.interval")
	bindFlag(runCmd.Flags(), "poll", "keepalive.poll_interval")
	bindFlag(runCmd.Flags(), "headless", "browser.headless")
	bindFlag(runCmd.Flags(), "harvest-every", "harvest.every")

	return runCmd
}

// runDaemon keeps the target tab alive until ctx is cancelled or the tab
// disappears.
func runDaemon(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	components, err := factory.Create(ctx, cfg, service.Options{Browser: true}, logger)
	if err != nil {
		return err
	}
	defer components.Shutdown()

	controller := components.Controller(cfg.Keepalive)
	logger.Info("Keeping session alive.",
		zap.String("target", cfg.Target.URL),
		zap.Duration("interval", cfg.Keepalive.Interval))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return controller.Run(gctx)
	})
	if cfg.Harvest.Every > 0 {
		h := components.Harvester(cfg.Harvest, cfg.Target.URL)
		g.Go(func() error {
			return harvestEvery(gctx, h, components.Settings, cfg.Harvest.Every, logger)
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-components.Session.Done():
			return errTabClosed
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Shutting down.")
	return ctx.Err()
}

type harvestRunner interface {
	Harvest(ctx context.Context) harvest.Result
}

type cookieSaver interface {
	SaveCookies(ctx context.Context, cookies string) error
}

// harvestEvery harvests on the daemon's tab each period and saves non-empty
// results. Failures are logged and the next period tried again. It returns
// nil when ctx ends.
func harvestEvery(ctx context.Context, h harvestRunner, saver cookieSaver, every time.Duration, logger *zap.Logger) error {
	logger = logger.Named("scheduled_harvest")
	logger.Info("Scheduled harvests enabled.", zap.Duration("every", every))

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		res := h.Harvest(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if res.Cookies == "" {
			logger.Warn("Harvest found no cookies.", zap.String("harvest_id", res.ID))
			continue
		}
		if err := saver.SaveCookies(ctx, res.Cookies); err != nil {
			logger.Warn("Failed to save harvested cookies.", zap.String("harvest_id", res.ID), zap.Error(err))
			continue
		}
		logger.Info("Cookies saved.", zap.String("harvest_id", res.ID), zap.Int("fragments", len(res.Fragments)))
	}
}
