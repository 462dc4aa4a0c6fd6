// File: cmd/harvest.go
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionkeeper/internal/browser"
	"github.com/xkilldash9x/sessionkeeper/internal/observability"
	"github.com/xkilldash9x/sessionkeeper/internal/service"
)

func newHarvestCmd() *cobra.Command {
	var save bool

	harvestCmd := &cobra.Command{
		Use:   "harvest",
		Short: "Collect the session's cookies and print them",
		Long: `Opens the target page and, for the harvest window, gathers cookie values
from the page's cookie string, from Set-Cookie style response headers and from
side-fetches of scripts and images the page inserts. The deduplicated result
is printed as one "; "-joined line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			components, err := factory.Create(ctx, cfg, service.Options{Browser: true}, logger)
			if errors.Is(err, browser.ErrProfileInUse) {
				return fmt.Errorf("%w; if 'sessionkeeper run' is up, start it with --harvest-every and read the result with 'sessionkeeper cookies'", err)
			}
			if err != nil {
				return err
			}
			defer components.Shutdown()

			res := components.Harvester(cfg.Harvest, cfg.Target.URL).Harvest(ctx)
			if res.Cookies == "" {
				logger.Warn("Harvest found no cookies.", zap.String("harvest_id", res.ID))
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Cookies)

			if save {
				if err := components.Settings.SaveCookies(ctx, res.Cookies); err != nil {
					return fmt.Errorf("failed to save cookies: %w", err)
				}
				logger.Info("Cookies saved.", zap.Int("fragments", len(res.Fragments)))
			}
			return nil
		},
	}

	harvestCmd.Flags().BoolVar(&save, "save", false, "store the result for 'sessionkeeper cookies'")
	harvestCmd.Flags().Duration("window", 0, "how long to collect before resolving (default 3s)")
	harvestCmd.Flags().Bool("side-fetch", true, "re-request inserted scripts and images to read their Set-Cookie headers")
	bindFlag(harvestCmd.Flags(), "window", "harvest.window")
	bindFlag(harvestCmd.Flags(), "side-fetch", "harvest.side_fetch")

	return harvestCmd
}
