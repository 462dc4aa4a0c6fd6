// File: cmd/toggle.go
package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionkeeper/internal/notify"
	"github.com/xkilldash9x/sessionkeeper/internal/observability"
	"github.com/xkilldash9x/sessionkeeper/internal/service"
)

const notifyTitle = "Auto refresh"

func newToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "toggle on|off",
		Short:     "Turn auto refresh on or off",
		Long:      `Writes the auto_refresh flag. A running 'sessionkeeper run' picks the change up on its next poll.`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			enabled := args[0] == "on"

			components, err := factory.Create(ctx, cfg, service.Options{}, logger)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			if err := components.Settings.SetAutoRefresh(ctx, enabled); err != nil {
				return fmt.Errorf("failed to update auto refresh: %w", err)
			}
			logger.Debug("Auto refresh flag written.", zap.Bool("enabled", enabled))

			if !enabled {
				fmt.Fprintln(cmd.OutOrStdout(), "Auto refresh disabled")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Auto refresh enabled")
			return components.Notifier.Notify(ctx, notify.Notification{
				Title:   notifyTitle,
				Text:    fmt.Sprintf("Auto refresh enabled, the page reloads every %s", shortDuration(cfg.Keepalive.Interval)),
				Timeout: cfg.Notify.Timeout,
			})
		},
	}
}

// shortDuration formats d without trailing zero units: 20m rather than 20m0s.
func shortDuration(d time.Duration) string {
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}
