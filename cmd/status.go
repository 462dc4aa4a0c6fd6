// File: cmd/status.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/sessionkeeper/internal/keepalive"
	"github.com/xkilldash9x/sessionkeeper/internal/observability"
	"github.com/xkilldash9x/sessionkeeper/internal/service"
)

// statusLocation is the zone status times are printed in.
var statusLocation = time.Local

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last refresh and whether auto refresh is on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}

			components, err := factory.Create(ctx, cfg, service.Options{}, observability.GetLogger())
			if err != nil {
				return err
			}
			defer components.Shutdown()

			st, err := keepalive.ReadStatus(ctx, components.Settings, cfg.Keepalive.Interval, components.Settings.Now())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), keepalive.FormatStatus(st, statusLocation))
			return nil
		},
	}
}
