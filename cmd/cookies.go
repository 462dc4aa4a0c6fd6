// File: cmd/cookies.go
package cmd

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/sessionkeeper/internal/observability"
	"github.com/xkilldash9x/sessionkeeper/internal/service"
)

// ErrNoFreshCookies is returned by the cookies command when nothing was saved
// or the saved value has expired.
var ErrNoFreshCookies = errors.New("no saved cookies within their lifetime")

// savedCookiesOutput is the --json rendering.
type savedCookiesOutput struct {
	Value      string    `json:"value"`
	CapturedAt time.Time `json:"captured_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func newCookiesCmd() *cobra.Command {
	var asJSON bool

	cookiesCmd := &cobra.Command{
		Use:   "cookies",
		Short: "Print the cookies saved by 'harvest --save' if they are still fresh",
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

			rec, ok, err := components.Settings.SavedCookies(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return ErrNoFreshCookies
			}

			if !asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), rec.Value)
				return nil
			}
			out := savedCookiesOutput{
				Value:      rec.Value,
				CapturedAt: rec.CapturedAt(),
				ExpiresAt:  rec.CapturedAt().Add(cfg.Harvest.CookieTTL),
			}
			enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cookiesCmd.Flags().BoolVar(&asJSON, "json", false, "print the value with its capture and expiry times as JSON")
	return cookiesCmd
}
