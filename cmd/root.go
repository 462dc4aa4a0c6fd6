// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionkeeper/internal/config"
	"github.com/xkilldash9x/sessionkeeper/internal/observability"
	"github.com/xkilldash9x/sessionkeeper/internal/service"
)

type contextKey string

const configKey contextKey = "config"

const (
	envPrefix = "SESSIONKEEPER"
	// viperKeyAnnotation marks a flag with the config key it overrides.
	viperKeyAnnotation = "sessionkeeper_viper_key"
)

// factory builds the components each command works with. Tests swap it.
var factory service.ComponentFactory = service.NewComponentFactory()

// NewRootCommand builds a fresh command tree with its own viper instance, so
// no flag or config state leaks between executions.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "sessionkeeper",
		Short: "Keeps a logged-in browser session alive and harvests its cookies.",
		Long: `sessionkeeper drives a Chromium tab on one page of a website. While auto
refresh is on it reloads the page whenever the configured interval has passed
since the last reload, and on demand it collects the session's cookies from
the page, its network responses and the resources it loads.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeConfig(v, cfgFile); err != nil {
				return err
			}
			if err := bindAnnotatedFlags(cmd.Flags(), v); err != nil {
				return err
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}
			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded.",
				zap.String("version", Version),
				zap.String("config_file", v.ConfigFileUsed()))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml or ~/.sessionkeeper/config.yaml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("target", "", "URL of the page to keep alive")
	pf.String("match", "", "glob the tab location must match, '*' matches anything")
	pf.String("store", "", "state backend: file, sqlite, postgres or keyring")
	pf.String("store-path", "", "state file for the file and sqlite backends (default ~/.sessionkeeper/state.json or state.db)")
	bindFlag(pf, "log-level", "logger.level")
	bindFlag(pf, "target", "target.url")
	bindFlag(pf, "match", "target.match")
	bindFlag(pf, "store", "store.type")
	bindFlag(pf, "store-path", "store.path")

	rootCmd.AddCommand(
		newRunCmd(),
		newHarvestCmd(),
		newToggleCmd(),
		newStatusCmd(),
		newCookiesCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree under ctx. The error is logged here once and
// returned so main can choose the exit code.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command failed.", zap.Error(err))
	}
	return err
}

// initializeConfig reads the config file, if any, and enables environment
// overrides such as SESSIONKEEPER_KEEPALIVE_INTERVAL.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".sessionkeeper"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		// Only a searched-for file may be absent; an explicit --config must exist.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// bindFlag records that flag name overrides the config key.
func bindFlag(fs *pflag.FlagSet, name, key string) {
	if err := fs.SetAnnotation(name, viperKeyAnnotation, []string{key}); err != nil {
		panic(fmt.Sprintf("cmd: cannot bind unknown flag %q", name))
	}
}

// bindAnnotatedFlags binds every annotated flag of the executing command,
// inherited ones included, to its config key.
func bindAnnotatedFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[viperKeyAnnotation]
		if len(keys) == 0 || bindErr != nil {
			return
		}
		if err := v.BindPFlag(keys[0], f); err != nil {
			bindErr = fmt.Errorf("error binding flag --%s: %w", f.Name, err)
		}
	})
	return bindErr
}

// getConfig returns the configuration PersistentPreRunE stored in the
// command's context.
func getConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
