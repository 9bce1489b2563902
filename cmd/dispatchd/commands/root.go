package commands

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-dispatch-backend/internal/config"
	"github.com/tbourn/go-dispatch-backend/internal/sysutil"
)

// version is set at link time: -ldflags "-X .../commands.version=v1.2.3".
var version string

var (
	envFile    string
	configFile string
	cfg        config.Config
)

// Execute runs the root command.
func Execute() error {
	return newRoot().Execute()
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "dispatchd",
		Short:         "Service-request dispatcher (HTTP intake, Telegram specialists)",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnv(envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			if configFile != "" {
				if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
					return err
				}
			}
			var err error
			if cfg, err = config.Load(); err != nil {
				return err
			}
			sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (overrides CONFIG_FILE)")

	root.AddCommand(serveCmd(), migrateCmd(), sweepCmd(), versionCmd())
	return root
}

// loadEnv loads path into the environment without overriding variables that
// are already set. A missing default file is fine; a missing explicit one
// is not.
func loadEnv(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return nil
	}
	if err == nil {
		log.Debug().Str("file", path).Msg("loaded env file")
	}
	return err
}
