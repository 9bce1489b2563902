package commands

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-dispatch-backend/internal/app"
	"github.com/tbourn/go-dispatch-backend/internal/observability"
	"github.com/tbourn/go-dispatch-backend/internal/sysutil"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the Telegram bot and the cleanup janitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := sysutil.SignalContext(cmd.Context())
			defer stop()

			dep := observability.Deployment{
				Version:      sysutil.Version(version),
				StoreBackend: cfg.Store.Backend,
				Telegram:     cfg.Telegram.BotToken != "",
			}
			shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, dep)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					log.Warn().Err(err).Msg("otel shutdown")
				}
			}()
			if err := observability.RegisterBuildInfo(prometheus.DefaultRegisterer, dep); err != nil {
				return err
			}

			a, err := app.New(cfg, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			log.Info().
				Str("version", dep.Version).
				Str("store", dep.StoreBackend).
				Bool("telegram", dep.Telegram).
				Msg("dispatchd starting")
			return a.Run(ctx)
		},
	}
}
