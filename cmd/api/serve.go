package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"patient-passport-access/internal/domain/accessrequests"
	"patient-passport-access/internal/platform/logger"
	"patient-passport-access/internal/platform/metrics"
	"patient-passport-access/internal/router"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the access request sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps, err := openDeps(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer deps.Close()

			app := router.Build(router.Options{
				AuthVerifier: deps.Verifier,
				DB:           deps.DB,
				Redis:        deps.Redis,
				Mailer:       deps.Mailer,
				Notifier:     deps.Notifier,
				Affiliations: deps.Affiliations,
				Logger:       log,
				Metrics:      metrics.New(),
				Access:       cfg.Access,
			})

			go runSweeper(ctx, app.Requests, cfg.Access.SweepInterval, log)

			srv := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:      app.Handler,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("starting server", map[string]any{"addr": srv.Addr})
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
			}

			log.Info("shutting down", nil)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	_ = v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

// runSweeper expira pedidos pendientes vencidos hasta que ctx se cancela.
func runSweeper(ctx context.Context, svc *accessrequests.Service, every time.Duration, log logger.Logger) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := svc.Sweep(ctx); err != nil {
				log.Error("access request sweep failed", map[string]any{"err": err})
			}
		}
	}
}
