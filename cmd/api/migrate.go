package main

import (
	"errors"

	"patient-passport-access/internal/platform/metrics"
	"patient-passport-access/internal/router"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load(v)
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return errors.New("database.dsn is required for migrate")
			}
			d, err := openDeps(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer d.Close()

			log.Info("schema applied", nil)
			return nil
		},
	}
}

func newSweepCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue pending access requests once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load(v)
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return errors.New("database.dsn is required for sweep")
			}
			d, err := openDeps(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer d.Close()

			app := router.Build(router.Options{DB: d.DB, Logger: log, Metrics: metrics.New(), Access: cfg.Access})
			n, err := app.Requests.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			log.Info("access requests expired", map[string]any{"count": n})
			return nil
		},
	}
}
