package main

import (
	"fmt"
	"os"

	"patient-passport-access/internal/config"
	"patient-passport-access/internal/platform/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "passport-access",
		Short:         "Access grant service for patient medical passports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml or /etc/patient-passport/config.yaml)")
	root.PersistentFlags().String("log-level", "", "log level (debug|info|warn|error)")
	_ = v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newServeCmd(v), newMigrateCmd(v), newSweepCmd(v))
	return root
}

// load lee la config y arma el logger con ella.
func load(v *viper.Viper) (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Options{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: logger.ParseFormat(cfg.Log.Format),
		App:    "patient-passport-access",
	})
	return cfg, log, nil
}
