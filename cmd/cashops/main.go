package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ledgerline/cashops/internal/config"
)

const (
	appName = "cashops"
	version = "v1.4.0"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Cash operations platform: ingestion, reconciliation, forecast and lock workflow",
		Version: version,
		Long: `cashops ingests AR/AP/bank data through lineage-tracked connectors,
reconciles bank transactions against open documents, forecasts customer
payment timing and rolls everything into a 13-week cash calendar with a
trust-gated snapshot lock.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	// Accept underscore spellings of multi-word flags.
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.AddCommand(
		newSyncCmd(),
		newMaterializeCmd(),
		newMatchCmd(),
		newForecastCmd(),
		newInvariantsCmd(),
		newCalendarCmd(),
		newTrustCmd(),
		newSnapshotCmd(),
		newMigrateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// loadConfig reads the config file and configures the global logger from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	setupLogger(cfg.Logging)
	return cfg, nil
}

func setupLogger(lc config.LoggingConfig) {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if lc.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
