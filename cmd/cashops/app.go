package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/cashops/internal/config"
	"github.com/ledgerline/cashops/internal/connectors"
	"github.com/ledgerline/cashops/internal/connectors/bankcsv"
	"github.com/ledgerline/cashops/internal/connectors/erptable"
	"github.com/ledgerline/cashops/internal/connectors/warehouse"
	"github.com/ledgerline/cashops/internal/persistence"
	"github.com/ledgerline/cashops/internal/persistence/memory"
	"github.com/ledgerline/cashops/internal/persistence/postgres"
	"github.com/ledgerline/cashops/internal/trust"
)

// openStore builds the configured storage backend. The returned closer is a
// no-op for the memory driver.
func openStore(cfg *config.Config) (persistence.Store, func() error, error) {
	if cfg.Database.Driver == "memory" {
		log.Warn().Msg("using in-memory store, data is not durable")
		return memory.New(), func() error { return nil }, nil
	}

	store, err := postgres.Open(cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		time.Duration(cfg.Database.ConnMaxLifeSecs)*time.Second)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// newRegistry wires every built-in connector variant.
func newRegistry() *connectors.Registry {
	r := connectors.NewRegistry()
	bankcsv.Register(r)
	erptable.Register(r)
	warehouse.Register(r)
	return r
}

// gateConfig maps the YAML thresholds onto the trust gate config.
func gateConfig(cfg *config.Config) trust.GateConfig {
	gc := trust.DefaultGateConfig()
	gc.MaxMissingFXRatio = cfg.Gates.MaxMissingFXRatio
	gc.MaxUnknownCashPct = cfg.Gates.MaxUnknownCashPct
	gc.MaxDuplicateExposure = decimal.Zero
	gc.MaxFreshnessHours = cfg.Gates.MaxFreshnessHours
	return gc
}

// maybeServeMetrics starts the prometheus endpoint when enabled.
func maybeServeMetrics(cfg *config.Config) {
	if !cfg.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Info().Str("addr", cfg.Metrics.ListenAddr).Msg("metrics endpoint listening")
		if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
			log.Error().Err(err).Msg("metrics endpoint stopped")
		}
	}()
}

// printJSON renders a command result to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// commandContext is the deadline applied to every one-shot CLI operation.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Minute)
}
