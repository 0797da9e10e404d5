package main

import (
	"github.com/spf13/cobra"

	"github.com/ledgerline/cashops/internal/calendar"
	"github.com/ledgerline/cashops/internal/forecast"
	"github.com/ledgerline/cashops/internal/invariants"
	"github.com/ledgerline/cashops/internal/match"
	"github.com/ledgerline/cashops/internal/persistence"
	"github.com/ledgerline/cashops/internal/trust"
)

// snapshotCommand wraps the shared boilerplate of the per-snapshot engines.
func snapshotCommand(use, short, long string, run func(store persistence.Store, snapshotID string) (interface{}, error)) *cobra.Command {
	var snapshotID string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			maybeServeMetrics(cfg)

			res, err := run(store, snapshotID)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&snapshotID, "snapshot", "", "Snapshot ID")
	cmd.MarkFlagRequired("snapshot")
	return cmd
}

func newMatchCmd() *cobra.Command {
	return snapshotCommand("match",
		"Run the reconciliation matching pass over a snapshot",
		`Matches unreconciled bank transactions against open invoices and bills
through the deterministic, rule and scored tiers, auto-applying links
the snapshot's policy allows and parking the rest as suggestions.`,
		func(store persistence.Store, snapshotID string) (interface{}, error) {
			ctx, cancel := commandContext()
			defer cancel()
			return match.NewEngine(store).Run(ctx, snapshotID)
		})
}

func newForecastCmd() *cobra.Command {
	return snapshotCommand("forecast",
		"Fit payment-delay segments and predict open invoice payment dates",
		`Builds the segment hierarchy from paid invoices, backtests band
coverage on a holdout split and writes predicted payment dates with
confidence bands onto every open invoice.`,
		func(store persistence.Store, snapshotID string) (interface{}, error) {
			ctx, cancel := commandContext()
			defer cancel()
			return forecast.NewEngine(store).Run(ctx, snapshotID)
		})
}

func newInvariantsCmd() *cobra.Command {
	return snapshotCommand("invariants",
		"Evaluate the consistency invariants of a snapshot",
		`Checks conservation, sign conventions, FX coverage and lifecycle
consistency, and opens exceptions for violations.`,
		func(store persistence.Store, snapshotID string) (interface{}, error) {
			ctx, cancel := commandContext()
			defer cancel()
			return invariants.NewEngine(store).Run(ctx, snapshotID)
		})
}

func newCalendarCmd() *cobra.Command {
	return snapshotCommand("calendar",
		"Build the 13-week cash calendar for a snapshot",
		`Buckets predicted inflows and scheduled outflows into 13 weekly
columns, chains closing balances and flags weeks that fall below the
minimum cash threshold.`,
		func(store persistence.Store, snapshotID string) (interface{}, error) {
			ctx, cancel := commandContext()
			defer cancel()
			return calendar.NewBuilder(store).Build(ctx, snapshotID)
		})
}

func newTrustCmd() *cobra.Command {
	var snapshotID string
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Build the trust report and evaluate the lock gates",
		Long: `Derives the per-snapshot trust metrics with evidence references,
computes the composite trust score and reports which lock gates pass.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			maybeServeMetrics(cfg)

			ctx, cancel := commandContext()
			defer cancel()

			rep, err := trust.NewReporter(store, gateConfig(cfg)).Build(ctx, snapshotID)
			if err != nil {
				return err
			}
			return printJSON(rep)
		},
	}
	cmd.Flags().StringVar(&snapshotID, "snapshot", "", "Snapshot ID")
	cmd.MarkFlagRequired("snapshot")
	return cmd
}
