package main

import (
	"github.com/spf13/cobra"

	"github.com/ledgerline/cashops/internal/ingest"
)

func newSyncCmd() *cobra.Command {
	var (
		connectionID string
		triggeredBy  string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one extract cycle for a connection",
		Long: `Extracts rows from the connection's source, normalizes them into
canonical records and versions the result as a new dataset. Row-level
failures are recorded on the sync run without aborting it.`,
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

			orch := ingest.NewOrchestrator(store, newRegistry())
			run, err := orch.Sync(ctx, connectionID, triggeredBy)
			if err != nil {
				return err
			}
			return printJSON(run)
		},
	}
	cmd.Flags().StringVar(&connectionID, "connection", "", "Connection ID to sync")
	cmd.Flags().StringVar(&triggeredBy, "triggered-by", "cli", "Trigger label recorded on the run")
	cmd.MarkFlagRequired("connection")
	return cmd
}

func newMaterializeCmd() *cobra.Command {
	var (
		snapshotID string
		datasetID  string
	)
	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Load a dataset's canonical records into a snapshot",
		Long: `Turns canonical records into invoices, vendor bills, bank transactions
and FX rates on the target snapshot. Re-running with the same dataset
skips rows that are already present.`,
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

			ctx, cancel := commandContext()
			defer cancel()

			orch := ingest.NewOrchestrator(store, newRegistry())
			res, err := orch.Materialize(ctx, snapshotID, datasetID)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&snapshotID, "snapshot", "", "Target snapshot ID")
	cmd.Flags().StringVar(&datasetID, "dataset", "", "Source dataset ID")
	cmd.MarkFlagRequired("snapshot")
	cmd.MarkFlagRequired("dataset")
	return cmd
}
