package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/persistence/postgres"
	"github.com/ledgerline/cashops/internal/trust"
	"github.com/ledgerline/cashops/internal/workflow"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Snapshot lifecycle transitions",
	}
	cmd.AddCommand(newSubmitCmd(), newLockCmd())
	return cmd
}

func actorFlags(cmd *cobra.Command, userID, email, role *string) {
	cmd.Flags().StringVar(userID, "actor", "", "Acting user ID")
	cmd.Flags().StringVar(email, "email", "", "Acting user email")
	cmd.Flags().StringVar(role, "role", string(domain.RoleRegular), "Acting role (REGULAR or LOCK_CAPABLE)")
	cmd.MarkFlagRequired("actor")
}

func newSubmitCmd() *cobra.Command {
	var (
		snapshotID          string
		userID, email, role string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Move a draft snapshot to READY_FOR_REVIEW",
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

			svc := workflow.NewService(store, trust.NewReporter(store, gateConfig(cfg)))
			actor := domain.Actor{UserID: userID, Email: email, Role: domain.Role(role)}
			if err := svc.SubmitForReview(ctx, snapshotID, actor); err != nil {
				return err
			}
			return printJSON(map[string]string{
				"snapshot_id": snapshotID,
				"status":      string(domain.SnapshotReadyForReview),
			})
		},
	}
	cmd.Flags().StringVar(&snapshotID, "snapshot", "", "Snapshot ID")
	cmd.MarkFlagRequired("snapshot")
	actorFlags(cmd, &userID, &email, &role)
	return cmd
}

func newLockCmd() *cobra.Command {
	var (
		snapshotID          string
		userID, email, role string
		reason              string
		overrideAck         string
		overrideReason      string
	)
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Lock a reviewed snapshot",
		Long: `Locks a READY_FOR_REVIEW snapshot, freezing its matching policies.
Requires the lock-capable role and passing lock gates. Failed gates can
be overridden with an explicit acknowledgment, which is recorded in the
append-only override log.`,
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

			svc := workflow.NewService(store, trust.NewReporter(store, gateConfig(cfg)))
			actor := domain.Actor{UserID: userID, Email: email, Role: domain.Role(role)}

			var override *workflow.Override
			if overrideAck != "" || overrideReason != "" {
				override = &workflow.Override{
					AcknowledgmentText: overrideAck,
					OverrideReason:     overrideReason,
				}
			}
			if err := svc.Lock(ctx, snapshotID, actor, reason, override); err != nil {
				return err
			}
			return printJSON(map[string]string{
				"snapshot_id": snapshotID,
				"status":      string(domain.SnapshotLocked),
			})
		},
	}
	cmd.Flags().StringVar(&snapshotID, "snapshot", "", "Snapshot ID")
	cmd.Flags().StringVar(&reason, "reason", "", "Lock reason recorded on the snapshot")
	cmd.Flags().StringVar(&overrideAck, "override-ack", "", "Override acknowledgment text (min 20 chars)")
	cmd.Flags().StringVar(&overrideReason, "override-reason", "", "Override reason")
	cmd.MarkFlagRequired("snapshot")
	actorFlags(cmd, &userID, &email, &role)
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "postgres" {
				return printJSON(map[string]string{"status": "nothing to migrate"})
			}
			store, err := postgres.Open(cfg.Database.DSN,
				cfg.Database.MaxOpenConns,
				cfg.Database.MaxIdleConns,
				time.Duration(cfg.Database.ConnMaxLifeSecs)*time.Second)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := commandContext()
			defer cancel()
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			return printJSON(map[string]string{"status": "schema applied"})
		},
	}
}
