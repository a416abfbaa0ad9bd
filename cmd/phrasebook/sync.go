package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/at-ishikawa/phrasebook/internal/bootstrap"
	"github.com/at-ishikawa/phrasebook/internal/connectivity"
	"github.com/at-ishikawa/phrasebook/internal/migration"
	"github.com/at-ishikawa/phrasebook/internal/scheduler"
)

func newSyncCommand() *cobra.Command {
	var once bool
	command := &cobra.Command{
		Use:   "sync",
		Short: "Keep the local collection in sync with the remote store until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, openOptions{}, func(ctx context.Context, a *appContext) error {
				if !a.orchestrator.Synced() {
					return errors.New("no remote store configured: set remote.kind and remote.user_id")
				}
				if once {
					result, err := a.orchestrator.RetryPending(ctx)
					if err != nil {
						return err
					}
					a.orchestrator.Flush(ctx)
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Synced. Retried %d, failed %d, dropped %d.\n",
						result.Success, result.Failed, len(result.Dropped))
					return nil
				}

				if err := a.orchestrator.Subscribe(ctx); err != nil {
					return err
				}
				monitor := connectivity.NewMonitor(a.cfg.Scheduler.ProbeURL)
				defer func() {
					_ = monitor.Close()
				}()
				jobs := scheduler.New(a.cfg.Scheduler, monitor, a.service, time.Local)
				if err := jobs.Start(ctx); err != nil {
					return err
				}
				defer jobs.Stop()

				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Syncing. Press Ctrl+C to stop.")
				a.orchestrator.Run(ctx, monitor.Online())
				return nil
			})
		},
	}
	command.Flags().BoolVar(&once, "once", false, "Merge with the remote store, retry failed writes and exit")
	return command
}

func newMigrateCommand() *cobra.Command {
	var status bool
	command := &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade the local data to the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := bootstrap.New()
			return app.Run(cmd.Context(), func(ctx context.Context) error {
				_, local, err := openLocal(ctx, app)
				if err != nil {
					return err
				}
				runner := migration.NewRunner(local)

				if status {
					marker, err := runner.LoadMarker(ctx)
					if err != nil {
						return err
					}
					encoder := yaml.NewEncoder(cmd.OutOrStdout())
					defer func() {
						_ = encoder.Close()
					}()
					return encoder.Encode(marker)
				}

				report, err := runner.Run(ctx)
				if err != nil {
					return err
				}
				if report.Skipped {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Already at schema version %d.\n", report.ToVersion)
					return nil
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Migrated from version %d to %d: %d phrases, %d new ids, %d backfilled, %d rejected.\n",
					report.FromVersion, report.ToVersion, report.Phrases, len(report.IDMap), report.Backfilled, report.Rejected)
				return nil
			})
		},
	}
	command.Flags().BoolVar(&status, "status", false, "Print the migration marker instead of migrating")
	return command
}

func newPurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove deleted phrases older than the tombstone TTL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, openOptions{}, func(ctx context.Context, a *appContext) error {
				purged, err := a.service.PurgeTombstones(ctx)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Purged %d deleted phrases.\n", purged)
				return nil
			})
		},
	}
}
