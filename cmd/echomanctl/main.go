// Command echomanctl is the operator CLI for manually triggering
// pipeline stages and inspecting the pipeline's health outside the
// fixed daily schedule, grounded on altctl's cobra root+subcommand
// shape (rootCmd with PersistentPreRunE wiring shared config/logger,
// one file per subcommand).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"echoman/internal/di"
	"echoman/internal/infra"
	"echoman/internal/infra/config"
	"echoman/internal/infra/logger"
)

var (
	cfg    *config.Config
	log    *slog.Logger
	app    *di.ApplicationComponents
	period string
)

var rootCmd = &cobra.Command{
	Use:           "echomanctl",
	Short:         "Operator CLI for the Echoman hot-topic pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initApp(cmd.Context())
	},
}

func initApp(ctx context.Context) error {
	cfg = config.Load()
	log = logger.New()

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
	pool, err := infra.NewPostgresDB(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}

	app, err = di.NewApplicationComponents(cfg, pool, log)
	if err != nil {
		return fmt.Errorf("wire application components: %w", err)
	}
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&period, "period", "", "period key, e.g. 2026-08-02_PM (required for stage commands)")
	rootCmd.AddCommand(ingestCmd, eventMergeCmd, globalMergeCmd, reconcileCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func requirePeriod() error {
	if period == "" {
		return fmt.Errorf("--period is required")
	}
	return nil
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Manually trigger the ingest hook for one period",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requirePeriod(); err != nil {
			return err
		}
		return app.Scheduler.TriggerIngest(cmd.Context(), period)
	},
}

var eventMergeCmd = &cobra.Command{
	Use:   "event-merge",
	Short: "Manually trigger stage-one event merge for one period",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requirePeriod(); err != nil {
			return err
		}
		return app.Scheduler.TriggerStageOne(cmd.Context(), period)
	},
}

var globalMergeCmd = &cobra.Command{
	Use:   "global-merge",
	Short: "Manually trigger stage-two global merge for one period",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requirePeriod(); err != nil {
			return err
		}
		return app.Scheduler.TriggerStageTwo(cmd.Context(), period)
	},
}

var reconcileBatchSize int

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation sweep pass over source items and topics",
	RunE: func(cmd *cobra.Command, args []string) error {
		itemSummary, err := app.SourceItemSweeper.Sweep(cmd.Context(), period, reconcileBatchSize)
		if err != nil {
			return fmt.Errorf("source item sweep: %w", err)
		}
		topicSummary, err := app.TopicSweeper.Sweep(cmd.Context(), period, reconcileBatchSize)
		if err != nil {
			return fmt.Errorf("topic sweep: %w", err)
		}
		fmt.Printf("source_items: scanned=%d repaired=%d\n", itemSummary.Scanned, itemSummary.Repaired)
		fmt.Printf("topics: scanned=%d repaired=%d\n", topicSummary.Scanned, topicSummary.Repaired)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the monitoring snapshot as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshot, err := app.Monitoring.Snapshot(cmd.Context())
		if err != nil {
			return fmt.Errorf("read monitoring snapshot: %w", err)
		}
		body, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

func init() {
	reconcileCmd.Flags().IntVar(&reconcileBatchSize, "batch-size", 500, "maximum rows to scan in this sweep pass")
}
