package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-views/internal/earnings"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Rebuild earnings records from the view ledger",
	Long:  "Recomputes views, gross, fee and net earnings for every (promoter, campaign) pair of an active visibility campaign. Payout fields are never touched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if includeEnded, _ := cmd.Flags().GetBool("include-ended"); includeEnded {
			cfg.Reconcile.IncludeEnded = true
		}
		if err := cfg.Validate("reconcile"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Reconciler.ReconcileAll(ctx)
		if err != nil {
			return eris.Wrap(err, "reconcile")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker for scheduled reconciliation",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("worker"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		tc, err := initTemporal()
		if err != nil {
			return err
		}
		defer tc.Close()

		w := worker.New(tc, cfg.Temporal.TaskQueue, worker.Options{})
		earnings.Register(w, &earnings.Activities{Reconciler: env.Reconciler})

		zap.L().Info("starting temporal worker",
			zap.String("task_queue", cfg.Temporal.TaskQueue),
			zap.String("namespace", cfg.Temporal.Namespace),
		)
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "temporal worker")
		}
		return nil
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Create the recurring reconciliation schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("schedule"); err != nil {
			return err
		}
		ctx := cmd.Context()

		tc, err := initTemporal()
		if err != nil {
			return err
		}
		defer tc.Close()

		created, err := earnings.ScheduleReconcile(ctx, tc.ScheduleClient(), cfg.Reconcile.Cron, cfg.Temporal.TaskQueue,
			earnings.ReconcileParams{IncludeEnded: cfg.Reconcile.IncludeEnded})
		if err != nil {
			return err
		}
		if !created {
			zap.L().Info("reconcile schedule already exists", zap.String("schedule_id", earnings.ScheduleID))
			return nil
		}
		zap.L().Info("reconcile schedule created",
			zap.String("schedule_id", earnings.ScheduleID),
			zap.String("cron", cfg.Reconcile.Cron),
		)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().Bool("include-ended", false, "also reconcile ended campaigns")
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(scheduleCmd)
}
