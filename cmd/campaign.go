package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Inspect and complete campaigns",
}

// -- campaign complete --

var campaignCompleteCmd = &cobra.Command{
	Use:   "complete <campaign-id>",
	Short: "End a campaign and complete its ongoing assignments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("admin"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Completion.ManuallyComplete(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "campaign complete")
		}

		zap.L().Info("campaign ended",
			zap.String("campaign_id", args[0]),
			zap.String("type", string(res.CampaignType)),
			zap.Int("completed_assignments", len(res.PromoterIDs)),
		)
		return nil
	},
}

// -- campaign stats --

var campaignStatsCmd = &cobra.Command{
	Use:   "stats <campaign-id>",
	Short: "Show unique view totals and the 30-day daily breakdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("admin"); err != nil {
			return err
		}
		ctx := cmd.Context()
		promoter, _ := cmd.Flags().GetString("promoter")

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Tracking.GetUniqueViewStats(ctx, args[0], promoter)
		if err != nil {
			return eris.Wrap(err, "campaign stats")
		}
		budget, err := env.Store.GetBudgetTracking(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "campaign stats")
		}

		out := map[string]any{"views": stats}
		if budget != nil {
			out["budget"] = budget
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// -- campaign promoter --

var campaignPromoterCmd = &cobra.Command{
	Use:   "promoter <promoter-id>",
	Short: "Show a promoter's lifetime counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("admin"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ps, err := env.Store.GetPromoterStats(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "campaign promoter")
		}
		if ps == nil {
			fmt.Fprintln(os.Stderr, "No stats for promoter.")
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ps)
	},
}

func init() {
	campaignStatsCmd.Flags().String("promoter", "", "restrict stats to one promoter")

	campaignCmd.AddCommand(campaignCompleteCmd)
	campaignCmd.AddCommand(campaignStatsCmd)
	campaignCmd.AddCommand(campaignPromoterCmd)
	rootCmd.AddCommand(campaignCmd)
}
