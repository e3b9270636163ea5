package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sells-group/campaign-views/internal/model"
)

var payoutsCmd = &cobra.Command{
	Use:   "payouts",
	Short: "List and record promoter payouts",
}

// -- payouts list --

var payoutsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List earnings records eligible for payout",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("admin"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		recs, err := env.Payouts.Eligible(ctx)
		if err != nil {
			return eris.Wrap(err, "payouts list")
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No eligible payouts.")
			return nil
		}

		formatPayoutsList(os.Stdout, recs)
		return nil
	},
}

// -- payouts mark --

var payoutsMarkCmd = &cobra.Command{
	Use:   "mark <record-id>",
	Short: "Record an executed payout against an earnings record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("admin"); err != nil {
			return err
		}
		ctx := cmd.Context()

		amount, _ := cmd.Flags().GetInt64("amount-cents")
		ref, _ := cmd.Flags().GetString("reference")

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Payouts.MarkExecuted(ctx, args[0], amount, ref)
		if err != nil {
			return eris.Wrap(err, "payouts mark")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

// formatCents renders an amount in cents as dollars.
func formatCents(cents int64) string {
	return "$" + decimal.New(cents, -2).StringFixed(2)
}

// formatPayoutsList writes a tabular list of eligible payouts to out.
func formatPayoutsList(out io.Writer, recs []model.EarningsRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPROMOTER\tCAMPAIGN\tVIEWS\tGROSS\tFEE\tNET")
	_, _ = fmt.Fprintln(w, "--\t--------\t--------\t-----\t-----\t---\t---")

	var total int64
	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID,
			r.PromoterID,
			r.CampaignID,
			r.ViewsGenerated,
			formatCents(r.GrossEarningsCents),
			formatCents(r.PlatformFeeCents),
			formatCents(r.NetEarningsCents),
		)
		total += r.NetEarningsCents
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\n%d payouts, %s pending\n", len(recs), formatCents(total))
}

func init() {
	payoutsMarkCmd.Flags().Int64("amount-cents", 0, "amount paid, in cents")
	payoutsMarkCmd.Flags().String("reference", "", "external payout reference")
	_ = payoutsMarkCmd.MarkFlagRequired("amount-cents")
	_ = payoutsMarkCmd.MarkFlagRequired("reference")

	payoutsCmd.AddCommand(payoutsListCmd)
	payoutsCmd.AddCommand(payoutsMarkCmd)
	rootCmd.AddCommand(payoutsCmd)
}
