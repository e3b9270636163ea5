package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-views/internal/resilience"
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Inspect and resolve dead-lettered accounting failures",
}

// -- failures list --

var failuresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved accounting failures",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("admin"); err != nil {
			return err
		}
		ctx := cmd.Context()

		campaign, _ := cmd.Flags().GetString("campaign")
		stage, _ := cmd.Flags().GetString("stage")
		errType, _ := cmd.Flags().GetString("error-type")
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		failures, err := st.ListAccountingFailures(ctx, resilience.FailureFilter{
			CampaignID: campaign,
			Stage:      stage,
			ErrorType:  errType,
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "failures list")
		}
		if len(failures) == 0 {
			fmt.Fprintln(os.Stderr, "No failures found.")
			return nil
		}

		formatFailuresList(os.Stdout, failures)
		return nil
	},
}

// -- failures resolve --

var failuresResolveCmd = &cobra.Command{
	Use:   "resolve <failure-id>",
	Short: "Mark an accounting failure as resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("admin"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if err := st.ResolveAccountingFailure(ctx, args[0]); err != nil {
			return eris.Wrap(err, "failures resolve")
		}
		zap.L().Info("accounting failure resolved", zap.String("failure_id", args[0]))
		return nil
	},
}

// formatFailuresList writes a tabular list of failures to out.
func formatFailuresList(out io.Writer, failures []resilience.AccountingFailure) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCAMPAIGN\tPROMOTER\tSTAGE\tTYPE\tCREATED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t--------\t--------\t-----\t----\t-------\t-----")

	for _, f := range failures {
		msg := f.Error
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			f.ID,
			f.CampaignID,
			f.PromoterID,
			f.Stage,
			f.ErrorType,
			f.CreatedAt.UTC().Format(time.RFC3339),
			msg,
		)
	}
	_ = w.Flush()
}

func init() {
	failuresListCmd.Flags().String("campaign", "", "filter by campaign ID")
	failuresListCmd.Flags().String("stage", "", "filter by stage (accounting, completion)")
	failuresListCmd.Flags().String("error-type", "", "filter by error type (transient, permanent)")
	failuresListCmd.Flags().Int("limit", 100, "maximum failures to list")

	failuresCmd.AddCommand(failuresListCmd)
	failuresCmd.AddCommand(failuresResolveCmd)
	rootCmd.AddCommand(failuresCmd)
}
