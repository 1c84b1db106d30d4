package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"carrier_sales/internal/analytics"
	"carrier_sales/internal/app"
)

func NewCallsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Inspect recorded call results",
	}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List call results, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("limit must be >= 0")
			}
			st, err := app.OpenStore(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			calls := st.List(limit)
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), calls)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CALL\tCREATED\tMC\tLOAD\tOUTCOME\tSENTIMENT\tAGREED")
			for _, c := range calls {
				agreed := "-"
				if c.AgreedRate != nil {
					agreed = fmt.Sprintf("%.2f", *c.AgreedRate)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					c.CallID, c.CreatedAt.Format(time.RFC3339), c.MCNumber, c.LoadID, c.Outcome, c.Sentiment, agreed)
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVar(&limit, "limit", 0, "maximum number of calls (0 = all)")
	cmd.AddCommand(list)
	return cmd
}

func NewAnalyticsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Print call statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.OpenStore(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			snap := analytics.Aggregate(st.All())
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), snap)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "total calls:       %d\n", snap.TotalCalls)
			fmt.Fprintf(out, "successful calls:  %d\n", snap.SuccessfulCalls)
			fmt.Fprintf(out, "transferred calls: %d\n", snap.TransferredCalls)
			fmt.Fprintf(out, "conversion rate:   %.2f%%\n", snap.ConversionRate)
			fmt.Fprintf(out, "sentiment:         +%d =%d -%d (%.2f%% positive)\n",
				snap.Sentiment.Positive, snap.Sentiment.Neutral, snap.Sentiment.Negative, snap.Sentiment.PositiveRate)
			fmt.Fprintf(out, "avg rounds:        %.2f\n", snap.Negotiation.AvgRounds)
			fmt.Fprintf(out, "avg agreed rate:   %.2f\n", snap.Negotiation.AvgAgreedRate)
			return nil
		},
	}
}
