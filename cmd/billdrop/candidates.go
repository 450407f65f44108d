package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Threadigit/BillDrop/internal/candidate"
	"github.com/Threadigit/BillDrop/internal/core"
)

var (
	candDays       int
	candMax        int
	candOutputJSON bool
)

func init() {
	candidatesCmd.Flags().IntVar(&candDays, "days", 30, "Look back this many days")
	candidatesCmd.Flags().IntVar(&candMax, "max", 50, "Maximum messages to fetch")
	candidatesCmd.Flags().BoolVar(&candOutputJSON, "json", false, "Output candidates as JSON")
}

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "List the messages the candidate filter keeps",
	Long: `Fetch recent messages and print the ones the candidate filter considers
likely subscription mail, without calling any model.

Examples:
  billdrop candidates --mailbox maildir --maildir ./mail --days 60`,
	Args: cobra.NoArgs,
	RunE: runCandidates,
}

func runCandidates(cmd *cobra.Command, _ []string) error {
	return invoke(func(mb core.MailboxProvider, filter *candidate.Filter, logger *zap.Logger) error {
		defer logger.Sync()

		msgs, err := mb.FetchRecentMessages(context.Background(), core.Credential{UserID: flags.UserID}, candDays, candMax)
		if err != nil {
			return err
		}
		kept := filter.Filter(msgs)

		out := cmd.OutOrStdout()
		if candOutputJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(kept)
		}
		fmt.Fprintf(out, "Fetched %d messages, %d candidates\n\n", len(msgs), len(kept))

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SCORE\tSERVICE\tDATE\tSUBJECT")
		for _, fe := range kept {
			fmt.Fprintf(tw, "%.2f\t%s\t%s\t%s\n",
				fe.Confidence,
				orDash(fe.ExtractedServiceName),
				fe.Date.Format("2006-01-02"),
				truncate(fe.Subject, 60))
		}
		return tw.Flush()
	})
}
