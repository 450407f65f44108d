package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/Threadigit/BillDrop/internal/factory"
)

var (
	scanDays        int
	scanMax         int
	scanParse       int
	scanAccessToken string
	scanProgress    bool
	scanOutputJSON  bool
)

func init() {
	scanCmd.Flags().IntVar(&scanDays, "days", 30, "Look back this many days")
	scanCmd.Flags().IntVar(&scanMax, "max", 50, "Maximum messages to fetch")
	scanCmd.Flags().IntVar(&scanParse, "parse", 25, "Maximum candidates to extract")
	scanCmd.Flags().StringVar(&scanAccessToken, "access-token", "", "Gmail access token (stored token if empty)")
	scanCmd.Flags().BoolVar(&scanProgress, "progress", false, "Print progress events")
	scanCmd.Flags().BoolVar(&scanOutputJSON, "json", false, "Output the summary as JSON")
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the mailbox for subscriptions",
	Long: `Fetch recent messages, keep the likely billing mail and extract the
subscriptions it describes. Results are kept in memory unless a config file
selects a persistent store.

Examples:
  # Scan the last week of the demo mailbox
  billdrop scan --provider none --days 7

  # Scan Gmail with a token obtained elsewhere
  billdrop scan --mailbox gmail --access-token ya29... --progress`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanDays < 0 || scanMax < 0 || scanParse < 0 {
		return fmt.Errorf("--days, --max and --parse must not be negative")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return invoke(func(svc *core.ScanService, st factory.Store, logger *zap.Logger) error {
		defer logger.Sync()
		defer st.Close()

		out := cmd.OutOrStdout()
		var sink core.EventSink
		if scanProgress {
			sink = func(ev core.Event) { printEvent(out, ev) }
		}

		req := core.ScanRequest{
			UserID: flags.UserID,
			Credential: core.Credential{
				UserID:      flags.UserID,
				AccessToken: scanAccessToken,
			},
			LookbackDays: scanDays,
			MaxFetch:     scanMax,
			MaxParse:     scanParse,
		}

		start := time.Now()
		summary, err := svc.RunScan(ctx, req, sink)
		if err != nil {
			if core.IsAuthError(err) {
				return fmt.Errorf("mailbox rejected the credential, reconnect required: %w", err)
			}
			return err
		}

		if scanOutputJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}
		printSummary(out, summary, time.Since(start))
		return nil
	})
}

func printEvent(w io.Writer, ev core.Event) {
	switch ev.Type {
	case core.EventCandidateFound:
		if ev.Candidate != nil {
			fmt.Fprintf(w, "[%3d%%] found %s\n", ev.Progress, formatCandidate(ev.Candidate))
		}
	case core.EventError:
		fmt.Fprintf(w, "[error] %s\n", ev.Message)
	default:
		fmt.Fprintf(w, "[%3d%%] %s\n", ev.Progress, ev.Message)
	}
}
