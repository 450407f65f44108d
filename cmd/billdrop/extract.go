package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Threadigit/BillDrop/internal/adapters/mailbox"
	"github.com/Threadigit/BillDrop/internal/candidate"
	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/Threadigit/BillDrop/internal/extraction"
)

var (
	extractFile  string
	extractForce bool
)

func init() {
	extractCmd.Flags().StringVar(&extractFile, "file", "", "Input .eml file (use stdin if not specified)")
	extractCmd.Flags().BoolVar(&extractForce, "force", false, "Extract even when the filter rejects the message")
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract a subscription from one message",
	Long: `Parse a single RFC 5322 message and run it through the candidate filter
and the extraction cascade.

Examples:
  billdrop extract --file receipt.eml
  cat receipt.eml | billdrop extract --provider none`,
	Args: cobra.NoArgs,
	RunE: runExtract,
}

func runExtract(cmd *cobra.Command, _ []string) error {
	var in io.Reader = cmd.InOrStdin()
	if extractFile != "" {
		f, err := os.Open(extractFile)
		if err != nil {
			return fmt.Errorf("failed to open input file %s: %w", extractFile, err)
		}
		defer f.Close()
		in = f
	}

	msg, err := mailbox.ParseMessage(in)
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = "input"
	}

	return invoke(func(filter *candidate.Filter, engine *extraction.Engine, logger *zap.Logger) error {
		defer logger.Sync()
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "\n=== Email Summary ===\n")
		fmt.Fprintf(out, "From: %s\n", msg.From)
		fmt.Fprintf(out, "Subject: %s\n", msg.Subject)
		fmt.Fprintf(out, "Body length: %d bytes\n", len(msg.Body))

		fe, ok := filter.Score(*msg)
		fmt.Fprintf(out, "\n=== Candidate Filter ===\n")
		if !ok {
			fmt.Fprintf(out, "Candidate: no\n")
			if !extractForce {
				return nil
			}
			fe = core.FilteredEmail{RawMessage: *msg}
		} else {
			fmt.Fprintf(out, "Candidate: yes\n")
			fmt.Fprintf(out, "Score: %.2f\n", fe.Confidence)
			fmt.Fprintf(out, "Service hint: %s\n", orDash(fe.ExtractedServiceName))
		}

		results := engine.ExtractBatch(context.Background(), []core.FilteredEmail{fe})
		fmt.Fprintf(out, "\n=== Results ===\n")
		r := results[0]
		switch {
		case r.Err != nil:
			return fmt.Errorf("extraction failed: %w", r.Err)
		case r.Parsed == nil:
			fmt.Fprintf(out, "No subscription found\n")
		default:
			printParsed(out, r.Parsed)
		}
		return nil
	})
}
