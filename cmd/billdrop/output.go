package main

import (
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/Threadigit/BillDrop/internal/core"
)

func printSummary(w io.Writer, s *core.ScanSummary, elapsed time.Duration) {
	fmt.Fprintf(w, "\n=== Results ===\n")
	fmt.Fprintf(w, "Fetched: %d\n", s.TotalFetched)
	fmt.Fprintf(w, "Candidates: %d\n", s.TotalFiltered)
	fmt.Fprintf(w, "Processed: %d\n", s.TotalProcessed)
	fmt.Fprintf(w, "New subscriptions: %d\n", s.TotalAccepted)
	fmt.Fprintf(w, "Already tracked: %d\n", s.TotalDuplicates)
	if s.TotalFailed > 0 {
		fmt.Fprintf(w, "Failed: %d\n", s.TotalFailed)
	}
	if s.Cancelled {
		fmt.Fprintf(w, "Cancelled before completion\n")
	}
	fmt.Fprintf(w, "Processing time: %v\n", elapsed.Round(time.Millisecond))

	if len(s.Candidates) == 0 {
		return
	}
	fmt.Fprintf(w, "\n")
	for _, c := range s.Candidates {
		if c.Parsed == nil || c.Decision == core.DecisionSkipZeroAmount {
			continue
		}
		marker := "+"
		if c.Decision == core.DecisionSkipDuplicate {
			marker = "="
		}
		fmt.Fprintf(w, "%s %s\n", marker, formatCandidate(&core.CandidateSummary{
			ServiceName:  c.Parsed.ServiceName,
			Amount:       c.Parsed.Amount,
			Currency:     c.Parsed.Currency,
			BillingCycle: c.Parsed.BillingCycle,
			Confidence:   c.Parsed.Confidence,
		}))
	}
}

func printParsed(w io.Writer, p *core.ParsedSubscription) {
	fmt.Fprintf(w, "Service: %s\n", p.ServiceName)
	if p.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", p.Description)
	}
	fmt.Fprintf(w, "Amount: %.2f %s\n", p.Amount, p.Currency)
	fmt.Fprintf(w, "Billing cycle: %s\n", p.BillingCycle)
	if p.NextBillingDate != nil {
		fmt.Fprintf(w, "Next billing date: %s\n", p.NextBillingDate.Format("2006-01-02"))
	}
	if p.CancellationURL != "" {
		fmt.Fprintf(w, "Cancel at: %s\n", p.CancellationURL)
	}
	fmt.Fprintf(w, "Confidence: %.2f\n", p.Confidence)
	fmt.Fprintf(w, "Source: %s\n", p.Source)
}

func formatCandidate(c *core.CandidateSummary) string {
	return fmt.Sprintf("%s  %.2f %s/%s  (confidence %.2f)",
		c.ServiceName, c.Amount, c.Currency, c.BillingCycle, c.Confidence)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
