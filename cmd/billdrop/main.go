// Package main implements the billdrop command line tool, which runs the
// subscription detection pipeline once against a mailbox or a single message.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/dig"

	"github.com/Threadigit/BillDrop/internal/di"
)

var (
	flags = &di.CLIFlags{}
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "billdrop",
	Short: "Find recurring subscriptions in a mailbox",
	Long: `billdrop scans recent mail for receipts and renewal notices and
extracts the subscriptions they describe.

Examples:
  # Scan the built-in demo mailbox with pattern extraction only
  billdrop scan --provider none

  # Scan a local maildir with OpenAI
  billdrop scan --mailbox maildir --maildir ./mail --openai-api-key $OPENAI_API_KEY

  # Extract a single message
  billdrop extract --file receipt.eml`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	pf := rootCmd.PersistentFlags()

	// LLM provider flags
	pf.StringVar(&flags.Provider, "provider", "openai", "LLM provider (openai, gemini, bedrock, none)")
	pf.IntVar(&flags.MaxTokens, "max-tokens", 1500, "Maximum tokens for LLM response")
	pf.Float64Var(&flags.Temperature, "temperature", 0.1, "Temperature for LLM generation")
	pf.IntVar(&flags.MaxBodySize, "max-body-size", 2000, "Maximum email body size to send to LLM")

	// Bedrock flags
	pf.StringVar(&flags.BedrockRegion, "bedrock-region", "us-east-1", "AWS region for Bedrock")
	pf.StringVar(&flags.BedrockModelID, "bedrock-model", "anthropic.claude-v2", "Bedrock model ID")

	// Gemini flags
	pf.StringVar(&flags.GeminiAPIKey, "gemini-api-key", os.Getenv("GEMINI_API_KEY"), "API key for Google Gemini")
	pf.StringVar(&flags.GeminiModelName, "gemini-model", "gemini-1.5-flash", "Gemini model name")

	// OpenAI flags
	pf.StringVar(&flags.OpenAIAPIKey, "openai-api-key", os.Getenv("OPENAI_API_KEY"), "API key for OpenAI")
	pf.StringVar(&flags.OpenAIModelName, "openai-model", "gpt-4o-mini", "OpenAI model name")

	// Mailbox flags
	pf.StringVar(&flags.Mailbox, "mailbox", "demo", "Mailbox provider (demo, maildir, gmail)")
	pf.StringVar(&flags.MaildirPath, "maildir", "./mail", "Maildir or .eml directory")
	pf.StringVar(&flags.GmailCredFile, "gmail-credentials", "credentials.json", "Gmail OAuth client file")
	pf.StringVar(&flags.GmailTokenDir, "gmail-tokens", "tokens", "Directory of stored Gmail tokens")
	pf.StringVar(&flags.UserID, "user", "default", "Mailbox owner id")
	pf.StringVar(&flags.PatternsFile, "patterns", "", "Pattern table file (embedded defaults if empty)")
	pf.StringSliceVar(&flags.IgnoredDomains, "ignore-domain", nil, "Sender domains to skip")
	pf.BoolVar(&flags.RegexNeedsHint, "regex-needs-hint", true, "Only run regex extraction when a service name was detected")
	pf.BoolVar(&flags.DisableFallback, "no-single-fallback", false, "Skip the per-email model retry")

	// Output flags
	pf.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	pf.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")
	pf.StringVar(&flags.ConfigFile, "config", "", "Path to config file (overrides command line flags)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(candidatesCmd)
	rootCmd.AddCommand(extractCmd)
}

// invoke builds the container from the parsed flags and runs fn with its
// dependencies
func invoke(fn interface{}) error {
	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		return fmt.Errorf("failed to build dependency container: %w", err)
	}
	return unwrapDig(container.Invoke(fn))
}

// unwrapDig strips dig's dependency path from constructor failures
func unwrapDig(err error) error {
	if err == nil {
		return nil
	}
	return dig.RootCause(err)
}
