package di

import (
	"github.com/spf13/viper"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/Threadigit/BillDrop/internal/config"
	"github.com/Threadigit/BillDrop/internal/logging"
)

// CLIFlags contains all command line flags for the CLI application
type CLIFlags struct {
	// LLM provider flags
	Provider    string
	MaxTokens   int
	Temperature float64
	MaxBodySize int

	// Bedrock flags
	BedrockRegion  string
	BedrockModelID string

	// Gemini flags
	GeminiAPIKey    string
	GeminiModelName string

	// OpenAI flags
	OpenAIAPIKey    string
	OpenAIModelName string

	// Mailbox flags
	Mailbox         string
	MaildirPath     string
	GmailCredFile   string
	GmailTokenDir   string
	UserID          string
	PatternsFile    string
	IgnoredDomains  []string
	RegexNeedsHint  bool
	DisableFallback bool

	// Output flags
	Verbose    bool
	JSONLog    bool
	ConfigFile string
}

// BuildCLIContainer creates and configures a dependency injection container
// for the CLI application
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		if flags.ConfigFile != "" {
			cfg, err := config.NewFromFile(flags.ConfigFile)
			if err != nil {
				return nil, err
			}
			logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
			return cfg, nil
		}

		// Create config from command line flags
		return createConfigFromFlags(flags), nil
	}); err != nil {
		return nil, err
	}

	if err := providePipeline(container); err != nil {
		return nil, err
	}

	return container, nil
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags(flags *CLIFlags) *config.Config {
	v := config.NewEmptyViper()

	// One-shot runs keep nothing between invocations
	v.Set("store.type", "memory")
	v.Set("cache.enabled", false)

	// Set LLM provider and its model settings
	v.Set("llm.provider", flags.Provider)
	switch flags.Provider {
	case "bedrock":
		v.Set("bedrock.region", flags.BedrockRegion)
		v.Set("bedrock.model_id", flags.BedrockModelID)
	case "gemini":
		v.Set("gemini.api_key", flags.GeminiAPIKey)
		v.Set("gemini.model_name", flags.GeminiModelName)
	case "openai":
		v.Set("openai.api_key", flags.OpenAIAPIKey)
		v.Set("openai.model_name", flags.OpenAIModelName)
	default:
		// no model, nothing else to set
		return finishFlags(v, flags)
	}
	v.Set(flags.Provider+".max_tokens", flags.MaxTokens)
	v.Set(flags.Provider+".temperature", flags.Temperature)
	v.Set(flags.Provider+".max_body_size", flags.MaxBodySize)

	return finishFlags(v, flags)
}

// finishFlags applies the mailbox, filter and extraction flags
func finishFlags(v *viper.Viper, flags *CLIFlags) *config.Config {
	// Mailbox and candidate filter
	v.Set("mailbox.type", flags.Mailbox)
	v.Set("mailbox.maildir.path", flags.MaildirPath)
	v.Set("mailbox.gmail.credentials_file", flags.GmailCredFile)
	v.Set("mailbox.gmail.token_dir", flags.GmailTokenDir)
	v.Set("scan.user_id", flags.UserID)
	v.Set("filter.patterns_file", flags.PatternsFile)
	v.Set("filter.ignored_domains", flags.IgnoredDomains)
	v.Set("extraction.regex_requires_hint", flags.RegexNeedsHint)
	v.Set("extraction.single_fallback", !flags.DisableFallback)

	return config.NewFromViper(v)
}
