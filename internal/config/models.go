package config

import (
	"time"
)

// LLMConfig represents the configuration for the LLM provider
type LLMConfig struct {
	Provider string
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// ExtractionConfig tunes the extraction cascade
type ExtractionConfig struct {
	BatchSize         int
	MinInterval       time.Duration
	RetryDelays       []time.Duration
	SingleFallback    bool
	RegexRequiresHint bool
	ValidateSchema    bool
	Concurrency       int
}

// ScanConfig holds the scan run limits
type ScanConfig struct {
	LookbackDays    int
	MaxFetch        int
	MaxParse        int
	BatchMaxFetch   int
	BatchBodyLimit  int
	MaxPerRequest   int
	FetchRetries    int
	FetchRetryDelay time.Duration
	UserID          string
}

// FilterConfig configures the candidate filter
type FilterConfig struct {
	PatternsFile   string
	Watch          bool
	IgnoredDomains []string
}

// GmailConfig configures the Gmail mailbox
type GmailConfig struct {
	CredentialsFile string
	TokenDir        string
	Query           string
	MaxPages        int
	Concurrency     int
}

// MailboxConfig selects and configures the mailbox provider
type MailboxConfig struct {
	Type        string
	Gmail       GmailConfig
	MaildirPath string
}

// StoreConfig selects the subscription store
type StoreConfig struct {
	Type       string
	SQLitePath string
	MySQLDSN   string
}

// CacheConfig configures the extraction cache
type CacheConfig struct {
	Type             string
	Enabled          bool
	TTL              time.Duration
	CleanupFrequency time.Duration
	SQLitePath       string
	MySQLDSN         string
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	ListenAddress   string
	DefaultUserID   string // serves requests that carry no user header
	ShutdownTimeout time.Duration
}

// IngestConfig configures the SMTP forwarding inbox
type IngestConfig struct {
	Enabled         bool
	ListenAddress   string
	Domain          string
	MaxMessageBytes int64
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider: c.GetString("llm.provider"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}

// MaxBodySize returns the prompt body budget of the configured provider
func (c *Config) MaxBodySize() int {
	switch c.GetLLM().Provider {
	case "gemini":
		return c.GetInt("gemini.max_body_size")
	case "bedrock":
		return c.GetInt("bedrock.max_body_size")
	default:
		return c.GetInt("openai.max_body_size")
	}
}

// GetExtraction returns the extraction configuration
func (c *Config) GetExtraction() (ExtractionConfig, error) {
	interval, err := c.GetDuration("extraction.min_interval")
	if err != nil {
		return ExtractionConfig{}, err
	}
	delays, err := c.GetDurationSlice("extraction.retry_delays")
	if err != nil {
		return ExtractionConfig{}, err
	}
	return ExtractionConfig{
		BatchSize:         c.GetInt("extraction.batch_size"),
		MinInterval:       interval,
		RetryDelays:       delays,
		SingleFallback:    c.GetBool("extraction.single_fallback"),
		RegexRequiresHint: c.GetBool("extraction.regex_requires_hint"),
		ValidateSchema:    c.GetBool("extraction.validate_schema"),
		Concurrency:       c.GetInt("extraction.concurrency"),
	}, nil
}

// GetScan returns the scan configuration
func (c *Config) GetScan() (ScanConfig, error) {
	retryDelay, err := c.GetDuration("scan.fetch_retry_delay")
	if err != nil {
		return ScanConfig{}, err
	}
	return ScanConfig{
		LookbackDays:    c.GetInt("scan.lookback_days"),
		MaxFetch:        c.GetInt("scan.max_fetch"),
		MaxParse:        c.GetInt("scan.max_parse"),
		BatchMaxFetch:   c.GetInt("scan.batch_max_fetch"),
		BatchBodyLimit:  c.GetInt("scan.batch_body_limit"),
		MaxPerRequest:   c.GetInt("scan.max_per_request"),
		FetchRetries:    c.GetInt("scan.fetch_retries"),
		FetchRetryDelay: retryDelay,
		UserID:          c.GetString("scan.user_id"),
	}, nil
}

// GetFilter returns the candidate filter configuration
func (c *Config) GetFilter() FilterConfig {
	return FilterConfig{
		PatternsFile:   c.GetString("filter.patterns_file"),
		Watch:          c.GetBool("filter.watch"),
		IgnoredDomains: c.GetStringSlice("filter.ignored_domains"),
	}
}

// GetMailbox returns the mailbox configuration
func (c *Config) GetMailbox() MailboxConfig {
	return MailboxConfig{
		Type: c.GetString("mailbox.type"),
		Gmail: GmailConfig{
			CredentialsFile: c.GetString("mailbox.gmail.credentials_file"),
			TokenDir:        c.GetString("mailbox.gmail.token_dir"),
			Query:           c.GetString("mailbox.gmail.query"),
			MaxPages:        c.GetInt("mailbox.gmail.max_pages"),
			Concurrency:     c.GetInt("mailbox.gmail.concurrency"),
		},
		MaildirPath: c.GetString("mailbox.maildir.path"),
	}
}

// GetStore returns the store configuration
func (c *Config) GetStore() StoreConfig {
	return StoreConfig{
		Type:       c.GetString("store.type"),
		SQLitePath: c.GetString("store.sqlite_path"),
		MySQLDSN:   c.GetString("store.mysql_dsn"),
	}
}

// GetCache returns the cache configuration
func (c *Config) GetCache() (CacheConfig, error) {
	ttl, err := c.GetDuration("cache.ttl")
	if err != nil {
		return CacheConfig{}, err
	}
	cleanup, err := c.GetDuration("cache.cleanup_frequency")
	if err != nil {
		return CacheConfig{}, err
	}
	return CacheConfig{
		Type:             c.GetString("cache.type"),
		Enabled:          c.GetBool("cache.enabled"),
		TTL:              ttl,
		CleanupFrequency: cleanup,
		SQLitePath:       c.GetString("cache.sqlite_path"),
		MySQLDSN:         c.GetString("cache.mysql_dsn"),
	}, nil
}

// GetServer returns the HTTP server configuration
func (c *Config) GetServer() (ServerConfig, error) {
	timeout, err := c.GetDuration("server.shutdown_timeout")
	if err != nil {
		return ServerConfig{}, err
	}
	return ServerConfig{
		ListenAddress:   c.GetString("server.listen_address"),
		DefaultUserID:   c.GetString("server.default_user_id"),
		ShutdownTimeout: timeout,
	}, nil
}

// GetIngest returns the SMTP ingest configuration
func (c *Config) GetIngest() IngestConfig {
	return IngestConfig{
		Enabled:         c.GetBool("ingest.enabled"),
		ListenAddress:   c.GetString("ingest.listen_address"),
		Domain:          c.GetString("ingest.domain"),
		MaxMessageBytes: int64(c.GetInt("ingest.max_message_bytes")),
	}
}
