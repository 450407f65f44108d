package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/billdrop/")
	v.AddConfigPath("$HOME/.billdrop")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("BILLDROP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromFile loads configuration from an explicit file, with the same
// defaults and environment overrides as New
func NewFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("BILLDROP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// LLM provider defaults
	v.SetDefault("llm.provider", "openai")

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model_name", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 1500)
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("openai.top_p", 1.0)
	v.SetDefault("openai.max_body_size", 2000)

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-1.5-flash")
	v.SetDefault("gemini.max_tokens", 1500)
	v.SetDefault("gemini.temperature", 0.1)
	v.SetDefault("gemini.top_p", 1.0)
	v.SetDefault("gemini.max_body_size", 2000)

	// Bedrock defaults
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-v2")
	v.SetDefault("bedrock.max_tokens", 1500)
	v.SetDefault("bedrock.temperature", 0.1)
	v.SetDefault("bedrock.top_p", 0.9)
	v.SetDefault("bedrock.max_body_size", 2000)

	// Extraction defaults
	v.SetDefault("extraction.batch_size", 5)
	v.SetDefault("extraction.min_interval", "500ms")
	v.SetDefault("extraction.retry_delays", []string{"3s", "5s", "8s"})
	v.SetDefault("extraction.single_fallback", true)
	v.SetDefault("extraction.regex_requires_hint", true)
	v.SetDefault("extraction.validate_schema", true)
	v.SetDefault("extraction.concurrency", 5)

	// Scan defaults
	v.SetDefault("scan.lookback_days", 30)
	v.SetDefault("scan.max_fetch", 50)
	v.SetDefault("scan.max_parse", 25)
	v.SetDefault("scan.batch_max_fetch", 200)
	v.SetDefault("scan.batch_body_limit", 3000)
	v.SetDefault("scan.max_per_request", 10)
	v.SetDefault("scan.fetch_retries", 1)
	v.SetDefault("scan.fetch_retry_delay", "2s")
	v.SetDefault("scan.user_id", "default")

	// Candidate filter defaults
	v.SetDefault("filter.patterns_file", "")
	v.SetDefault("filter.watch", false)
	v.SetDefault("filter.ignored_domains", []string{})

	// Mailbox defaults
	v.SetDefault("mailbox.type", "demo")
	v.SetDefault("mailbox.gmail.credentials_file", "credentials.json")
	v.SetDefault("mailbox.gmail.token_dir", "tokens")
	v.SetDefault("mailbox.gmail.query", "")
	v.SetDefault("mailbox.gmail.max_pages", 20)
	v.SetDefault("mailbox.gmail.concurrency", 5)
	v.SetDefault("mailbox.maildir.path", "./mail")

	// Store defaults
	v.SetDefault("store.type", "memory")
	v.SetDefault("store.sqlite_path", "/data/billdrop.db")
	v.SetDefault("store.mysql_dsn", "user:password@tcp(localhost:3306)/billdrop?parseTime=true")

	// Cache defaults
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", "168h")
	v.SetDefault("cache.cleanup_frequency", "1h")
	v.SetDefault("cache.sqlite_path", "/data/extraction_cache.db")
	v.SetDefault("cache.mysql_dsn", "user:password@tcp(localhost:3306)/billdrop")

	// Server defaults
	v.SetDefault("server.listen_address", "0.0.0.0:8080")
	v.SetDefault("server.default_user_id", "")
	v.SetDefault("server.shutdown_timeout", "10s")

	// SMTP ingest defaults
	v.SetDefault("ingest.enabled", false)
	v.SetDefault("ingest.listen_address", "0.0.0.0:2525")
	v.SetDefault("ingest.domain", "localhost")
	v.SetDefault("ingest.max_message_bytes", 10*1024*1024)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	return time.ParseDuration(c.GetString(key))
}

// GetDurationSlice parses a list of durations such as ["3s", "5s"]
func (c *Config) GetDurationSlice(key string) ([]time.Duration, error) {
	raw := c.GetStringSlice(key)
	out := make([]time.Duration, 0, len(raw))
	for _, s := range raw {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q in %s: %w", s, key, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
