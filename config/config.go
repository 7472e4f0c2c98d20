package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig

	// Primary chat-completion provider used by every generative stage
	LLM LLMConfig

	// Secondary provider for the consistency check (optional)
	Verifier VerifierConfig

	Yahoo    YahooConfig
	Pipeline PipelineConfig
	Webhook  WebhookConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port int `validate:"min=1,max=65535"`
}

// DatabaseConfig holds run-record persistence settings
type DatabaseConfig struct {
	Enabled  bool
	Host     string `validate:"required_if=Enabled true"`
	Port     int
	Name     string
	User     string
	Password string
}

// RedisConfig holds response cache settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
}

// LLMConfig holds LLM service configuration
type LLMConfig struct {
	Provider    string `validate:"oneof=openai claude gemini"`
	Endpoint    string
	APIKey      string `validate:"required"`
	Model       string `validate:"required"`
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// VerifierConfig configures the secondary consistency provider.
// An empty Provider disables the LLM consistency check and falls back to regex rules.
type VerifierConfig struct {
	Provider string `validate:"omitempty,oneof=openai claude gemini"`
	Endpoint string
	APIKey   string `validate:"required_with=Provider"`
	Model    string
}

// YahooConfig holds quote/news/OHLCV collaborator settings
type YahooConfig struct {
	BaseURL   string `validate:"required,url"`
	SearchURL string `validate:"required,url"`
	Crumb     string
	Cookie    string
	RateLimit int `validate:"min=1"`
	Timeout   time.Duration
	CacheTTL  time.Duration
}

// PipelineConfig holds judgement/chat pipeline parameters
type PipelineConfig struct {
	MaxAttempts           int `validate:"min=1,max=10"`
	SignalBudgetChars     int `validate:"min=1000"`
	CompactRefBudgetChars int `validate:"min=100"`
	PromptVersion         string
	RagVersion            string
	StrictConsistency     bool // treat issue lists as failing even when ok=true
	CandleInterval        string
	CandleRange           string
	NewsLimit             int
}

// WebhookConfig lists endpoints notified when a run finishes or fails
type WebhookConfig struct {
	URLs       []string `validate:"dive,url"`
	AuthHeader string
	AuthValue  string
	Symbols    []string
	RetryCount int `validate:"min=0,max=10"`
	RetryDelay time.Duration
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string
	Development bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("PORT", 8080),
		},

		Database: DatabaseConfig{
			Enabled:  getEnvBool("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			Name:     getEnvOrDefault("DB_NAME", "finexplain"),
			User:     getEnvOrDefault("DB_USER", "finexplain"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
		},

		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:     getEnvOrDefault("REDIS_PORT", "6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
		},

		LLM: LLMConfig{
			Provider:    strings.ToLower(getEnvOrDefault("LLM_PROVIDER", "openai")),
			Endpoint:    getEnvOrDefault("LLM_ENDPOINT", ""),
			APIKey:      getEnvOrDefault("LLM_API_KEY", ""),
			Model:       getEnvOrDefault("LLM_MODEL", "gpt-4o-mini"),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 90*time.Second),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 2000),
		},

		Verifier: VerifierConfig{
			Provider: strings.ToLower(getEnvOrDefault("VERIFIER_PROVIDER", "")),
			Endpoint: getEnvOrDefault("VERIFIER_ENDPOINT", ""),
			APIKey:   getEnvOrDefault("VERIFIER_API_KEY", ""),
			Model:    getEnvOrDefault("VERIFIER_MODEL", ""),
		},

		Yahoo: YahooConfig{
			BaseURL:   getEnvOrDefault("YAHOO_BASE_URL", "https://query2.finance.yahoo.com"),
			SearchURL: getEnvOrDefault("YAHOO_SEARCH_URL", "https://query1.finance.yahoo.com"),
			Crumb:     getEnvOrDefault("YAHOO_CRUMB", ""),
			Cookie:    getEnvOrDefault("YAHOO_COOKIE", ""),
			RateLimit: getEnvInt("YAHOO_RATE_LIMIT", 5),
			Timeout:   getEnvDuration("YAHOO_TIMEOUT", 15*time.Second),
			CacheTTL:  getEnvDuration("YAHOO_CACHE_TTL", 60*time.Second),
		},

		Pipeline: PipelineConfig{
			MaxAttempts:           getEnvInt("PIPELINE_MAX_ATTEMPTS", 3),
			SignalBudgetChars:     getEnvInt("PIPELINE_SIGNAL_BUDGET_CHARS", 120000),
			CompactRefBudgetChars: getEnvInt("PIPELINE_COMPACT_REF_BUDGET_CHARS", 8000),
			PromptVersion:         getEnvOrDefault("PIPELINE_PROMPT_VERSION", "judgement-v3"),
			RagVersion:            getEnvOrDefault("PIPELINE_RAG_VERSION", "rag-v1"),
			StrictConsistency:     getEnvBool("PIPELINE_STRICT_CONSISTENCY", false),
			CandleInterval:        getEnvOrDefault("PIPELINE_CANDLE_INTERVAL", "1d"),
			CandleRange:           getEnvOrDefault("PIPELINE_CANDLE_RANGE", "6mo"),
			NewsLimit:             getEnvInt("PIPELINE_NEWS_LIMIT", 20),
		},

		Webhook: WebhookConfig{
			URLs:       getEnvList("WEBHOOK_URLS"),
			AuthHeader: getEnvOrDefault("WEBHOOK_AUTH_HEADER", ""),
			AuthValue:  getEnvOrDefault("WEBHOOK_AUTH_VALUE", ""),
			Symbols:    getEnvList("WEBHOOK_SYMBOLS"),
			RetryCount: getEnvInt("WEBHOOK_RETRY_COUNT", 3),
			RetryDelay: getEnvDuration("WEBHOOK_RETRY_DELAY", 2*time.Second),
		},

		Log: LogConfig{
			Level:       getEnvOrDefault("LOG_LEVEL", "info"),
			Development: getEnvBool("LOG_DEVELOPMENT", false),
		},
	}
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// getEnvList splits a comma-separated variable, dropping empty items
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
