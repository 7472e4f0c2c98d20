package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ProviderType names a chat-completion backend
type ProviderType string

const (
	// ProviderOpenAI is any OpenAI-compatible /chat/completions endpoint
	ProviderOpenAI ProviderType = "openai"
	// ProviderClaude uses the Anthropic Messages API
	ProviderClaude ProviderType = "claude"
	// ProviderGemini uses the Google Gemini API
	ProviderGemini ProviderType = "gemini"
)

// Request is a provider-agnostic single-turn completion request
type Request struct {
	// Purpose labels the call for logs and fakes (e.g. "signal_extract")
	Purpose     string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Provider turns system+user messages into text
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Settings configures a provider instance
type Settings struct {
	Provider    ProviderType
	Endpoint    string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// NewProvider creates the provider selected by settings
func NewProvider(ctx context.Context, s Settings, logger *zap.Logger) (Provider, error) {
	switch s.Provider {
	case ProviderOpenAI, "":
		return NewClient(s.Endpoint, s.APIKey, s.Model,
			WithTimeout(s.Timeout),
			WithDefaults(s.Temperature, s.MaxTokens),
			WithLogger(logger),
		), nil
	case ProviderClaude:
		return NewClaudeProvider(s, logger), nil
	case ProviderGemini:
		return NewGeminiProvider(ctx, s, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", s.Provider)
	}
}
