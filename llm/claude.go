package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const defaultClaudeModel = "claude-sonnet-4-20250514"

// ClaudeProvider implements Provider using the Anthropic Messages API
type ClaudeProvider struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// NewClaudeProvider creates a Claude-backed provider. The SDK's own retries are disabled;
// a failed call surfaces to the stage that made it.
func NewClaudeProvider(s Settings, logger *zap.Logger) *ClaudeProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(s.APIKey),
		option.WithMaxRetries(0),
	}
	if s.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(s.Endpoint))
	}
	if s.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(s.Timeout))
	}

	model := s.Model
	if model == "" {
		model = defaultClaudeModel
	}
	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ClaudeProvider{
		client:      anthropic.NewClient(opts...),
		model:       model,
		temperature: s.Temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}
}

// Complete sends one system+user exchange to Claude
func (p *ClaudeProvider) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	temp := p.temperature
	if req.Temperature > 0 {
		temp = req.Temperature
	}
	if temp > 0 {
		params.Temperature = anthropic.Float(temp)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		p.logger.Warn("Claude call failed", zap.String("purpose", req.Purpose), zap.Error(err))
		return "", fmt.Errorf("claude request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from Claude API")
	}

	p.logger.Debug("Claude call completed", zap.String("purpose", req.Purpose), zap.String("model", p.model))
	return text.String(), nil
}
