package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finexplain/config"
)

func testConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{Provider: "openai", APIKey: "k", Model: "m"},
		Yahoo: config.YahooConfig{
			BaseURL:   "http://127.0.0.1:1",
			SearchURL: "http://127.0.0.1:1",
			RateLimit: 1,
		},
		Pipeline: config.PipelineConfig{MaxAttempts: 3},
	}
}

func TestInitBuildsPipelineWithoutBackingServices(t *testing.T) {
	a := New(testConfig(), nil)
	require.NoError(t, a.Init(context.Background(), true))
	defer a.Close()

	assert.NotNil(t, a.Pipeline())
	assert.Nil(t, a.db)
	assert.Nil(t, a.redis)
}

func TestInitRejectsUnknownVerifier(t *testing.T) {
	cfg := testConfig()
	cfg.Verifier = config.VerifierConfig{Provider: "mystery", APIKey: "k"}

	err := New(cfg, nil).Init(context.Background(), false)
	assert.Error(t, err)
}
