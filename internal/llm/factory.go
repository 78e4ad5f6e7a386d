package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ProviderConfig holds configuration for the judge's provider.
type ProviderConfig struct {
	Type      ProviderType  `yaml:"type"`
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	ModelName string        `yaml:"model_name"`
	Timeout   time.Duration `yaml:"timeout"`
	// Client-side pacing; zero disables it.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// NewOracle builds the adapter for cfg.Type, rate limited when configured.
func NewOracle(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (Oracle, error) {
	var (
		oracle Oracle
		err    error
	)

	switch cfg.Type {
	case ProviderOpenAI:
		oracle, err = NewOpenAIResponses(OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			ModelName: cfg.ModelName,
			Timeout:   cfg.Timeout,
		}, logger)
	case ProviderGroq, ProviderOpenRouter:
		oracle, err = NewChatCompletions(ChatConfig{
			Provider:  cfg.Type,
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			ModelName: cfg.ModelName,
			Timeout:   cfg.Timeout,
		}, logger)
	case ProviderGemini:
		oracle, err = NewGemini(ctx, GeminiConfig{
			APIKey:    cfg.APIKey,
			ModelName: cfg.ModelName,
		}, logger)
	case ProviderAnthropic:
		oracle, err = NewAnthropic(AnthropicConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			ModelName: cfg.ModelName,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown provider type: %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerMinute > 0 {
		oracle = NewRateLimitedOracle(oracle, cfg.RequestsPerMinute, logger)
	}

	logger.Info("Provider initialized",
		zap.String("type", string(cfg.Type)),
		zap.String("model", cfg.ModelName),
		zap.Int("rate_limit", cfg.RequestsPerMinute))
	return oracle, nil
}
