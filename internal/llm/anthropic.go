package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// AnthropicConfig configures the Claude adapter.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	ModelName string // Default: "claude-sonnet-4-5"
	MaxTokens int64
}

// Anthropic implements Oracle using Anthropic's Messages API. The SDK's own
// retries are disabled so RetryingOracle owns the policy.
type Anthropic struct {
	client    anthropic.Client
	modelName string
	maxTokens int64
	sessions  *sessionStore
	logger    *zap.Logger
}

// NewAnthropic creates a new Anthropic adapter.
func NewAnthropic(cfg AnthropicConfig, logger *zap.Logger) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "claude-sonnet-4-5"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	logger.Info("Anthropic client initialized", zap.String("model", cfg.ModelName))

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		modelName: cfg.ModelName,
		maxTokens: cfg.MaxTokens,
		sessions:  newSessionStore(0, 0),
		logger:    logger,
	}, nil
}

func (c *Anthropic) Call(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.modelName
	}

	history := c.sessions.History(req.PreviousCallID)
	messages := make([]anthropic.MessageParam, 0, 1+2*len(history))
	for _, t := range history {
		messages = append(messages,
			anthropic.NewUserMessage(anthropic.NewTextBlock(t.User)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Assistant)))
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserText)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		Messages:  messages,
	}
	if req.SystemInstruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemInstruction}}
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()
	handle := c.sessions.Record(history, Turn{User: req.UserText, Assistant: text})

	c.logger.Debug("Claude response received",
		zap.String("message_id", message.ID),
		zap.String("call_id", handle))

	return &Response{
		OutputText: text,
		CallID:     handle,
		Model:      model,
	}, nil
}

func classifyAnthropicError(err error) error {
	wrapped := fmt.Errorf("failed to call Claude API: %w", err)

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return wrapped
	}

	lower := strings.ToLower(apiErr.Error())
	if apiErr.StatusCode == http.StatusPaymentRequired ||
		strings.Contains(lower, "credit balance") || strings.Contains(lower, "billing") {
		return NewQuotaError(wrapped)
	}
	// 529 is Anthropic's "overloaded", the same backoff signal as 429.
	if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode == 529 {
		var retryAfter time.Duration
		if apiErr.Response != nil {
			retryAfter = retryAfterFromHeader(apiErr.Response.Header)
		}
		return NewRateLimitError(wrapped, retryAfter)
	}
	return wrapped
}

func (c *Anthropic) Name() string {
	return string(ProviderAnthropic)
}

func (c *Anthropic) Close() error {
	return nil
}
