package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey    string
	ModelName string // Default: "gemini-2.0-flash"
}

// Gemini wraps the Gemini API client. Call handles are client-side session
// ids; continuation replays the recorded turns as chat history.
type Gemini struct {
	client    *genai.Client
	modelName string
	sessions  *sessionStore
	logger    *zap.Logger
}

// NewGemini creates a new Gemini adapter.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	logger.Info("Gemini client initialized", zap.String("model", cfg.ModelName))

	return &Gemini{
		client:    client,
		modelName: cfg.ModelName,
		sessions:  newSessionStore(0, 0),
		logger:    logger,
	}, nil
}

func (c *Gemini) Call(ctx context.Context, req Request) (*Response, error) {
	name := req.Model
	if name == "" {
		name = c.modelName
	}

	model := c.client.GenerativeModel(name)
	if req.SystemInstruction != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.SystemInstruction)},
		}
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.3),
		MaxOutputTokens: genai.Ptr[int32](1024),
	}

	history := c.sessions.History(req.PreviousCallID)
	cs := model.StartChat()
	for _, t := range history {
		cs.History = append(cs.History,
			&genai.Content{Role: "user", Parts: []genai.Part{genai.Text(t.User)}},
			&genai.Content{Role: "model", Parts: []genai.Part{genai.Text(t.Assistant)}})
	}

	resp, err := cs.SendMessage(ctx, genai.Text(req.UserText))
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	text := geminiText(resp)
	handle := c.sessions.Record(history, Turn{User: req.UserText, Assistant: text})

	c.logger.Debug("Gemini response received",
		zap.String("call_id", handle),
		zap.Int("history_turns", len(history)))

	return &Response{
		OutputText: text,
		CallID:     handle,
		Model:      name,
	}, nil
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}

// classifyGeminiError maps gRPC and REST error shapes to an error kind.
// Daily quota violations are fatal; per-minute ones are retryable.
func classifyGeminiError(err error) error {
	wrapped := fmt.Errorf("gemini API error: %w", err)

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		exhausted := apiErr.HTTPCode() == http.StatusTooManyRequests ||
			apiErr.GRPCStatus().Code() == codes.ResourceExhausted
		if !exhausted {
			return wrapped
		}

		details := apiErr.Details()
		if q := details.QuotaFailure; q != nil {
			for _, v := range q.GetViolations() {
				if strings.Contains(v.GetQuotaId(), "PerDay") || strings.Contains(v.GetDescription(), "PerDay") {
					return NewQuotaError(wrapped)
				}
			}
		}
		if strings.Contains(strings.ToLower(apiErr.Error()), "billing") {
			return NewQuotaError(wrapped)
		}
		return NewRateLimitError(wrapped, details.RetryInfo.GetRetryDelay().AsDuration())
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if gErr.Code == http.StatusTooManyRequests {
			if strings.Contains(gErr.Message, "PerDay") || strings.Contains(strings.ToLower(gErr.Message), "billing") {
				return NewQuotaError(wrapped)
			}
			return NewRateLimitError(wrapped, retryAfterFromHeader(gErr.Header))
		}
	}
	return wrapped
}

func (c *Gemini) Name() string {
	return string(ProviderGemini)
}

func (c *Gemini) Close() error {
	return c.client.Close()
}
