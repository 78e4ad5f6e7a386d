package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OpenAIConfig configures the Responses API adapter.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string // Default: "https://api.openai.com/v1"
	ModelName string // Default: "gpt-5-mini"
	Timeout   time.Duration
}

// OpenAIResponses calls the OpenAI Responses API. Conversation continuation
// is server-side through previous_response_id.
type OpenAIResponses struct {
	apiKey     string
	baseURL    string
	modelName  string
	httpClient *http.Client
	logger     *zap.Logger
}

type responsesRequest struct {
	Model              string              `json:"model"`
	Instructions       string              `json:"instructions,omitempty"`
	Input              string              `json:"input"`
	PreviousResponseID string              `json:"previous_response_id,omitempty"`
	Reasoning          *responsesReasoning `json:"reasoning,omitempty"`
	Store              bool                `json:"store"`
}

type responsesReasoning struct {
	Effort string `json:"effort"`
}

type responsesResponse struct {
	ID     string `json:"id"`
	Model  string `json:"model"`
	Status string `json:"status"`
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

func (r *responsesResponse) text() string {
	var sb strings.Builder
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" {
				sb.WriteString(c.Text)
			}
		}
	}
	return sb.String()
}

// NewOpenAIResponses creates a new Responses API adapter.
func NewOpenAIResponses(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIResponses, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "gpt-5-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	logger.Info("OpenAI client initialized", zap.String("model", cfg.ModelName))

	return &OpenAIResponses{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		modelName:  cfg.ModelName,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

func (c *OpenAIResponses) Call(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.modelName
	}

	body := responsesRequest{
		Model:              model,
		Instructions:       req.SystemInstruction,
		Input:              req.UserText,
		PreviousResponseID: req.PreviousCallID,
		Store:              true,
	}
	if req.ReasoningEffort != "" {
		body.Reasoning = &responsesReasoning{Effort: req.ReasoningEffort}
	}

	var out responsesResponse
	if err := postJSON(ctx, c.httpClient, "openai", c.baseURL+"/responses", c.apiKey, body, &out); err != nil {
		return nil, err
	}

	c.logger.Debug("OpenAI response received",
		zap.String("response_id", out.ID),
		zap.String("status", out.Status))

	return &Response{
		OutputText: out.text(),
		CallID:     out.ID,
		Model:      model,
	}, nil
}

func (c *OpenAIResponses) Name() string {
	return string(ProviderOpenAI)
}

func (c *OpenAIResponses) Close() error {
	return nil
}
