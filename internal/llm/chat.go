package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ChatConfig configures an OpenAI-compatible chat-completions adapter.
type ChatConfig struct {
	Provider  ProviderType
	APIKey    string
	BaseURL   string
	ModelName string
	Timeout   time.Duration
}

var chatDefaults = map[ProviderType]struct {
	baseURL string
	model   string
}{
	ProviderGroq:       {"https://api.groq.com/openai/v1", "llama-3.3-70b-versatile"},
	ProviderOpenRouter: {"https://openrouter.ai/api/v1", "meta-llama/llama-3.3-70b-instruct:free"},
}

// ChatCompletions serves Groq and OpenRouter. These APIs are stateless, so
// continuation replays the recorded turns of the previous call.
type ChatCompletions struct {
	provider   ProviderType
	apiKey     string
	baseURL    string
	modelName  string
	httpClient *http.Client
	sessions   *sessionStore
	logger     *zap.Logger
}

type chatRequest struct {
	Model           string        `json:"model"`
	Messages        []chatMessage `json:"messages"`
	Stream          bool          `json:"stream"`
	Temperature     float32       `json:"temperature,omitempty"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewChatCompletions creates a chat-completions adapter for provider.
func NewChatCompletions(cfg ChatConfig, logger *zap.Logger) (*ChatCompletions, error) {
	defaults, ok := chatDefaults[cfg.Provider]
	if !ok && cfg.BaseURL == "" {
		return nil, fmt.Errorf("no base URL for chat provider %q", cfg.Provider)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.baseURL
	}
	if cfg.ModelName == "" {
		cfg.ModelName = defaults.model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	logger.Info("Chat completions client initialized",
		zap.String("provider", string(cfg.Provider)),
		zap.String("model", cfg.ModelName))

	return &ChatCompletions{
		provider:   cfg.Provider,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		modelName:  cfg.ModelName,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sessions:   newSessionStore(0, 0),
		logger:     logger,
	}, nil
}

func (c *ChatCompletions) Call(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.modelName
	}

	history := c.sessions.History(req.PreviousCallID)
	messages := make([]chatMessage, 0, 2+2*len(history))
	if req.SystemInstruction != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemInstruction})
	}
	for _, t := range history {
		messages = append(messages,
			chatMessage{Role: "user", Content: t.User},
			chatMessage{Role: "assistant", Content: t.Assistant})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserText})

	body := chatRequest{
		Model:           model,
		Messages:        messages,
		Temperature:     0.3,
		ReasoningEffort: req.ReasoningEffort,
	}
	// Groq only accepts reasoning_effort on reasoning models.
	if c.provider == ProviderGroq {
		body.ReasoningEffort = ""
	}

	var out chatResponse
	if err := postJSON(ctx, c.httpClient, string(c.provider), c.baseURL+"/chat/completions", c.apiKey, body, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("empty response from %s", c.provider)
	}

	content := out.Choices[0].Message.Content
	handle := c.sessions.Record(history, Turn{User: req.UserText, Assistant: content})

	c.logger.Debug("Chat completion received",
		zap.String("provider", string(c.provider)),
		zap.String("response_id", out.ID),
		zap.Int("history_turns", len(history)))

	return &Response{
		OutputText: content,
		CallID:     handle,
		Model:      model,
	}, nil
}

func (c *ChatCompletions) Name() string {
	return string(c.provider)
}

func (c *ChatCompletions) Close() error {
	return nil
}
