// Package llm adapts external language-model providers to a single judging
// oracle contract with explicit error kinds, retry and rate limiting.
package llm

import (
	"context"
)

// ProviderType names a supported oracle backend.
type ProviderType string

const (
	ProviderOpenAI     ProviderType = "openai"
	ProviderGroq       ProviderType = "groq"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderGemini     ProviderType = "gemini"
	ProviderAnthropic  ProviderType = "anthropic"
)

// Request is one judge invocation.
type Request struct {
	SystemInstruction string
	UserText          string
	// Model overrides the adapter's default model when set.
	Model string
	// ReasoningEffort is passed through to providers that support it
	// ("minimal", "low", "medium", "high").
	ReasoningEffort string
	// PreviousCallID asks the provider to continue the conversation started
	// by an earlier call. An unknown or empty handle starts a fresh one.
	PreviousCallID string
}

// Response is the oracle's raw reply.
type Response struct {
	OutputText string
	// CallID identifies this call for later continuation.
	CallID string
	Model  string
}

// Oracle is an external judging model.
type Oracle interface {
	Call(ctx context.Context, req Request) (*Response, error)
	Name() string
	Close() error
}
