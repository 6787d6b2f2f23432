package domain

import "context"

// LLMProvider is the interface for any LLM chat backend consumed by the
// execution engine.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "anthropic", "bedrock").
	Name() string
}

// TokenCounter estimates token counts for text and messages. Estimates feed
// the usage window before server-reported usage is available.
type TokenCounter interface {
	Count(text string) int
	CountMessages(msgs []Message) int
}
