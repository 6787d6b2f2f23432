package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventStatusChange EventType = "status_change"
	EventThinking     EventType = "thinking"
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventDiscovery    EventType = "discovery"
	EventRateLimit    EventType = "rate_limit"
	EventError        EventType = "error"
	EventComplete     EventType = "complete"
	EventConversation EventType = "conversation"
)

// Event is the envelope published on the event bus. Events are emitted in
// strict causal order matching the loop.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	RunID     string          `json:"run_id,omitempty"`
	Agent     string          `json:"agent,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// StatusChangePayload accompanies EventStatusChange.
type StatusChangePayload struct {
	From ExecutionStatus `json:"from"`
	To   ExecutionStatus `json:"to"`
}

// ThinkingPayload carries the assistant's text for a turn.
type ThinkingPayload struct {
	Text      string `json:"text"`
	Iteration int    `json:"iteration"`
}

// ToolCallPayload accompanies EventToolCall.
type ToolCallPayload struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResultPayload accompanies EventToolResult.
type ToolResultPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	HasImage bool   `json:"has_image,omitempty"`
}

// RateLimitPayload accompanies EventRateLimit. Waiting=true is emitted
// before the sleep, Waiting=false after it.
type RateLimitPayload struct {
	Waiting bool          `json:"waiting"`
	Delay   time.Duration `json:"delay,omitempty"`
	Message string        `json:"message,omitempty"`
}

// ErrorPayload accompanies EventError.
type ErrorPayload struct {
	Error string    `json:"error"`
	Code  ErrorCode `json:"code,omitempty"`
}

// CompletePayload accompanies EventComplete.
type CompletePayload struct {
	Summary    string `json:"summary"`
	Iterations int    `json:"iterations"`
	Usage      Usage  `json:"usage"`
}

// ConversationPayload is a running snapshot of the message history.
type ConversationPayload struct {
	Messages []Message `json:"messages"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for engine events. A
// failing or panicking handler must never abort the publisher.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
