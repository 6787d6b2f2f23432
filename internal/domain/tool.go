package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolResult is the uniform envelope every tool returns. The engine never
// inspects a tool's internals, only this envelope.
type ToolResult struct {
	Success bool      `json:"success"`
	Output  string    `json:"output"`
	Data    *ToolData `json:"data,omitempty"`
}

// ToolData is an optional opaque payload attached to a tool result. The
// engine inspects IncludeImage (not the tool name) to decide whether to
// attach an image block to the result sent back to the model.
type ToolData struct {
	IncludeImage bool              `json:"include_image,omitempty"`
	Image        string            `json:"image,omitempty"` // data URL (data:image/...;base64,...)
	Meta         map[string]string `json:"meta,omitempty"`
}

// Tool is the interface every tool must implement. Execution is treated as
// idempotent from the engine's point of view; the engine does not retry
// tool calls.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolExecutor abstracts tool lookup and schema listing for the engine.
type ToolExecutor interface {
	Get(name string) (Tool, error)
	Schemas() []ToolSchema
}
