package domain

import "encoding/json"

// Role constants for message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Block type constants for the ContentBlock tagged union.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockImage      = "image"
)

// ContentBlock is one element of a message body. Exactly one of the
// type-specific field groups is populated, selected by Type. Switching on
// Type over the Block* constants covers the full union.
type ContentBlock struct {
	Type string `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockToolUse
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// BlockToolResult. Content may hold text and image blocks so that a
	// tool's rendered output can be analyzed by a vision-capable model.
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   []ContentBlock `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`

	// BlockImage
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource holds base64-encoded image data for an image block.
type ImageSource struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// TextBlock creates a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock creates a tool invocation block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock creates a plain-text tool result block.
func ToolResultBlock(toolUseID, text string, isError bool) ContentBlock {
	return ContentBlock{
		Type:      BlockToolResult,
		ToolUseID: toolUseID,
		Content:   []ContentBlock{TextBlock(text)},
		IsError:   isError,
	}
}

// ImageBlock creates an image content block from base64 data.
func ImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{Type: BlockImage, Source: &ImageSource{MediaType: mediaType, Data: data}}
}

// Message is a single turn in a conversation. History is append-only; the
// engine never reorders or mutates already-appended messages.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UserText creates a user message with a single text block.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// Text concatenates the message's text blocks.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the tool invocation blocks in request order.
func (m Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// Stop reasons reported by the transport.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ChatRequest is sent to an LLM provider.
type ChatRequest struct {
	System    string       `json:"system,omitempty"`
	Messages  []Message    `json:"messages"`
	Tools     []ToolSchema `json:"tools,omitempty"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

// ChatResponse is returned from an LLM provider.
type ChatResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Text concatenates the response's text blocks.
func (r *ChatResponse) Text() string {
	return Message{Content: r.Content}.Text()
}

// RequestsTools reports whether the response asks for tool execution.
func (r *ChatResponse) RequestsTools() bool {
	if r.StopReason == StopToolUse {
		return true
	}
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

// Usage tracks token consumption. Cache counters are informational and do
// not count against the usage window's non-cached sum.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
}

// Add accumulates u into the receiver.
func (t *Usage) Add(u Usage) {
	t.InputTokens += u.InputTokens
	t.OutputTokens += u.OutputTokens
	t.CacheCreationTokens += u.CacheCreationTokens
	t.CacheReadTokens += u.CacheReadTokens
}

// Total returns the non-cached token sum.
func (t Usage) Total() int {
	return t.InputTokens + t.OutputTokens
}

// Cached returns the cached token sum.
func (t Usage) Cached() int {
	return t.CacheCreationTokens + t.CacheReadTokens
}
