// Package core provides the provider-agnostic client and types of the gateway.
package core

import (
	"encoding/json"
	"strings"
)

// Feature represents a capability that a provider may support.
type Feature string

const (
	FeatureChat          Feature = "chat"
	FeatureChatStreaming Feature = "chat_streaming"
	FeatureToolCalling   Feature = "tool_calling"
)

// ModelID is a string identifier for a model.
type ModelID string

// ModelInfo describes a model exposed by a provider.
type ModelInfo struct {
	ID           ModelID   `json:"id"`
	DisplayName  string    `json:"display_name"`
	Capabilities []Feature `json:"capabilities,omitempty"`
}

// Role represents a message participant role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Content is the body of a message: either TextContent or PartsContent.
type Content interface {
	isContent()
}

// TextContent is a plain string body.
type TextContent string

// PartsContent is an ordered list of typed parts.
type PartsContent []Part

func (TextContent) isContent()  {}
func (PartsContent) isContent() {}

// Text wraps s as message content.
func Text(s string) Content { return TextContent(s) }

// Parts wraps ps as message content.
func Parts(ps ...Part) Content { return PartsContent(ps) }

// Part is one element of PartsContent.
type Part interface {
	isPart()
}

// TextPart carries text inside a parts list.
type TextPart struct {
	Text string `json:"text"`
}

// ToolResultPart carries the output of a tool the assistant invoked.
type ToolResultPart struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
}

// ToolUsePart records a tool invocation embedded in assistant content.
type ToolUsePart struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

func (TextPart) isPart()       {}
func (ToolResultPart) isPart() {}
func (ToolUsePart) isPart()    {}

// ContentText joins the text carried by c. Text parts inside a parts list are
// concatenated without separator; tool parts are skipped.
func ContentText(c Content) string {
	switch v := c.(type) {
	case TextContent:
		return string(v)
	case PartsContent:
		var b strings.Builder
		for _, p := range v {
			if tp, ok := p.(TextPart); ok {
				b.WriteString(tp.Text)
			}
		}
		return b.String()
	default:
		return ""
	}
}

// Message represents a single message in a conversation.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"-"`

	// ToolCalls is set on assistant messages that invoked tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID is set on tool messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// TokenUsage tracks token consumption for a request.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolCall represents a tool invocation requested by the model.
// Arguments MUST be valid JSON bytes and MUST preserve raw JSON (no reformatting).
type ToolCall struct {
	// Index is the position of the call within its response.
	Index     int             `json:"index"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSpec declares a function the model may call.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ChatRequest represents a request to a chat model.
type ChatRequest struct {
	Model       ModelID    `json:"model"`
	Messages    []Message  `json:"messages"`
	Temperature *float32   `json:"temperature,omitempty"`
	MaxTokens   *int       `json:"max_tokens,omitempty"`
	Tools       []ToolSpec `json:"tools,omitempty"`
}

// Finish reasons reported on the terminal chunk and on aggregated responses.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
)

// ChatResponse represents a complete response from a chat model.
type ChatResponse struct {
	ID           string     `json:"id"`
	Model        ModelID    `json:"model"`
	Output       string     `json:"output"`
	Usage        TokenUsage `json:"usage"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
}

// ChatChunk represents an incremental streaming response.
// A chunk carries either a text Delta, completed ToolCalls, or the terminal
// FinishReason.
type ChatChunk struct {
	Delta        string     `json:"delta,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
}
