package oai

import (
	"github.com/erikhoward/kirogw/core"
)

const (
	objectCompletion = "chat.completion"
	objectChunk      = "chat.completion.chunk"
)

// RenderResponse renders an aggregated response.
func RenderResponse(resp *core.ChatResponse, created int64) ChatCompletion {
	msg := ResponseMessage{Role: "assistant"}
	if resp.Output != "" || len(resp.ToolCalls) == 0 {
		text := resp.Output
		msg.Content = &text
	}
	for _, tc := range resp.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, renderToolCall(tc, false))
	}
	return ChatCompletion{
		ID:      resp.ID,
		Object:  objectCompletion,
		Created: created,
		Model:   string(resp.Model),
		Choices: []Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: resp.FinishReason,
		}},
		Usage: renderUsage(resp.Usage),
	}
}

func renderToolCall(tc core.ToolCall, indexed bool) ToolCall {
	args := string(tc.Arguments)
	if args == "" {
		args = "{}"
	}
	out := ToolCall{
		ID:       tc.ID,
		Type:     "function",
		Function: ToolCallFunction{Name: tc.Name, Arguments: args},
	}
	if indexed {
		idx := tc.Index
		out.Index = &idx
	}
	return out
}

func renderUsage(u core.TokenUsage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// ChunkRenderer renders the chunks of one stream. The first chunk carries
// the assistant role.
type ChunkRenderer struct {
	ID      string
	Model   string
	Created int64

	sentRole bool
}

// Render converts a core chunk.
func (r *ChunkRenderer) Render(c core.ChatChunk) ChatCompletionChunk {
	var delta Delta
	if !r.sentRole {
		delta.Role = "assistant"
		r.sentRole = true
	}
	delta.Content = c.Delta
	for _, tc := range c.ToolCalls {
		delta.ToolCalls = append(delta.ToolCalls, renderToolCall(tc, true))
	}

	choice := ChunkChoice{Index: 0, Delta: delta}
	if c.FinishReason != "" {
		reason := c.FinishReason
		choice.FinishReason = &reason
	}
	return ChatCompletionChunk{
		ID:      r.ID,
		Object:  objectChunk,
		Created: r.Created,
		Model:   r.Model,
		Choices: []ChunkChoice{choice},
	}
}

// Usage renders the trailing usage chunk sent when the client asked for it.
func (r *ChunkRenderer) Usage(u core.TokenUsage) ChatCompletionChunk {
	usage := renderUsage(u)
	return ChatCompletionChunk{
		ID:      r.ID,
		Object:  objectChunk,
		Created: r.Created,
		Model:   r.Model,
		Choices: []ChunkChoice{},
		Usage:   &usage,
	}
}

// RenderModels renders a model listing.
func RenderModels(models []core.ModelInfo, created int64) ModelList {
	out := ModelList{Object: "list", Data: make([]Model, 0, len(models))}
	for _, m := range models {
		out.Data = append(out.Data, Model{
			ID:      string(m.ID),
			Object:  "model",
			Created: created,
			OwnedBy: "kiro",
		})
	}
	return out
}
