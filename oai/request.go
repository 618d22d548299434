package oai

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/erikhoward/kirogw/core"
)

// maxRequestBytes bounds a request body.
const maxRequestBytes = 32 << 20

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrValidation, fmt.Sprintf(format, args...))
}

// DecodeRequest reads and validates a chat completion request.
func DecodeRequest(r io.Reader) (*ChatCompletionRequest, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxRequestBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBytes {
		return nil, invalid("request body exceeds %d bytes", maxRequestBytes)
	}
	var req ChatCompletionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, invalid("malformed JSON: %v", err)
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, invalid("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, invalid("messages must not be empty")
	}
	return &req, nil
}

// ToChatRequest converts a decoded request into a core request. Content
// parts the backend cannot take are dropped and reported to diag, which may
// be nil.
func ToChatRequest(req *ChatCompletionRequest, diag core.DiagnosticSink) (*core.ChatRequest, error) {
	if diag == nil {
		diag = core.NoopDiagnostics{}
	}
	out := &core.ChatRequest{
		Model:       core.ModelID(req.Model),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages:    make([]core.Message, 0, len(req.Messages)),
	}
	if out.MaxTokens == nil {
		out.MaxTokens = req.MaxCompletionTokens
	}

	for i, m := range req.Messages {
		msg, err := toMessage(m, i, diag)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		out.Messages = append(out.Messages, msg)
	}

	for i, t := range req.Tools {
		if t.Type != "" && t.Type != "function" {
			return nil, invalid("tools[%d]: unsupported tool type %q", i, t.Type)
		}
		if strings.TrimSpace(t.Function.Name) == "" {
			return nil, invalid("tools[%d]: function name is required", i)
		}
		out.Tools = append(out.Tools, core.ToolSpec{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	return out, nil
}

func toMessage(m Message, index int, diag core.DiagnosticSink) (core.Message, error) {
	var role core.Role
	switch m.Role {
	case "system", "developer":
		role = core.RoleSystem
	case "user":
		role = core.RoleUser
	case "assistant":
		role = core.RoleAssistant
	case "tool":
		role = core.RoleTool
		if m.ToolCallID == "" {
			return core.Message{}, invalid("tool message without tool_call_id")
		}
	default:
		return core.Message{}, invalid("unsupported role %q", m.Role)
	}

	content, err := decodeContent(m.Content, func(part int, typ string) {
		diag.Diagnose(core.Diagnostic{
			Level:     core.LevelWarn,
			Component: "request",
			Message:   "dropping unsupported content part",
			Fields:    map[string]any{"message": index, "part": part, "type": typ},
		})
	})
	if err != nil {
		return core.Message{}, err
	}
	msg := core.Message{Role: role, Content: content, ToolCallID: m.ToolCallID}

	if len(m.ToolCalls) > 0 && role != core.RoleAssistant {
		return core.Message{}, invalid("tool_calls on %s message", m.Role)
	}
	for i, tc := range m.ToolCalls {
		if tc.ID == "" || tc.Function.Name == "" {
			return core.Message{}, invalid("tool_calls[%d]: id and function name are required", i)
		}
		args := tc.Function.Arguments
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		msg.ToolCalls = append(msg.ToolCalls, core.ToolCall{
			Index:     i,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return msg, nil
}

// decodeContent resolves the string-or-parts content union. Parts of an
// unknown type are passed to skip and left out.
func decodeContent(raw json.RawMessage, skip func(part int, typ string)) (core.Content, error) {
	if len(raw) == 0 {
		return core.Text(""), nil
	}
	v := gjson.ParseBytes(raw)
	switch {
	case v.Type == gjson.Null:
		return core.Text(""), nil
	case v.Type == gjson.String:
		return core.Text(v.String()), nil
	case v.IsArray():
		var parts core.PartsContent
		for i, p := range v.Array() {
			switch typ := p.Get("type").String(); typ {
			case "text", "input_text":
				parts = append(parts, core.TextPart{Text: p.Get("text").String()})
			case "tool_result":
				id := p.Get("tool_use_id").String()
				if id == "" {
					return nil, invalid("content[%d]: tool_result without tool_use_id", i)
				}
				parts = append(parts, core.ToolResultPart{ToolCallID: id, Content: partText(p.Get("content"))})
			case "tool_use":
				id, name := p.Get("id").String(), p.Get("name").String()
				if id == "" || name == "" {
					return nil, invalid("content[%d]: tool_use requires id and name", i)
				}
				tu := core.ToolUsePart{ID: id, Name: name}
				if in := p.Get("input"); in.Exists() {
					tu.Input = json.RawMessage(in.Raw)
				}
				parts = append(parts, tu)
			case "":
				return nil, invalid("content[%d]: missing type", i)
			default:
				skip(i, typ)
			}
		}
		return parts, nil
	default:
		return nil, invalid("content must be a string, null or an array of parts")
	}
}

// partText flattens a tool_result content value: a string, or text parts.
func partText(v gjson.Result) string {
	if !v.IsArray() {
		return v.String()
	}
	var b strings.Builder
	for _, p := range v.Array() {
		if p.Type == gjson.String {
			b.WriteString(p.String())
			continue
		}
		if t := p.Get("type").String(); t == "text" || t == "input_text" {
			b.WriteString(p.Get("text").String())
		}
	}
	return b.String()
}
