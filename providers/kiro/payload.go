package kiro

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/erikhoward/kirogw/core"
)

// Payload is the request body of generateAssistantResponse. Field order
// matches the order the backend documents.
type Payload struct {
	ConversationState ConversationState `json:"conversationState"`
	ProfileARN        string            `json:"profileArn,omitempty"`
}

type ConversationState struct {
	ChatTriggerType string         `json:"chatTriggerType"`
	ConversationID  string         `json:"conversationId"`
	CurrentMessage  CurrentMessage `json:"currentMessage"`
	History         []HistoryEntry `json:"history,omitempty"`
}

type CurrentMessage struct {
	UserInputMessage UserInputMessage `json:"userInputMessage"`
}

// HistoryEntry holds exactly one of its two fields.
type HistoryEntry struct {
	UserInputMessage         *UserInputMessage         `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *AssistantResponseMessage `json:"assistantResponseMessage,omitempty"`
}

type UserInputMessage struct {
	Content string                   `json:"content"`
	ModelID string                   `json:"modelId"`
	Origin  string                   `json:"origin"`
	Context *UserInputMessageContext `json:"userInputMessageContext,omitempty"`
}

type UserInputMessageContext struct {
	Tools       []ToolWrapper `json:"tools,omitempty"`
	ToolResults []ToolResult  `json:"toolResults,omitempty"`
}

type ToolWrapper struct {
	ToolSpecification ToolSpecification `json:"toolSpecification"`
}

type ToolSpecification struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

type InputSchema struct {
	JSON map[string]any `json:"json"`
}

type ToolResult struct {
	Content   []TextBlock `json:"content"`
	Status    string      `json:"status"`
	ToolUseID string      `json:"toolUseId"`
}

type TextBlock struct {
	Text string `json:"text"`
}

type AssistantResponseMessage struct {
	Content  string    `json:"content"`
	ToolUses []ToolUse `json:"toolUses,omitempty"`
}

type ToolUse struct {
	Name      string `json:"name"`
	Input     any    `json:"input"`
	ToolUseID string `json:"toolUseId"`
}

const (
	chatTriggerManual = "MANUAL"
	// OriginAIEditor is the quota origin used by the Kiro IDE.
	OriginAIEditor = "AI_EDITOR"
	continueText   = "Continue"
)

// PayloadConfig holds the options that shape request payloads.
type PayloadConfig struct {
	// ToolDescriptionMaxLength is the longest description sent inline; longer
	// ones move into the system prompt. Zero disables relocation.
	ToolDescriptionMaxLength int
	// FakeReasoning enables the thinking-tag preamble.
	FakeReasoning          bool
	FakeReasoningMaxTokens int
	Origin                 string
}

// DefaultPayloadConfig returns the defaults used by the gateway.
func DefaultPayloadConfig() PayloadConfig {
	return PayloadConfig{
		ToolDescriptionMaxLength: 10000,
		FakeReasoningMaxTokens:   4000,
		Origin:                   OriginAIEditor,
	}
}

// Builder turns chat requests into backend payloads. A Builder is immutable
// and safe for concurrent use.
type Builder struct {
	cfg   PayloadConfig
	diag  core.DiagnosticSink
	newID func() string
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithBuilderDiagnostics sets the sink for payload diagnostics.
func WithBuilderDiagnostics(d core.DiagnosticSink) BuilderOption {
	return func(b *Builder) {
		if d != nil {
			b.diag = d
		}
	}
}

// WithConversationID fixes the id generator, mainly for tests.
func WithConversationID(fn func() string) BuilderOption {
	return func(b *Builder) {
		if fn != nil {
			b.newID = fn
		}
	}
}

// NewBuilder creates a Builder.
func NewBuilder(cfg PayloadConfig, opts ...BuilderOption) *Builder {
	if cfg.Origin == "" {
		cfg.Origin = OriginAIEditor
	}
	b := &Builder{
		cfg:   cfg,
		diag:  core.NoopDiagnostics{},
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build converts req into a payload addressed to modelID. profileARN may be empty.
func (b *Builder) Build(req *core.ChatRequest, modelID, profileARN string) (*Payload, error) {
	system, rest := splitSystem(req.Messages)

	tools, docs := relocateLongDescriptions(req.Tools, b.cfg.ToolDescriptionMaxLength)
	if docs != "" {
		b.diag.Diagnose(core.Diagnostic{
			Level:     core.LevelDebug,
			Component: "payload",
			Message:   "moved long tool descriptions into system prompt",
			Fields:    map[string]any{"limit": b.cfg.ToolDescriptionMaxLength, "appendix_len": len(docs)},
		})
		system = appendSection(system, docs)
	}
	if b.cfg.FakeReasoning {
		system = appendSection(system, thinkingSystemAddition)
	}

	msgs := normalize(rest)
	if len(msgs) == 0 {
		return nil, errEmptyConversation
	}

	if system != "" {
		target := len(msgs) - 1
		for i, m := range msgs {
			if m.Role == core.RoleUser {
				target = i
				break
			}
		}
		msgs[target] = withPrefix(msgs[target], system)
	}

	history := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs[:len(msgs)-1] {
		history = append(history, b.historyEntry(m, modelID))
	}

	last := msgs[len(msgs)-1]
	content := core.ContentText(last.Content)
	var results []ToolResult
	if last.Role == core.RoleAssistant {
		history = append(history, b.historyEntry(last, modelID))
		content = continueText
	} else {
		results = toolResults(last.Content)
	}
	if strings.TrimSpace(content) == "" {
		content = continueText
	}

	if b.cfg.FakeReasoning && last.Role == core.RoleUser {
		if len(results) == 0 {
			content = thinkingPreamble(b.cfg.FakeReasoningMaxTokens) + content
		} else {
			b.diag.Diagnose(core.Diagnostic{
				Level:     core.LevelDebug,
				Component: "payload",
				Message:   "skipping thinking preamble: tool results present",
			})
		}
	}

	current := UserInputMessage{
		Content: content,
		ModelID: modelID,
		Origin:  b.cfg.Origin,
	}
	specs := toolSpecifications(tools, b.diag)
	if len(specs) > 0 || len(results) > 0 {
		current.Context = &UserInputMessageContext{Tools: specs, ToolResults: results}
	}

	p := &Payload{
		ConversationState: ConversationState{
			ChatTriggerType: chatTriggerManual,
			ConversationID:  b.newID(),
			CurrentMessage:  CurrentMessage{UserInputMessage: current},
		},
		ProfileARN: profileARN,
	}
	if len(history) > 0 {
		p.ConversationState.History = history
	}
	return p, nil
}

// Marshal builds the payload and encodes it.
func (b *Builder) Marshal(req *core.ChatRequest, modelID, profileARN string) ([]byte, error) {
	p, err := b.Build(req, modelID, profileARN)
	if err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

func (b *Builder) historyEntry(m core.Message, modelID string) HistoryEntry {
	text := core.ContentText(m.Content)
	if m.Role == core.RoleAssistant {
		return HistoryEntry{AssistantResponseMessage: &AssistantResponseMessage{
			Content:  text,
			ToolUses: b.toolUses(m),
		}}
	}
	msg := &UserInputMessage{Content: text, ModelID: modelID, Origin: b.cfg.Origin}
	if results := toolResults(m.Content); len(results) > 0 {
		msg.Context = &UserInputMessageContext{ToolResults: results}
	}
	return HistoryEntry{UserInputMessage: msg}
}

// toolUses collects tool calls and embedded tool-use parts of an assistant turn.
func (b *Builder) toolUses(m core.Message) []ToolUse {
	var out []ToolUse
	for _, tc := range m.ToolCalls {
		out = append(out, ToolUse{Name: tc.Name, Input: b.decodeArguments(tc.ID, tc.Arguments), ToolUseID: tc.ID})
	}
	if parts, ok := m.Content.(core.PartsContent); ok {
		for _, p := range parts {
			if tu, ok := p.(core.ToolUsePart); ok {
				out = append(out, ToolUse{Name: tu.Name, Input: b.decodeArguments(tu.ID, tu.Input), ToolUseID: tu.ID})
			}
		}
	}
	return out
}

func (b *Builder) decodeArguments(id string, raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		b.diag.Diagnose(core.Diagnostic{
			Level:     core.LevelWarn,
			Component: "payload",
			Message:   "tool call arguments are not a JSON object, sending {}",
			Fields:    map[string]any{"tool_use_id": id},
		})
		return map[string]any{}
	}
	return v
}

func toolResults(c core.Content) []ToolResult {
	parts, ok := c.(core.PartsContent)
	if !ok {
		return nil
	}
	var out []ToolResult
	for _, p := range parts {
		if tr, ok := p.(core.ToolResultPart); ok {
			text := tr.Content
			if text == "" {
				text = emptyToolResult
			}
			out = append(out, ToolResult{
				Content:   []TextBlock{{Text: text}},
				Status:    "success",
				ToolUseID: tr.ToolCallID,
			})
		}
	}
	return out
}

// appendSection appends an appendix that starts with a separator. On an
// empty prompt the separator is trimmed.
func appendSection(prompt, section string) string {
	if prompt == "" {
		return strings.TrimSpace(section)
	}
	return prompt + section
}
