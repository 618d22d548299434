package kiro

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/erikhoward/kirogw/core"
	"github.com/erikhoward/kirogw/providers/kiro/eventstream"
)

// TranslatorConfig holds the options that shape translated responses.
type TranslatorConfig struct {
	// BracketToolCalls enables recognition of tool calls written into text.
	BracketToolCalls bool
	// ContextWindow is the model context size used to estimate prompt tokens
	// from the backend's context usage percentage.
	ContextWindow int
}

// DefaultTranslatorConfig returns the gateway defaults.
func DefaultTranslatorConfig() TranslatorConfig {
	return TranslatorConfig{BracketToolCalls: true, ContextWindow: 200000}
}

type toolState struct {
	id   string
	name string
	args strings.Builder
}

// assembler holds the state of one in-flight response and turns backend
// events into chunks. It is owned by a single goroutine.
type assembler struct {
	cfg  TranslatorConfig
	diag core.DiagnosticSink

	scanner bracketScanner
	text    strings.Builder
	calls   []core.ToolCall

	open      map[string]*toolState
	openOrder []string
	completed map[string]bool

	stopReason string
	credits    float64
	contextPct float64
	emitted    bool
	finished   bool
	// cut is set when the response ended on a failure.
	cut bool

	newCallID func() string
}

func newAssembler(cfg TranslatorConfig, diag core.DiagnosticSink) *assembler {
	if diag == nil {
		diag = core.NoopDiagnostics{}
	}
	return &assembler{
		cfg:       cfg,
		diag:      diag,
		open:      make(map[string]*toolState),
		completed: make(map[string]bool),
		newCallID: func() string { return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24] },
	}
}

// Feed consumes one event. A backend exception is returned as an
// eventstream.ErrorEvent error; the caller then ends the response with Finish.
func (a *assembler) Feed(ev eventstream.Event) ([]core.ChatChunk, error) {
	switch e := ev.(type) {
	case eventstream.TextDelta:
		return a.text2chunks(e.Text), nil
	case eventstream.ToolUseStart:
		a.startTool(e.ID, e.Name)
	case eventstream.ToolUseInputDelta:
		if st := a.toolFor(e.ID); st != nil {
			st.args.WriteString(e.Fragment)
		}
	case eventstream.ToolUseEnd:
		if _, ok := a.open[e.ID]; ok {
			return []core.ChatChunk{a.closeTool(e.ID)}, nil
		}
	case eventstream.MessageStop:
		a.stopReason = e.Reason
	case eventstream.Usage:
		a.credits += e.Credits
		if e.ContextPercent > 0 {
			a.contextPct = e.ContextPercent
		}
	case eventstream.ErrorEvent:
		return nil, e
	case eventstream.Unknown:
		a.diag.Diagnose(core.Diagnostic{
			Level:     core.LevelDebug,
			Component: "translate",
			Message:   "ignoring unknown event",
			Fields:    map[string]any{"type": e.Type},
		})
	}
	return nil, nil
}

func (a *assembler) text2chunks(text string) []core.ChatChunk {
	if !a.cfg.BracketToolCalls {
		if text == "" {
			return nil
		}
		a.text.WriteString(text)
		a.emitted = true
		return []core.ChatChunk{{Delta: text}}
	}

	var out []core.ChatChunk
	for _, seg := range a.scanner.Push(text) {
		if seg.call == nil {
			a.text.WriteString(seg.text)
			a.emitted = true
			out = append(out, core.ChatChunk{Delta: seg.text})
			continue
		}
		out = append(out, a.addCall(a.newCallID(), seg.call.name, seg.call.args))
	}
	return out
}

func (a *assembler) startTool(id, name string) {
	if a.completed[id] {
		a.diag.Diagnose(core.Diagnostic{
			Level:     core.LevelDebug,
			Component: "translate",
			Message:   "ignoring repeated tool use",
			Fields:    map[string]any{"tool_use_id": id},
		})
		return
	}
	if st, ok := a.open[id]; ok {
		if st.name == "" {
			st.name = name
		}
		return
	}
	a.open[id] = &toolState{id: id, name: name}
	a.openOrder = append(a.openOrder, id)
}

func (a *assembler) toolFor(id string) *toolState {
	if st, ok := a.open[id]; ok {
		return st
	}
	if a.completed[id] {
		return nil
	}
	a.diag.Diagnose(core.Diagnostic{
		Level:     core.LevelWarn,
		Component: "translate",
		Message:   "tool input before tool start",
		Fields:    map[string]any{"tool_use_id": id},
	})
	a.startTool(id, "")
	return a.open[id]
}

// closeTool validates the concatenated arguments of id and emits the call.
func (a *assembler) closeTool(id string) core.ChatChunk {
	st := a.open[id]
	delete(a.open, id)
	for i, oid := range a.openOrder {
		if oid == id {
			a.openOrder = append(a.openOrder[:i:i], a.openOrder[i+1:]...)
			break
		}
	}
	a.completed[id] = true

	raw := strings.TrimSpace(st.args.String())
	args := "{}"
	if raw != "" {
		if fixed, ok := normalizeArguments(raw); ok {
			args = fixed
		} else {
			a.diag.Diagnose(core.Diagnostic{
				Level:     core.LevelWarn,
				Component: "translate",
				Message:   "malformed tool arguments, using {}",
				Fields:    map[string]any{"tool_use_id": id, "tool": st.name, "raw": raw},
			})
		}
	}
	return a.addCall(id, st.name, args)
}

func (a *assembler) addCall(id, name, args string) core.ChatChunk {
	call := core.ToolCall{
		Index:     len(a.calls),
		ID:        id,
		Name:      name,
		Arguments: []byte(args),
	}
	a.calls = append(a.calls, call)
	a.emitted = true
	return core.ChatChunk{ToolCalls: []core.ToolCall{call}}
}

// Finish ends the response. cause is the error that cut the stream short, or
// nil on a clean end. When nothing was emitted before a failure, the failure
// is returned instead of a terminal chunk.
func (a *assembler) Finish(cause error) ([]core.ChatChunk, error) {
	if a.finished {
		return nil, nil
	}
	a.finished = true
	a.cut = cause != nil

	var out []core.ChatChunk
	if held := a.scanner.Flush(); held != "" {
		a.text.WriteString(held)
		a.emitted = true
		out = append(out, core.ChatChunk{Delta: held})
	}

	if len(a.openOrder) > 0 {
		if cause == nil {
			for _, id := range append([]string(nil), a.openOrder...) {
				a.diag.Diagnose(core.Diagnostic{
					Level:     core.LevelWarn,
					Component: "translate",
					Message:   "tool use not closed before end of stream",
					Fields:    map[string]any{"tool_use_id": id},
				})
				out = append(out, a.closeTool(id))
			}
		} else {
			a.diag.Diagnose(core.Diagnostic{
				Level:     core.LevelWarn,
				Component: "translate",
				Message:   "dropping unfinished tool uses",
				Fields:    map[string]any{"count": len(a.openOrder)},
			})
			a.open = map[string]*toolState{}
			a.openOrder = nil
		}
	}

	if cause != nil {
		if !a.emitted {
			return nil, cause
		}
		a.diag.Diagnose(core.Diagnostic{
			Level:     core.LevelWarn,
			Component: "translate",
			Message:   "stream ended early, closing with partial output",
			Fields:    map[string]any{"error": cause.Error()},
		})
	}

	return append(out, core.ChatChunk{FinishReason: a.finishReason()}), nil
}

// finishReason is "stop" for a response cut short, even after completed calls.
func (a *assembler) finishReason() string {
	if !a.cut && len(a.calls) > 0 {
		return core.FinishToolCalls
	}
	return core.FinishStop
}

// Response returns the aggregated response. It is valid after Finish.
func (a *assembler) Response(id string, model core.ModelID) *core.ChatResponse {
	text := a.text.String()
	usage := core.TokenUsage{}
	if text != "" {
		usage.CompletionTokens = max(len(text)/4, 1)
	}
	if a.contextPct > 0 && a.cfg.ContextWindow > 0 {
		usage.PromptTokens = int(a.contextPct / 100 * float64(a.cfg.ContextWindow))
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return &core.ChatResponse{
		ID:           id,
		Model:        model,
		Output:       text,
		Usage:        usage,
		ToolCalls:    a.calls,
		FinishReason: a.finishReason(),
	}
}

// aggregatedEvents reads a JSON response body. The body is either a single
// event object or carries an "events" array of event objects, each keyed by
// its event type.
func aggregatedEvents(body []byte) ([]eventstream.Event, error) {
	if !gjson.ValidBytes(body) {
		return nil, newDecodeError(errInvalidJSON)
	}
	root := gjson.ParseBytes(body)
	m := eventstream.NewMapper()

	var out []eventstream.Event
	mapObject := func(obj gjson.Result) {
		typed := false
		obj.ForEach(func(key, value gjson.Result) bool {
			if strings.HasSuffix(key.String(), "Event") && value.IsObject() {
				out = append(out, m.MapPayload(key.String(), []byte(value.Raw))...)
				typed = true
			}
			return true
		})
		if !typed {
			out = append(out, m.MapPayload(eventstream.EventAssistantResponse, []byte(obj.Raw))...)
		}
	}

	if events := root.Get("events"); events.IsArray() {
		for _, ev := range events.Array() {
			mapObject(ev)
		}
		return out, nil
	}
	mapObject(root)
	return out, nil
}
