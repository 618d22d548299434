package kiro

import (
	"errors"
	"fmt"
	"testing"

	"github.com/erikhoward/kirogw/core"
	"github.com/erikhoward/kirogw/providers/kiro/eventstream"
)

func testAssembler(cfg TranslatorConfig, diag core.DiagnosticSink) *assembler {
	a := newAssembler(cfg, diag)
	n := 0
	a.newCallID = func() string {
		n++
		return fmt.Sprintf("call_%d", n)
	}
	return a
}

// feedAll feeds events and finishes cleanly, returning every chunk.
func feedAll(t *testing.T, a *assembler, events ...eventstream.Event) []core.ChatChunk {
	t.Helper()
	var out []core.ChatChunk
	for _, ev := range events {
		chunks, err := a.Feed(ev)
		if err != nil {
			t.Fatalf("Feed(%T) error = %v", ev, err)
		}
		out = append(out, chunks...)
	}
	tail, err := a.Finish(nil)
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	return append(out, tail...)
}

func TestAssemblerText(t *testing.T) {
	a := testAssembler(DefaultTranslatorConfig(), nil)
	chunks := feedAll(t, a,
		eventstream.TextDelta{Text: "Hel"},
		eventstream.TextDelta{Text: "lo"},
		eventstream.MessageStop{Reason: "end_turn"},
	)

	if len(chunks) != 3 {
		t.Fatalf("chunks = %+v", chunks)
	}
	if chunks[0].Delta != "Hel" || chunks[1].Delta != "lo" {
		t.Errorf("deltas = %q %q", chunks[0].Delta, chunks[1].Delta)
	}
	if chunks[2].FinishReason != core.FinishStop {
		t.Errorf("finish = %q, want stop", chunks[2].FinishReason)
	}

	resp := a.Response("id-1", "auto")
	if resp.Output != "Hello" || resp.FinishReason != core.FinishStop || resp.ID != "id-1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestAssemblerToolFragments(t *testing.T) {
	a := testAssembler(DefaultTranslatorConfig(), nil)
	chunks := feedAll(t, a,
		eventstream.ToolUseStart{ID: "t1", Name: "first"},
		eventstream.ToolUseStart{ID: "t2", Name: "second"},
		eventstream.ToolUseInputDelta{ID: "t1", Fragment: `{"a":`},
		eventstream.ToolUseInputDelta{ID: "t2", Fragment: `{"b":2}`},
		eventstream.ToolUseInputDelta{ID: "t1", Fragment: `1}`},
		eventstream.ToolUseEnd{ID: "t2"},
		eventstream.ToolUseEnd{ID: "t1"},
	)

	var calls []core.ToolCall
	for _, c := range chunks {
		calls = append(calls, c.ToolCalls...)
	}
	if len(calls) != 2 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].ID != "t2" || calls[0].Name != "second" || string(calls[0].Arguments) != `{"b":2}` || calls[0].Index != 0 {
		t.Errorf("calls[0] = %+v", calls[0])
	}
	if calls[1].ID != "t1" || calls[1].Name != "first" || string(calls[1].Arguments) != `{"a":1}` || calls[1].Index != 1 {
		t.Errorf("calls[1] = %+v", calls[1])
	}
	if last := chunks[len(chunks)-1]; last.FinishReason != core.FinishToolCalls {
		t.Errorf("finish = %q, want tool_calls", last.FinishReason)
	}
	if resp := a.Response("id", "auto"); len(resp.ToolCalls) != 2 || resp.FinishReason != core.FinishToolCalls {
		t.Errorf("response = %+v", resp)
	}
}

func TestAssemblerToolArguments(t *testing.T) {
	tests := []struct {
		name      string
		fragments []string
		want      string
		warn      bool
	}{
		{"empty", nil, `{}`, false},
		{"whitespace", []string{"  "}, `{}`, false},
		{"repaired", []string{`{"a":1,`, `}`}, `{"a":1}`, false},
		{"malformed", []string{`{"a":`}, `{}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var warned bool
			diag := core.DiagnosticFunc(func(d core.Diagnostic) {
				if d.Level == core.LevelWarn {
					warned = true
				}
			})
			a := testAssembler(DefaultTranslatorConfig(), diag)
			events := []eventstream.Event{eventstream.ToolUseStart{ID: "t", Name: "f"}}
			for _, f := range tt.fragments {
				events = append(events, eventstream.ToolUseInputDelta{ID: "t", Fragment: f})
			}
			events = append(events, eventstream.ToolUseEnd{ID: "t"})
			feedAll(t, a, events...)

			resp := a.Response("id", "auto")
			if len(resp.ToolCalls) != 1 {
				t.Fatalf("calls = %+v", resp.ToolCalls)
			}
			if got := string(resp.ToolCalls[0].Arguments); got != tt.want {
				t.Errorf("arguments = %s, want %s", got, tt.want)
			}
			if warned != tt.warn {
				t.Errorf("warned = %v, want %v", warned, tt.warn)
			}
		})
	}
}

func TestAssemblerRepeatedToolUse(t *testing.T) {
	a := testAssembler(DefaultTranslatorConfig(), nil)
	feedAll(t, a,
		eventstream.ToolUseStart{ID: "t", Name: "f"},
		eventstream.ToolUseEnd{ID: "t"},
		eventstream.ToolUseStart{ID: "t", Name: "f"},
		eventstream.ToolUseInputDelta{ID: "t", Fragment: `{"late":true}`},
		eventstream.ToolUseEnd{ID: "t"},
	)
	resp := a.Response("id", "auto")
	if len(resp.ToolCalls) != 1 || string(resp.ToolCalls[0].Arguments) != `{}` {
		t.Errorf("calls = %+v", resp.ToolCalls)
	}
}

func TestAssemblerUnclosedToolAtEnd(t *testing.T) {
	a := testAssembler(DefaultTranslatorConfig(), nil)
	chunks := feedAll(t, a,
		eventstream.ToolUseStart{ID: "t", Name: "f"},
		eventstream.ToolUseInputDelta{ID: "t", Fragment: `{"x":1}`},
	)
	if len(chunks) != 2 || len(chunks[0].ToolCalls) != 1 || chunks[1].FinishReason != core.FinishToolCalls {
		t.Fatalf("chunks = %+v", chunks)
	}
	if got := string(chunks[0].ToolCalls[0].Arguments); got != `{"x":1}` {
		t.Errorf("arguments = %s", got)
	}
}

func TestAssemblerBracketCalls(t *testing.T) {
	a := testAssembler(DefaultTranslatorConfig(), nil)
	chunks := feedAll(t, a,
		eventstream.TextDelta{Text: "Let me check. [Called search with "},
		eventstream.TextDelta{Text: `args: {"q":"go"}] ok`},
	)

	var text string
	var calls []core.ToolCall
	for _, c := range chunks {
		text += c.Delta
		calls = append(calls, c.ToolCalls...)
	}
	if text != "Let me check.  ok" {
		t.Errorf("text = %q", text)
	}
	if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Name != "search" || string(calls[0].Arguments) != `{"q":"go"}` {
		t.Errorf("calls = %+v", calls)
	}
	if last := chunks[len(chunks)-1]; last.FinishReason != core.FinishToolCalls {
		t.Errorf("finish = %q", last.FinishReason)
	}
}

func TestAssemblerBracketCallsDisabled(t *testing.T) {
	cfg := DefaultTranslatorConfig()
	cfg.BracketToolCalls = false
	a := testAssembler(cfg, nil)
	raw := `[Called search with args: {}]`
	feedAll(t, a, eventstream.TextDelta{Text: raw})
	resp := a.Response("id", "auto")
	if resp.Output != raw || len(resp.ToolCalls) != 0 {
		t.Errorf("response = %+v", resp)
	}
}

func TestAssemblerHeldTextFlushedAtEnd(t *testing.T) {
	a := testAssembler(DefaultTranslatorConfig(), nil)
	chunks := feedAll(t, a, eventstream.TextDelta{Text: "array[Cal"})
	if len(chunks) != 3 || chunks[0].Delta != "array" || chunks[1].Delta != "[Cal" {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestAssemblerFailure(t *testing.T) {
	cause := errors.New("connection reset")

	t.Run("before output", func(t *testing.T) {
		a := testAssembler(DefaultTranslatorConfig(), nil)
		if _, err := a.Feed(eventstream.ToolUseStart{ID: "t", Name: "f"}); err != nil {
			t.Fatal(err)
		}
		chunks, err := a.Finish(cause)
		if !errors.Is(err, cause) || chunks != nil {
			t.Errorf("Finish() = %+v, %v; want cause", chunks, err)
		}
	})

	t.Run("after output", func(t *testing.T) {
		a := testAssembler(DefaultTranslatorConfig(), nil)
		if _, err := a.Feed(eventstream.TextDelta{Text: "partial"}); err != nil {
			t.Fatal(err)
		}
		if _, err := a.Feed(eventstream.ToolUseStart{ID: "t", Name: "f"}); err != nil {
			t.Fatal(err)
		}
		chunks, err := a.Finish(cause)
		if err != nil {
			t.Fatalf("Finish() error = %v", err)
		}
		if len(chunks) != 1 || chunks[0].FinishReason != core.FinishStop {
			t.Errorf("chunks = %+v, want one stop chunk", chunks)
		}
		if resp := a.Response("id", "auto"); len(resp.ToolCalls) != 0 {
			t.Errorf("unfinished tool use kept: %+v", resp.ToolCalls)
		}
	})

	t.Run("after completed tool call", func(t *testing.T) {
		a := testAssembler(DefaultTranslatorConfig(), nil)
		for _, ev := range []eventstream.Event{
			eventstream.ToolUseStart{ID: "t", Name: "f"},
			eventstream.ToolUseInputDelta{ID: "t", Fragment: `{"a":1}`},
			eventstream.ToolUseEnd{ID: "t"},
		} {
			if _, err := a.Feed(ev); err != nil {
				t.Fatal(err)
			}
		}
		chunks, err := a.Finish(&eventstream.IntegrityError{Reason: "message checksum mismatch"})
		if err != nil {
			t.Fatalf("Finish() error = %v", err)
		}
		if n := len(chunks); n == 0 || chunks[n-1].FinishReason != core.FinishStop {
			t.Errorf("chunks = %+v, want terminal stop", chunks)
		}
		resp := a.Response("id", "auto")
		if resp.FinishReason != core.FinishStop || len(resp.ToolCalls) != 1 {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("finish twice", func(t *testing.T) {
		a := testAssembler(DefaultTranslatorConfig(), nil)
		if _, err := a.Finish(nil); err != nil {
			t.Fatal(err)
		}
		if chunks, err := a.Finish(nil); chunks != nil || err != nil {
			t.Errorf("second Finish() = %+v, %v", chunks, err)
		}
	})
}

func TestAssemblerBackendException(t *testing.T) {
	a := testAssembler(DefaultTranslatorConfig(), nil)
	_, err := a.Feed(eventstream.ErrorEvent{Kind: "ThrottlingException", Message: "slow down"})
	var ev eventstream.ErrorEvent
	if !errors.As(err, &ev) || ev.Kind != "ThrottlingException" {
		t.Fatalf("Feed() error = %v", err)
	}
	if !errors.Is(newBackendException(ev), core.ErrRateLimited) {
		t.Error("throttling should map to ErrRateLimited")
	}
}

func TestAssemblerUsage(t *testing.T) {
	a := testAssembler(DefaultTranslatorConfig(), nil)
	feedAll(t, a,
		eventstream.TextDelta{Text: "abcdefghij"},
		eventstream.Usage{Credits: 0.5},
		eventstream.Usage{ContextPercent: 10},
	)
	u := a.Response("id", "auto").Usage
	if u.CompletionTokens != 2 || u.PromptTokens != 20000 || u.TotalTokens != 20002 {
		t.Errorf("usage = %+v", u)
	}
	if a.credits != 0.5 {
		t.Errorf("credits = %v", a.credits)
	}
}

func TestAggregatedEvents(t *testing.T) {
	body := `{"events":[
		{"assistantResponseEvent":{"content":"hi"}},
		{"toolUseEvent":{"toolUseId":"t1","name":"f","input":{"a":1},"stop":true}},
		{"messageStopEvent":{"stopReason":"end_turn"}}
	]}`
	events, err := aggregatedEvents([]byte(body))
	if err != nil {
		t.Fatalf("aggregatedEvents() error = %v", err)
	}
	want := []eventstream.Event{
		eventstream.TextDelta{Text: "hi"},
		eventstream.ToolUseStart{ID: "t1", Name: "f"},
		eventstream.ToolUseInputDelta{ID: "t1", Fragment: `{"a":1}`},
		eventstream.ToolUseEnd{ID: "t1"},
		eventstream.MessageStop{Reason: "end_turn"},
	}
	if len(events) != len(want) {
		t.Fatalf("events = %+v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %#v, want %#v", i, events[i], want[i])
		}
	}

	events, err = aggregatedEvents([]byte(`{"content":"plain"}`))
	if err != nil || len(events) != 1 || events[0] != (eventstream.TextDelta{Text: "plain"}) {
		t.Errorf("single object = %+v, %v", events, err)
	}

	if _, err := aggregatedEvents([]byte(`not json`)); !errors.Is(err, core.ErrDecode) {
		t.Errorf("invalid body error = %v, want ErrDecode", err)
	}
}
