package kiro

import (
	"testing"

	"github.com/erikhoward/kirogw/core"
)

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]core.Message{
		systemMsg("  one"),
		userMsg("u"),
		systemMsg("two  "),
	})
	if system != "one\ntwo" {
		t.Errorf("system = %q", system)
	}
	if len(rest) != 1 || rest[0].Role != core.RoleUser {
		t.Errorf("rest = %+v", rest)
	}
}

func TestNormalizeInvariants(t *testing.T) {
	tests := []struct {
		name  string
		in    []core.Message
		roles []core.Role
	}{
		{
			name:  "alternating",
			in:    []core.Message{userMsg("a"), assistantMsg("b"), userMsg("c")},
			roles: []core.Role{core.RoleUser, core.RoleAssistant, core.RoleUser},
		},
		{
			name:  "tool run after assistant",
			in:    []core.Message{userMsg("a"), assistantMsg("b"), toolMsg("1", "x"), toolMsg("2", "y"), userMsg("c")},
			roles: []core.Role{core.RoleUser, core.RoleAssistant, core.RoleUser},
		},
		{
			name:  "assistants merged",
			in:    []core.Message{assistantMsg("a"), assistantMsg("b")},
			roles: []core.Role{core.RoleAssistant},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := normalize(tt.in)
			if len(out) != len(tt.roles) {
				t.Fatalf("normalize() = %d messages, want %d", len(out), len(tt.roles))
			}
			for i, m := range out {
				if m.Role != tt.roles[i] {
					t.Errorf("message %d role = %s, want %s", i, m.Role, tt.roles[i])
				}
				if m.Role == core.RoleTool {
					t.Errorf("message %d is a tool message", i)
				}
			}
		})
	}
}

func TestNormalizeToolResultsThenUserText(t *testing.T) {
	out := normalize([]core.Message{
		toolMsg("1", "x"),
		toolMsg("2", ""),
		userMsg("follow-up"),
	})
	if len(out) != 1 {
		t.Fatalf("normalize() = %+v", out)
	}
	parts, ok := out[0].Content.(core.PartsContent)
	if !ok || len(parts) != 3 {
		t.Fatalf("content = %#v", out[0].Content)
	}
	if r, ok := parts[0].(core.ToolResultPart); !ok || r.ToolCallID != "1" || r.Content != "x" {
		t.Errorf("parts[0] = %#v", parts[0])
	}
	if r, ok := parts[1].(core.ToolResultPart); !ok || r.Content != emptyToolResult {
		t.Errorf("parts[1] = %#v", parts[1])
	}
	if p, ok := parts[2].(core.TextPart); !ok || p.Text != "follow-up" {
		t.Errorf("parts[2] = %#v", parts[2])
	}
}

func TestMergeKeepsToolCallsAndInputs(t *testing.T) {
	a := assistantMsg("a", core.ToolCall{ID: "1", Name: "f"})
	b := assistantMsg("b", core.ToolCall{ID: "2", Name: "g"})
	in := []core.Message{a, b}

	out := mergeAdjacent(in)
	if len(out) != 1 {
		t.Fatalf("mergeAdjacent() = %+v", out)
	}
	if got := core.ContentText(out[0].Content); got != "a\nb" {
		t.Errorf("content = %q", got)
	}
	if len(out[0].ToolCalls) != 2 || out[0].ToolCalls[0].ID != "1" || out[0].ToolCalls[1].ID != "2" {
		t.Errorf("tool calls = %+v", out[0].ToolCalls)
	}
	if len(in[0].ToolCalls) != 1 || core.ContentText(in[0].Content) != "a" {
		t.Errorf("input modified: %+v", in[0])
	}
}

func TestWithPrefix(t *testing.T) {
	m := withPrefix(userMsg("hi"), "SYS")
	if got := core.ContentText(m.Content); got != "SYS\n\nhi" {
		t.Errorf("text = %q", got)
	}

	parts := core.Message{Role: core.RoleUser, Content: core.Parts(core.ToolResultPart{ToolCallID: "1", Content: "r"})}
	m = withPrefix(parts, "SYS")
	got, ok := m.Content.(core.PartsContent)
	if !ok || len(got) != 2 {
		t.Fatalf("content = %#v", m.Content)
	}
	if tp, ok := got[0].(core.TextPart); !ok || tp.Text != "SYS\n\n" {
		t.Errorf("parts[0] = %#v", got[0])
	}
	if _, ok := got[1].(core.ToolResultPart); !ok {
		t.Errorf("parts[1] = %#v", got[1])
	}
}
