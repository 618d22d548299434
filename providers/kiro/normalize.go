package kiro

import (
	"slices"
	"strings"

	"github.com/erikhoward/kirogw/core"
)

const emptyToolResult = "(empty result)"

// splitSystem joins the text of every system message and returns it together
// with the remaining messages.
func splitSystem(msgs []core.Message) (string, []core.Message) {
	var system strings.Builder
	rest := make([]core.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == core.RoleSystem {
			system.WriteString(core.ContentText(m.Content))
			system.WriteByte('\n')
			continue
		}
		rest = append(rest, m)
	}
	return strings.TrimSpace(system.String()), rest
}

// convertToolMessages turns every run of tool messages into one user message
// holding their results in encounter order.
func convertToolMessages(msgs []core.Message) []core.Message {
	out := make([]core.Message, 0, len(msgs))
	var pending core.PartsContent
	flush := func() {
		if len(pending) > 0 {
			out = append(out, core.Message{Role: core.RoleUser, Content: pending})
			pending = nil
		}
	}
	for _, m := range msgs {
		if m.Role != core.RoleTool {
			flush()
			out = append(out, m)
			continue
		}
		text := core.ContentText(m.Content)
		if text == "" {
			text = emptyToolResult
		}
		pending = append(pending, core.ToolResultPart{ToolCallID: m.ToolCallID, Content: text})
	}
	flush()
	return out
}

// mergeAdjacent merges neighbouring messages that share a role. Every merge
// builds a new message; the input slice and its messages are left untouched.
func mergeAdjacent(msgs []core.Message) []core.Message {
	out := make([]core.Message, 0, len(msgs))
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1] = mergePair(out[n-1], m)
			continue
		}
		out = append(out, m)
	}
	return out
}

func mergePair(a, b core.Message) core.Message {
	merged := core.Message{Role: a.Role, ToolCallID: a.ToolCallID}

	ap, aParts := a.Content.(core.PartsContent)
	bp, bParts := b.Content.(core.PartsContent)
	switch {
	case aParts && bParts:
		merged.Content = slices.Concat(ap, bp)
	case aParts:
		merged.Content = slices.Concat(ap, core.PartsContent{core.TextPart{Text: core.ContentText(b.Content)}})
	case bParts:
		merged.Content = slices.Concat(core.PartsContent{core.TextPart{Text: core.ContentText(a.Content)}}, bp)
	default:
		merged.Content = core.Text(core.ContentText(a.Content) + "\n" + core.ContentText(b.Content))
	}

	if len(a.ToolCalls)+len(b.ToolCalls) > 0 {
		merged.ToolCalls = slices.Concat(a.ToolCalls, b.ToolCalls)
	}
	return merged
}

// normalize applies tool conversion and merging. The result never holds a
// tool message or two adjacent messages with the same role.
func normalize(msgs []core.Message) []core.Message {
	return mergeAdjacent(convertToolMessages(msgs))
}

// withPrefix returns a copy of m whose text starts with prefix followed by a
// blank line. Parts content keeps its tool parts.
func withPrefix(m core.Message, prefix string) core.Message {
	out := m
	if parts, ok := m.Content.(core.PartsContent); ok {
		head := core.PartsContent{core.TextPart{Text: prefix + "\n\n"}}
		out.Content = slices.Concat(head, parts)
		return out
	}
	out.Content = core.Text(prefix + "\n\n" + core.ContentText(m.Content))
	return out
}
