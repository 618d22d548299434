package kiro

import (
	"fmt"
	"strings"

	"github.com/erikhoward/kirogw/core"
)

const (
	toolDocsHeader = "\n\n---\n" +
		"# Tool Documentation\n" +
		"The following tools have detailed documentation that couldn't fit in the tool definition.\n\n"
	toolDocsSeparator = "\n\n---\n\n"
)

// toolDocHeading is the appendix heading a relocated description lives under.
func toolDocHeading(name string) string {
	return "## Tool: " + name
}

func toolDocPointer(name string) string {
	return fmt.Sprintf("[Full documentation in system prompt under '%s']", toolDocHeading(name))
}

// relocateLongDescriptions moves every description longer than limit into a
// system prompt appendix and leaves a pointer in its place. A limit of zero
// or less disables relocation. The input tools are not modified.
func relocateLongDescriptions(tools []core.ToolSpec, limit int) ([]core.ToolSpec, string) {
	if len(tools) == 0 || limit <= 0 {
		return tools, ""
	}

	out := make([]core.ToolSpec, len(tools))
	var docs []string
	for i, t := range tools {
		out[i] = t
		if len(t.Description) <= limit {
			continue
		}
		docs = append(docs, toolDocHeading(t.Name)+"\n\n"+t.Description)
		out[i].Description = toolDocPointer(t.Name)
	}
	if len(docs) == 0 {
		return out, ""
	}
	return out, toolDocsHeader + strings.Join(docs, toolDocsSeparator)
}

// namedSchemas are keywords whose object value maps user-chosen names to
// subschemas. Their keys are names, not keywords.
var namedSchemas = map[string]bool{
	"properties":        true,
	"patternProperties": true,
	"$defs":             true,
	"definitions":       true,
}

// sanitizeSchema returns a copy of schema without keys the backend rejects:
// empty "required" lists and "additionalProperties", at every depth.
func sanitizeSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		if k == "additionalProperties" {
			continue
		}
		if k == "required" && isEmptyList(v) {
			continue
		}
		if named, ok := v.(map[string]any); ok && namedSchemas[k] {
			props := make(map[string]any, len(named))
			for name, sub := range named {
				props[name] = sanitizeValue(sub)
			}
			out[k] = props
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return sanitizeSchema(val)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = sanitizeValue(item)
		}
		return items
	default:
		return v
	}
}

func isEmptyList(v any) bool {
	switch l := v.(type) {
	case []any:
		return len(l) == 0
	case []string:
		return len(l) == 0
	default:
		return false
	}
}

// toolSpecifications renders tools for the backend. An empty description is
// replaced by a placeholder because the backend requires one.
func toolSpecifications(tools []core.ToolSpec, diag core.DiagnosticSink) []ToolWrapper {
	if len(tools) == 0 {
		return nil
	}
	out := make([]ToolWrapper, 0, len(tools))
	for _, t := range tools {
		desc := t.Description
		if strings.TrimSpace(desc) == "" {
			desc = "Tool: " + t.Name
			diag.Diagnose(core.Diagnostic{
				Level:     core.LevelDebug,
				Component: "payload",
				Message:   "tool has empty description, using placeholder",
				Fields:    map[string]any{"tool": t.Name},
			})
		}
		out = append(out, ToolWrapper{ToolSpecification: ToolSpecification{
			Name:        t.Name,
			Description: desc,
			InputSchema: InputSchema{JSON: sanitizeSchema(t.Parameters)},
		}})
	}
	return out
}
