package eventstream

import (
	"github.com/tidwall/gjson"
)

// Event is one decoded backend event. The concrete type is one of TextDelta,
// ToolUseStart, ToolUseInputDelta, ToolUseEnd, MessageStop, ErrorEvent, Usage
// or Unknown.
type Event interface {
	isEvent()
}

// TextDelta is a fragment of assistant text.
type TextDelta struct {
	Text string
}

// ToolUseStart opens a tool invocation.
type ToolUseStart struct {
	ID   string
	Name string
}

// ToolUseInputDelta is a fragment of a tool invocation's JSON arguments.
type ToolUseInputDelta struct {
	ID       string
	Fragment string
}

// ToolUseEnd closes a tool invocation.
type ToolUseEnd struct {
	ID string
}

// MessageStop ends the assistant message.
type MessageStop struct {
	Reason string
}

// ErrorEvent is an exception frame sent by the backend.
type ErrorEvent struct {
	Kind    string
	Message string
}

// Usage carries metering information.
type Usage struct {
	Credits float64
	// ContextPercent is the share of the model's context window in use.
	ContextPercent float64
}

// Unknown is a frame the decoder does not interpret.
type Unknown struct {
	Type    string
	Payload []byte
}

func (TextDelta) isEvent()         {}
func (ToolUseStart) isEvent()      {}
func (ToolUseInputDelta) isEvent() {}
func (ToolUseEnd) isEvent()        {}
func (MessageStop) isEvent()       {}
func (ErrorEvent) isEvent()        {}
func (Usage) isEvent()             {}
func (Unknown) isEvent()           {}

func (e ErrorEvent) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return e.Kind + ": " + e.Message
}

// Backend event type names.
const (
	EventAssistantResponse = "assistantResponseEvent"
	EventToolUse           = "toolUseEvent"
	EventMessageStop       = "messageStopEvent"
	EventMetering          = "meteringEvent"
	EventContextUsage      = "contextUsageEvent"
)

// Mapper turns frames into events. It remembers which tool-use ids have been
// opened so that repeated fragments of one invocation yield a single start.
// A Mapper belongs to one response.
type Mapper struct {
	open map[string]bool
}

// NewMapper returns an empty Mapper.
func NewMapper() *Mapper {
	return &Mapper{open: make(map[string]bool)}
}

// MapPayload maps an event payload that arrived outside a frame, such as an
// entry of an aggregated JSON response.
func (m *Mapper) MapPayload(eventType string, payload []byte) []Event {
	return m.Map(&Frame{
		Headers: Headers{StringHeader(HeaderEventType, eventType)},
		Payload: payload,
	})
}

// Map returns the events carried by f.
func (m *Mapper) Map(f *Frame) []Event {
	switch mt := f.MessageType(); mt {
	case "exception", "error":
		return []Event{exceptionEvent(f)}
	case "event":
	default:
		return []Event{Unknown{Type: mt, Payload: f.Payload}}
	}

	et := f.EventType()
	if !gjson.ValidBytes(f.Payload) {
		return []Event{Unknown{Type: et, Payload: f.Payload}}
	}
	root := gjson.ParseBytes(f.Payload)

	switch et {
	case EventAssistantResponse:
		node := nested(root, et)
		var out []Event
		if text := node.Get("content").String(); text != "" {
			out = append(out, TextDelta{Text: text})
		}
		for _, tu := range node.Get("toolUses").Array() {
			out = append(out, m.toolUse(tu, true)...)
		}
		return out
	case EventToolUse:
		return m.toolUse(nested(root, et), false)
	case EventMessageStop:
		return []Event{MessageStop{Reason: nested(root, et).Get("stopReason").String()}}
	case EventMetering:
		return []Event{Usage{Credits: nested(root, et).Get("usage").Float()}}
	case EventContextUsage:
		return []Event{Usage{ContextPercent: nested(root, et).Get("contextUsagePercentage").Float()}}
	default:
		return []Event{Unknown{Type: et, Payload: f.Payload}}
	}
}

// toolUse maps one tool-use record. complete marks records that carry the
// whole invocation at once.
func (m *Mapper) toolUse(tu gjson.Result, complete bool) []Event {
	id := tu.Get("toolUseId").String()
	if id == "" {
		return []Event{Unknown{Type: EventToolUse, Payload: []byte(tu.Raw)}}
	}

	var out []Event
	if !m.open[id] {
		m.open[id] = true
		out = append(out, ToolUseStart{ID: id, Name: tu.Get("name").String()})
	}

	switch input := tu.Get("input"); input.Type {
	case gjson.String:
		if s := input.String(); s != "" {
			out = append(out, ToolUseInputDelta{ID: id, Fragment: s})
		}
	case gjson.JSON:
		out = append(out, ToolUseInputDelta{ID: id, Fragment: input.Raw})
	}

	if complete || tu.Get("stop").Bool() {
		delete(m.open, id)
		out = append(out, ToolUseEnd{ID: id})
	}
	return out
}

func exceptionEvent(f *Frame) ErrorEvent {
	kind := f.Headers.String(HeaderExceptionType)
	if kind == "" {
		kind = f.Headers.String(HeaderErrorCode)
	}
	msg := f.Headers.String(HeaderErrorMessage)
	if gjson.ValidBytes(f.Payload) {
		root := gjson.ParseBytes(f.Payload)
		for _, key := range []string{"message", "Message"} {
			if v := root.Get(key); v.Exists() {
				msg = v.String()
				break
			}
		}
		if kind == "" {
			kind = root.Get("__type").String()
		}
	} else if msg == "" {
		msg = string(f.Payload)
	}
	return ErrorEvent{Kind: kind, Message: msg}
}

// nested returns root.<name> when the payload wraps its fields in an object
// named after the event, root otherwise.
func nested(root gjson.Result, name string) gjson.Result {
	if n := root.Get(name); n.IsObject() {
		return n
	}
	return root
}
