package core

import "time"

// RequestStartEvent is emitted before a provider call.
type RequestStartEvent struct {
	Provider string
	Model    ModelID
	Start    time.Time
}

// RequestEndEvent is emitted once a provider call completes, successfully or not.
type RequestEndEvent struct {
	Provider string
	Model    ModelID
	Start    time.Time
	End      time.Time
	Usage    TokenUsage
	Err      error
}

// Duration returns End - Start.
func (e RequestEndEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// TelemetryHook observes request lifecycle events.
// Implementations must be safe for concurrent use.
type TelemetryHook interface {
	OnRequestStart(e RequestStartEvent)
	OnRequestEnd(e RequestEndEvent)
}

// NoopTelemetryHook discards all events.
type NoopTelemetryHook struct{}

func (NoopTelemetryHook) OnRequestStart(RequestStartEvent) {}
func (NoopTelemetryHook) OnRequestEnd(RequestEndEvent)     {}

// DiagnosticLevel grades a Diagnostic.
type DiagnosticLevel int

const (
	LevelDebug DiagnosticLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l DiagnosticLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Diagnostic is a structured note emitted by transformation and transport code.
type Diagnostic struct {
	Level     DiagnosticLevel
	Component string
	Message   string
	Fields    map[string]any
}

// DiagnosticSink receives diagnostics. Implementations must be safe for
// concurrent use and must not block for long.
type DiagnosticSink interface {
	Diagnose(d Diagnostic)
}

// NoopDiagnostics discards all diagnostics.
type NoopDiagnostics struct{}

func (NoopDiagnostics) Diagnose(Diagnostic) {}

// DiagnosticFunc adapts a function to DiagnosticSink.
type DiagnosticFunc func(Diagnostic)

func (f DiagnosticFunc) Diagnose(d Diagnostic) { f(d) }
