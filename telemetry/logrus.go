// Package telemetry adapts the gateway's telemetry and diagnostic hooks to logrus.
package telemetry

import (
	"github.com/sirupsen/logrus"

	"github.com/erikhoward/kirogw/core"
)

// Logrus writes request events and diagnostics to a logrus logger.
// It implements core.TelemetryHook and core.DiagnosticSink.
type Logrus struct {
	log logrus.FieldLogger
}

// NewLogrus returns a hook logging to log, or to the standard logger when
// log is nil.
func NewLogrus(log logrus.FieldLogger) *Logrus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Logrus{log: log}
}

func (l *Logrus) OnRequestStart(e core.RequestStartEvent) {
	l.log.WithFields(logrus.Fields{
		"provider": e.Provider,
		"model":    e.Model,
	}).Debug("request started")
}

func (l *Logrus) OnRequestEnd(e core.RequestEndEvent) {
	entry := l.log.WithFields(logrus.Fields{
		"provider":          e.Provider,
		"model":             e.Model,
		"duration":          e.Duration(),
		"prompt_tokens":     e.Usage.PromptTokens,
		"completion_tokens": e.Usage.CompletionTokens,
	})
	if e.Err != nil {
		entry.WithError(e.Err).Warn("request failed")
		return
	}
	entry.Info("request completed")
}

func (l *Logrus) Diagnose(d core.Diagnostic) {
	fields := make(logrus.Fields, len(d.Fields)+1)
	for k, v := range d.Fields {
		fields[k] = v
	}
	fields["component"] = d.Component
	entry := l.log.WithFields(fields)

	switch d.Level {
	case core.LevelDebug:
		entry.Debug(d.Message)
	case core.LevelInfo:
		entry.Info(d.Message)
	case core.LevelWarn:
		entry.Warn(d.Message)
	default:
		entry.Error(d.Message)
	}
}

// ParseLevel parses a log level name, defaulting to info on an empty string.
func ParseLevel(name string) (logrus.Level, error) {
	if name == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(name)
}

// NewLogger builds a logger with the given level and format ("text" or "json").
func NewLogger(level, format string) (*logrus.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetLevel(lvl)
	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

var (
	_ core.TelemetryHook  = (*Logrus)(nil)
	_ core.DiagnosticSink = (*Logrus)(nil)
)
