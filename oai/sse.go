package oai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SSEWriter writes server-sent events and flushes after each one.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter wraps w. Flushing happens when w implements http.Flusher.
func NewSSEWriter(w io.Writer) *SSEWriter {
	f, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: f}
}

// WriteData writes v as one data event.
func (s *SSEWriter) WriteData(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.writeRaw(data)
}

// WriteChunk writes a completion chunk.
func (s *SSEWriter) WriteChunk(c ChatCompletionChunk) error {
	return s.WriteData(c)
}

// WriteError writes an error envelope as a data event.
func (s *SSEWriter) WriteError(e ErrorResponse) error {
	return s.WriteData(e)
}

// Done writes the end-of-stream sentinel.
func (s *SSEWriter) Done() error {
	return s.writeRaw([]byte("[DONE]"))
}

func (s *SSEWriter) writeRaw(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
