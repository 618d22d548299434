package eventstream

import (
	"encoding/json"
	"io"
)

// Encoder writes frames. It is used to build fixtures and to replay
// captured streams.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteFrame writes one frame.
func (e *Encoder) WriteFrame(hs Headers, payload []byte) error {
	b, err := MarshalFrame(hs, payload)
	if err != nil {
		return err
	}
	_, err = e.w.Write(b)
	return err
}

// WriteEvent writes an event frame whose payload is v encoded as JSON.
func (e *Encoder) WriteEvent(eventType string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.WriteFrame(Headers{
		StringHeader(HeaderMessageType, "event"),
		StringHeader(HeaderEventType, eventType),
		StringHeader(HeaderContentType, "application/json"),
	}, payload)
}

// WriteException writes an exception frame.
func (e *Encoder) WriteException(kind, message string) error {
	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return err
	}
	return e.WriteFrame(Headers{
		StringHeader(HeaderMessageType, "exception"),
		StringHeader(HeaderExceptionType, kind),
		StringHeader(HeaderContentType, "application/json"),
	}, payload)
}
