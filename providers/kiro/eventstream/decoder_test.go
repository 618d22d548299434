package eventstream

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"
	"testing/iotest"
)

func encodeStream(t *testing.T, write func(e *Encoder)) []byte {
	t.Helper()
	var buf bytes.Buffer
	write(NewEncoder(&buf))
	return buf.Bytes()
}

func collect(t *testing.T, d *Decoder) ([]Event, error) {
	t.Helper()
	var events []Event
	for {
		ev, err := d.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func mustWrite(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func sampleStream(t *testing.T) []byte {
	return encodeStream(t, func(e *Encoder) {
		mustWrite(t, e.WriteEvent(EventAssistantResponse, map[string]any{"content": "Hel"}))
		mustWrite(t, e.WriteEvent(EventAssistantResponse, map[string]any{"content": "lo"}))
		mustWrite(t, e.WriteEvent(EventToolUse, map[string]any{"toolUseId": "t1", "name": "get_weather", "input": `{"city":`}))
		mustWrite(t, e.WriteEvent(EventToolUse, map[string]any{"toolUseId": "t1", "name": "get_weather", "input": `"Paris"}`}))
		mustWrite(t, e.WriteEvent(EventToolUse, map[string]any{"toolUseId": "t1", "name": "get_weather", "stop": true}))
		mustWrite(t, e.WriteEvent(EventMetering, map[string]any{"unit": "credit", "usage": 0.25}))
		mustWrite(t, e.WriteEvent("supplementaryWebLinksEvent", map[string]any{"links": []string{}}))
	})
}

func TestDecoderEvents(t *testing.T) {
	events, err := collect(t, NewDecoder(bytes.NewReader(sampleStream(t))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Event{
		TextDelta{Text: "Hel"},
		TextDelta{Text: "lo"},
		ToolUseStart{ID: "t1", Name: "get_weather"},
		ToolUseInputDelta{ID: "t1", Fragment: `{"city":`},
		ToolUseInputDelta{ID: "t1", Fragment: `"Paris"}`},
		ToolUseEnd{ID: "t1"},
		Usage{Credits: 0.25},
	}
	if len(events) != len(want)+1 {
		t.Fatalf("got %d events, want %d: %#v", len(events), len(want)+1, events)
	}
	for i, w := range want {
		if !reflect.DeepEqual(events[i], w) {
			t.Errorf("events[%d] = %#v, want %#v", i, events[i], w)
		}
	}
	if u, ok := events[len(want)].(Unknown); !ok || u.Type != "supplementaryWebLinksEvent" {
		t.Errorf("last event = %#v, want Unknown supplementaryWebLinksEvent", events[len(want)])
	}
}

func TestDecoderSplitReads(t *testing.T) {
	raw := sampleStream(t)
	whole, err := collect(t, NewDecoder(bytes.NewReader(raw)))
	if err != nil {
		t.Fatal(err)
	}

	readers := map[string]io.Reader{
		"one byte": iotest.OneByteReader(bytes.NewReader(raw)),
		"half":     iotest.HalfReader(bytes.NewReader(raw)),
		"data err": iotest.DataErrReader(bytes.NewReader(raw)),
	}
	for name, r := range readers {
		t.Run(name, func(t *testing.T) {
			got, err := collect(t, NewDecoder(r))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, whole) {
				t.Errorf("split decode differs:\n got %#v\nwant %#v", got, whole)
			}
		})
	}
}

func TestDecoderChecksumMismatch(t *testing.T) {
	raw := sampleStream(t)

	// Corrupt a header byte of the first frame.
	corrupt := bytes.Clone(raw)
	corrupt[40] ^= 0xFF

	d := NewDecoder(bytes.NewReader(corrupt))
	_, err := d.Next()
	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want *IntegrityError", err)
	}
	if !errors.Is(err, ErrIntegrity) {
		t.Error("IntegrityError should match ErrIntegrity")
	}
	if ie.Offset != 0 {
		t.Errorf("Offset = %d, want 0", ie.Offset)
	}

	// The error is sticky.
	if _, err2 := d.Next(); err2 != err {
		t.Errorf("second Next() = %v, want the same error", err2)
	}
}

func TestDecoderPreludeChecksum(t *testing.T) {
	raw := sampleStream(t)
	corrupt := bytes.Clone(raw)
	corrupt[9] ^= 0x01

	_, err := NewDecoder(bytes.NewReader(corrupt)).Next()
	var ie *IntegrityError
	if !errors.As(err, &ie) || ie.Reason != "prelude checksum mismatch" {
		t.Fatalf("err = %v, want prelude checksum mismatch", err)
	}
}

func TestDecoderTruncated(t *testing.T) {
	raw := sampleStream(t)
	first, err := MarshalFrame(Headers{StringHeader(HeaderEventType, EventAssistantResponse)}, []byte(`{"content":"x"}`))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"inside prelude", raw[:5]},
		{"inside body", raw[:20]},
		{"after a full frame", append(bytes.Clone(first), raw[:len(raw)-3]...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := collect(t, NewDecoder(bytes.NewReader(tt.data)))
			if !errors.Is(err, ErrIntegrity) {
				t.Fatalf("err = %v, want ErrIntegrity", err)
			}
		})
	}
}

func TestDecoderEmptyStream(t *testing.T) {
	ev, err := NewDecoder(bytes.NewReader(nil)).Next()
	if err != io.EOF || ev != nil {
		t.Fatalf("Next() = %v, %v; want nil, io.EOF", ev, err)
	}
}

func TestDecoderReadErrorPassesThrough(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := NewDecoder(iotest.ErrReader(boom)).Next()
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if errors.Is(err, ErrIntegrity) {
		t.Error("transport errors are not integrity errors")
	}
}

func TestDecoderException(t *testing.T) {
	raw := encodeStream(t, func(e *Encoder) {
		mustWrite(t, e.WriteEvent(EventAssistantResponse, map[string]any{"content": "partial"}))
		mustWrite(t, e.WriteException("ThrottlingException", "Too many requests"))
	})

	events, err := collect(t, NewDecoder(bytes.NewReader(raw)))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	want := ErrorEvent{Kind: "ThrottlingException", Message: "Too many requests"}
	if events[1] != want {
		t.Errorf("events[1] = %#v, want %#v", events[1], want)
	}
}

func TestDecoderNestedAndObjectInput(t *testing.T) {
	raw := encodeStream(t, func(e *Encoder) {
		mustWrite(t, e.WriteEvent(EventAssistantResponse, map[string]any{
			"assistantResponseEvent": map[string]any{"content": "wrapped"},
		}))
		mustWrite(t, e.WriteEvent(EventToolUse, map[string]any{
			"toolUseId": "t2", "name": "ls", "input": map[string]any{"path": "/tmp"}, "stop": true,
		}))
		mustWrite(t, e.WriteEvent(EventContextUsage, map[string]any{"contextUsagePercentage": 12.5}))
		mustWrite(t, e.WriteEvent(EventMessageStop, map[string]any{"stopReason": "end_turn"}))
	})

	events, err := collect(t, NewDecoder(bytes.NewReader(raw)))
	if err != nil {
		t.Fatal(err)
	}
	want := []Event{
		TextDelta{Text: "wrapped"},
		ToolUseStart{ID: "t2", Name: "ls"},
		ToolUseInputDelta{ID: "t2", Fragment: `{"path":"/tmp"}`},
		ToolUseEnd{ID: "t2"},
		Usage{ContextPercent: 12.5},
		MessageStop{Reason: "end_turn"},
	}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("events = %#v\nwant %#v", events, want)
	}
}

func TestDecoderMalformedPayloadIsUnknown(t *testing.T) {
	raw := encodeStream(t, func(e *Encoder) {
		mustWrite(t, e.WriteFrame(Headers{
			StringHeader(HeaderMessageType, "event"),
			StringHeader(HeaderEventType, EventAssistantResponse),
		}, []byte("{not json")))
	})
	events, err := collect(t, NewDecoder(bytes.NewReader(raw)))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if _, ok := events[0].(Unknown); !ok {
		t.Errorf("events[0] = %#v, want Unknown", events[0])
	}
}

func TestDecoderAll(t *testing.T) {
	var n int
	for ev, err := range NewDecoder(bytes.NewReader(sampleStream(t))).All() {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ev == nil {
			t.Fatal("nil event")
		}
		n++
	}
	if n != 8 {
		t.Errorf("iterated %d events, want 8", n)
	}
}

func TestHeaderTypesRoundTrip(t *testing.T) {
	hs := Headers{
		{Name: "flag", Type: HeaderBoolTrue},
		{Name: "b", Type: HeaderByte, Value: []byte{7}},
		{Name: "i16", Type: HeaderInt16, Value: []byte{0, 1}},
		{Name: "i32", Type: HeaderInt32, Value: []byte{0, 0, 0, 1}},
		{Name: "i64", Type: HeaderInt64, Value: make([]byte, 8)},
		{Name: "raw", Type: HeaderBytes, Value: []byte("xyz")},
		{Name: "ts", Type: HeaderTimestamp, Value: make([]byte, 8)},
		{Name: "id", Type: HeaderUUID, Value: make([]byte, 16)},
		StringHeader(HeaderEventType, "customEvent"),
	}
	raw, err := MarshalFrame(hs, []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	f, err := NewDecoder(bytes.NewReader(raw)).ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if f.EventType() != "customEvent" {
		t.Errorf("EventType() = %q", f.EventType())
	}
	if got := f.Headers.String("raw"); got != "xyz" {
		t.Errorf("raw header = %q", got)
	}
	if len(f.Headers) != len(hs) {
		t.Errorf("decoded %d headers, want %d", len(f.Headers), len(hs))
	}
}

func TestMarshalFrameRejectsBadHeader(t *testing.T) {
	_, err := MarshalFrame(Headers{{Name: "n", Type: HeaderInt32, Value: []byte{1}}}, nil)
	if err == nil {
		t.Fatal("expected error for short int32 value")
	}
}
