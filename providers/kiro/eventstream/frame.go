// Package eventstream decodes the binary event stream returned by the Kiro
// backend into typed events.
//
// A frame is laid out as
//
//	total length    uint32 big endian
//	headers length  uint32 big endian
//	prelude CRC     uint32, CRC32 (IEEE) of the first 8 bytes
//	headers         headers length bytes
//	payload         JSON
//	message CRC     uint32, CRC32 (IEEE) of every preceding byte
package eventstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	preludeLen = 12
	crcLen     = 4
	// MinFrameLen is the size of a frame with no headers and no payload.
	MinFrameLen = preludeLen + crcLen
	// MaxFrameLen bounds a single frame.
	MaxFrameLen = 10 << 20
)

// ErrIntegrity is matched by every *IntegrityError.
var ErrIntegrity = errors.New("eventstream: frame integrity")

// IntegrityError reports a corrupt, oversized or truncated frame.
type IntegrityError struct {
	// Offset is the stream offset of the frame that failed.
	Offset int64
	Reason string
	Err    error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("eventstream: %s at offset %d: %v", e.Reason, e.Offset, e.Err)
	}
	return fmt.Sprintf("eventstream: %s at offset %d", e.Reason, e.Offset)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// HeaderType is the wire type tag of a header value.
type HeaderType uint8

const (
	HeaderBoolTrue HeaderType = iota
	HeaderBoolFalse
	HeaderByte
	HeaderInt16
	HeaderInt32
	HeaderInt64
	HeaderBytes
	HeaderString
	HeaderTimestamp
	HeaderUUID
)

// fixed value sizes; -1 means a uint16 length prefix follows the type.
var headerValueLen = [...]int{
	HeaderBoolTrue:  0,
	HeaderBoolFalse: 0,
	HeaderByte:      1,
	HeaderInt16:     2,
	HeaderInt32:     4,
	HeaderInt64:     8,
	HeaderBytes:     -1,
	HeaderString:    -1,
	HeaderTimestamp: 8,
	HeaderUUID:      16,
}

// Header is a single frame header. Value holds the raw value bytes without
// any length prefix.
type Header struct {
	Name  string
	Type  HeaderType
	Value []byte
}

// Headers is the ordered header block of a frame.
type Headers []Header

// Get returns the first header named name.
func (h Headers) Get(name string) (Header, bool) {
	for _, hd := range h {
		if hd.Name == name {
			return hd, true
		}
	}
	return Header{}, false
}

// String returns the value of a string or bytes header, or "" when absent.
func (h Headers) String(name string) string {
	hd, ok := h.Get(name)
	if !ok || (hd.Type != HeaderString && hd.Type != HeaderBytes) {
		return ""
	}
	return string(hd.Value)
}

// StringHeader builds a string-typed header.
func StringHeader(name, value string) Header {
	return Header{Name: name, Type: HeaderString, Value: []byte(value)}
}

// Well known header names.
const (
	HeaderMessageType   = ":message-type"
	HeaderEventType     = ":event-type"
	HeaderContentType   = ":content-type"
	HeaderExceptionType = ":exception-type"
	HeaderErrorCode     = ":error-code"
	HeaderErrorMessage  = ":error-message"
)

// Frame is one decoded message.
type Frame struct {
	Headers Headers
	Payload []byte
}

// MessageType returns the :message-type header, defaulting to "event".
func (f *Frame) MessageType() string {
	if mt := f.Headers.String(HeaderMessageType); mt != "" {
		return mt
	}
	return "event"
}

// EventType returns the :event-type header.
func (f *Frame) EventType() string {
	return f.Headers.String(HeaderEventType)
}

func parseHeaders(b []byte) (Headers, error) {
	var hs Headers
	for off := 0; off < len(b); {
		nameLen := int(b[off])
		off++
		if nameLen == 0 || off+nameLen > len(b) {
			return nil, errors.New("header name overruns block")
		}
		name := string(b[off : off+nameLen])
		off += nameLen
		if off >= len(b) {
			return nil, fmt.Errorf("header %q missing type", name)
		}
		typ := HeaderType(b[off])
		off++
		if int(typ) >= len(headerValueLen) {
			return nil, fmt.Errorf("header %q has unknown type %d", name, typ)
		}
		n := headerValueLen[typ]
		if n < 0 {
			if off+2 > len(b) {
				return nil, fmt.Errorf("header %q missing value length", name)
			}
			n = int(binary.BigEndian.Uint16(b[off : off+2]))
			off += 2
		}
		if off+n > len(b) {
			return nil, fmt.Errorf("header %q value overruns block", name)
		}
		hs = append(hs, Header{Name: name, Type: typ, Value: b[off : off+n]})
		off += n
	}
	return hs, nil
}

func appendHeaders(dst []byte, hs Headers) ([]byte, error) {
	for _, h := range hs {
		if len(h.Name) == 0 || len(h.Name) > 255 {
			return nil, fmt.Errorf("eventstream: invalid header name %q", h.Name)
		}
		if int(h.Type) >= len(headerValueLen) {
			return nil, fmt.Errorf("eventstream: header %q has unknown type %d", h.Name, h.Type)
		}
		dst = append(dst, byte(len(h.Name)))
		dst = append(dst, h.Name...)
		dst = append(dst, byte(h.Type))
		switch n := headerValueLen[h.Type]; {
		case n < 0:
			if len(h.Value) > 0xFFFF {
				return nil, fmt.Errorf("eventstream: header %q value too long", h.Name)
			}
			dst = binary.BigEndian.AppendUint16(dst, uint16(len(h.Value)))
		case n != len(h.Value):
			return nil, fmt.Errorf("eventstream: header %q wants %d value bytes, got %d", h.Name, n, len(h.Value))
		}
		dst = append(dst, h.Value...)
	}
	return dst, nil
}

// MarshalFrame encodes headers and payload as one frame with valid checksums.
func MarshalFrame(hs Headers, payload []byte) ([]byte, error) {
	hb, err := appendHeaders(nil, hs)
	if err != nil {
		return nil, err
	}
	total := preludeLen + len(hb) + len(payload) + crcLen
	if total > MaxFrameLen {
		return nil, fmt.Errorf("eventstream: frame of %d bytes exceeds limit", total)
	}
	buf := make([]byte, 0, total)
	buf = binary.BigEndian.AppendUint32(buf, uint32(total))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(hb)))
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf[:8]))
	buf = append(buf, hb...)
	buf = append(buf, payload...)
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	return buf, nil
}
