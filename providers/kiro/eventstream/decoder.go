package eventstream

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"iter"
)

// Decoder reads frames from a byte stream and yields events.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	r       *bufio.Reader
	m       *Mapper
	offset  int64
	pending []Event
	err     error
}

// NewDecoder returns a Decoder reading from r. Reads of any size are
// accepted; a frame split across reads is reassembled.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r: bufio.NewReaderSize(r, 32<<10),
		m: NewMapper(),
	}
}

// ReadFrame reads and verifies the next frame. It returns io.EOF when the
// stream ends on a frame boundary and an *IntegrityError when a frame is
// corrupt or the stream ends inside one. Other read errors are returned as is.
func (d *Decoder) ReadFrame() (*Frame, error) {
	if d.err != nil {
		return nil, d.err
	}
	f, err := d.readFrame()
	if err != nil {
		d.err = err
		return nil, err
	}
	return f, nil
}

func (d *Decoder) readFrame() (*Frame, error) {
	start := d.offset

	var prelude [preludeLen]byte
	n, err := io.ReadFull(d.r, prelude[:])
	d.offset += int64(n)
	switch {
	case err == io.EOF:
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, &IntegrityError{Offset: start, Reason: "truncated prelude", Err: err}
	case err != nil:
		return nil, err
	}

	total := binary.BigEndian.Uint32(prelude[0:4])
	headersLen := binary.BigEndian.Uint32(prelude[4:8])
	if got, want := crc32.ChecksumIEEE(prelude[:8]), binary.BigEndian.Uint32(prelude[8:12]); got != want {
		return nil, &IntegrityError{Offset: start, Reason: "prelude checksum mismatch"}
	}
	if total < MinFrameLen || total > MaxFrameLen {
		return nil, &IntegrityError{Offset: start, Reason: "invalid frame length"}
	}
	if headersLen > total-MinFrameLen {
		return nil, &IntegrityError{Offset: start, Reason: "headers overrun frame"}
	}

	buf := make([]byte, total)
	copy(buf, prelude[:])
	n, err = io.ReadFull(d.r, buf[preludeLen:])
	d.offset += int64(n)
	if err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &IntegrityError{Offset: start, Reason: "truncated frame", Err: io.ErrUnexpectedEOF}
		}
		return nil, err
	}

	body := buf[:total-crcLen]
	if got, want := crc32.ChecksumIEEE(body), binary.BigEndian.Uint32(buf[total-crcLen:]); got != want {
		return nil, &IntegrityError{Offset: start, Reason: "message checksum mismatch"}
	}

	headerEnd := preludeLen + headersLen
	hs, err := parseHeaders(buf[preludeLen:headerEnd])
	if err != nil {
		return nil, &IntegrityError{Offset: start, Reason: "malformed headers", Err: err}
	}
	return &Frame{Headers: hs, Payload: buf[headerEnd : total-crcLen]}, nil
}

// Next returns the next event. It returns io.EOF after the last event of a
// cleanly terminated stream. Once an error is returned every later call
// returns the same error.
func (d *Decoder) Next() (Event, error) {
	for len(d.pending) == 0 {
		f, err := d.ReadFrame()
		if err != nil {
			return nil, err
		}
		d.pending = d.m.Map(f)
	}
	ev := d.pending[0]
	d.pending = d.pending[1:]
	return ev, nil
}

// All returns an iterator over the remaining events. Iteration stops after
// the first error, which is yielded with a nil event; a clean end of stream
// yields no error.
func (d *Decoder) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := d.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Offset returns the number of bytes consumed so far.
func (d *Decoder) Offset() int64 {
	return d.offset
}
