package kiro

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Some model variants write tool invocations into the text stream as
//
//	[Called <name> with args: {<json>}]
//
// instead of sending tool-use events.
const markerOpen = "[Called"

var (
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyPattern   = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// segment is one ordered piece of scanner output: visible text or a call.
type segment struct {
	text string
	call *bracketCall
}

type bracketCall struct {
	name string
	args string
}

// bracketScanner finds markers in streamed text. Text that may still turn
// into a marker is held back until it is completed or ruled out.
type bracketScanner struct {
	buf  string
	held *heldMarker
}

// heldMarker is the parse state of an incomplete marker at the start of buf,
// so later pushes resume where the last one stopped.
type heldMarker struct {
	name      string
	jsonStart int
	jsonEnd   int
	scan      bracketScan
}

// bracketScan tracks bracket depth across calls to advance.
type bracketScan struct {
	pos      int
	depth    int
	inString bool
	escaped  bool
}

type matchState int

const (
	matchInvalid matchState = iota
	matchIncomplete
	matchComplete
)

// Push feeds a text delta and returns the segments that are now settled.
func (s *bracketScanner) Push(text string) []segment {
	s.buf += text
	var out []segment
	emit := func(t string) {
		if t == "" {
			return
		}
		if n := len(out); n > 0 && out[n-1].call == nil {
			out[n-1].text += t
			return
		}
		out = append(out, segment{text: t})
	}

	for s.buf != "" {
		i := strings.Index(s.buf, markerOpen)
		if i < 0 {
			hold := partialPrefixLen(s.buf, markerOpen)
			emit(s.buf[:len(s.buf)-hold])
			s.buf = s.buf[len(s.buf)-hold:]
			break
		}
		emit(s.buf[:i])
		s.buf = s.buf[i:]

		call, end, state := s.match()
		switch state {
		case matchIncomplete:
			return out
		case matchInvalid:
			emit(s.buf[:1])
			s.buf = s.buf[1:]
		case matchComplete:
			out = append(out, segment{call: call})
			s.buf = s.buf[end:]
		}
	}
	return out
}

// match parses the marker at the start of buf, resuming a held marker's
// argument scan instead of starting over.
func (s *bracketScanner) match() (*bracketCall, int, matchState) {
	if s.held == nil {
		name, jsonStart, st := matchHeader(s.buf)
		if st != matchComplete {
			return nil, 0, st
		}
		s.held = &heldMarker{
			name:      name,
			jsonStart: jsonStart,
			jsonEnd:   -1,
			scan:      bracketScan{pos: jsonStart + 1, depth: 1},
		}
	}
	h := s.held
	if h.jsonEnd < 0 {
		if h.jsonEnd = h.scan.advance(s.buf, '{', '}'); h.jsonEnd < 0 {
			return nil, 0, matchIncomplete
		}
	}
	call, end, st := matchTail(s.buf, h.name, h.jsonStart, h.jsonEnd)
	if st != matchIncomplete {
		s.held = nil
	}
	return call, end, st
}

// Flush returns any held text as plain text.
func (s *bracketScanner) Flush() string {
	t := s.buf
	s.buf = ""
	s.held = nil
	return t
}

// Pending reports whether text is being held.
func (s *bracketScanner) Pending() bool {
	return s.buf != ""
}

// partialPrefixLen returns the length of the longest suffix of s that is a
// proper prefix of marker.
func partialPrefixLen(s, marker string) int {
	for k := min(len(s), len(marker)-1); k > 0; k-- {
		if strings.HasSuffix(s, marker[:k]) {
			return k
		}
	}
	return 0
}

// matchHeader parses "[Called <name> with args:" at the start of s and
// returns the name and the offset of the opening brace.
func matchHeader(s string) (string, int, matchState) {
	pos := len(markerOpen)

	skipSpace := func(required bool) matchState {
		start := pos
		for pos < len(s) && isSpace(s[pos]) {
			pos++
		}
		switch {
		case pos == len(s):
			return matchIncomplete
		case required && pos == start:
			return matchInvalid
		}
		return matchComplete
	}
	literal := func(lit string) matchState {
		rest := s[pos:]
		if len(rest) < len(lit) {
			if strings.HasPrefix(lit, rest) {
				return matchIncomplete
			}
			return matchInvalid
		}
		if !strings.HasPrefix(rest, lit) {
			return matchInvalid
		}
		pos += len(lit)
		return matchComplete
	}

	if st := skipSpace(true); st != matchComplete {
		return "", 0, st
	}
	nameStart := pos
	for pos < len(s) && isNameByte(s[pos]) {
		pos++
	}
	if pos == len(s) {
		return "", 0, matchIncomplete
	}
	if pos == nameStart {
		return "", 0, matchInvalid
	}
	name := s[nameStart:pos]

	for _, step := range []func() matchState{
		func() matchState { return skipSpace(true) },
		func() matchState { return literal("with") },
		func() matchState { return skipSpace(true) },
		func() matchState { return literal("args:") },
		func() matchState { return skipSpace(false) },
	} {
		if st := step(); st != matchComplete {
			return "", 0, st
		}
	}

	if s[pos] != '{' {
		return "", 0, matchInvalid
	}
	return name, pos, matchComplete
}

// matchTail checks the closing bracket after the arguments s[jsonStart:jsonEnd+1].
func matchTail(s, name string, jsonStart, jsonEnd int) (*bracketCall, int, matchState) {
	pos := jsonEnd + 1
	for pos < len(s) && isSpace(s[pos]) {
		pos++
	}
	if pos == len(s) {
		return nil, 0, matchIncomplete
	}
	if s[pos] != ']' {
		return nil, 0, matchInvalid
	}

	args, ok := normalizeArguments(s[jsonStart : jsonEnd+1])
	if !ok {
		return nil, 0, matchInvalid
	}
	return &bracketCall{name: name, args: args}, pos + 1, matchComplete
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isNameByte(c byte) bool {
	return c == '_' || c == '-' || c == '.' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// findMatchingBracket returns the index of the bracket closing the one at
// start, skipping brackets inside JSON strings, or -1.
func findMatchingBracket(text string, start int) int {
	if start >= len(text) {
		return -1
	}
	open := text[start]
	var closing byte
	switch open {
	case '{':
		closing = '}'
	case '[':
		closing = ']'
	default:
		return -1
	}

	scan := bracketScan{pos: start + 1, depth: 1}
	return scan.advance(text, open, closing)
}

// advance scans text from b.pos and returns the index where depth reaches
// zero, or -1 with b positioned at the end of text.
func (b *bracketScan) advance(text string, open, closing byte) int {
	for ; b.pos < len(text); b.pos++ {
		c := text[b.pos]
		if b.escaped {
			b.escaped = false
			continue
		}
		if b.inString {
			switch c {
			case '\\':
				b.escaped = true
			case '"':
				b.inString = false
			}
			continue
		}
		switch c {
		case '"':
			b.inString = true
		case open:
			b.depth++
		case closing:
			b.depth--
			if b.depth == 0 {
				return b.pos
			}
		}
	}
	return -1
}

// repairJSON fixes trailing commas and bare object keys.
func repairJSON(raw string) string {
	repaired := trailingCommaPattern.ReplaceAllString(raw, "$1")
	return unquotedKeyPattern.ReplaceAllString(repaired, `$1"$2":`)
}

// normalizeArguments returns raw when it is valid JSON, its repaired form
// when only that is valid, and false otherwise.
func normalizeArguments(raw string) (string, bool) {
	if json.Valid([]byte(raw)) {
		return raw, true
	}
	if repaired := repairJSON(raw); json.Valid([]byte(repaired)) {
		return repaired, true
	}
	return "", false
}
