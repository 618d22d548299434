package kiro

import (
	"strings"
	"testing"
)

// scanAll pushes every piece and flushes, joining adjacent text.
func scanAll(pieces ...string) []segment {
	var s bracketScanner
	var out []segment
	add := func(seg segment) {
		if n := len(out); n > 0 && seg.call == nil && out[n-1].call == nil {
			out[n-1].text += seg.text
			return
		}
		out = append(out, seg)
	}
	for _, p := range pieces {
		for _, seg := range s.Push(p) {
			add(seg)
		}
	}
	if rest := s.Flush(); rest != "" {
		add(segment{text: rest})
	}
	return out
}

func TestBracketScanner(t *testing.T) {
	tests := []struct {
		name   string
		pieces []string
		want   []segment
	}{
		{
			name:   "plain text",
			pieces: []string{"hello ", "world"},
			want:   []segment{{text: "hello world"}},
		},
		{
			name:   "single marker",
			pieces: []string{`Sure. [Called get_weather with args: {"city":"Oslo"}] Done.`},
			want: []segment{
				{text: "Sure. "},
				{call: &bracketCall{name: "get_weather", args: `{"city":"Oslo"}`}},
				{text: " Done."},
			},
		},
		{
			name:   "marker split across deltas",
			pieces: []string{"a [Cal", "led f with ar", `gs: {"x":`, `1}`, "] b"},
			want: []segment{
				{text: "a "},
				{call: &bracketCall{name: "f", args: `{"x":1}`}},
				{text: " b"},
			},
		},
		{
			name:   "brackets inside strings",
			pieces: []string{`[Called echo with args: {"s":"a]}b[{"}]`},
			want:   []segment{{call: &bracketCall{name: "echo", args: `{"s":"a]}b[{"}`}}},
		},
		{
			name:   "repaired arguments",
			pieces: []string{`[Called f with args: {a: 1,}]`},
			want:   []segment{{call: &bracketCall{name: "f", args: `{"a": 1}`}}},
		},
		{
			name:   "two markers",
			pieces: []string{`[Called a with args: {}][Called b with args: {}]`},
			want: []segment{
				{call: &bracketCall{name: "a", args: `{}`}},
				{call: &bracketCall{name: "b", args: `{}`}},
			},
		},
		{
			name:   "not a marker",
			pieces: []string{"[Calledx] and [Called"},
			want:   []segment{{text: "[Calledx] and [Called"}},
		},
		{
			name:   "unrepairable arguments stay visible",
			pieces: []string{`[Called f with args: {nope nope}]`},
			want:   []segment{{text: `[Called f with args: {nope nope}]`}},
		},
		{
			name:   "unterminated marker flushed as text",
			pieces: []string{`x [Called f with args: {"a":`},
			want:   []segment{{text: `x [Called f with args: {"a":`}},
		},
		{
			name:   "lone bracket",
			pieces: []string{"see [1] and [", "2]"},
			want:   []segment{{text: "see [1] and [2]"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scanAll(tt.pieces...)
			if len(got) != len(tt.want) {
				t.Fatalf("segments = %s, want %s", dump(got), dump(tt.want))
			}
			for i := range got {
				if !sameSegment(got[i], tt.want[i]) {
					t.Errorf("segment %d = %s, want %s", i, dump(got[i:i+1]), dump(tt.want[i:i+1]))
				}
			}
		})
	}
}

func TestBracketScannerByteByByte(t *testing.T) {
	text := `before [Called lookup with args: {"q":"x]y"}] after`
	pieces := strings.Split(text, "")
	got := scanAll(pieces...)
	want := []segment{
		{text: "before "},
		{call: &bracketCall{name: "lookup", args: `{"q":"x]y"}`}},
		{text: " after"},
	}
	if len(got) != len(want) {
		t.Fatalf("segments = %s", dump(got))
	}
	for i := range got {
		if !sameSegment(got[i], want[i]) {
			t.Errorf("segment %d = %s", i, dump(got[i:i+1]))
		}
	}
}

func TestBracketScannerResumesHeldMarker(t *testing.T) {
	var s bracketScanner
	if segs := s.Push(`[Called write with args: {"body":"`); len(segs) != 0 {
		t.Fatalf("Push() = %s", dump(segs))
	}
	if s.held == nil {
		t.Fatal("open arguments should be held")
	}

	chunk := strings.Repeat(`{\"k\":[1]} `, 8)
	for range 500 {
		if segs := s.Push(chunk); len(segs) != 0 {
			t.Fatalf("Push() = %s", dump(segs))
		}
		if s.held.scan.pos != len(s.buf) {
			t.Fatalf("scan offset = %d, want %d", s.held.scan.pos, len(s.buf))
		}
	}

	segs := s.Push(`"} ] done`)
	if len(segs) != 2 || segs[0].call == nil || segs[1].text != " done" {
		t.Fatalf("Push() = %s", dump(segs))
	}
	want := `{"body":"` + strings.Repeat(chunk, 500) + `"}`
	if segs[0].call.name != "write" || segs[0].call.args != want {
		t.Errorf("call = %s(%d bytes), want write(%d bytes)", segs[0].call.name, len(segs[0].call.args), len(want))
	}
	if s.held != nil || s.Pending() {
		t.Error("completed marker should release the scanner")
	}
}

func TestBracketScannerHoldsPartialMarker(t *testing.T) {
	var s bracketScanner
	segs := s.Push("text [Ca")
	if len(segs) != 1 || segs[0].text != "text " {
		t.Fatalf("Push() = %s", dump(segs))
	}
	if !s.Pending() {
		t.Error("partial marker should be held")
	}
	if got := s.Flush(); got != "[Ca" {
		t.Errorf("Flush() = %q, want %q", got, "[Ca")
	}
	if s.Pending() {
		t.Error("Flush should empty the buffer")
	}
}

func TestFindMatchingBracket(t *testing.T) {
	tests := []struct {
		text  string
		start int
		want  int
	}{
		{`{}`, 0, 1},
		{`{"a":{"b":1}}`, 0, 12},
		{`{"a":"}"}`, 0, 8},
		{`{"a":"\"}"}`, 0, 10},
		{`[1,[2]]`, 0, 6},
		{`{"a":1`, 0, -1},
		{`x`, 0, -1},
		{`{}`, 5, -1},
	}
	for _, tt := range tests {
		if got := findMatchingBracket(tt.text, tt.start); got != tt.want {
			t.Errorf("findMatchingBracket(%q, %d) = %d, want %d", tt.text, tt.start, got, tt.want)
		}
	}
}

func TestNormalizeArguments(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{`{"a":1,}`, `{"a":1}`, true},
		{`{a:1, b:[1,2,]}`, `{"a":1, "b":[1,2]}`, true},
		{`{`, "", false},
	}
	for _, tt := range tests {
		got, ok := normalizeArguments(tt.raw)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("normalizeArguments(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func sameSegment(a, b segment) bool {
	if (a.call == nil) != (b.call == nil) {
		return false
	}
	if a.call != nil {
		return a.call.name == b.call.name && a.call.args == b.call.args
	}
	return a.text == b.text
}

func dump(segs []segment) string {
	var b strings.Builder
	for _, s := range segs {
		if s.call != nil {
			b.WriteString("call(" + s.call.name + "," + s.call.args + ")")
		} else {
			b.WriteString("text(" + s.text + ")")
		}
	}
	return b.String()
}
