package imap

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func readAll(t *testing.T, f *framer) []Line {
	t.Helper()
	var lines []Line
	for {
		line, err := f.ReadLine()
		if errors.Is(err, io.EOF) {
			return lines
		}
		if err != nil {
			t.Fatalf("read line: %v", err)
		}
		lines = append(lines, line)
	}
}

const fetchStream = "* 1 FETCH (UID 55 FLAGS (\\Seen) BODY[] {20}\r\n" +
	"Subject: a\r\n\r\nbody\r\n" +
	")\r\n" +
	"A003 OK Fetch completed\r\n"

func TestFramerLiteralSpansLines(t *testing.T) {
	lines := readAll(t, newFramer(strings.NewReader(fetchStream)))
	if len(lines) != 2 {
		t.Fatalf("expected 2 logical lines, got %d", len(lines))
	}

	fetch := lines[0]
	if fetch.Tag != "*" {
		t.Fatalf("unexpected tag %q", fetch.Tag)
	}
	if len(fetch.Segments) != 2 || len(fetch.Literals) != 1 {
		t.Fatalf("unexpected shape: %d segments, %d literals", len(fetch.Segments), len(fetch.Literals))
	}
	if string(fetch.Literals[0]) != "Subject: a\r\n\r\nbody\r\n" {
		t.Fatalf("unexpected literal %q", fetch.Literals[0])
	}
	if fetch.Segments[1] != ")" {
		t.Fatalf("unexpected trailing segment %q", fetch.Segments[1])
	}

	done := lines[1]
	if done.Tag != "A003" || done.Status() != "OK" || done.Info() != "Fetch completed" {
		t.Fatalf("unexpected completion: %+v", done)
	}
}

func TestFramerIgnoresFragmentation(t *testing.T) {
	whole := readAll(t, newFramer(strings.NewReader(fetchStream)))
	split := readAll(t, newFramer(iotest.OneByteReader(strings.NewReader(fetchStream))))
	if len(whole) != len(split) {
		t.Fatalf("fragmented read produced %d lines, want %d", len(split), len(whole))
	}
	for i := range whole {
		if whole[i].Text() != split[i].Text() {
			t.Fatalf("line %d differs: %q vs %q", i, whole[i].Text(), split[i].Text())
		}
	}
}

func TestFramerLiteralContainingMarker(t *testing.T) {
	body := "line ending with {999}\r\n"
	stream := "* 2 FETCH (BODY[] {24}\r\n" + body + " UID 3)\r\n"
	lines := readAll(t, newFramer(strings.NewReader(stream)))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if string(lines[0].Literals[0]) != body {
		t.Fatalf("unexpected literal %q", lines[0].Literals[0])
	}
}

func TestFramerNonSynchronizingMarker(t *testing.T) {
	stream := "* 1 FETCH (BODY[] {2+}\r\nhi)\r\n"
	lines := readAll(t, newFramer(strings.NewReader(stream)))
	if len(lines) != 1 || string(lines[0].Literals[0]) != "hi" {
		t.Fatalf("unexpected lines: %+v", lines)
	}
}

func TestFramerTruncatedLiteral(t *testing.T) {
	f := newFramer(strings.NewReader("* 1 FETCH (BODY[] {50}\r\nshort"))
	_, err := f.ReadLine()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestFramerTruncatedLine(t *testing.T) {
	f := newFramer(strings.NewReader("* OK no terminator"))
	_, err := f.ReadLine()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestFramerOversizedLiteral(t *testing.T) {
	f := newFramer(strings.NewReader("* 1 FETCH (BODY[] {999999999999}\r\n"))
	_, err := f.ReadLine()
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestFramerRejectsUntaggedLine(t *testing.T) {
	f := newFramer(strings.NewReader(" OK\r\n"))
	_, err := f.ReadLine()
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestLiteralMarker(t *testing.T) {
	tests := []struct {
		raw  string
		idx  int
		size int
		ok   bool
	}{
		{raw: "BODY[] {12}", idx: 7, size: 12, ok: true},
		{raw: "BODY[] {0}", idx: 7, size: 0, ok: true},
		{raw: "x {3+}", idx: 2, size: 3, ok: true},
		{raw: "plain text", ok: false},
		{raw: "brace {}", ok: false},
		{raw: "word {abc}", ok: false},
		{raw: "trailing }", ok: false},
	}
	for _, tt := range tests {
		idx, size, ok, err := literalMarker(tt.raw)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tt.raw, err)
		}
		if ok != tt.ok || (ok && (idx != tt.idx || size != tt.size)) {
			t.Fatalf("%q: got (%d, %d, %v), want (%d, %d, %v)", tt.raw, idx, size, ok, tt.idx, tt.size, tt.ok)
		}
	}
}
