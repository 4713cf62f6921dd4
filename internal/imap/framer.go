package imap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxLiteralSize caps a single literal so a hostile server cannot make us
// allocate without bound.
const maxLiteralSize = 64 << 20

// Line is one logical server response line. A literal sits between each pair
// of consecutive segments, so len(Literals) == len(Segments)-1.
type Line struct {
	Tag      string
	Segments []string
	Literals [][]byte
}

// Text renders the line with every literal replaced by its {N} marker.
func (l Line) Text() string {
	var b strings.Builder
	for i, seg := range l.Segments {
		b.WriteString(seg)
		if i < len(l.Literals) {
			b.WriteString("{")
			b.WriteString(strconv.Itoa(len(l.Literals[i])))
			b.WriteString("}")
		}
	}
	return b.String()
}

// Status returns the leading status atom of the line (OK, NO, BAD, BYE,
// PREAUTH) upper-cased, or "" when the line carries none.
func (l Line) Status() string {
	if len(l.Segments) == 0 {
		return ""
	}
	word, _, _ := strings.Cut(strings.TrimSpace(l.Segments[0]), " ")
	switch upper := strings.ToUpper(word); upper {
	case "OK", "NO", "BAD", "BYE", "PREAUTH":
		return upper
	}
	return ""
}

// Info is the human readable text after the status atom and optional
// response code.
func (l Line) Info() string {
	text := strings.TrimSpace(l.Text())
	_, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, "[") {
		if end := strings.Index(rest, "]"); end >= 0 {
			rest = strings.TrimSpace(rest[end+1:])
		}
	}
	return rest
}

type framerState int

const (
	awaitingTag framerState = iota
	awaitingLine
	awaitingLiteral
)

// framer turns a byte stream into logical response lines. It never scans a
// whole buffer: physical lines are consumed one at a time and literal bytes
// are read by exact count, so arbitrary fragmentation of the socket reads is
// irrelevant.
type framer struct {
	r *bufio.Reader
}

func newFramer(r io.Reader) *framer {
	if br, ok := r.(*bufio.Reader); ok {
		return &framer{r: br}
	}
	return &framer{r: bufio.NewReader(r)}
}

func (f *framer) ReadLine() (Line, error) {
	var (
		line    Line
		state   = awaitingTag
		pending int
	)

	for {
		switch state {
		case awaitingTag, awaitingLine:
			raw, err := f.readPhysical()
			if err != nil {
				return Line{}, err
			}
			if state == awaitingTag {
				tag, rest, _ := strings.Cut(raw, " ")
				if tag == "" {
					return Line{}, fmt.Errorf("%w: response line without tag: %q", ErrProtocol, raw)
				}
				line.Tag = tag
				raw = rest
			}
			idx, size, ok, err := literalMarker(raw)
			if err != nil {
				return Line{}, err
			}
			if !ok {
				line.Segments = append(line.Segments, raw)
				return line, nil
			}
			line.Segments = append(line.Segments, raw[:idx])
			pending = size
			state = awaitingLiteral

		case awaitingLiteral:
			data := make([]byte, pending)
			if _, err := io.ReadFull(f.r, data); err != nil {
				return Line{}, fmt.Errorf("read literal of %d bytes: %w", pending, unexpectedEOF(err))
			}
			line.Literals = append(line.Literals, data)
			state = awaitingLine
		}
	}
}

// readPhysical reads up to and including LF and strips the line terminator.
func (f *framer) readPhysical() (string, error) {
	raw, err := f.r.ReadString('\n')
	if err != nil {
		if raw != "" {
			return "", fmt.Errorf("read line: %w", unexpectedEOF(err))
		}
		return "", err
	}
	raw = strings.TrimSuffix(raw, "\n")
	raw = strings.TrimSuffix(raw, "\r")
	return raw, nil
}

// literalMarker reports whether raw ends with {N} or {N+} and returns the
// marker offset and N.
func literalMarker(raw string) (int, int, bool, error) {
	if !strings.HasSuffix(raw, "}") {
		return 0, 0, false, nil
	}
	open := strings.LastIndexByte(raw, '{')
	if open < 0 {
		return 0, 0, false, nil
	}
	digits := strings.TrimSuffix(raw[open+1:len(raw)-1], "+")
	if digits == "" {
		return 0, 0, false, nil
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, 0, false, nil
		}
	}
	size, err := strconv.Atoi(digits)
	if err != nil || size > maxLiteralSize {
		return 0, 0, false, fmt.Errorf("%w: literal size %s exceeds limit", ErrProtocol, digits)
	}
	return open, size, true, nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
