package imap

import (
	"fmt"
	"strconv"
	"strings"
)

// Response is everything the server sent for one tagged command.
type Response struct {
	Tag        string
	Untagged   []Line
	Completion Line
}

func (r Response) Status() string {
	return r.Completion.Status()
}

func (r Response) err(command string) error {
	if r.Status() == "OK" {
		return nil
	}
	return &CommandError{Command: command, Status: r.Status(), Info: r.Completion.Info()}
}

// LoginAccepted reports whether the tagged completion for tag carries OK.
func LoginAccepted(tag string, lines []Line) bool {
	for _, line := range lines {
		if line.Tag == tag && line.Status() == "OK" {
			return true
		}
	}
	return false
}

// MessageCount extracts N from the last untagged "N EXISTS" line, or 0 when
// there is none.
func MessageCount(lines []Line) uint32 {
	var count uint32
	for _, line := range lines {
		if line.Tag != "*" || len(line.Literals) > 0 {
			continue
		}
		fields := strings.Fields(line.Text())
		if len(fields) != 2 || !strings.EqualFold(fields[1], "EXISTS") {
			continue
		}
		n, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		count = uint32(n)
	}
	return count
}

type tokenKind int

const (
	tokenAtom tokenKind = iota
	tokenString
	tokenLiteral
	tokenList
	tokenNil
)

type token struct {
	kind tokenKind
	text string
	data []byte
	list []token
}

// scanner walks the segments and literals of a Line as one token stream.
type scanner struct {
	line Line
	seg  int
	pos  int
}

func (s *scanner) current() string {
	return s.line.Segments[s.seg]
}

func (s *scanner) skipSpace() {
	if s.seg >= len(s.line.Segments) {
		return
	}
	cur := s.current()
	for s.pos < len(cur) && cur[s.pos] == ' ' {
		s.pos++
	}
}

// atSegmentEnd reports whether the cursor reached the end of the current
// segment, which means either a literal or the end of the line follows.
func (s *scanner) atSegmentEnd() bool {
	return s.seg >= len(s.line.Segments) || s.pos >= len(s.current())
}

func (s *scanner) peek() (byte, bool) {
	if s.atSegmentEnd() {
		return 0, false
	}
	return s.current()[s.pos], true
}

func (s *scanner) next() (token, bool, error) {
	s.skipSpace()
	if s.atSegmentEnd() {
		if s.seg < len(s.line.Literals) {
			data := s.line.Literals[s.seg]
			s.seg++
			s.pos = 0
			return token{kind: tokenLiteral, data: data}, true, nil
		}
		return token{}, false, nil
	}

	cur := s.current()
	switch c := cur[s.pos]; c {
	case '(':
		s.pos++
		var list []token
		for {
			s.skipSpace()
			if b, ok := s.peek(); ok && b == ')' {
				s.pos++
				return token{kind: tokenList, list: list}, true, nil
			}
			tok, ok, err := s.next()
			if err != nil {
				return token{}, false, err
			}
			if !ok {
				return token{}, false, fmt.Errorf("%w: unterminated list", ErrProtocol)
			}
			list = append(list, tok)
		}
	case ')':
		return token{}, false, fmt.Errorf("%w: unexpected ')'", ErrProtocol)
	case '"':
		return s.quoted()
	default:
		return s.atom(), true, nil
	}
}

func (s *scanner) quoted() (token, bool, error) {
	cur := s.current()
	var b strings.Builder
	for i := s.pos + 1; i < len(cur); i++ {
		switch cur[i] {
		case '\\':
			if i+1 < len(cur) {
				i++
				b.WriteByte(cur[i])
			}
		case '"':
			s.pos = i + 1
			return token{kind: tokenString, text: b.String()}, true, nil
		default:
			b.WriteByte(cur[i])
		}
	}
	return token{}, false, fmt.Errorf("%w: unterminated quoted string", ErrProtocol)
}

// atom reads up to the next space or parenthesis. Brackets are kept whole so
// section specs such as BODY[HEADER.FIELDS (FROM)] stay one token.
func (s *scanner) atom() token {
	cur := s.current()
	start := s.pos
	depth := 0
	for s.pos < len(cur) {
		c := cur[s.pos]
		switch {
		case c == '[':
			depth++
		case c == ']' && depth > 0:
			depth--
		case depth == 0 && (c == ' ' || c == '(' || c == ')'):
			return atomToken(cur[start:s.pos])
		}
		s.pos++
	}
	return atomToken(cur[start:s.pos])
}

func atomToken(text string) token {
	if strings.EqualFold(text, "NIL") {
		return token{kind: tokenNil, text: text}
	}
	return token{kind: tokenAtom, text: text}
}

func tokenize(line Line) ([]token, error) {
	sc := &scanner{line: line}
	var out []token
	for {
		tok, ok, err := sc.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, tok)
	}
}

// fetchData holds the attributes of one untagged FETCH response.
type fetchData struct {
	seq     uint32
	uid     uint32
	flags   []string
	body    []byte
	hasBody bool
}

// parseFetch decodes "* <seq> FETCH (<attrs>)". ok is false when the line is
// not a FETCH response.
func parseFetch(line Line) (fetchData, bool, error) {
	if line.Tag != "*" {
		return fetchData{}, false, nil
	}
	tokens, err := tokenize(line)
	if err != nil {
		return fetchData{}, false, err
	}
	if len(tokens) < 3 || tokens[0].kind != tokenAtom || tokens[1].kind != tokenAtom ||
		!strings.EqualFold(tokens[1].text, "FETCH") {
		return fetchData{}, false, nil
	}
	seq, err := strconv.ParseUint(tokens[0].text, 10, 32)
	if err != nil {
		return fetchData{}, false, nil
	}
	if tokens[2].kind != tokenList {
		return fetchData{}, false, fmt.Errorf("%w: FETCH without attribute list", ErrProtocol)
	}

	data := fetchData{seq: uint32(seq)}
	attrs := tokens[2].list
	for i := 0; i+1 < len(attrs); i += 2 {
		name, value := attrs[i], attrs[i+1]
		if name.kind != tokenAtom {
			return fetchData{}, false, fmt.Errorf("%w: unexpected FETCH item name", ErrProtocol)
		}
		switch key := strings.ToUpper(name.text); {
		case key == "UID":
			uid, err := strconv.ParseUint(value.text, 10, 32)
			if err != nil {
				return fetchData{}, false, fmt.Errorf("%w: invalid UID %q", ErrProtocol, value.text)
			}
			data.uid = uint32(uid)
		case key == "FLAGS":
			for _, flag := range value.list {
				data.flags = append(data.flags, flag.text)
			}
		case key == "BODY[]" || key == "RFC822" || strings.HasPrefix(key, "BODY[]<"):
			switch value.kind {
			case tokenLiteral:
				data.body, data.hasBody = value.data, true
			case tokenString:
				data.body, data.hasBody = []byte(value.text), true
			}
		}
	}
	return data, true, nil
}
