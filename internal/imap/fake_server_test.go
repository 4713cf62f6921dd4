package imap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

type fakeMessage struct {
	uid   uint32
	flags string
	body  string
}

// fakeServer answers the LOGIN/SELECT/FETCH/LOGOUT subset over one
// connection. Responses are written the way real servers frame them.
type fakeServer struct {
	user, pass string
	messages   []fakeMessage
	greeting   string

	mu       sync.Mutex
	commands []string
	done     chan struct{}
}

func newFakeServer(messages ...fakeMessage) *fakeServer {
	return &fakeServer{
		user:     "ops@fleet.example",
		pass:     "secret",
		messages: messages,
		greeting: "* OK [CAPABILITY IMAP4rev1] fake ready\r\n",
		done:     make(chan struct{}),
	}
}

func (f *fakeServer) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeServer) serve(conn net.Conn) {
	defer close(f.done)
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	send := func(format string, args ...any) bool {
		fmt.Fprintf(w, format, args...)
		return w.Flush() == nil
	}

	if !send("%s", f.greeting) {
		return
	}
	for {
		line, err := readCommand(r, w)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.commands = append(f.commands, line)
		f.mu.Unlock()

		tag, rest, _ := strings.Cut(line, " ")
		name, args, _ := strings.Cut(rest, " ")
		switch strings.ToUpper(name) {
		case "CAPABILITY":
			send("* CAPABILITY IMAP4rev1\r\n%s OK Capability completed\r\n", tag)
		case "NOOP":
			send("%s OK Noop completed\r\n", tag)
		case "LOGIN":
			user, pass := splitLoginArgs(args)
			if user == f.user && pass == f.pass {
				send("%s OK [CAPABILITY IMAP4rev1] Logged in\r\n", tag)
			} else {
				send("%s NO [AUTHENTICATIONFAILED] Invalid credentials\r\n", tag)
			}
		case "SELECT":
			if strings.Trim(args, `"`) != "INBOX" {
				send("%s NO Mailbox does not exist\r\n", tag)
				continue
			}
			send("* FLAGS (\\Answered \\Flagged \\Deleted \\Seen \\Draft)\r\n"+
				"* %d EXISTS\r\n* 0 RECENT\r\n* OK [UIDVALIDITY 1700000000] UIDs valid\r\n"+
				"%s OK [READ-WRITE] Select completed\r\n", len(f.messages), tag)
		case "FETCH":
			seqText, _, _ := strings.Cut(args, " ")
			seq, _ := strconv.Atoi(seqText)
			if seq < 1 || seq > len(f.messages) {
				send("%s BAD Invalid messageset\r\n", tag)
				continue
			}
			msg := f.messages[seq-1]
			send("* %d FETCH (UID %d FLAGS (%s) BODY[] {%d}\r\n%s)\r\n%s OK Fetch completed\r\n",
				seq, msg.uid, msg.flags, len(msg.body), msg.body, tag)
		case "LOGOUT":
			send("* BYE Logging out\r\n%s OK Logout completed\r\n", tag)
			return
		default:
			send("%s BAD Unknown command\r\n", tag)
		}
	}
}

// readCommand reads one command line, answering synchronizing literals with
// a continuation request and inlining their content as a quoted string.
func readCommand(r *bufio.Reader, w *bufio.Writer) (string, error) {
	var b strings.Builder
	for {
		raw, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		raw = strings.TrimRight(raw, "\r\n")
		idx, size, ok, err := literalMarker(raw)
		if err != nil {
			return "", err
		}
		if !ok {
			b.WriteString(raw)
			return b.String(), nil
		}
		b.WriteString(raw[:idx])
		w.WriteString("+ Ready for literal data\r\n")
		if err := w.Flush(); err != nil {
			return "", err
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return "", err
		}
		b.WriteString(strconv.Quote(string(data)))
	}
}

func splitLoginArgs(args string) (string, string) {
	var out []string
	rest := strings.TrimSpace(args)
	for rest != "" && len(out) < 2 {
		if rest[0] != '"' {
			atom, tail, _ := strings.Cut(rest, " ")
			out = append(out, atom)
			rest = strings.TrimSpace(tail)
			continue
		}
		value, err := strconv.QuotedPrefix(rest)
		if err != nil {
			return "", ""
		}
		unquoted, err := strconv.Unquote(value)
		if err != nil {
			return "", ""
		}
		out = append(out, unquoted)
		rest = strings.TrimSpace(rest[len(value):])
	}
	if len(out) != 2 {
		return "", ""
	}
	return out[0], out[1]
}

// pipeSession connects a Session to f through an in-memory pipe and consumes
// the greeting.
func pipeSession(t *testing.T, f *fakeServer) *Session {
	t.Helper()
	client, server := net.Pipe()
	go f.serve(server)

	s := NewSession(client, nil)
	if err := s.readGreeting(context.Background()); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}
