package imap

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Endpoint describes where and how to open the connection.
type Endpoint struct {
	Host               string
	Port               int
	TLS                bool
	InsecureSkipVerify bool
	Timeout            time.Duration
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Session is one IMAP connection driven by a minimal command subset:
// LOGIN, SELECT, FETCH and LOGOUT. Commands run strictly one at a time.
// Once closed, a Session cannot be reused.
type Session struct {
	conn   net.Conn
	framer *framer
	w      *bufio.Writer
	logger *slog.Logger

	tagSeq int
	closed bool
}

// Dial opens the stream and consumes the server greeting.
func Dial(ctx context.Context, ep Endpoint, logger *slog.Logger) (*Session, error) {
	addr := ep.Addr()
	dialer := &net.Dialer{Timeout: ep.Timeout}

	var (
		conn net.Conn
		err  error
	)
	if ep.TLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config: &tls.Config{
				ServerName:         ep.Host,
				InsecureSkipVerify: ep.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed test servers
				MinVersion:         tls.VersionTLS12,
			},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Op: "dial", Err: err}
	}

	s := NewSession(conn, logger)
	if err := s.readGreeting(ctx); err != nil {
		s.Close()
		return nil, &ConnectionError{Addr: addr, Op: "greeting", Err: err}
	}
	return s, nil
}

// NewSession wraps an already established connection. The caller must read
// the greeting through Dial or be talking to a peer that sends none.
func NewSession(conn net.Conn, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		conn:   conn,
		framer: newFramer(conn),
		w:      bufio.NewWriter(conn),
		logger: logger,
	}
}

func (s *Session) readGreeting(ctx context.Context) error {
	release := s.bindContext(ctx)
	defer release()

	line, err := s.framer.ReadLine()
	if err != nil {
		return err
	}
	if line.Tag != "*" {
		return fmt.Errorf("%w: greeting is tagged %q", ErrProtocol, line.Tag)
	}
	switch line.Status() {
	case "OK", "PREAUTH":
		return nil
	case "BYE":
		return fmt.Errorf("server refused connection: %s", line.Info())
	default:
		return fmt.Errorf("%w: unexpected greeting %q", ErrProtocol, line.Text())
	}
}

// Login sends the credentials as a single LOGIN command and reports whether
// the server accepted them. The error is only set for transport failures.
func (s *Session) Login(ctx context.Context, username, password string) (bool, error) {
	resp, err := s.execute(ctx, "LOGIN", astring(username), astring(password))
	if err != nil {
		return false, err
	}
	lines := make([]Line, 0, len(resp.Untagged)+1)
	lines = append(lines, resp.Untagged...)
	lines = append(lines, resp.Completion)
	ok := LoginAccepted(resp.Tag, lines)
	if !ok {
		s.logger.Debug("login rejected", "status", resp.Status(), "info", resp.Completion.Info())
	}
	return ok, nil
}

// SelectMailbox opens name read-write and returns its message count.
func (s *Session) SelectMailbox(ctx context.Context, name string) (uint32, error) {
	resp, err := s.execute(ctx, "SELECT", astring(name))
	if err != nil {
		return 0, err
	}
	if err := resp.err("SELECT"); err != nil {
		return 0, err
	}
	return MessageCount(resp.Untagged), nil
}

// FetchRaw retrieves UID, flags and the complete RFC 822 payload of the
// message at seq without setting \Seen.
func (s *Session) FetchRaw(ctx context.Context, seq uint32) (RawMessage, error) {
	num := strconv.FormatUint(uint64(seq), 10)
	resp, err := s.execute(ctx, "FETCH", atom(num), atom("(UID FLAGS BODY.PEEK[])"))
	if err != nil {
		return RawMessage{}, err
	}
	if err := resp.err("FETCH"); err != nil {
		return RawMessage{}, err
	}

	msg := RawMessage{Seq: seq}
	found := false
	for _, line := range resp.Untagged {
		data, ok, err := parseFetch(line)
		if err != nil {
			return RawMessage{}, err
		}
		if !ok || data.seq != seq {
			continue
		}
		// Servers may split attributes over several FETCH responses.
		if data.uid != 0 {
			msg.UID = data.uid
		}
		if data.flags != nil {
			msg.Flags = data.flags
		}
		if data.hasBody {
			msg.Body = data.body
			found = true
		}
	}
	if !found {
		return msg, fmt.Errorf("message %d: %w", seq, ErrNoBody)
	}
	return msg, nil
}

// Logout ends the session. Every error is swallowed: cleanup never fails.
func (s *Session) Logout(ctx context.Context) {
	if s.closed {
		return
	}
	if _, err := s.execute(ctx, "LOGOUT"); err != nil && !errors.Is(err, ErrSessionClosed) {
		s.logger.Debug("logout failed", "error", err)
	}
	s.Close()
}

// Close releases the socket. It is safe to call more than once.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.Close()
}

func (s *Session) Closed() bool {
	return s.closed
}

func (s *Session) nextTag() string {
	s.tagSeq++
	return fmt.Sprintf("A%03d", s.tagSeq)
}

// execute writes one command and collects responses up to its tagged
// completion. Any transport or framing error leaves the stream in an unknown
// position, so the session is closed.
func (s *Session) execute(ctx context.Context, name string, args ...argument) (Response, error) {
	if s.closed {
		return Response{}, ErrSessionClosed
	}
	release := s.bindContext(ctx)
	defer release()

	tag := s.nextTag()
	resp, err := s.roundTrip(tag, name, args)
	if err != nil {
		s.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return resp, fmt.Errorf("imap %s: %w", name, ctxErr)
		}
		// The socket deadline can fire just before the context timer does.
		if deadline, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(deadline) {
			return resp, fmt.Errorf("imap %s: %w", name, context.DeadlineExceeded)
		}
		return resp, fmt.Errorf("imap %s: %w", name, err)
	}
	if name != "LOGOUT" && (resp.Status() == "BYE" || hasBye(resp.Untagged)) {
		s.Close()
	}
	return resp, nil
}

func (s *Session) roundTrip(tag, name string, args []argument) (Response, error) {
	resp := Response{Tag: tag}

	if _, err := s.w.WriteString(tag + " " + name); err != nil {
		return resp, err
	}
	for _, arg := range args {
		if err := s.w.WriteByte(' '); err != nil {
			return resp, err
		}
		if !arg.literal {
			if _, err := s.w.WriteString(arg.text); err != nil {
				return resp, err
			}
			continue
		}
		if _, err := fmt.Fprintf(s.w, "{%d}\r\n", len(arg.text)); err != nil {
			return resp, err
		}
		if err := s.w.Flush(); err != nil {
			return resp, err
		}
		done, err := s.awaitContinuation(&resp)
		if err != nil || done {
			return resp, err
		}
		if _, err := s.w.WriteString(arg.text); err != nil {
			return resp, err
		}
	}
	if _, err := s.w.WriteString("\r\n"); err != nil {
		return resp, err
	}
	if err := s.w.Flush(); err != nil {
		return resp, err
	}

	for {
		line, err := s.framer.ReadLine()
		if err != nil {
			return resp, err
		}
		if line.Tag == tag {
			resp.Completion = line
			return resp, nil
		}
		if line.Tag == "+" {
			return resp, fmt.Errorf("%w: unexpected continuation request", ErrProtocol)
		}
		resp.Untagged = append(resp.Untagged, line)
	}
}

// awaitContinuation waits for "+" before a literal is sent. done is true when
// the server completed the command instead.
func (s *Session) awaitContinuation(resp *Response) (bool, error) {
	for {
		line, err := s.framer.ReadLine()
		if err != nil {
			return false, err
		}
		switch line.Tag {
		case "+":
			return false, nil
		case resp.Tag:
			resp.Completion = line
			return true, nil
		default:
			resp.Untagged = append(resp.Untagged, line)
		}
	}
}

// bindContext maps ctx onto connection deadlines for the duration of one
// blocking exchange.
func (s *Session) bindContext(ctx context.Context) func() {
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stop()
		_ = s.conn.SetDeadline(time.Time{})
	}
}

func hasBye(lines []Line) bool {
	for _, line := range lines {
		if line.Tag == "*" && line.Status() == "BYE" {
			return true
		}
	}
	return false
}

type argument struct {
	text    string
	literal bool
}

func atom(s string) argument {
	return argument{text: s}
}

// astring renders s as a quoted string, or as a synchronizing literal when
// it holds bytes a quoted string cannot carry.
func astring(s string) argument {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == '\r' || c == '\n' || c == 0 || c > 0x7f {
			return argument{text: s, literal: true}
		}
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return argument{text: `"` + r.Replace(s) + `"`}
}
