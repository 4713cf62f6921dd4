package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
)

// libraryMailbox drives the same command subset through go-imap. go-imap v1
// has no context support; the account timeout bounds each command instead.
type libraryMailbox struct {
	c      *imapclient.Client
	logger *slog.Logger
}

func dialLibrary(acct Account, logger *slog.Logger) (Mailbox, error) {
	ep := acct.Endpoint()
	addr := ep.Addr()
	dialer := &net.Dialer{Timeout: ep.Timeout}

	var (
		c   *imapclient.Client
		err error
	)
	if ep.TLS {
		tlsConfig := &tls.Config{
			ServerName:         ep.Host,
			InsecureSkipVerify: ep.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed test servers
			MinVersion:         tls.VersionTLS12,
		}
		c, err = imapclient.DialWithDialerTLS(dialer, addr, tlsConfig)
	} else {
		c, err = imapclient.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Op: "dial", Err: err}
	}
	c.Timeout = ep.Timeout

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &libraryMailbox{c: c, logger: logger}, nil
}

func (m *libraryMailbox) Login(_ context.Context, username, password string) (bool, error) {
	if err := m.c.Login(username, password); err != nil {
		// A NO completion leaves the connection unauthenticated but alive.
		if m.c.State() == imap.NotAuthenticatedState {
			m.logger.Debug("login rejected", "info", err.Error())
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *libraryMailbox) SelectMailbox(_ context.Context, name string) (uint32, error) {
	status, err := m.c.Select(name, false)
	if err != nil {
		return 0, err
	}
	return status.Messages, nil
}

func (m *libraryMailbox) FetchRaw(_ context.Context, seq uint32) (RawMessage, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(seq)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, section.FetchItem()}

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- m.c.Fetch(seqset, items, ch)
	}()

	var msg *imap.Message
	for fetched := range ch {
		if msg == nil && fetched != nil {
			msg = fetched
		}
	}
	if err := <-done; err != nil {
		return RawMessage{Seq: seq}, err
	}
	if msg == nil {
		return RawMessage{Seq: seq}, fmt.Errorf("message %d: %w", seq, ErrNoBody)
	}

	raw := RawMessage{Seq: seq, UID: msg.Uid, Flags: msg.Flags}
	body := msg.GetBody(section)
	if body == nil {
		return raw, fmt.Errorf("message %d: %w", seq, ErrNoBody)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return raw, err
	}
	raw.Body = data
	return raw, nil
}

func (m *libraryMailbox) Logout(_ context.Context) {
	if err := m.c.Logout(); err != nil {
		m.logger.Debug("logout failed", "error", err)
	}
}
