package imap

import (
	"errors"
	"fmt"
)

var (
	ErrSessionClosed = errors.New("imap: session closed")
	ErrProtocol      = errors.New("imap: protocol error")
	ErrNoBody        = errors.New("imap: fetch response carried no message body")
	ErrLoginRejected = errors.New("imap: login rejected")
)

// ConnectionError is returned when the encrypted stream cannot be set up:
// dial, TLS handshake or server greeting.
type ConnectionError struct {
	Addr string
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("imap %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CommandError is a tagged NO or BAD completion.
type CommandError struct {
	Command string
	Status  string
	Info    string
}

func (e *CommandError) Error() string {
	if e.Info == "" {
		return fmt.Sprintf("imap %s: %s", e.Command, e.Status)
	}
	return fmt.Sprintf("imap %s: %s %s", e.Command, e.Status, e.Info)
}
