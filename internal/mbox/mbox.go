// Package mbox serves an mbox file through the imap.Mailbox interface so a
// local export can be ingested the same way as a live account.
package mbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"mailingest/internal/imap"
)

var ErrNotSelected = errors.New("mbox: no folder selected")

// Mailbox holds the messages of one mbox file. Sequence numbers follow
// file order, oldest first, and double as UIDs.
type Mailbox struct {
	path     string
	logger   *slog.Logger
	messages [][]byte
	selected bool
}

func Open(path string, logger *slog.Logger) (*Mailbox, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Mailbox{path: path, logger: logger}, nil
}

// Connector opens path for every run, ignoring the account endpoint.
func Connector(path string) imap.Connector {
	return func(ctx context.Context, acct imap.Account, logger *slog.Logger) (imap.Mailbox, error) {
		return Open(path, logger)
	}
}

// Login always succeeds: a local file has no credentials.
func (m *Mailbox) Login(ctx context.Context, username, password string) (bool, error) {
	return true, nil
}

// SelectMailbox loads the whole file. The folder name is only logged since
// an mbox file holds a single folder.
func (m *Mailbox) SelectMailbox(ctx context.Context, name string) (uint32, error) {
	file, err := os.Open(m.path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	messages, err := readAll(ctx, file)
	if err != nil {
		return 0, err
	}
	m.messages = messages
	m.selected = true
	m.logger.Debug("mbox loaded", "path", m.path, "folder", name, "messages", len(messages))
	return uint32(len(messages)), nil
}

func (m *Mailbox) FetchRaw(ctx context.Context, seq uint32) (imap.RawMessage, error) {
	if !m.selected {
		return imap.RawMessage{}, ErrNotSelected
	}
	if err := ctx.Err(); err != nil {
		return imap.RawMessage{}, err
	}
	if seq == 0 || int(seq) > len(m.messages) {
		return imap.RawMessage{}, fmt.Errorf("mbox: message %d out of range 1..%d", seq, len(m.messages))
	}
	body := m.messages[seq-1]
	return imap.RawMessage{Seq: seq, UID: seq, Flags: statusFlags(body), Body: body}, nil
}

func (m *Mailbox) Logout(ctx context.Context) {
	m.messages = nil
	m.selected = false
}

func readAll(ctx context.Context, r io.Reader) ([][]byte, error) {
	reader := mboxlib.NewReader(r)
	var messages [][]byte
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return messages, nil
			}
			return nil, fmt.Errorf("mbox message %d: %w", idx, err)
		}
		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return nil, fmt.Errorf("mbox message %d read: %w", idx, err)
		}
		messages = append(messages, raw)
	}
}

// statusFlags maps the Status header written by mbox clients ("RO" once a
// message has been read) to IMAP flags.
func statusFlags(raw []byte) []string {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Status") {
			continue
		}
		if strings.ContainsRune(strings.ToUpper(value), 'R') {
			return []string{imap.SeenFlag}
		}
		return nil
	}
	return nil
}
