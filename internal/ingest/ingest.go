// Package ingest runs one fetch over a mailbox: it walks the most recent
// messages, decodes them, strips quoted history and stores the result.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"mailingest/internal/archive"
	"mailingest/internal/email"
	"mailingest/internal/imap"
	"mailingest/internal/metrics"
	"mailingest/internal/store"
)

const (
	DefaultMailbox     = "INBOX"
	DefaultMaxMessages = 20
	MaxMessagesLimit   = 500
)

// SkipReason says why a fetched message was not stored.
type SkipReason string

const (
	ReasonFetchFailed SkipReason = "fetch_failed"
	ReasonParseFailed SkipReason = "parse_failed"
	ReasonEmptyBody   SkipReason = "empty_body"
	ReasonDuplicate   SkipReason = "duplicate"
	ReasonStoreFailed SkipReason = "store_failed"
)

type Request struct {
	Account     imap.Account
	Mailbox     string
	MaxMessages int
	Reprocess   bool
}

// Summary describes one stored message.
type Summary struct {
	UID          uint32    `json:"uid"`
	ExternalID   string    `json:"externalId"`
	Subject      string    `json:"subject"`
	From         string    `json:"from"`
	Date         time.Time `json:"date"`
	Status       string    `json:"status"`
	HasText      bool      `json:"hasText"`
	HasHTML      bool      `json:"hasHtml"`
	QuoteCleaned bool      `json:"quoteCleaned"`
}

type Skip struct {
	Seq    uint32     `json:"seq"`
	UID    uint32     `json:"uid,omitempty"`
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// Report is the outcome of a run that reached the mailbox.
type Report struct {
	Account   string        `json:"account"`
	Mailbox   string        `json:"mailbox"`
	Total     uint32        `json:"total"`
	Processed []Summary     `json:"processed"`
	Skipped   []Skip        `json:"skipped"`
	Duration  time.Duration `json:"-"`
}

// Store is the persistence the ingester needs.
type Store interface {
	Exists(ctx context.Context, externalID string) (bool, error)
	UpsertMessage(ctx context.Context, msg store.Message) error
}

// Decoder turns an RFC 822 payload into a Message.
type Decoder func(raw []byte) (*email.Message, error)

type Ingester struct {
	Service *imap.Service
	// Store may be nil, in which case messages are decoded and reported
	// but not persisted.
	Store Store
	// Archive, when set, receives the raw payload of every processed
	// message. Archive failures are logged and counted but never skip a
	// message.
	Archive archive.Archiver
	Decode  Decoder
	Logger  *slog.Logger
	Now     func() time.Time
}

func New(svc *imap.Service, st Store, logger *slog.Logger) *Ingester {
	return &Ingester{Service: svc, Store: st, Decode: email.Parse, Logger: logger, Now: time.Now}
}

// Normalize applies defaults and validates the request bounds.
func (r *Request) Normalize() error {
	r.Mailbox = strings.TrimSpace(r.Mailbox)
	if r.Mailbox == "" {
		r.Mailbox = DefaultMailbox
	}
	if r.MaxMessages == 0 {
		r.MaxMessages = DefaultMaxMessages
	}
	if r.MaxMessages < 0 || r.MaxMessages > MaxMessagesLimit {
		return fmt.Errorf("max messages must be between 1 and %d", MaxMessagesLimit)
	}
	return nil
}

// Run fetches the most recent messages of req.Mailbox, newest first. A
// failure to connect, log in or select aborts the run with a *FatalError;
// anything that goes wrong with a single message is recorded as a Skip and
// the run continues. When ctx is cancelled mid-batch the returned
// FatalError carries the messages handled so far in Partial.
func (in *Ingester) Run(ctx context.Context, req Request) (*Report, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	logger := in.logger().With("account", req.Account.Username, "mailbox", req.Mailbox)
	start := in.now()

	report := &Report{
		Account:   req.Account.Username,
		Mailbox:   req.Mailbox,
		Processed: []Summary{},
		Skipped:   []Skip{},
	}

	svc := in.Service
	if svc == nil {
		svc = imap.NewService(logger)
	}
	err := svc.WithMailbox(ctx, req.Account, func(mb imap.Mailbox) error {
		count, err := mb.SelectMailbox(ctx, req.Mailbox)
		if err != nil {
			return fmt.Errorf("select %s: %w", req.Mailbox, err)
		}
		report.Total = count
		if count == 0 {
			return nil
		}

		n := uint32(req.MaxMessages)
		if n > count {
			n = count
		}
		for seq := count; seq > count-n; seq-- {
			if err := ctx.Err(); err != nil {
				return err
			}
			in.processOne(ctx, mb, req, seq, report, logger)
		}
		return nil
	})
	report.Duration = in.now().Sub(start)

	if err != nil {
		fatal := newFatal(err)
		if report.Total > 0 {
			fatal.Partial = report
		}
		metrics.ObserveRun("fatal", report.Duration)
		metrics.ObserveFatal(string(fatal.Kind))
		logger.Error("ingestion aborted", "kind", fatal.Kind, "error", err,
			"processed", len(report.Processed), "skipped", len(report.Skipped))
		return nil, fatal
	}

	metrics.ObserveRun("ok", report.Duration)
	logger.Info("ingestion finished",
		"total", report.Total,
		"processed", len(report.Processed),
		"skipped", len(report.Skipped),
		"duration", report.Duration)
	return report, nil
}

func (in *Ingester) processOne(ctx context.Context, mb imap.Mailbox, req Request, seq uint32, report *Report, logger *slog.Logger) {
	skip := func(uid uint32, reason SkipReason, err error) {
		s := Skip{Seq: seq, UID: uid, Reason: reason}
		if err != nil {
			s.Detail = err.Error()
		}
		report.Skipped = append(report.Skipped, s)
		metrics.ObserveMessage(string(reason))
		logger.Warn("message skipped", "seq", seq, "uid", uid, "reason", reason, "error", err)
	}

	raw, err := mb.FetchRaw(ctx, seq)
	if err != nil {
		skip(raw.UID, ReasonFetchFailed, err)
		return
	}

	decode := in.Decode
	if decode == nil {
		decode = email.Parse
	}
	msg, err := decode(raw.Body)
	if err != nil {
		skip(raw.UID, ReasonParseFailed, err)
		return
	}
	if !msg.HasText() && !msg.HasHTML() {
		skip(raw.UID, ReasonEmptyBody, nil)
		return
	}

	externalID := ExternalID(msg.MessageID, req.Account.Username, req.Mailbox, raw.UID)
	if in.Store != nil && !req.Reprocess {
		exists, err := in.Store.Exists(ctx, externalID)
		if err != nil {
			skip(raw.UID, ReasonStoreFailed, err)
			return
		}
		if exists {
			skip(raw.UID, ReasonDuplicate, nil)
			return
		}
	}

	text := email.StripQuotes(msg.Text, false)
	markup := email.StripQuotes(msg.HTML, true)
	cleaned := text.IsCleaned || markup.IsCleaned
	if cleaned {
		metrics.QuotesStrippedTotal.Inc()
	}

	if in.Store != nil {
		row := store.Message{
			ID:           store.RowID(externalID),
			ExternalID:   externalID,
			Account:      req.Account.Username,
			Mailbox:      req.Mailbox,
			UID:          int64(raw.UID),
			MessageID:    msg.MessageID,
			FromName:     msg.FromName,
			FromAddress:  msg.FromAddress,
			ToAddresses:  strings.Join(msg.To, ", "),
			Subject:      msg.Subject,
			SentAt:       msg.Date,
			BodyText:     text.Content,
			BodyHTML:     email.SanitizeHTML(markup.Content),
			OriginalText: text.Original,
			QuoteCleaned: cleaned,
			Seen:         raw.Seen(),
			Attachments:  strings.Join(msg.Attachments, ", "),
			FetchedAt:    in.now(),
		}
		if err := in.Store.UpsertMessage(ctx, row); err != nil {
			skip(raw.UID, ReasonStoreFailed, err)
			return
		}
	}

	if in.Archive != nil {
		obj := archive.Object{Account: req.Account.Username, Mailbox: req.Mailbox, UID: raw.UID, Body: raw.Body}
		if err := in.Archive.Archive(ctx, obj); err != nil {
			metrics.ArchiveFailuresTotal.Inc()
			logger.Warn("archive failed", "seq", seq, "uid", raw.UID, "error", err)
		}
	}

	status := "unread"
	if raw.Seen() {
		status = "read"
	}
	report.Processed = append(report.Processed, Summary{
		UID:          raw.UID,
		ExternalID:   externalID,
		Subject:      msg.Subject,
		From:         msg.From(),
		Date:         msg.Date,
		Status:       status,
		HasText:      msg.HasText(),
		HasHTML:      msg.HasHTML(),
		QuoteCleaned: cleaned,
	})
	metrics.ObserveMessage("stored")
	logger.Debug("message stored", "seq", seq, "uid", raw.UID, "external_id", externalID)
}

// ExternalID is the deduplication key of a message: its Message-ID, or the
// mailbox position when the header is missing.
func ExternalID(messageID, account, mailbox string, uid uint32) string {
	if id := strings.TrimSpace(messageID); id != "" {
		return id
	}
	return fmt.Sprintf("%s/%s/%d", strings.ToLower(strings.TrimSpace(account)), mailbox, uid)
}

func (in *Ingester) now() time.Time {
	if in.Now != nil {
		return in.Now()
	}
	return time.Now()
}

func (in *Ingester) logger() *slog.Logger {
	if in.Logger != nil {
		return in.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
