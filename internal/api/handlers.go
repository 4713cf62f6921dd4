package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"mailingest/internal/config"
	"mailingest/internal/email"
	"mailingest/internal/imap"
	"mailingest/internal/ingest"
	"mailingest/internal/logger"
	"mailingest/internal/secrets"
	"mailingest/internal/store"
)

type accountRequest struct {
	Host               string `json:"host" validate:"required,hostname_rfc1123|ip"`
	Port               int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Username           string `json:"username" validate:"required"`
	Password           string `json:"password" validate:"required"`
	PasswordEncoding   string `json:"password_encoding" validate:"omitempty,oneof=plain base64"`
	UseTLS             *bool  `json:"use_tls"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify"`
	Driver             string `json:"driver" validate:"omitempty,oneof=native library"`
}

type fetchRequest struct {
	Account     accountRequest `json:"account" validate:"required"`
	Mailbox     string         `json:"mailbox" validate:"max=255"`
	MaxMessages int            `json:"max_messages" validate:"omitempty,min=1,max=500"`
	Reprocess   bool           `json:"reprocess"`
}

type fetchResponse struct {
	Success   bool             `json:"success"`
	Account   string           `json:"account"`
	Mailbox   string           `json:"mailbox"`
	Total     uint32           `json:"total"`
	Processed []ingest.Summary `json:"processed"`
	Skipped   []ingest.Skip    `json:"skipped"`
}

type failureResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Kind    ingest.Kind `json:"kind,omitempty"`
	Hint    string      `json:"hint,omitempty"`

	Processed []ingest.Summary `json:"processed,omitempty"`
}

type stripRequest struct {
	Content string `json:"content"`
	IsHTML  bool   `json:"is_html"`
}

type messageView struct {
	ExternalID   string    `json:"externalId"`
	Mailbox      string    `json:"mailbox"`
	UID          int64     `json:"uid"`
	From         string    `json:"from"`
	Subject      string    `json:"subject"`
	SentAt       time.Time `json:"sentAt"`
	BodyText     string    `json:"bodyText"`
	QuoteCleaned bool      `json:"quoteCleaned"`
	Seen         bool      `json:"seen"`
}

// FetchEmails runs one ingestion for the account in the request body.
func (h *Handler) FetchEmails(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	acct, err := accountFromRequest(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log := logger.WithCorrelationID(r.Context(), h.logger)
	if sub := subjectFrom(r.Context()); sub != "" {
		log = log.With("subject", sub)
	}
	log.Info("fetch requested", "host", acct.Host, "user", acct.Username, "mailbox", req.Mailbox)

	in := ingest.Ingester{}
	if h.ingester != nil {
		in = *h.ingester
	}
	in.Logger = log
	report, err := in.Run(r.Context(), ingest.Request{
		Account:     acct,
		Mailbox:     req.Mailbox,
		MaxMessages: req.MaxMessages,
		Reprocess:   req.Reprocess,
	})
	if err != nil {
		var fatal *ingest.FatalError
		if errors.As(err, &fatal) {
			resp := failureResponse{
				Error: fatal.Error(),
				Kind:  fatal.Kind,
				Hint:  fatal.Hint,
			}
			if fatal.Partial != nil {
				resp.Processed = fatal.Partial.Processed
			}
			writeJSON(w, http.StatusBadGateway, resp)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, fetchResponse{
		Success:   true,
		Account:   report.Account,
		Mailbox:   report.Mailbox,
		Total:     report.Total,
		Processed: report.Processed,
		Skipped:   report.Skipped,
	})
}

func (h *Handler) StripQuotes(w http.ResponseWriter, r *http.Request) {
	var req stripRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, email.StripQuotes(req.Content, req.IsHTML))
}

// ListMessages returns the most recently sent stored messages of an account.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	if h.messages == nil {
		writeError(w, http.StatusNotFound, "message store is not configured")
		return
	}
	account := strings.TrimSpace(r.URL.Query().Get("account"))
	if account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	rows, err := h.messages.ListRecent(r.Context(), account, limit)
	if err != nil {
		logger.WithCorrelationID(r.Context(), h.logger).Error("list messages", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list messages")
		return
	}
	views := make([]messageView, 0, len(rows))
	for _, row := range rows {
		views = append(views, toView(row))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messages": views})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "healthy", "store": "up"}
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]string{"status": "degraded", "store": "down"}
		}
	}
	writeJSON(w, status, body)
}

func accountFromRequest(req accountRequest) (imap.Account, error) {
	encoding := req.PasswordEncoding
	if encoding == "" {
		encoding = "base64"
	}
	password, err := secrets.DecodePassword(req.Password, encoding)
	if err != nil {
		return imap.Account{}, err
	}

	defaults := config.DefaultConfig()
	useTLS := true
	if req.UseTLS != nil {
		useTLS = *req.UseTLS
	}
	port := req.Port
	if port == 0 {
		port = 993
		if !useTLS {
			port = 143
		}
	}
	driver := req.Driver
	if driver == "" {
		driver = defaults.IMAP.Driver
	}
	return imap.Account{
		Host:               strings.TrimSpace(req.Host),
		Port:               port,
		Username:           strings.TrimSpace(req.Username),
		Password:           password,
		TLS:                useTLS,
		InsecureSkipVerify: req.InsecureSkipVerify,
		Timeout:            defaults.IMAP.Timeout,
		Driver:             driver,
	}, nil
}

func toView(m store.Message) messageView {
	from := m.FromAddress
	if m.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.FromName, m.FromAddress)
	}
	return messageView{
		ExternalID:   m.ExternalID,
		Mailbox:      m.Mailbox,
		UID:          m.UID,
		From:         from,
		Subject:      m.Subject,
		SentAt:       m.SentAt,
		BodyText:     m.BodyText,
		QuoteCleaned: m.QuoteCleaned,
		Seen:         m.Seen,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return "invalid request: " + strings.Join(fields, "; ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, failureResponse{Error: msg})
}
