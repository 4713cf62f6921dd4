package imap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"mailingest/internal/config"
)

// Mailbox is the command subset the ingestion loop needs. Both the native
// Session and the go-imap backed driver implement it.
type Mailbox interface {
	Login(ctx context.Context, username, password string) (bool, error)
	SelectMailbox(ctx context.Context, name string) (uint32, error)
	FetchRaw(ctx context.Context, seq uint32) (RawMessage, error)
	Logout(ctx context.Context)
}

// Account is a mailbox account record with its password already decoded.
type Account struct {
	Host               string
	Port               int
	Username           string
	Password           string
	TLS                bool
	InsecureSkipVerify bool
	Timeout            time.Duration
	Driver             string
}

func (a Account) Endpoint() Endpoint {
	return Endpoint{
		Host:               a.Host,
		Port:               a.Port,
		TLS:                a.TLS,
		InsecureSkipVerify: a.InsecureSkipVerify,
		Timeout:            a.Timeout,
	}
}

// AccountFromConfig builds an Account from the loaded configuration. The
// password must already be decoded.
func AccountFromConfig(cfg config.Config) Account {
	return Account{
		Host:               cfg.IMAP.Host,
		Port:               cfg.IMAP.Port,
		Username:           cfg.Auth.Username,
		Password:           cfg.Auth.Password,
		TLS:                cfg.IMAP.TLS,
		InsecureSkipVerify: cfg.IMAP.InsecureSkipVerify,
		Timeout:            cfg.IMAP.Timeout,
		Driver:             cfg.IMAP.Driver,
	}
}

type Connector func(ctx context.Context, acct Account, logger *slog.Logger) (Mailbox, error)

type Service struct {
	Connector Connector
	Logger    *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	return &Service{Connector: Connect, Logger: logger}
}

// Connect opens a Mailbox with the driver named in acct.
func Connect(ctx context.Context, acct Account, logger *slog.Logger) (Mailbox, error) {
	switch acct.Driver {
	case config.DriverLibrary:
		return dialLibrary(acct, logger)
	case "", config.DriverNative:
		s, err := Dial(ctx, acct.Endpoint(), logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown imap driver %q", acct.Driver)
	}
}

// logoutTimeout bounds the LOGOUT exchange, which also runs after the
// caller's context has been cancelled.
const logoutTimeout = 5 * time.Second

// WithMailbox connects, logs in and runs fn. The mailbox is always logged
// out and its connection released when WithMailbox returns.
func (s *Service) WithMailbox(ctx context.Context, acct Account, fn func(Mailbox) error) error {
	logger := s.logger()
	connector := s.Connector
	if connector == nil {
		connector = Connect
	}

	mb, err := connector(ctx, acct, logger)
	if err != nil {
		return err
	}
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
		defer cancel()
		mb.Logout(logoutCtx)
	}()

	ok, err := mb.Login(ctx, acct.Username, acct.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w for %s", ErrLoginRejected, acct.Username)
	}
	logger.Debug("imap session ready", "host", acct.Host, "user", acct.Username)

	return fn(mb)
}

// Status returns the number of messages in mailbox.
func (s *Service) Status(ctx context.Context, acct Account, mailbox string) (uint32, error) {
	var count uint32
	err := s.WithMailbox(ctx, acct, func(mb Mailbox) error {
		n, err := mb.SelectMailbox(ctx, mailbox)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	return count, err
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
