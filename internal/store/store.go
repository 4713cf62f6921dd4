// Package store persists ingested messages in a relational database through
// sqlx. SQLite (modernc.org/sqlite) is the local default; PostgreSQL is
// reached through the pgx stdlib driver.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

var ErrNotFound = errors.New("message not found")

// rowNamespace seeds the deterministic row ids derived from external ids.
var rowNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailingest:messages"))

// RowID returns the stable primary key for externalID.
func RowID(externalID string) string {
	return uuid.NewSHA1(rowNamespace, []byte(externalID)).String()
}

// Message is one stored email, keyed by its external identifier.
type Message struct {
	ID           string    `db:"id"`
	ExternalID   string    `db:"external_id"`
	Account      string    `db:"account"`
	Mailbox      string    `db:"mailbox"`
	UID          int64     `db:"uid"`
	MessageID    string    `db:"message_id"`
	FromName     string    `db:"from_name"`
	FromAddress  string    `db:"from_address"`
	ToAddresses  string    `db:"to_addresses"`
	Subject      string    `db:"subject"`
	SentAt       time.Time `db:"sent_at"`
	BodyText     string    `db:"body_text"`
	BodyHTML     string    `db:"body_html"`
	OriginalText string    `db:"original_text"`
	QuoteCleaned bool      `db:"quote_cleaned"`
	Seen         bool      `db:"seen"`
	Attachments  string    `db:"attachments"`
	FetchedAt    time.Time `db:"fetched_at"`
}

// Store is the sqlx backed message repository.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects with driver ("sqlite", or "pgx"/"postgres") and applies
// pending migrations.
func Open(driver, dsn string) (*Store, error) {
	switch strings.ToLower(driver) {
	case "", DriverSQLite:
		return openSQLite(dsn)
	case DriverPostgres, "postgres":
		return openPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

func openSQLite(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("sqlite dsn is required")
	}
	db, err := sqlx.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if isMemoryDSN(dsn) {
		// Every new connection to :memory: is a fresh, empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{db: db, driver: DriverSQLite}
	if err := s.runMigrations(sqliteMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func openPostgres(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sqlx.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{db: db, driver: DriverPostgres}
	if err := s.runMigrations(postgresMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Driver() string {
	return s.driver
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// runMigrations applies every migration newer than the recorded schema
// version, each in its own transaction.
func (s *Store) runMigrations(list []migration) error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range list {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if _, err := tx.Exec(tx.Rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.GetContext(ctx, &version, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	return version, err
}

const upsertMessage = `
INSERT INTO messages (
	id, external_id, account, mailbox, uid, message_id,
	from_name, from_address, to_addresses, subject, sent_at,
	body_text, body_html, original_text, quote_cleaned, seen,
	attachments, fetched_at
) VALUES (
	:id, :external_id, :account, :mailbox, :uid, :message_id,
	:from_name, :from_address, :to_addresses, :subject, :sent_at,
	:body_text, :body_html, :original_text, :quote_cleaned, :seen,
	:attachments, :fetched_at
)
ON CONFLICT(external_id) DO UPDATE SET
	account = excluded.account,
	mailbox = excluded.mailbox,
	uid = excluded.uid,
	message_id = excluded.message_id,
	from_name = excluded.from_name,
	from_address = excluded.from_address,
	to_addresses = excluded.to_addresses,
	subject = excluded.subject,
	sent_at = excluded.sent_at,
	body_text = excluded.body_text,
	body_html = excluded.body_html,
	original_text = excluded.original_text,
	quote_cleaned = excluded.quote_cleaned,
	seen = excluded.seen,
	attachments = excluded.attachments,
	fetched_at = excluded.fetched_at`

// UpsertMessage inserts msg or replaces the row with the same external id.
// A missing ID is derived from the external id.
func (s *Store) UpsertMessage(ctx context.Context, msg Message) error {
	if msg.ExternalID == "" {
		return errors.New("external id is required")
	}
	if msg.ID == "" {
		msg.ID = RowID(msg.ExternalID)
	}
	if msg.FetchedAt.IsZero() {
		msg.FetchedAt = time.Now()
	}
	msg.SentAt = msg.SentAt.UTC()
	msg.FetchedAt = msg.FetchedAt.UTC()

	if _, err := s.db.NamedExecContext(ctx, upsertMessage, msg); err != nil {
		return fmt.Errorf("upserting message %s: %w", msg.ExternalID, err)
	}
	return nil
}

// Exists reports whether a message with externalID is stored.
func (s *Store) Exists(ctx context.Context, externalID string) (bool, error) {
	var count int
	query := s.db.Rebind("SELECT COUNT(*) FROM messages WHERE external_id = ?")
	if err := s.db.GetContext(ctx, &count, query, externalID); err != nil {
		return false, fmt.Errorf("checking message %s: %w", externalID, err)
	}
	return count > 0, nil
}

func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*Message, error) {
	var msg Message
	query := s.db.Rebind("SELECT * FROM messages WHERE external_id = ?")
	if err := s.db.GetContext(ctx, &msg, query, externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting message %s: %w", externalID, err)
	}
	return &msg, nil
}

// ListRecent returns up to limit messages of account, newest first. An empty
// account lists every account.
func (s *Store) ListRecent(ctx context.Context, account string, limit int) ([]Message, error) {
	query := "SELECT * FROM messages"
	var args []any
	if account != "" {
		query += " WHERE account = ?"
		args = append(args, account)
	}
	query += " ORDER BY sent_at DESC, uid DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var out []Message
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return out, nil
}
