package store

// migration holds one schema step. Statements run in order inside a single
// transaction, one Exec each, so both drivers accept them.
type migration struct {
	version int
	stmts   []string
}

var sqliteMigrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	external_id   TEXT NOT NULL UNIQUE,
	account       TEXT NOT NULL,
	mailbox       TEXT NOT NULL,
	uid           INTEGER NOT NULL,
	message_id    TEXT NOT NULL DEFAULT '',
	from_name     TEXT NOT NULL DEFAULT '',
	from_address  TEXT NOT NULL DEFAULT '',
	to_addresses  TEXT NOT NULL DEFAULT '',
	subject       TEXT NOT NULL DEFAULT '',
	sent_at       DATETIME NOT NULL,
	body_text     TEXT NOT NULL DEFAULT '',
	body_html     TEXT NOT NULL DEFAULT '',
	original_text TEXT NOT NULL DEFAULT '',
	quote_cleaned INTEGER NOT NULL DEFAULT 0 CHECK(quote_cleaned IN (0, 1)),
	seen          INTEGER NOT NULL DEFAULT 0 CHECK(seen IN (0, 1)),
	attachments   TEXT NOT NULL DEFAULT '',
	fetched_at    DATETIME NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_account_sent ON messages(account, sent_at)`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_messages_mailbox_uid ON messages(account, mailbox, uid)`,
		},
	},
}

var postgresMigrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	external_id   TEXT NOT NULL UNIQUE,
	account       TEXT NOT NULL,
	mailbox       TEXT NOT NULL,
	uid           BIGINT NOT NULL,
	message_id    TEXT NOT NULL DEFAULT '',
	from_name     TEXT NOT NULL DEFAULT '',
	from_address  TEXT NOT NULL DEFAULT '',
	to_addresses  TEXT NOT NULL DEFAULT '',
	subject       TEXT NOT NULL DEFAULT '',
	sent_at       TIMESTAMPTZ NOT NULL,
	body_text     TEXT NOT NULL DEFAULT '',
	body_html     TEXT NOT NULL DEFAULT '',
	original_text TEXT NOT NULL DEFAULT '',
	quote_cleaned BOOLEAN NOT NULL DEFAULT FALSE,
	seen          BOOLEAN NOT NULL DEFAULT FALSE,
	attachments   TEXT NOT NULL DEFAULT '',
	fetched_at    TIMESTAMPTZ NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_account_sent ON messages(account, sent_at)`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_messages_mailbox_uid ON messages(account, mailbox, uid)`,
		},
	},
}
