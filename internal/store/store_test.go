package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleMessage(externalID string, sent time.Time) Message {
	return Message{
		ExternalID:   externalID,
		Account:      "ops@fleet.example",
		Mailbox:      "INBOX",
		UID:          101,
		MessageID:    externalID,
		FromName:     "Mario Rossi",
		FromAddress:  "mario@example.it",
		ToAddresses:  "noleggi@fleet.example",
		Subject:      "Preventivo furgone",
		SentAt:       sent,
		BodyText:     "Buongiorno",
		OriginalText: "Buongiorno\n> vecchio",
		QuoteCleaned: true,
		Seen:         true,
	}
}

func TestUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sent := time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC)

	if err := s.UpsertMessage(ctx, sampleMessage("abc@example.it", sent)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetByExternalID(ctx, "abc@example.it")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != RowID("abc@example.it") {
		t.Fatalf("expected deterministic row id, got %s", got.ID)
	}
	if !got.SentAt.Equal(sent) {
		t.Fatalf("unexpected sent_at: %v", got.SentAt)
	}
	if !got.QuoteCleaned || !got.Seen || got.UID != 101 {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.FetchedAt.IsZero() {
		t.Fatalf("expected fetched_at to be set")
	}
}

func TestUpsertReplacesOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	msg := sampleMessage("dup@example.it", time.Now())

	if err := s.UpsertMessage(ctx, msg); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	msg.Subject = "Preventivo aggiornato"
	msg.Seen = false
	if err := s.UpsertMessage(ctx, msg); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	list, err := s.ListRecent(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected a single row, got %d", len(list))
	}
	if list[0].Subject != "Preventivo aggiornato" || list[0].Seen {
		t.Fatalf("expected row to be replaced: %+v", list[0])
	}
}

func TestExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("expected missing message: ok=%v err=%v", ok, err)
	}
	if err := s.UpsertMessage(ctx, sampleMessage("here", time.Now())); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ok, err = s.Exists(ctx, "here")
	if err != nil || !ok {
		t.Fatalf("expected stored message: ok=%v err=%v", ok, err)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetByExternalID(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRecentOrderAndFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		msg := sampleMessage(id, base.Add(time.Duration(i)*time.Hour))
		if err := s.UpsertMessage(ctx, msg); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	other := sampleMessage("z", base.Add(10*time.Hour))
	other.Account = "admin@fleet.example"
	if err := s.UpsertMessage(ctx, other); err != nil {
		t.Fatalf("upsert other: %v", err)
	}

	list, err := s.ListRecent(ctx, "ops@fleet.example", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ExternalID != "c" || list[1].ExternalID != "b" {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func TestUpsertRequiresExternalID(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertMessage(context.Background(), Message{}); err == nil {
		t.Fatalf("expected error without external id")
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.db")

	first, err := Open(DriverSQLite, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.UpsertMessage(context.Background(), sampleMessage("keep", time.Now())); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	first.Close()

	second, err := Open(DriverSQLite, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	version, err := second.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != len(sqliteMigrations) {
		t.Fatalf("expected version %d, got %d", len(sqliteMigrations), version)
	}
	if ok, _ := second.Exists(context.Background(), "keep"); !ok {
		t.Fatalf("expected data to survive reopen")
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open("oracle", "x"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	if _, err := Open(DriverPostgres, ""); err == nil {
		t.Fatalf("expected error for missing postgres dsn")
	}
}

func TestRowIDIsStable(t *testing.T) {
	if RowID("x@example.com") != RowID("x@example.com") {
		t.Fatalf("row id must be deterministic")
	}
	if RowID("x@example.com") == RowID("y@example.com") {
		t.Fatalf("row ids must differ for different external ids")
	}
}
