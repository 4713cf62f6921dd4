package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSONRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := New("info", "json", &buf)

	log.Info("login", "user", "ops@fleet.example", "password", "s3cret", "imap_password", "x", "store_dsn", "postgres://u:p@db/x")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["user"] != "ops@fleet.example" {
		t.Fatalf("expected user to be kept, got %v", record["user"])
	}
	for _, key := range []string{"password", "imap_password", "store_dsn"} {
		if record[key] != "[REDACTED]" {
			t.Fatalf("expected %s to be redacted, got %v", key, record[key])
		}
	}
}

func TestNewTextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", "text", &buf)

	log.Info("hidden")
	log.Warn("shown", "mailbox", "INBOX")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record must be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "mailbox=INBOX") {
		t.Fatalf("expected text output, got %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWithCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	base := New("info", "json", &buf)

	ctx := SetCorrelationID(context.Background(), "req-42")
	WithCorrelationID(ctx, base).Info("fetch")
	if !strings.Contains(buf.String(), `"correlation_id":"req-42"`) {
		t.Fatalf("expected correlation id, got %s", buf.String())
	}

	if WithCorrelationID(context.Background(), base) != base {
		t.Fatalf("expected the same logger without correlation id")
	}
}
