package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"mailingest/internal/config"
)

func TestKey(t *testing.T) {
	tests := []struct {
		prefix string
		obj    Object
		want   string
	}{
		{"raw", Object{Account: "Ops@Fleet.example", Mailbox: "INBOX", UID: 42}, "raw/ops@fleet.example/INBOX/42.eml"},
		{"", Object{Account: "ops", Mailbox: "Archivio/2024", UID: 7}, "ops/Archivio%2F2024/7.eml"},
		{"/raw/", Object{Account: "ops", Mailbox: "Posta inviata", UID: 1}, "raw/ops/Posta%20inviata/1.eml"},
	}
	for _, tt := range tests {
		if got := Key(tt.prefix, tt.obj); got != tt.want {
			t.Fatalf("Key(%q, %+v) = %q, want %q", tt.prefix, tt.obj, got, tt.want)
		}
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(config.ArchiveConfig{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}

type capturedPut struct {
	method      string
	path        string
	contentType string
	body        string
}

func newBucketServer(t *testing.T, status int) (*httptest.Server, *[]capturedPut) {
	t.Helper()
	var mu sync.Mutex
	var puts []capturedPut
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		puts = append(puts, capturedPut{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
		})
		mu.Unlock()
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &puts
}

func TestS3ArchiverPutsObject(t *testing.T) {
	srv, puts := newBucketServer(t, http.StatusOK)
	archiver, err := New(config.ArchiveConfig{
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		Bucket:          "mail",
		Prefix:          "raw",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	raw := "Subject: Ciao\r\n\r\nbody\r\n"
	err = archiver.Archive(context.Background(), Object{Account: "ops@fleet.example", Mailbox: "INBOX", UID: 9, Body: []byte(raw)})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(*puts) != 1 {
		t.Fatalf("expected one request, got %d", len(*puts))
	}
	got := (*puts)[0]
	if got.method != http.MethodPut {
		t.Fatalf("unexpected method %s", got.method)
	}
	if !strings.HasPrefix(got.path, "/mail/raw/ops@fleet.example/INBOX/9.eml") {
		t.Fatalf("unexpected path %s", got.path)
	}
	if got.contentType != contentType {
		t.Fatalf("unexpected content type %q", got.contentType)
	}
	if !strings.Contains(got.body, "Subject: Ciao") {
		t.Fatalf("unexpected body %q", got.body)
	}
}

func TestS3ArchiverReportsFailure(t *testing.T) {
	srv, _ := newBucketServer(t, http.StatusForbidden)
	archiver, err := New(config.ArchiveConfig{
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		Bucket:          "mail",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = archiver.Archive(context.Background(), Object{Account: "ops", Mailbox: "INBOX", UID: 1, Body: []byte("x")})
	if err == nil || !strings.Contains(err.Error(), "ops/INBOX/1.eml") {
		t.Fatalf("expected archive error naming the key, got %v", err)
	}
}
