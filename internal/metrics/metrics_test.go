package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape returned %d", rec.Code)
	}
	return rec.Body.String()
}

func TestObserveRunAndMessages(t *testing.T) {
	ObserveRun("fatal", 1500*time.Millisecond)
	ObserveFatal("auth")
	ObserveMessage("empty_body")
	ObserveMessage("empty_body")

	out := scrape(t)
	for _, want := range []string{
		`mailingest_ingest_runs_total{outcome="fatal"} 1`,
		`mailingest_ingest_fatal_errors_total{kind="auth"} 1`,
		`mailingest_ingest_messages_total{result="empty_body"} 2`,
		`mailingest_ingest_run_duration_seconds_count 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in exposition", want)
		}
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/7", nil))

	want := `mailingest_http_requests_total{method="GET",path="/items/{id}",status="418"} 1`
	if out := scrape(t); !strings.Contains(out, want) {
		t.Fatalf("expected %q in exposition", want)
	}
}
