// Package api exposes ingestion and quote stripping as HTTP functions.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"mailingest/internal/ingest"
	"mailingest/internal/logger"
	"mailingest/internal/metrics"
	"mailingest/internal/store"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// MessageLister reads back stored messages.
type MessageLister interface {
	ListRecent(ctx context.Context, account string, limit int) ([]store.Message, error)
}

type Options struct {
	Ingester *ingest.Ingester
	// Messages may be nil when nothing is persisted.
	Messages MessageLister
	// Health reports backend readiness for /healthz. Nil means always up.
	Health         func(ctx context.Context) error
	Logger         *slog.Logger
	JWTSecret      string
	AllowedOrigins []string
}

type Handler struct {
	ingester *ingest.Ingester
	messages MessageLister
	health   func(ctx context.Context) error
	logger   *slog.Logger
	validate *validator.Validate
}

// NewRouter wires the function surface. When opts.JWTSecret is set every
// /functions route requires an HS256 bearer token.
func NewRouter(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	h := &Handler{
		ingester: opts.Ingester,
		messages: opts.Messages,
		health:   opts.Health,
		logger:   log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/functions", func(r chi.Router) {
		if opts.JWTSecret != "" {
			r.Use(bearerAuth(opts.JWTSecret))
		}
		r.Use(middleware.Timeout(5 * time.Minute))
		r.Post("/fetch-emails", h.FetchEmails)
		r.Post("/strip-quotes", h.StripQuotes)
		r.Get("/messages", h.ListMessages)
	})
	return r
}

// requestLogger logs one line per request carrying the chi request id as
// correlation id.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := middleware.GetReqID(r.Context())
			r = r.WithContext(logger.SetCorrelationID(r.Context(), requestID))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			switch {
			case ww.Status() >= 500:
				level = slog.LevelError
			case ww.Status() >= 400:
				level = slog.LevelWarn
			}
			log.LogAttrs(r.Context(), level, "http request",
				slog.String("correlation_id", requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
