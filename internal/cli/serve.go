package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mailingest/internal/api"
	"mailingest/internal/imap"
	"mailingest/internal/ingest"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the fetch-emails and strip-quotes functions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg, cmd.ErrOrStderr())
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Server.Addr
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			in := ingest.New(imap.NewService(log), st, log)
			if in.Archive, err = openArchive(cfg); err != nil {
				return err
			}

			srv := &http.Server{
				Addr: addr,
				Handler: api.NewRouter(api.Options{
					Ingester:       in,
					Messages:       st,
					Health:         st.Ping,
					Logger:         log,
					JWTSecret:      cfg.Server.JWTSecret,
					AllowedOrigins: cfg.Server.AllowedOrigins,
				}),
				ReadHeaderTimeout: 15 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				log.Info("http server listening", "addr", addr, "auth", cfg.Server.JWTSecret != "")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			log.Info("shutting down http server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")

	return cmd
}
