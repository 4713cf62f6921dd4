package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"mailingest/internal/archive"
	"mailingest/internal/config"
	"mailingest/internal/imap"
	"mailingest/internal/logger"
	"mailingest/internal/secrets"
	"mailingest/internal/store"
)

// loadConfig loads the config file and fills in the password from the
// environment, the file itself or the keyring, in that order.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}

	if _, ok := os.LookupEnv("MAILINGEST_AUTH_PASSWORD"); ok {
		cfg.Auth.PasswordSource = "env"
		return cfg, nil
	}

	if cfg.Auth.Password != "" {
		cfg.Auth.PasswordSource = "config"
		return cfg, nil
	}

	if cfg.Auth.Username == "" || cfg.IMAP.Host == "" {
		return cfg, nil
	}

	password, err := secrets.GetPassword(cfg.IMAP.Host, cfg.Auth.Username)
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return cfg, nil
		}
		return cfg, err
	}

	cfg.Auth.Password = password
	cfg.Auth.PasswordEncoding = config.EncodingPlain
	cfg.Auth.PasswordSource = "keyring"
	return cfg, nil
}

// accountFromConfig validates the IMAP settings and decodes the password.
func accountFromConfig(cfg config.Config) (imap.Account, error) {
	if err := config.ValidateIMAP(cfg); err != nil {
		return imap.Account{}, err
	}
	password, err := secrets.DecodePassword(cfg.Auth.Password, cfg.Auth.PasswordEncoding)
	if err != nil {
		return imap.Account{}, fmt.Errorf("auth.password: %w", err)
	}
	cfg.Auth.Password = password
	return imap.AccountFromConfig(cfg), nil
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	return logger.FromConfig(cfg.Log, w)
}

func openStore(cfg config.Config) (*store.Store, error) {
	if err := config.ValidateStore(cfg); err != nil {
		return nil, err
	}
	dsn := cfg.Store.DSN
	if dsn == "" {
		var err error
		if dsn, err = config.DefaultDSN(); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, err
		}
	}
	return store.Open(cfg.Store.Driver, dsn)
}

// openArchive returns nil when no bucket is configured.
func openArchive(cfg config.Config) (archive.Archiver, error) {
	if !cfg.Archive.Enabled() {
		return nil, nil
	}
	if err := config.ValidateArchive(cfg); err != nil {
		return nil, err
	}
	a, err := archive.New(cfg.Archive)
	if err != nil {
		return nil, err
	}
	return a, nil
}
