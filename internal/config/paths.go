package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	AppName = "mailingest"

	// DirEnv overrides the directory holding the config file, the default
	// sqlite database and the file keyring.
	DirEnv = "MAILINGEST_CONFIG_DIR"
)

func Dir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(DirEnv)); dir != "" {
		return filepath.Clean(dir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home dir: %w", err)
	}
	return filepath.Join(home, ".config", AppName), nil
}

func ConfigPath() (string, error) {
	return inDir("config.yaml")
}

// DefaultDSN places the sqlite database next to the config file.
func DefaultDSN() (string, error) {
	return inDir("messages.db")
}

// EnsureKeyringDir creates the directory used by the keyring "file" backend.
func EnsureKeyringDir() (string, error) {
	dir, err := inDir("keyring")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("ensure keyring dir: %w", err)
	}
	return dir, nil
}

func inDir(name string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}
