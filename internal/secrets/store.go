package secrets

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"mailingest/internal/config"
)

const (
	keyringPasswordEnv = "MAILINGEST_KEYRING_PASSWORD" //nolint:gosec // env var name, not a credential
	keyringBackendEnv  = "MAILINGEST_KEYRING_BACKEND"  //nolint:gosec // env var name, not a credential
)

var (
	ErrSecretNotFound        = errors.New("secret not found")
	errMissingSecretKey      = errors.New("missing secret key")
	errMissingAccount        = errors.New("missing account host or username")
	errMissingPassword       = errors.New("missing password")
	errNoTTY                 = errors.New("no TTY available for keyring file backend password prompt")
	errInvalidKeyringBackend = errors.New("invalid keyring backend")
	errKeyringTimeout        = errors.New("keyring connection timed out")
	openKeyringFunc          = openKeyring
	keyringOpenFunc          = keyring.Open
)

const (
	keyringBackendAuto = "auto"

	// keyringOpenTimeout bounds keyring.Open. D-Bus SecretService can hang
	// when gnome-keyring is installed but not running.
	keyringOpenTimeout = 5 * time.Second
)

type keyringConfig struct {
	KeyringBackend string `yaml:"keyring_backend"`
}

func resolveKeyringBackend() (string, error) {
	if v := normalize(os.Getenv(keyringBackendEnv)); v != "" {
		return v, nil
	}

	path, err := config.ConfigPath()
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(path) //nolint:gosec // config path is trusted
	if err != nil {
		if os.IsNotExist(err) {
			return keyringBackendAuto, nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}

	var cfg keyringConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return "", fmt.Errorf("parse config %s: %w", path, err)
	}
	if v := normalize(cfg.KeyringBackend); v != "" {
		return v, nil
	}
	return keyringBackendAuto, nil
}

func allowedBackends(backend string) ([]keyring.BackendType, error) {
	switch backend {
	case "", keyringBackendAuto:
		return nil, nil
	case "keychain":
		return []keyring.BackendType{keyring.KeychainBackend}, nil
	case "secret-service":
		return []keyring.BackendType{keyring.SecretServiceBackend}, nil
	case "file":
		return []keyring.BackendType{keyring.FileBackend}, nil
	default:
		return nil, fmt.Errorf("%w: %q (expected %s, keychain, secret-service or file)", errInvalidKeyringBackend, backend, keyringBackendAuto)
	}
}

// IsKeychainLockedError reports whether a macOS keychain error message means
// the login keychain is locked.
func IsKeychainLockedError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "user interaction is not allowed") ||
		strings.Contains(lower, "-25308") ||
		strings.Contains(lower, "keychain is locked")
}

func wrapKeychainError(err error) error {
	if err == nil {
		return nil
	}
	if IsKeychainLockedError(err.Error()) {
		return fmt.Errorf("%w\n\nYour macOS keychain is locked. To unlock it, run:\n  security unlock-keychain ~/Library/Keychains/login.keychain-db", err)
	}
	return err
}

func fileKeyringPasswordFuncFrom(password string, passwordSet bool, isTTY bool) keyring.PromptFunc {
	// An empty passphrase set on purpose is valid.
	if passwordSet {
		return keyring.FixedStringPrompt(password)
	}
	if isTTY {
		return keyring.TerminalPrompt
	}
	return func(_ string) (string, error) {
		return "", fmt.Errorf("%w; set %s", errNoTTY, keyringPasswordEnv)
	}
}

func shouldForceFileBackend(goos, backend, dbusAddr string) bool {
	return goos == "linux" && backend == keyringBackendAuto && dbusAddr == ""
}

func openKeyring() (keyring.Keyring, error) {
	keyringDir, err := config.EnsureKeyringDir()
	if err != nil {
		return nil, fmt.Errorf("ensure keyring dir: %w", err)
	}

	backend, err := resolveKeyringBackend()
	if err != nil {
		return nil, fmt.Errorf("resolve keyring backend: %w", err)
	}
	backends, err := allowedBackends(backend)
	if err != nil {
		return nil, err
	}

	dbusAddr := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if shouldForceFileBackend(runtime.GOOS, backend, dbusAddr) {
		backends = []keyring.BackendType{keyring.FileBackend}
	}

	password, passwordSet := os.LookupEnv(keyringPasswordEnv)
	cfg := keyring.Config{
		ServiceName:              config.AppName,
		KeychainTrustApplication: false,
		AllowedBackends:          backends,
		FileDir:                  keyringDir,
		FilePasswordFunc:         fileKeyringPasswordFuncFrom(password, passwordSet, term.IsTerminal(int(os.Stdin.Fd()))),
	}

	type result struct {
		ring keyring.Keyring
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		ring, err := keyringOpenFunc(cfg)
		ch <- result{ring, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("open keyring: %w", res.err)
		}
		return res.ring, nil
	case <-time.After(keyringOpenTimeout):
		return nil, fmt.Errorf("%w after %v; set %s=file and %s=<password> to use encrypted file storage",
			errKeyringTimeout, keyringOpenTimeout, keyringBackendEnv, keyringPasswordEnv)
	}
}

func setSecret(key string, value []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errMissingSecretKey
	}
	ring, err := openKeyringFunc()
	if err != nil {
		return err
	}
	item := keyring.Item{Key: key, Data: value, Label: config.AppName}
	if err := ring.Set(item); err != nil {
		return wrapKeychainError(fmt.Errorf("store secret: %w", err))
	}
	return nil
}

func getSecret(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errMissingSecretKey
	}
	ring, err := openKeyringFunc()
	if err != nil {
		return nil, err
	}
	item, err := ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, ErrSecretNotFound
		}
		return nil, wrapKeychainError(fmt.Errorf("read secret: %w", err))
	}
	return item.Data, nil
}

// SetPassword stores the mailbox password for host/username.
func SetPassword(host, username, password string) error {
	key, err := passwordKey(host, username)
	if err != nil {
		return err
	}
	if password == "" {
		return errMissingPassword
	}
	return setSecret(key, []byte(password))
}

func GetPassword(host, username string) (string, error) {
	key, err := passwordKey(host, username)
	if err != nil {
		return "", err
	}
	data, err := getSecret(key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func DeletePassword(host, username string) error {
	key, err := passwordKey(host, username)
	if err != nil {
		return err
	}
	ring, err := openKeyringFunc()
	if err != nil {
		return err
	}
	if err := ring.Remove(key); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return ErrSecretNotFound
		}
		return wrapKeychainError(fmt.Errorf("remove secret: %w", err))
	}
	return nil
}

func passwordKey(host, username string) (string, error) {
	h, u := normalize(host), normalize(username)
	if h == "" || u == "" {
		return "", errMissingAccount
	}
	return fmt.Sprintf("imap:password:%s:%s", h, u), nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
