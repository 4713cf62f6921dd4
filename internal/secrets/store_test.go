package secrets

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"pgregory.net/rapid"
)

func withArrayKeyring(t *testing.T) keyring.Keyring {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	prev := openKeyringFunc
	openKeyringFunc = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { openKeyringFunc = prev })
	return ring
}

func TestPasswordRoundTripThroughKeyring(t *testing.T) {
	withArrayKeyring(t)

	if err := SetPassword("IMAP.example.com", " Ops@Fleet.it ", "s3cret"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	got, err := GetPassword("imap.example.com", "ops@fleet.it")
	if err != nil {
		t.Fatalf("get password: %v", err)
	}
	if got != "s3cret" {
		t.Fatalf("expected stored password, got %q", got)
	}

	if err := DeletePassword("imap.example.com", "ops@fleet.it"); err != nil {
		t.Fatalf("delete password: %v", err)
	}
	if _, err := GetPassword("imap.example.com", "ops@fleet.it"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound, got %v", err)
	}
}

func TestSetPasswordRequiresAccount(t *testing.T) {
	withArrayKeyring(t)

	if err := SetPassword("", "user", "pw"); !errors.Is(err, errMissingAccount) {
		t.Fatalf("expected missing account error, got %v", err)
	}
	if err := SetPassword("host", "user", ""); !errors.Is(err, errMissingPassword) {
		t.Fatalf("expected missing password error, got %v", err)
	}
}

func TestAllowedBackends(t *testing.T) {
	if backends, err := allowedBackends("auto"); err != nil || backends != nil {
		t.Fatalf("auto should allow every backend, got %v %v", backends, err)
	}
	if _, err := allowedBackends("vault"); !errors.Is(err, errInvalidKeyringBackend) {
		t.Fatalf("expected invalid backend error, got %v", err)
	}
	if !shouldForceFileBackend("linux", "auto", "") {
		t.Fatalf("expected file backend without D-Bus")
	}
	if shouldForceFileBackend("darwin", "auto", "") {
		t.Fatalf("file backend should only be forced on linux")
	}
}

func TestDecodePassword(t *testing.T) {
	got, err := DecodePassword("cGFzc3dvcmQ=", "base64")
	if err != nil || got != "password" {
		t.Fatalf("expected decoded password, got %q %v", got, err)
	}
	got, err = DecodePassword("cGFzc3dvcmQ", "base64")
	if err != nil || got != "password" {
		t.Fatalf("expected unpadded input to decode, got %q %v", got, err)
	}
	if got, _ := DecodePassword("as-is", ""); got != "as-is" {
		t.Fatalf("plain encoding must not change value, got %q", got)
	}
	if _, err := DecodePassword("%%%", "base64"); !errors.Is(err, ErrInvalidEncoding) {
		t.Fatalf("expected ErrInvalidEncoding, got %v", err)
	}
	if _, err := DecodePassword("x", "rot13"); !errors.Is(err, ErrInvalidEncoding) {
		t.Fatalf("expected unknown encoding error, got %v", err)
	}
}

func TestEncodeDecodeIsReversible(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		password := rapid.String().Draw(t, "password")
		got, err := DecodePassword(EncodePassword(password), "base64")
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != password {
			t.Fatalf("expected %q, got %q", password, got)
		}
	})
}
