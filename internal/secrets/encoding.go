package secrets

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidEncoding = errors.New("invalid password encoding")

// EncodePassword produces the reversible form stored in account records.
func EncodePassword(password string) string {
	return base64.StdEncoding.EncodeToString([]byte(password))
}

// DecodePassword reverses EncodePassword. Encoding "plain" (or empty) returns
// the value untouched.
func DecodePassword(value, encoding string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "plain":
		return value, nil
	case "base64":
		trimmed := strings.TrimSpace(value)
		data, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			// Records written by browsers sometimes drop the padding.
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(trimmed, "="))
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
			}
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: unknown encoding %q", ErrInvalidEncoding, encoding)
	}
}
