package ingest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"syscall"

	"mailingest/internal/imap"
)

// Kind classifies a connection level failure for the caller.
type Kind string

const (
	KindAuth     Kind = "auth"
	KindTimeout  Kind = "timeout"
	KindRefused  Kind = "refused"
	KindTLS      Kind = "tls"
	KindDNS      Kind = "dns"
	KindProtocol Kind = "protocol"
	KindUnknown  Kind = "unknown"
)

// FatalError aborts a whole run. Per-message failures never produce one.
// Partial holds what the run had already done when it was aborted after
// selecting the mailbox; messages listed there are stored.
type FatalError struct {
	Kind    Kind
	Hint    string
	Err     error
	Partial *Report
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func newFatal(err error) *FatalError {
	kind, hint := Diagnose(err)
	return &FatalError{Kind: kind, Hint: hint, Err: err}
}

// Diagnose maps a connection failure to a Kind and an operator hint.
func Diagnose(err error) (Kind, string) {
	var (
		dnsErr     *net.DNSError
		cmdErr     *imap.CommandError
		netErr     net.Error
		recordErr  tls.RecordHeaderError
		verifyErr  *tls.CertificateVerificationError
		authErr    x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)

	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, imap.ErrLoginRejected):
		return KindAuth, "The server rejected the credentials. Check username and password; some providers require an app password."
	case errors.As(err, &dnsErr):
		return KindDNS, "The host name could not be resolved. Check the IMAP host."
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindRefused, "The connection was refused. Check the port: 993 for TLS, 143 for plain connections."
	case errors.As(err, &recordErr), errors.As(err, &verifyErr), errors.As(err, &authErr),
		errors.As(err, &hostErr), errors.As(err, &invalidErr):
		return KindTLS, "The TLS handshake failed. Check the TLS setting and the server certificate."
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout, "The server did not answer in time. Check host, port and firewall rules."
	case errors.As(err, &cmdErr):
		return KindProtocol, fmt.Sprintf("The server refused %s: %s", cmdErr.Command, cmdErr.Info)
	case errors.Is(err, imap.ErrProtocol), errors.Is(err, imap.ErrSessionClosed):
		return KindProtocol, "The server sent an unexpected response. Check that the port speaks IMAP."
	default:
		return KindUnknown, "Unexpected failure. Retry with debug logging enabled."
	}
}
