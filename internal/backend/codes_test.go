package backend

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestCodeOf(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		expect int
	}{
		{"nil", nil, 0},
		{"want read", ErrWantRead, CodeWantRead},
		{"want write", fmt.Errorf("x: %w", ErrWantWrite), CodeWantWrite},
		{"EOF", io.EOF, CodeConnEOF},
		{"unexpected EOF", io.ErrUnexpectedEOF, CodeConnEOF},
		{"unknown authority", &tls.CertificateVerificationError{Err: x509.UnknownAuthorityError{}}, CodeX509CertVerifyFailed},
		{"hostname", x509.HostnameError{Certificate: &x509.Certificate{}, Host: "x"}, CodeX509CertVerifyFailed},
		{"expired", x509.CertificateInvalidError{Reason: x509.Expired}, CodeX509CertVerifyFailed},
		{"alert", tls.AlertError(40), CodeFatalAlert},
		{"alert string", errors.New("remote error: tls: handshake failure"), CodeFatalAlert},
		{"timeout", os.ErrDeadlineExceeded, CodeTimeout},
		{"send", &net.OpError{Op: "write", Err: syscall.EPIPE}, CodeNetSendFailed},
		{"recv", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, CodeNetRecvFailed},
		{"x509 parse", errors.New("x509: malformed certificate"), CodeX509InvalidFormat},
		{"version", errors.New("tls: server selected unsupported protocol version 301"), CodeHandshakeFailure},
		{"protocol version", errors.New("tls: protocol version not supported"), CodeBadProtocolVersion},
		{"other", errors.New("mocked error"), CodeInternalError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CodeOf(tc.err); got != tc.expect {
				t.Fatalf("expected %#x, got %#x", tc.expect, got)
			}
		})
	}
}

func TestVerifyFlagsOf(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		expect uint32
	}{
		{"nil", nil, 0},
		{"not a verification error", io.EOF, 0},
		{"unknown authority", &tls.CertificateVerificationError{Err: x509.UnknownAuthorityError{}}, CertFlagNotTrusted},
		{"hostname", x509.HostnameError{Certificate: &x509.Certificate{}, Host: "x"}, CertFlagCNMismatch},
		{"expired", x509.CertificateInvalidError{
			Reason: x509.Expired,
			Detail: fmt.Sprintf("current time %s is after %s", time.Now(), time.Now()),
		}, CertFlagExpired},
		{"not yet valid", x509.CertificateInvalidError{
			Reason: x509.Expired,
			Detail: fmt.Sprintf("current time %s is before %s", time.Now(), time.Now()),
		}, CertFlagFuture},
		{"usage", x509.CertificateInvalidError{Reason: x509.IncompatibleUsage}, CertFlagExtKeyUsage},
		{"other reason", x509.CertificateInvalidError{Reason: x509.NotAuthorizedToSign}, CertFlagOther},
		{"untyped", errors.New("x509: certificate signed by unknown authority"), CertFlagOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := VerifyFlagsOf(tc.err); got != tc.expect {
				t.Fatalf("expected %#x, got %#x", tc.expect, got)
			}
		})
	}
}
