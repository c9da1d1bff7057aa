package backend

//
// Engine result codes
//

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strings"
)

// Engine result codes. The values follow the numbering of mbedTLS so
// that callers can handle them the same way regardless of the engine.
const (
	CodeEntropyFailed        = -0x0034
	CodeNetRecvFailed        = -0x004C
	CodeNetSendFailed        = -0x004E
	CodeX509InvalidFormat    = -0x2180
	CodeX509CertVerifyFailed = -0x2700
	CodePKPasswordMismatch   = -0x3B80
	CodePKKeyInvalid         = -0x3D00
	CodeTimeout              = -0x6800
	CodeWantWrite            = -0x6880
	CodeWantRead             = -0x6900
	CodeNoUsableCiphersuite  = -0x6980
	CodeInternalError        = -0x6C00
	CodeHandshakeFailure     = -0x6E00
	CodeBadProtocolVersion   = -0x6E80
	CodeFeatureUnavailable   = -0x7080
	CodeBadInputData         = -0x7100
	CodeConnEOF              = -0x7280
	CodeUnexpectedMessage    = -0x7700
	CodeFatalAlert           = -0x7780
	CodePeerCloseNotify      = -0x7880
)

// CodeOf maps an error returned by an engine to its result code. A nil
// error maps to zero.
func CodeOf(err error) int {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, ErrWantRead):
		return CodeWantRead
	case errors.Is(err, ErrWantWrite):
		return CodeWantWrite
	case errors.Is(err, io.EOF):
		return CodeConnEOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return CodeConnEOF
	}
	var (
		unknownAuthority x509.UnknownAuthorityError
		hostname         x509.HostnameError
		invalid          x509.CertificateInvalidError
		systemRoots      x509.SystemRootsError
		alert            tls.AlertError
	)
	switch {
	case errors.As(err, &unknownAuthority),
		errors.As(err, &hostname),
		errors.As(err, &invalid),
		errors.As(err, &systemRoots):
		return CodeX509CertVerifyFailed
	case errors.As(err, &alert):
		return CodeFatalAlert
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "write":
			return CodeNetSendFailed
		case "read":
			return CodeNetRecvFailed
		}
	}
	return classifyMessage(err.Error())
}

// classifyMessage classifies engine errors that are not typed. The
// uTLS engine returns the same strings as older standard libraries.
func classifyMessage(s string) int {
	switch {
	case strings.HasPrefix(s, "remote error: tls:"):
		return CodeFatalAlert
	case strings.Contains(s, "x509: certificate signed by unknown authority"),
		strings.Contains(s, "x509: certificate is valid for"),
		strings.Contains(s, "x509: certificate has expired"):
		return CodeX509CertVerifyFailed
	case strings.HasPrefix(s, "x509:"):
		return CodeX509InvalidFormat
	case strings.Contains(s, "protocol version not supported"):
		return CodeBadProtocolVersion
	case strings.Contains(s, "no cipher suite supported"):
		return CodeNoUsableCiphersuite
	case strings.Contains(s, "unexpected message"):
		return CodeUnexpectedMessage
	case strings.HasPrefix(s, "tls:"):
		return CodeHandshakeFailure
	default:
		return CodeInternalError
	}
}
