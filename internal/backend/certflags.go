package backend

import (
	"crypto/x509"
	"errors"
	"strings"
)

// Certificate verification flags, numbered like mbedTLS's MBEDTLS_X509_BADCERT_XXX.
const (
	CertFlagExpired     = 0x01
	CertFlagRevoked     = 0x02
	CertFlagCNMismatch  = 0x04
	CertFlagNotTrusted  = 0x08
	CertFlagOther       = 0x0100
	CertFlagFuture      = 0x0200
	CertFlagKeyUsage    = 0x0800
	CertFlagExtKeyUsage = 0x1000
)

// VerifyFlagsOf maps a certificate verification error to flags. It
// returns zero when err is not a verification error.
func VerifyFlagsOf(err error) uint32 {
	if err == nil {
		return 0
	}
	var (
		unknownAuthority x509.UnknownAuthorityError
		hostname         x509.HostnameError
		invalid          x509.CertificateInvalidError
		systemRoots      x509.SystemRootsError
	)
	switch {
	case errors.As(err, &unknownAuthority), errors.As(err, &systemRoots):
		return CertFlagNotTrusted
	case errors.As(err, &hostname):
		return CertFlagCNMismatch
	case errors.As(err, &invalid):
		switch invalid.Reason {
		case x509.Expired:
			if strings.Contains(invalid.Detail, "is before") {
				return CertFlagFuture
			}
			return CertFlagExpired
		case x509.IncompatibleUsage:
			return CertFlagExtKeyUsage
		default:
			return CertFlagOther
		}
	}
	if CodeOf(err) == CodeX509CertVerifyFailed {
		return CertFlagOther
	}
	return 0
}
