package esptls

import (
	"errors"

	"github.com/ooni/esptls/internal/backend"
	"github.com/ooni/esptls/internal/errorsx"
)

// Status identifies which logical step of connection establishment failed.
type Status = errorsx.Status

// Error is the error type returned by this package.
type Error = errorsx.Error

// StatusOf returns the Status of an error returned by this package.
func StatusOf(err error) Status {
	return errorsx.StatusOf(err)
}

// Status values. See the errorsx package for their meaning.
const (
	StatusOK                        = errorsx.StatusOK
	StatusCannotResolveHostname     = errorsx.StatusCannotResolveHostname
	StatusCannotCreateSocket        = errorsx.StatusCannotCreateSocket
	StatusUnsupportedProtocolFamily = errorsx.StatusUnsupportedProtocolFamily
	StatusFailedConnectToHost       = errorsx.StatusFailedConnectToHost
	StatusSocketSetoptFailed        = errorsx.StatusSocketSetoptFailed
	StatusConnectionTimeout         = errorsx.StatusConnectionTimeout
	StatusTCPClosedFIN              = errorsx.StatusTCPClosedFIN
	StatusCertPartlyOK              = errorsx.StatusCertPartlyOK
	StatusRandSeedFailed            = errorsx.StatusRandSeedFailed
	StatusSetHostnameFailed         = errorsx.StatusSetHostnameFailed
	StatusConfigDefaultsFailed      = errorsx.StatusConfigDefaultsFailed
	StatusConfALPNFailed            = errorsx.StatusConfALPNFailed
	StatusX509CrtParseFailed        = errorsx.StatusX509CrtParseFailed
	StatusConfOwnCertFailed         = errorsx.StatusConfOwnCertFailed
	StatusSetupFailed               = errorsx.StatusSetupFailed
	StatusWriteFailed               = errorsx.StatusWriteFailed
	StatusPKParseKeyFailed          = errorsx.StatusPKParseKeyFailed
	StatusHandshakeFailed           = errorsx.StatusHandshakeFailed
	StatusConfPSKFailed             = errorsx.StatusConfPSKFailed
	StatusTicketSetupFailed         = errorsx.StatusTicketSetupFailed
	StatusReadFailed                = errorsx.StatusReadFailed
	StatusInvalidArg                = errorsx.StatusInvalidArg
	StatusInvalidState              = errorsx.StatusInvalidState
)

// Certificate verification flags.
const (
	CertFlagExpired     = backend.CertFlagExpired
	CertFlagRevoked     = backend.CertFlagRevoked
	CertFlagCNMismatch  = backend.CertFlagCNMismatch
	CertFlagNotTrusted  = backend.CertFlagNotTrusted
	CertFlagOther       = backend.CertFlagOther
	CertFlagFuture      = backend.CertFlagFuture
	CertFlagKeyUsage    = backend.CertFlagKeyUsage
	CertFlagExtKeyUsage = backend.CertFlagExtKeyUsage
)

// ErrWantRead and ErrWantWrite indicate that a non-blocking read or
// write could not complete and should be retried.
var (
	ErrWantRead  = backend.ErrWantRead
	ErrWantWrite = backend.ErrWantWrite
)

var (
	// ErrNilConn indicates that a nil *Conn was used.
	ErrNilConn = errors.New("esptls: nil connection")

	// ErrNotConnected indicates that the connection is not in StateDone.
	ErrNotConnected = errors.New("esptls: not connected")

	// ErrWrongRole indicates a client operation on a server session
	// or the other way around.
	ErrWrongRole = errors.New("esptls: wrong role")

	// ErrAlreadyStarted indicates that the connection is not in StateInit.
	ErrAlreadyStarted = errors.New("esptls: connection already started")
)
