// Package backend defines the contract between the connection state machine
// and a TLS engine, along with the engine independent pieces of such contract
// (configuration parsing, trust selection, error classification, the global
// CA store and the handshake driver).
//
// The stdtls and utlsx subpackages implement the contract using the
// standard library and gitlab.com/yawning/utls.git respectively.
package backend

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"time"

	"github.com/ooni/esptls/internal/lasterror"
	"github.com/ooni/esptls/internal/model"
)

// ErrWantRead is the engine's signal that an operation could not complete
// yet and should be retried once the socket is readable.
var ErrWantRead = errors.New("backend: want read")

// ErrWantWrite is like ErrWantRead but for writing.
var ErrWantWrite = errors.New("backend: want write")

// IsWouldBlock returns whether err is ErrWantRead or ErrWantWrite.
func IsWouldBlock(err error) bool {
	return errors.Is(err, ErrWantRead) || errors.Is(err, ErrWantWrite)
}

// Session is a TLS session managed by an engine.
type Session interface {
	// HandshakeStep runs one handshake iteration waiting at most wait
	// for it to complete. A zero wait only checks for completion and a
	// negative wait waits for completion. The return value is nil when
	// the handshake is done, ErrWantRead or ErrWantWrite when it is still
	// in progress, and any other error when it failed. Failures are
	// captured into the error record of the session.
	HandshakeStep(wait time.Duration) error

	// Read reads application data. It returns (0, io.EOF) when the
	// peer closed the session and ErrWantRead when a non-blocking read
	// would block.
	Read(b []byte) (int, error)

	// Write writes application data, fragmenting it into records.
	Write(b []byte) (int, error)

	// BytesAvailable returns the number of decrypted bytes available
	// for reading without touching the network.
	BytesAvailable() int

	// VerifyFlags returns the certificate verification flags of the
	// last handshake failure.
	VerifyFlags() uint32

	// ConnectionState returns the TLS connection state.
	ConnectionState() tls.ConnectionState

	// Underlying returns the engine specific connection.
	Underlying() any

	// Close releases the session and closes the underlying conn. It is
	// safe to call more than once and before the handshake completed.
	Close() error
}

// Backend is a TLS engine.
type Backend interface {
	// Name returns the engine name.
	Name() string

	// NewClientSession creates the engine handle for a client session
	// over conn. On failure, the error record contains the engine code
	// and the status of the configuration step that failed and the
	// caller still owns conn.
	NewClientSession(conn net.Conn, hostname string, cfg *ClientConfig,
		rec *lasterror.Record) (Session, error)

	// NewServerSession is like NewClientSession for the server role.
	NewServerSession(conn net.Conn, cfg *ServerConfig, rec *lasterror.Record) (Session, error)

	// InitGlobalStore initializes the global CA store. This operation
	// is idempotent.
	InitGlobalStore() error

	// SetGlobalStore parses PEM or DER certificates and appends them
	// to the global CA store, initializing the store if needed.
	SetGlobalStore(data []byte) error

	// GlobalStore returns the global CA store or nil.
	GlobalStore() *x509.CertPool

	// FreeGlobalStore releases the global CA store. This operation is
	// idempotent.
	FreeGlobalStore()
}

// TrustConfig is the view of the engine configuration that a certificate
// bundle callback uses to install its trust anchors.
type TrustConfig interface {
	// SetRootCAs sets the trust anchors.
	SetRootCAs(pool *x509.CertPool)

	// SetVerifyPeerCertificate installs an additional verification
	// callback that runs after the chain has been verified.
	SetVerifyPeerCertificate(fn func(rawCerts [][]byte, chains [][]*x509.Certificate) error)
}

// CrtBundleAttach attaches a certificate bundle to the engine configuration.
type CrtBundleAttach func(config TrustConfig) error

// PSKHintKey is a pre-shared key with its identity hint.
type PSKHintKey struct {
	Key  []byte
	Hint string
}

// ClientConfig is the client session configuration.
type ClientConfig struct {
	// Logger is the OPTIONAL logger.
	Logger model.Logger

	// CACert is the PEM or DER encoded CA chain.
	CACert []byte

	// UseGlobalCAStore selects the global CA store.
	UseGlobalCAStore bool

	// CrtBundleAttach is the OPTIONAL certificate bundle callback.
	CrtBundleAttach CrtBundleAttach

	// PSK is the OPTIONAL pre-shared key.
	PSK *PSKHintKey

	// ClientCert, ClientKey and ClientKeyPassword are the OPTIONAL
	// client identity. The password decrypts an encrypted PEM key.
	ClientCert        []byte
	ClientKey         []byte
	ClientKeyPassword []byte

	// CommonName overrides the hostname used for verification and SNI.
	CommonName string

	// SkipCommonName disables the hostname verification.
	SkipCommonName bool

	// ALPN is the list of application protocols to offer.
	ALPN []string

	// TLSVersion pins the TLS version (e.g., "TLSv1.3").
	TLSVersion string

	// CipherSuites restricts the TLS <= 1.2 cipher suites.
	CipherSuites []uint16

	// SessionTickets enables TLS session resumption using a process
	// wide client session cache.
	SessionTickets bool

	// ClientHello is the uTLS ClientHello fingerprint (e.g., "chrome").
	// Engines without fingerprinting support ignore it.
	ClientHello string
}

// ServerConfig is the server session configuration.
type ServerConfig struct {
	// Logger is the OPTIONAL logger.
	Logger model.Logger

	// ServerCert, ServerKey and ServerKeyPassword are the MANDATORY
	// server identity.
	ServerCert        []byte
	ServerKey         []byte
	ServerKeyPassword []byte

	// CACert is the OPTIONAL CA chain used to verify client certificates.
	// When set, clients must present a valid certificate.
	CACert []byte

	// ALPN is the list of supported application protocols.
	ALPN []string

	// TLSVersion pins the TLS version (e.g., "TLSv1.3").
	TLSVersion string

	// CipherSuites restricts the TLS <= 1.2 cipher suites.
	CipherSuites []uint16

	// TicketKey is the OPTIONAL 32 byte session ticket key.
	TicketKey []byte
}
