package esptls

import (
	"time"

	"github.com/ooni/esptls/internal/backend"
	"github.com/ooni/esptls/internal/lasterror"
	"github.com/ooni/esptls/internal/model"
	"github.com/ooni/esptls/internal/tcpconn"
)

// Logger is the logger used by this package.
type Logger = model.Logger

// ErrorRecord is the record of the last errors of a connection.
type ErrorRecord = lasterror.Record

// NewErrorRecord creates a new empty ErrorRecord.
func NewErrorRecord() *ErrorRecord {
	return lasterror.New()
}

// TrustConfig is what a CrtBundleAttach callback configures.
type TrustConfig = backend.TrustConfig

// CrtBundleAttach attaches a certificate bundle to a client session.
type CrtBundleAttach = backend.CrtBundleAttach

// PSKHintKey is a pre-shared key and its identity hint.
type PSKHintKey = backend.PSKHintKey

// KeepAlive contains the TCP keep-alive settings.
type KeepAlive = model.KeepAlive

// AddressFamily restricts name resolution to a family.
type AddressFamily = model.AddressFamily

// Address families.
const (
	AddressFamilyUnspec = model.AddressFamilyUnspec
	AddressFamilyINET   = model.AddressFamilyINET
	AddressFamilyINET6  = model.AddressFamilyINET6
)

// Config configures a client connection. A Config must not be modified
// while a connection attempt using it is in progress.
type Config struct {
	// CACert is the OPTIONAL PEM or DER encoded CA chain.
	CACert []byte

	// UseGlobalCAStore uses the global CA store.
	UseGlobalCAStore bool

	// CrtBundleAttach is the OPTIONAL certificate bundle callback.
	CrtBundleAttach CrtBundleAttach

	// PSKHintKey is the OPTIONAL pre-shared key.
	PSKHintKey *PSKHintKey

	// ClientCert and ClientKey are the OPTIONAL client identity.
	ClientCert []byte
	ClientKey  []byte

	// ClientKeyPassword decrypts an encrypted ClientKey.
	ClientKeyPassword []byte

	// CommonName is the OPTIONAL name to verify instead of the host.
	CommonName string

	// SkipCommonName disables the verification of the server name.
	SkipCommonName bool

	// ALPN contains the OPTIONAL ALPN protocols.
	ALPN []string

	// NonBlock enables the non-blocking mode.
	NonBlock bool

	// TimeoutMS is the OPTIONAL timeout in milliseconds.
	TimeoutMS int

	// KeepAlive contains the OPTIONAL TCP keep-alive settings.
	KeepAlive *KeepAlive

	// IfName is the OPTIONAL network interface to bind to.
	IfName string

	// AddrFamily restricts name resolution to a family.
	AddrFamily AddressFamily

	// DNSServer is the OPTIONAL address of a DNS-over-UDP server. When
	// empty, we use the system resolver.
	DNSServer string

	// TLSVersion is the OPTIONAL TLS version (e.g., "TLSv1.3").
	TLSVersion string

	// CipherSuites contains the OPTIONAL cipher suites.
	CipherSuites []uint16

	// SessionTickets enables TLS session resumption.
	SessionTickets bool

	// ClientHello is the OPTIONAL ClientHello fingerprint. Only the uTLS
	// engine supports values other than "golang".
	ClientHello string

	// Logger is the OPTIONAL logger.
	Logger Logger

	// ErrorRecord is the OPTIONAL error record. When nil, each
	// connection creates its own record.
	ErrorRecord *ErrorRecord
}

func (c *Config) logger() model.Logger {
	if c == nil {
		return nil
	}
	return c.Logger
}

func (c *Config) errorRecord() *lasterror.Record {
	if c == nil {
		return nil
	}
	return c.ErrorRecord
}

func (c *Config) timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c *Config) hasTrust() bool {
	return c.CrtBundleAttach != nil || c.UseGlobalCAStore || len(c.CACert) > 0 || c.PSKHintKey != nil
}

func (c *Config) options() *tcpconn.Options {
	timeout := time.Duration(-1)
	if c.TimeoutMS >= 0 {
		timeout = c.timeout()
	}
	return &tcpconn.Options{
		Family:    c.AddrFamily,
		NonBlock:  c.NonBlock,
		Timeout:   timeout,
		KeepAlive: c.KeepAlive,
		IfName:    c.IfName,
	}
}

func (c *Config) clientConfig(logger model.Logger) *backend.ClientConfig {
	return &backend.ClientConfig{
		Logger:            logger,
		CACert:            c.CACert,
		UseGlobalCAStore:  c.UseGlobalCAStore,
		CrtBundleAttach:   c.CrtBundleAttach,
		PSK:               c.PSKHintKey,
		ClientCert:        c.ClientCert,
		ClientKey:         c.ClientKey,
		ClientKeyPassword: c.ClientKeyPassword,
		CommonName:        c.CommonName,
		SkipCommonName:    c.SkipCommonName,
		ALPN:              c.ALPN,
		TLSVersion:        c.TLSVersion,
		CipherSuites:      c.CipherSuites,
		SessionTickets:    c.SessionTickets,
		ClientHello:       c.ClientHello,
	}
}

// ServerConfig configures a server session.
type ServerConfig struct {
	// ServerCert and ServerKey are the MANDATORY server identity.
	ServerCert []byte
	ServerKey  []byte

	// ServerKeyPassword decrypts an encrypted ServerKey.
	ServerKeyPassword []byte

	// CACert is the OPTIONAL CA chain used to require and verify
	// client certificates.
	CACert []byte

	// ALPN contains the OPTIONAL ALPN protocols.
	ALPN []string

	// TLSVersion is the OPTIONAL TLS version.
	TLSVersion string

	// CipherSuites contains the OPTIONAL cipher suites.
	CipherSuites []uint16

	// TicketKey is the OPTIONAL 32 bytes session ticket key.
	TicketKey []byte

	// NonBlock enables the non-blocking mode.
	NonBlock bool

	// TimeoutMS is the OPTIONAL handshake timeout in milliseconds.
	TimeoutMS int

	// Logger is the OPTIONAL logger.
	Logger Logger

	// ErrorRecord is the OPTIONAL error record.
	ErrorRecord *ErrorRecord
}

func (c *ServerConfig) serverConfig(logger model.Logger) *backend.ServerConfig {
	return &backend.ServerConfig{
		Logger:            logger,
		ServerCert:        c.ServerCert,
		ServerKey:         c.ServerKey,
		ServerKeyPassword: c.ServerKeyPassword,
		CACert:            c.CACert,
		ALPN:              c.ALPN,
		TLSVersion:        c.TLSVersion,
		CipherSuites:      c.CipherSuites,
		TicketKey:         c.TicketKey,
	}
}

func (c *ServerConfig) timeoutDuration() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}
