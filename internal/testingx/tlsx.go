package testingx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/ooni/esptls/internal/runtimex"
	"github.com/ooni/netem"
)

// TLSMITMProvider issues certificates for any SNI using its own CA. The
// one returned by [MustNewTLSMITMProviderNetem] uses [github.com/ooni/netem].
type TLSMITMProvider interface {
	// CACert returns the CA certificate.
	CACert() *x509.Certificate

	// DefaultCertPool returns a pool containing the CA certificate.
	DefaultCertPool() (*x509.CertPool, error)

	// ServerTLSConfig returns a server configuration issuing certificates on the fly.
	ServerTLSConfig() *tls.Config
}

// MustNewTLSMITMProviderNetem uses [github.com/ooni/netem] to implement [TLSMITMProvider].
func MustNewTLSMITMProviderNetem() TLSMITMProvider {
	return &netemTLSMITMProvider{runtimex.Try1(netem.NewTLSMITMConfig())}
}

type netemTLSMITMProvider struct {
	cfg *netem.TLSMITMConfig
}

// CACert implements TLSMITMProvider.
func (p *netemTLSMITMProvider) CACert() *x509.Certificate {
	return p.cfg.Cert
}

// DefaultCertPool implements TLSMITMProvider.
func (p *netemTLSMITMProvider) DefaultCertPool() (*x509.CertPool, error) {
	return p.cfg.CertPool()
}

// ServerTLSConfig implements TLSMITMProvider.
func (p *netemTLSMITMProvider) ServerTLSConfig() *tls.Config {
	return p.cfg.TLSConfig()
}

// CACertPEM returns the PEM encoding of the provider's CA certificate,
// which is what esptls expects as trust material.
func CACertPEM(mitm TLSMITMProvider) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: mitm.CACert().Raw})
}

// TLSHandler selects the server certificate during the handshake. When the
// handler also implements [TLSConnHandler], it handles the established conn.
type TLSHandler interface {
	GetCertificate(ctx context.Context, tcpConn net.Conn, chi *tls.ClientHelloInfo) (*tls.Certificate, error)
}

// TLSConn is the interface assumed by an established TLS conn.
type TLSConn interface {
	ConnectionState() tls.ConnectionState
	net.Conn
}

// TLSConnHandler handles the established TLS connection.
type TLSConnHandler interface {
	HandleTLSConn(conn TLSConn)
}

// TLSConfigCustomizer modifies the server configuration (e.g., to
// require client certificates or to configure ALPN).
type TLSConfigCustomizer interface {
	CustomizeTLSConfig(config *tls.Config)
}

// TLSServer is a TLS server for tests.
type TLSServer struct {
	cancel    context.CancelFunc
	closeOnce sync.Once
	handler   TLSHandler
	listener  net.Listener
	wg        sync.WaitGroup
}

// MustNewTLSServer is a simplified [MustNewTLSServerEx] that uses the stdlib and localhost.
func MustNewTLSServer(handler TLSHandler) *TLSServer {
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
	return MustNewTLSServerEx(addr, &TCPListenerStdlib{}, handler)
}

// MustNewTLSServerEx creates and starts a TLSServer listening at addr.
func MustNewTLSServerEx(addr *net.TCPAddr, tcpListener TCPListener, handler TLSHandler) *TLSServer {
	listener := runtimex.Try1(tcpListener.ListenTCP("tcp", addr))
	ctx, cancel := context.WithCancel(context.Background())
	srv := &TLSServer{
		cancel:   cancel,
		handler:  handler,
		listener: listener,
	}
	srv.wg.Add(1)
	go srv.mainloop(ctx)
	return srv
}

// Endpoint returns the endpoint where the server is listening.
func (p *TLSServer) Endpoint() string {
	return p.listener.Addr().String()
}

// Port returns the port where the server is listening.
func (p *TLSServer) Port() uint16 {
	return uint16(p.listener.Addr().(*net.TCPAddr).Port)
}

// Close closes this server as soon as possible.
func (p *TLSServer) Close() (err error) {
	p.closeOnce.Do(func() {
		err = p.listener.Close()
		p.cancel()
		p.wg.Wait()
	})
	return
}

func (p *TLSServer) mainloop(ctx context.Context) {
	defer runtimex.CatchLogAndIgnorePanic(log.Log, "TLSServer.mainloop")
	defer p.wg.Done()
	for {
		conn, err := p.listener.Accept()
		// Accept only fails once we have closed the listener
		runtimex.PanicOnError(err, "p.listener.Accept")
		go p.handle(ctx, conn)
	}
}

func (p *TLSServer) handle(ctx context.Context, tcpConn net.Conn) {
	defer tcpConn.Close()
	tlsConfig := &tls.Config{
		GetCertificate: func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
			return p.handler.GetCertificate(ctx, tcpConn, chi)
		},
	}
	if c, good := p.handler.(TLSConfigCustomizer); good {
		c.CustomizeTLSConfig(tlsConfig)
	}
	tlsConn := tls.Server(tcpConn, tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		return
	}
	defer tlsConn.Close()
	if h, good := p.handler.(TLSConnHandler); good {
		h.HandleTLSConn(tlsConn)
	}
}

// TLSHandlerTimeout returns a [TLSHandler] that stalls the handshake
// until the server is closed, then closes the TCP conn.
func TLSHandlerTimeout() TLSHandler {
	return &tlsHandlerTimeout{timeout: 300 * time.Second}
}

type tlsHandlerTimeout struct {
	timeout time.Duration
}

// GetCertificate implements TLSHandler.
func (thx *tlsHandlerTimeout) GetCertificate(
	ctx context.Context, tcpConn net.Conn, chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
	defer tcpConn.Close()
	select {
	case <-time.After(thx.timeout):
		return nil, errors.New("internal error")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TLSHandlerEcho returns a [TLSHandler] that completes the handshake using
// the given MITM provider, offers h2 and http/1.1 and echoes back whatever
// the client sends.
func TLSHandlerEcho(mitm TLSMITMProvider) TLSHandler {
	return &tlsHandlerEcho{mitm: mitm}
}

// TLSHandlerEchoWithConfig is like [TLSHandlerEcho] but lets the caller
// modify the server configuration.
func TLSHandlerEchoWithConfig(mitm TLSMITMProvider, customize func(config *tls.Config)) TLSHandler {
	return &tlsHandlerEcho{mitm: mitm, customize: customize}
}

var (
	_ TLSConnHandler      = &tlsHandlerEcho{}
	_ TLSConfigCustomizer = &tlsHandlerEcho{}
)

type tlsHandlerEcho struct {
	mitm      TLSMITMProvider
	customize func(config *tls.Config)
}

// GetCertificate implements TLSHandler.
func (thx *tlsHandlerEcho) GetCertificate(ctx context.Context, tcpConn net.Conn, chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
	return thx.mitm.ServerTLSConfig().GetCertificate(chi)
}

// CustomizeTLSConfig implements TLSConfigCustomizer.
func (thx *tlsHandlerEcho) CustomizeTLSConfig(config *tls.Config) {
	config.NextProtos = []string{"h2", "http/1.1"}
	if thx.customize != nil {
		thx.customize(config)
	}
}

// HandleTLSConn implements TLSConnHandler.
func (thx *tlsHandlerEcho) HandleTLSConn(conn TLSConn) {
	_, _ = io.Copy(conn, conn)
}

// TLSHandlerCertificate returns a [TLSHandler] that always uses the given
// certificate and echoes back whatever the client sends.
func TLSHandlerCertificate(cert *tls.Certificate) TLSHandler {
	return &tlsHandlerCertificate{cert}
}

var _ TLSConnHandler = &tlsHandlerCertificate{}

type tlsHandlerCertificate struct {
	cert *tls.Certificate
}

// GetCertificate implements TLSHandler.
func (thx *tlsHandlerCertificate) GetCertificate(ctx context.Context, tcpConn net.Conn, chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
	return thx.cert, nil
}

// HandleTLSConn implements TLSConnHandler.
func (thx *tlsHandlerCertificate) HandleTLSConn(conn TLSConn) {
	_, _ = io.Copy(conn, conn)
}
