// Package utlsx implements backend.Backend using gitlab.com/yawning/utls.git,
// which allows the client to mimic the ClientHello of popular browsers.
package utlsx

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"

	"github.com/ooni/esptls/internal/backend"
	"github.com/ooni/esptls/internal/errorsx"
	"github.com/ooni/esptls/internal/lasterror"
	utls "gitlab.com/yawning/utls.git"
)

// clientSessionCache is shared by all the sessions using SessionTickets.
var clientSessionCache = utls.NewLRUClientSessionCache(64)

// ErrUnknownClientHello indicates an unknown ClientHello name.
var ErrUnknownClientHello = errors.New("utlsx: unknown ClientHello")

// ClientHelloID maps a ClientHello name to its uTLS ID. The empty name
// maps to the Go ClientHello.
func ClientHelloID(name string) (*utls.ClientHelloID, error) {
	switch name {
	case "", "golang":
		return &utls.HelloGolang, nil
	case "chrome":
		return &utls.HelloChrome_Auto, nil
	case "firefox":
		return &utls.HelloFirefox_Auto, nil
	case "randomized":
		return &utls.HelloRandomized, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownClientHello, name)
	}
}

func helloName(name string) string {
	if name == "" {
		return "golang"
	}
	return name
}

// Backend is the uTLS engine. Construct using New.
type Backend struct {
	// Store is the global CA store.
	Store *backend.CertStore
}

// New creates a new Backend using backend.DefaultCertStore.
func New() *Backend {
	return &Backend{Store: backend.DefaultCertStore}
}

var _ backend.Backend = &Backend{}

// Name implements backend.Backend.
func (b *Backend) Name() string {
	return "utls"
}

// NewClientSession implements backend.Backend.
func (b *Backend) NewClientSession(conn net.Conn, hostname string,
	cfg *backend.ClientConfig, rec *lasterror.Record) (backend.Session, error) {
	params, err := backend.PrepareClient(b.Store, hostname, cfg, rec)
	if err != nil {
		return nil, err
	}
	id, err := ClientHelloID(cfg.ClientHello)
	if err != nil {
		return nil, backend.Fail(rec, errorsx.StatusConfigDefaultsFailed, backend.CodeBadInputData,
			errorsx.TLSSetupOperation, err)
	}
	if conn == nil {
		return nil, backend.Fail(rec, errorsx.StatusSetupFailed, backend.CodeBadInputData,
			errorsx.TLSSetupOperation, backend.ErrNilConn)
	}
	config := &utls.Config{
		ServerName:            params.ServerName,
		InsecureSkipVerify:    true, // verification happens in VerifyPeerCertificate
		VerifyPeerCertificate: params.VerifyPeerCertificate,
		Certificates:          convertCertificates(params.Certificates),
		NextProtos:            params.NextProtos,
		MinVersion:            params.MinVersion,
		MaxVersion:            params.MaxVersion,
		CipherSuites:          params.CipherSuites,
	}
	if params.SessionTickets {
		config.ClientSessionCache = clientSessionCache
	}
	uconn := utls.UClient(conn, config, *id)
	return backend.NewSession(&backend.SessionConfig{
		Conn:   uconn,
		Raw:    conn,
		State:  func() tls.ConnectionState { return convertState(uconn.ConnectionState()) },
		Logger: cfg.Logger,
		Record: rec,
		Description: fmt.Sprintf("utls {sni=%s next=%+v trust=%s hello=%s}",
			params.ServerName, params.NextProtos, params.Trust, helloName(cfg.ClientHello)),
	}), nil
}

// NewServerSession implements backend.Backend.
func (b *Backend) NewServerSession(conn net.Conn, cfg *backend.ServerConfig,
	rec *lasterror.Record) (backend.Session, error) {
	params, err := backend.PrepareServer(cfg, rec)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, backend.Fail(rec, errorsx.StatusSetupFailed, backend.CodeBadInputData,
			errorsx.TLSSetupOperation, backend.ErrNilConn)
	}
	config := &utls.Config{
		Certificates: convertCertificates(params.Certificates),
		NextProtos:   params.NextProtos,
		MinVersion:   params.MinVersion,
		MaxVersion:   params.MaxVersion,
		CipherSuites: params.CipherSuites,
	}
	if params.ClientCAs != nil {
		config.ClientCAs = params.ClientCAs
		config.ClientAuth = utls.RequireAndVerifyClientCert
	}
	if params.TicketKey != nil {
		config.SetSessionTicketKeys([][32]byte{*params.TicketKey})
	}
	uconn := utls.Server(conn, config)
	return backend.NewSession(&backend.SessionConfig{
		Conn:        uconn,
		Raw:         conn,
		State:       func() tls.ConnectionState { return convertState(uconn.ConnectionState()) },
		Logger:      cfg.Logger,
		Record:      rec,
		Description: fmt.Sprintf("utls server {remote=%s next=%+v}", conn.RemoteAddr(), params.NextProtos),
	}), nil
}

func convertCertificates(certs []tls.Certificate) (out []utls.Certificate) {
	for _, cert := range certs {
		out = append(out, utls.Certificate{
			Certificate: cert.Certificate,
			PrivateKey:  cert.PrivateKey,
			Leaf:        cert.Leaf,
		})
	}
	return
}

// convertState converts the uTLS connection state to the standard
// library one, so that callers do not depend on the engine.
func convertState(state utls.ConnectionState) tls.ConnectionState {
	return tls.ConnectionState{
		Version:            state.Version,
		HandshakeComplete:  state.HandshakeComplete,
		DidResume:          state.DidResume,
		CipherSuite:        state.CipherSuite,
		NegotiatedProtocol: state.NegotiatedProtocol,
		ServerName:         state.ServerName,
		PeerCertificates:   state.PeerCertificates,
		VerifiedChains:     state.VerifiedChains,
		OCSPResponse:       state.OCSPResponse,
		TLSUnique:          state.TLSUnique,
	}
}

// InitGlobalStore implements backend.Backend.
func (b *Backend) InitGlobalStore() error {
	b.Store.Init()
	return nil
}

// SetGlobalStore implements backend.Backend.
func (b *Backend) SetGlobalStore(data []byte) error {
	return b.Store.Set(data)
}

// GlobalStore implements backend.Backend.
func (b *Backend) GlobalStore() *x509.CertPool {
	return b.Store.Get()
}

// FreeGlobalStore implements backend.Backend.
func (b *Backend) FreeGlobalStore() {
	b.Store.Free()
}
