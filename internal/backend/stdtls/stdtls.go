// Package stdtls implements backend.Backend using crypto/tls.
package stdtls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"

	"github.com/ooni/esptls/internal/backend"
	"github.com/ooni/esptls/internal/errorsx"
	"github.com/ooni/esptls/internal/lasterror"
)

// clientSessionCache is shared by all the sessions using SessionTickets.
var clientSessionCache = tls.NewLRUClientSessionCache(64)

// Backend is the crypto/tls engine. Construct using New.
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
	return "stdlib"
}

// NewClientSession implements backend.Backend.
func (b *Backend) NewClientSession(conn net.Conn, hostname string,
	cfg *backend.ClientConfig, rec *lasterror.Record) (backend.Session, error) {
	params, err := backend.PrepareClient(b.Store, hostname, cfg, rec)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, backend.Fail(rec, errorsx.StatusSetupFailed, backend.CodeBadInputData,
			errorsx.TLSSetupOperation, backend.ErrNilConn)
	}
	config := &tls.Config{
		ServerName:            params.ServerName,
		InsecureSkipVerify:    true, // verification happens in VerifyPeerCertificate
		VerifyPeerCertificate: params.VerifyPeerCertificate,
		Certificates:          params.Certificates,
		NextProtos:            params.NextProtos,
		MinVersion:            params.MinVersion,
		MaxVersion:            params.MaxVersion,
		CipherSuites:          params.CipherSuites,
	}
	if params.SessionTickets {
		config.ClientSessionCache = clientSessionCache
	}
	tlsconn := tls.Client(conn, config)
	return backend.NewSession(&backend.SessionConfig{
		Conn:   tlsconn,
		Raw:    conn,
		State:  tlsconn.ConnectionState,
		Logger: cfg.Logger,
		Record: rec,
		Description: fmt.Sprintf("tls {sni=%s next=%+v trust=%s}",
			params.ServerName, params.NextProtos, params.Trust),
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
	config := &tls.Config{
		Certificates: params.Certificates,
		NextProtos:   params.NextProtos,
		MinVersion:   params.MinVersion,
		MaxVersion:   params.MaxVersion,
		CipherSuites: params.CipherSuites,
	}
	if params.ClientCAs != nil {
		config.ClientCAs = params.ClientCAs
		config.ClientAuth = tls.RequireAndVerifyClientCert
	}
	if params.TicketKey != nil {
		config.SetSessionTicketKeys([][32]byte{*params.TicketKey})
	}
	tlsconn := tls.Server(conn, config)
	return backend.NewSession(&backend.SessionConfig{
		Conn:        tlsconn,
		Raw:         conn,
		State:       tlsconn.ConnectionState,
		Logger:      cfg.Logger,
		Record:      rec,
		Description: fmt.Sprintf("tls server {remote=%s next=%+v}", conn.RemoteAddr(), params.NextProtos),
	}), nil
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
