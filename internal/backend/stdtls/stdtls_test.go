package stdtls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/ooni/esptls/internal/backend"
	"github.com/ooni/esptls/internal/errorsx"
	"github.com/ooni/esptls/internal/lasterror"
	"github.com/ooni/esptls/internal/model"
	"github.com/ooni/esptls/internal/testingx"
)

func mustDial(t *testing.T, endpoint string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", endpoint)
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func mustEcho(t *testing.T, sess backend.Session) {
	t.Helper()
	if _, err := sess.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buffer := make([]byte, 4)
	if _, err := io.ReadFull(readerFunc(sess.Read), buffer); err != nil {
		t.Fatal(err)
	}
	if string(buffer) != "ping" {
		t.Fatal("unexpected echo", string(buffer))
	}
}

type readerFunc func(b []byte) (int, error)

func (f readerFunc) Read(b []byte) (int, error) {
	return f(b)
}

func TestClientSessionWithCACert(t *testing.T) {
	mitm := testingx.MustNewTLSMITMProviderNetem()
	srv := testingx.MustNewTLSServer(testingx.TLSHandlerEcho(mitm))
	defer srv.Close()

	b := &Backend{Store: backend.NewCertStore(model.DiscardLogger)}
	rec := lasterror.New()
	sess, err := b.NewClientSession(mustDial(t, srv.Endpoint()), "127.0.0.1", &backend.ClientConfig{
		CACert:     testingx.CACertPEM(mitm),
		CommonName: "example.com",
		ALPN:       []string{"h2"},
	}, rec)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()
	if err := sess.HandshakeStep(-1); err != nil {
		t.Fatal(err)
	}
	state := sess.ConnectionState()
	if state.NegotiatedProtocol != "h2" || state.ServerName != "example.com" {
		t.Fatal("unexpected state", state.NegotiatedProtocol, state.ServerName)
	}
	if _, ok := sess.Underlying().(*tls.Conn); !ok {
		t.Fatal("unexpected underlying type")
	}
	mustEcho(t, sess)
	if status, _, _, _ := rec.GetAndClear(); status != 0 {
		t.Fatal("unexpected status", status)
	}
}

func TestClientSessionWithGlobalStore(t *testing.T) {
	mitm := testingx.MustNewTLSMITMProviderNetem()
	srv := testingx.MustNewTLSServer(testingx.TLSHandlerEcho(mitm))
	defer srv.Close()

	b := &Backend{Store: backend.NewCertStore(model.DiscardLogger)}
	if err := b.InitGlobalStore(); err != nil {
		t.Fatal(err)
	}
	if err := b.SetGlobalStore(testingx.CACertPEM(mitm)); err != nil {
		t.Fatal(err)
	}
	defer b.FreeGlobalStore()
	if b.GlobalStore() == nil {
		t.Fatal("expected a global store")
	}
	sess, err := b.NewClientSession(mustDial(t, srv.Endpoint()), "example.com", &backend.ClientConfig{
		UseGlobalCAStore: true,
	}, lasterror.New())
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()
	if err := sess.HandshakeStep(-1); err != nil {
		t.Fatal(err)
	}
	mustEcho(t, sess)
}

func TestClientSessionVerificationFailures(t *testing.T) {
	pki := testingx.MustNewPKI("test CA")
	leaf := pki.MustIssue(&testingx.LeafOptions{CommonName: "example.com", DNSNames: []string{"example.com"}})
	other := testingx.MustNewPKI("other CA")

	cases := []struct {
		name     string
		hostname string
		cfg      *backend.ClientConfig
		flags    uint32
	}{{
		name:     "untrusted CA",
		hostname: "example.com",
		cfg:      &backend.ClientConfig{CACert: other.CACertPEM()},
		flags:    backend.CertFlagNotTrusted,
	}, {
		name:     "name mismatch",
		hostname: "example.org",
		cfg:      &backend.ClientConfig{CACert: pki.CACertPEM()},
		flags:    backend.CertFlagCNMismatch,
	}, {
		name:     "skip name check",
		hostname: "example.org",
		cfg:      &backend.ClientConfig{CACert: pki.CACertPEM(), SkipCommonName: true},
		flags:    0,
	}}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := testingx.MustNewTLSServer(testingx.TLSHandlerCertificate(&leaf.Certificate))
			defer srv.Close()
			rec := lasterror.New()
			sess, err := New().NewClientSession(mustDial(t, srv.Endpoint()), tc.hostname, tc.cfg, rec)
			if err != nil {
				t.Fatal(err)
			}
			defer sess.Close()
			err = sess.HandshakeStep(-1)
			if tc.flags == 0 {
				if err != nil {
					t.Fatal(err)
				}
				return
			}
			if errorsx.StatusOf(err) != errorsx.StatusHandshakeFailed {
				t.Fatal("unexpected error", err)
			}
			if sess.VerifyFlags() != tc.flags {
				t.Fatalf("unexpected flags %#x", sess.VerifyFlags())
			}
			_, code, _, _ := rec.GetAndClear()
			if code != backend.CodeX509CertVerifyFailed {
				t.Fatalf("unexpected code %#x", code)
			}
		})
	}
}

func TestClientSessionWithClientCertificate(t *testing.T) {
	mitm := testingx.MustNewTLSMITMProviderNetem()
	pki := testingx.MustNewPKI("client CA")
	leaf := pki.MustIssue(&testingx.LeafOptions{CommonName: "client", Client: true})
	clientCAs := x509.NewCertPool()
	clientCAs.AddCert(pki.Cert)
	srv := testingx.MustNewTLSServer(testingx.TLSHandlerEchoWithConfig(mitm, func(config *tls.Config) {
		config.ClientCAs = clientCAs
		config.ClientAuth = tls.RequireAndVerifyClientCert
	}))
	defer srv.Close()

	sess, err := New().NewClientSession(mustDial(t, srv.Endpoint()), "example.com", &backend.ClientConfig{
		CACert:     testingx.CACertPEM(mitm),
		ClientCert: leaf.CertPEM,
		ClientKey:  leaf.KeyPEM,
	}, lasterror.New())
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()
	if err := sess.HandshakeStep(-1); err != nil {
		t.Fatal(err)
	}
	mustEcho(t, sess)
}

func TestClientSessionSetupFailures(t *testing.T) {
	t.Run("nil conn", func(t *testing.T) {
		rec := lasterror.New()
		_, err := New().NewClientSession(nil, "example.com", &backend.ClientConfig{}, rec)
		if !errors.Is(err, backend.ErrNilConn) {
			t.Fatal("unexpected error", err)
		}
		if errorsx.StatusOf(err) != errorsx.StatusSetupFailed {
			t.Fatal("unexpected status")
		}
	})

	t.Run("configuration error", func(t *testing.T) {
		rec := lasterror.New()
		_, err := New().NewClientSession(nil, "example.com", &backend.ClientConfig{ALPN: []string{""}}, rec)
		if errorsx.StatusOf(err) != errorsx.StatusConfALPNFailed {
			t.Fatal("unexpected error", err)
		}
	})
}

func TestServerSession(t *testing.T) {
	pki := testingx.MustNewPKI("test CA")
	leaf := pki.MustIssue(&testingx.LeafOptions{CommonName: "example.com", DNSNames: []string{"example.com"}})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	done := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			done <- err
			return
		}
		sess, err := New().NewServerSession(conn, &backend.ServerConfig{
			ServerCert: leaf.CertPEM,
			ServerKey:  leaf.KeyPEM,
			ALPN:       []string{"http/1.1"},
			TicketKey:  make([]byte, 32),
		}, lasterror.New())
		if err != nil {
			conn.Close()
			done <- err
			return
		}
		defer sess.Close()
		if err := sess.HandshakeStep(-1); err != nil {
			done <- err
			return
		}
		buffer := make([]byte, 4)
		if _, err := io.ReadFull(readerFunc(sess.Read), buffer); err != nil {
			done <- err
			return
		}
		_, err = sess.Write(buffer)
		done <- err
	}()

	pool := x509.NewCertPool()
	pool.AddCert(pki.Cert)
	conn, err := tls.Dial("tcp", listener.Addr().String(), &tls.Config{
		RootCAs:    pool,
		ServerName: "example.com",
		NextProtos: []string{"http/1.1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if conn.ConnectionState().NegotiatedProtocol != "http/1.1" {
		t.Fatal("unexpected ALPN")
	}
	if _, err := conn.Write([]byte("pong")); err != nil {
		t.Fatal(err)
	}
	buffer := make([]byte, 4)
	if _, err := io.ReadFull(conn, buffer); err != nil {
		t.Fatal(err)
	}
	if string(buffer) != "pong" {
		t.Fatal("unexpected echo")
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestClientSessionTickets(t *testing.T) {
	mitm := testingx.MustNewTLSMITMProviderNetem()
	var ticketKey [32]byte
	ticketKey[0] = 1
	srv := testingx.MustNewTLSServer(testingx.TLSHandlerEchoWithConfig(mitm, func(config *tls.Config) {
		config.SetSessionTicketKeys([][32]byte{ticketKey})
	}))
	defer srv.Close()

	b := &Backend{Store: backend.NewCertStore(model.DiscardLogger)}
	connect := func() tls.ConnectionState {
		sess, err := b.NewClientSession(mustDial(t, srv.Endpoint()), "127.0.0.1", &backend.ClientConfig{
			CACert:         testingx.CACertPEM(mitm),
			CommonName:     "tickets.example.com",
			SessionTickets: true,
		}, lasterror.New())
		if err != nil {
			t.Fatal(err)
		}
		defer sess.Close()
		if err := sess.HandshakeStep(-1); err != nil {
			t.Fatal(err)
		}
		// with TLS 1.3 the ticket arrives after the handshake
		mustEcho(t, sess)
		return sess.ConnectionState()
	}

	if connect().DidResume {
		t.Fatal("the first session cannot resume")
	}
	if !connect().DidResume {
		t.Fatal("expected the second session to resume")
	}
}
