//go:build linux

package esptls

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/ooni/esptls/internal/backend"
	"github.com/ooni/esptls/internal/testingx"
	dto "github.com/prometheus/client_model/go"
)

func mustReadFull(t *testing.T, c *Conn, count int) []byte {
	t.Helper()
	buffer := make([]byte, count)
	var offset int
	deadline := time.Now().Add(10 * time.Second)
	for offset < count {
		n, err := c.Read(buffer[offset:])
		offset += n
		switch {
		case err == nil:
		case errors.Is(err, ErrWantRead) && time.Now().Before(deadline):
		default:
			t.Fatal(err)
		}
	}
	return buffer
}

func mustEcho(t *testing.T, c *Conn, data []byte) {
	t.Helper()
	count, err := c.Write(data)
	if err != nil {
		t.Fatal(err)
	}
	if count != len(data) {
		t.Fatal("short write", count)
	}
	if got := mustReadFull(t, c, len(data)); !bytes.Equal(got, data) {
		t.Fatal("unexpected echo")
	}
}

func counterValue(t *testing.T, labels ...string) float64 {
	t.Helper()
	var metric dto.Metric
	if err := metricConnectionsCount.WithLabelValues(labels...).Write(&metric); err != nil {
		t.Fatal(err)
	}
	return metric.GetCounter().GetValue()
}

func TestConnectPlainTCP(t *testing.T) {
	srv := testingx.MustNewTCPEchoServer()
	defer srv.Close()

	before := counterValue(t, "client", "done")
	conn, err := Connect(context.Background(), "127.0.0.1", srv.Port(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if conn.IsTLS() || conn.State() != StateDone || conn.Session() != nil {
		t.Fatal("expected a plain TCP connection")
	}
	mustEcho(t, conn, []byte("ping"))
	if counterValue(t, "client", "done") != before+1 {
		t.Fatal("the done counter did not increase")
	}
	if count, err := conn.BytesAvailable(); count != 0 || err != nil {
		t.Fatal("unexpected result", count, err)
	}
}

func TestConnectTLS(t *testing.T) {
	mitm := testingx.MustNewTLSMITMProviderNetem()
	srv := testingx.MustNewTLSServer(testingx.TLSHandlerEcho(mitm))
	defer srv.Close()

	for _, nonBlock := range []bool{false, true} {
		conn, err := Connect(context.Background(), "127.0.0.1", srv.Port(), &Config{
			CACert:     testingx.CACertPEM(mitm),
			CommonName: "example.com",
			ALPN:       []string{"h2"},
			NonBlock:   nonBlock,
			TimeoutMS:  5000,
		})
		if err != nil {
			t.Fatal(err)
		}
		if !conn.IsTLS() || conn.ConnectionState().NegotiatedProtocol != "h2" {
			t.Fatal("unexpected connection state")
		}
		if nonBlock {
			if _, err := conn.Read(make([]byte, 4)); !errors.Is(err, ErrWantRead) {
				t.Fatal("expected ErrWantRead", err)
			}
		}
		mustEcho(t, conn, []byte("ping"))
		conn.Close()
	}
}

func TestConnectAsyncTLS(t *testing.T) {
	mitm := testingx.MustNewTLSMITMProviderNetem()
	srv := testingx.MustNewTLSServer(testingx.TLSHandlerEcho(mitm))
	defer srv.Close()

	conn := NewConn(nil, nil)
	defer conn.Close()
	cfg := &Config{CACert: testingx.CACertPEM(mitm), CommonName: "example.com", NonBlock: true}
	previous := conn.State()
	deadline := time.Now().Add(10 * time.Second)
	for {
		outcome, err := conn.ConnectAsync(context.Background(), "127.0.0.1", srv.Port(), cfg)
		if conn.State() < previous {
			t.Fatal("state moved backwards", previous, conn.State())
		}
		previous = conn.State()
		if outcome == OutcomeDone {
			break
		}
		if outcome == OutcomeFailed || time.Now().After(deadline) {
			t.Fatal("unexpected result", outcome, err)
		}
		time.Sleep(time.Millisecond)
	}
	mustEcho(t, conn, []byte("ping"))
}

func TestConnectUntrustedServer(t *testing.T) {
	mitm := testingx.MustNewTLSMITMProviderNetem()
	srv := testingx.MustNewTLSServer(testingx.TLSHandlerEcho(mitm))
	defer srv.Close()

	other := testingx.MustNewTLSMITMProviderNetem()
	rec := NewErrorRecord()
	conn, err := Connect(context.Background(), "127.0.0.1", srv.Port(), &Config{
		CACert:      testingx.CACertPEM(other),
		CommonName:  "example.com",
		ErrorRecord: rec,
	})
	if conn != nil {
		t.Fatal("expected nil conn")
	}
	if StatusOf(err) != StatusHandshakeFailed {
		t.Fatal("unexpected error", err)
	}
	status, code, flags, rerr := rec.GetAndClear()
	if rerr != nil {
		t.Fatal(rerr)
	}
	if Status(status) != StatusHandshakeFailed || code != backend.CodeX509CertVerifyFailed {
		t.Fatal("unexpected status or code", status, code)
	}
	if flags&CertFlagNotTrusted == 0 {
		t.Fatalf("unexpected flags %#x", flags)
	}
}

func TestConnectAsyncSurvivesFailure(t *testing.T) {
	mitm := testingx.MustNewTLSMITMProviderNetem()
	srv := testingx.MustNewTLSServer(testingx.TLSHandlerEcho(mitm))
	defer srv.Close()

	conn := NewConn(nil, nil)
	defer conn.Close()
	cfg := &Config{CACert: testingx.CACertPEM(testingx.MustNewTLSMITMProviderNetem()), CommonName: "example.com"}
	outcome, err := conn.ConnectAsync(context.Background(), "127.0.0.1", srv.Port(), cfg)
	if outcome != OutcomeFailed || conn.State() != StateFail {
		t.Fatal("unexpected result", outcome, err)
	}
	status, _, flags, _ := conn.GetAndClearLastError()
	if status != StatusHandshakeFailed || flags == 0 {
		t.Fatal("unexpected record", status, flags)
	}
}

func TestConnectWithCrtBundle(t *testing.T) {
	mitm := testingx.MustNewTLSMITMProviderNetem()
	srv := testingx.MustNewTLSServer(testingx.TLSHandlerEcho(mitm))
	defer srv.Close()

	bundle, err := NewCrtBundle(nil, "test", testingx.CACertPEM(mitm))
	if err != nil {
		t.Fatal(err)
	}
	conn, err := Connect(context.Background(), "127.0.0.1", srv.Port(), &Config{
		CrtBundleAttach: bundle.Attach,
		CommonName:      "example.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	mustEcho(t, conn, []byte("bundle"))
}

func TestGlobalCAStore(t *testing.T) {
	t.Cleanup(FreeGlobalCAStore)
	var servers []*testingx.TLSServer
	for idx := 0; idx < 2; idx++ {
		mitm := testingx.MustNewTLSMITMProviderNetem()
		if err := SetGlobalCAStore(testingx.CACertPEM(mitm)); err != nil {
			t.Fatal(err)
		}
		srv := testingx.MustNewTLSServer(testingx.TLSHandlerEcho(mitm))
		defer srv.Close()
		servers = append(servers, srv)
	}
	if GetGlobalCAStore() == nil {
		t.Fatal("expected an initialized store")
	}

	// both servers are trusted because the second Set appends
	for _, srv := range servers {
		conn, err := Connect(context.Background(), "127.0.0.1", srv.Port(), &Config{
			UseGlobalCAStore: true,
			CommonName:       "example.com",
		})
		if err != nil {
			t.Fatal(err)
		}
		mustEcho(t, conn, []byte("ping"))
		conn.Close()
	}

	FreeGlobalCAStore()
	if GetGlobalCAStore() != nil {
		t.Fatal("expected a released store")
	}
	_, err := Connect(context.Background(), "127.0.0.1", servers[0].Port(), &Config{
		UseGlobalCAStore: true,
		CommonName:       "example.com",
	})
	if StatusOf(err) == StatusOK {
		t.Fatal("expected an error")
	}
}

func TestLargeWrite(t *testing.T) {
	mitm := testingx.MustNewTLSMITMProviderNetem()
	srv := testingx.MustNewTLSServer(testingx.TLSHandlerEcho(mitm))
	defer srv.Close()

	conn, err := Connect(context.Background(), "127.0.0.1", srv.Port(), &Config{
		CACert:     testingx.CACertPEM(mitm),
		CommonName: "example.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	data := bytes.Repeat([]byte("0123456789"), 4000)
	errch := make(chan error, 1)
	go func() {
		count, err := conn.Write(data)
		if err == nil && count != len(data) {
			err = io.ErrShortWrite
		}
		errch <- err
	}()
	if got := mustReadFull(t, conn, len(data)); !bytes.Equal(got, data) {
		t.Fatal("unexpected echo")
	}
	if err := <-errch; err != nil {
		t.Fatal(err)
	}
}

func TestConnectURL(t *testing.T) {
	mitm := testingx.MustNewTLSMITMProviderNetem()
	srv := testingx.MustNewTLSServer(testingx.TLSHandlerEcho(mitm))
	defer srv.Close()

	conn, err := ConnectURL(context.Background(), "https://"+srv.Endpoint()+"/index.html", &Config{
		CACert:     testingx.CACertPEM(mitm),
		CommonName: "example.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	mustEcho(t, conn, []byte("url"))
}

func TestConnectContextCanceled(t *testing.T) {
	srv := testingx.MustNewTLSServer(testingx.TLSHandlerTimeout())
	defer srv.Close()

	for _, nonBlock := range []bool{false, true} {
		rec := NewErrorRecord()
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		start := time.Now()
		conn, err := Connect(ctx, "127.0.0.1", srv.Port(), &Config{
			CommonName:  "example.com",
			NonBlock:    nonBlock,
			ErrorRecord: rec,
		})
		elapsed := time.Since(start)
		cancel()
		if conn != nil || !errors.Is(err, context.DeadlineExceeded) {
			t.Fatal("unexpected result", nonBlock, err)
		}
		if elapsed > 2*time.Second {
			t.Fatal("the context was not honored", nonBlock, elapsed)
		}
		if status, _, _, _ := rec.GetAndClear(); Status(status) != StatusHandshakeFailed {
			t.Fatal("unexpected status", nonBlock, status)
		}
	}
}

func TestBlockingReadTimeout(t *testing.T) {
	mitm := testingx.MustNewTLSMITMProviderNetem()
	srv := testingx.MustNewTLSServer(testingx.TLSHandlerEcho(mitm))
	defer srv.Close()

	conn, err := Connect(context.Background(), "127.0.0.1", srv.Port(), &Config{
		CACert:     testingx.CACertPEM(mitm),
		CommonName: "example.com",
		TimeoutMS:  200,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// the echo server stays silent until we write
	start := time.Now()
	count, err := conn.Read(make([]byte, 4))
	elapsed := time.Since(start)
	if count != 0 || StatusOf(err) != StatusConnectionTimeout || !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatal("unexpected result", count, err)
	}
	if elapsed < 150*time.Millisecond || elapsed > 2*time.Second {
		t.Fatal("unexpected elapsed time", elapsed)
	}
	if status, _, _, _ := conn.GetAndClearLastError(); status != StatusConnectionTimeout {
		t.Fatal("unexpected status", status)
	}

	// a read timeout does not break the TLS session
	mustEcho(t, conn, []byte("ping"))
}

func TestServerSession(t *testing.T) {
	pki := testingx.MustNewPKI("esptls test CA")
	leaf := pki.MustIssue(&testingx.LeafOptions{CommonName: "example.com", DNSNames: []string{"example.com"}})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	errch := make(chan error, 1)
	go func() {
		tcpConn, err := listener.Accept()
		if err != nil {
			errch <- err
			return
		}
		conn, err := ServerSessionCreate(context.Background(), &ServerConfig{
			ServerCert: leaf.CertPEM,
			ServerKey:  leaf.KeyPEM,
			ALPN:       []string{"http/1.1"},
		}, tcpConn)
		if err != nil {
			errch <- err
			return
		}
		defer conn.ServerSessionDelete()
		if conn.Role() != RoleServer {
			errch <- errors.New("unexpected role")
			return
		}
		buffer := make([]byte, 4)
		if _, err := io.ReadFull(conn, buffer); err != nil {
			errch <- err
			return
		}
		_, err = conn.Write(buffer)
		errch <- err
	}()

	port := uint16(listener.Addr().(*net.TCPAddr).Port)
	conn, err := Connect(context.Background(), "127.0.0.1", port, &Config{
		CACert:     pki.CACertPEM(),
		CommonName: "example.com",
		ALPN:       []string{"http/1.1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	mustEcho(t, conn, []byte("pong"))
	if err := <-errch; err != nil {
		t.Fatal(err)
	}
	if conn.ConnectionState().NegotiatedProtocol != "http/1.1" {
		t.Fatal("unexpected ALPN")
	}
}

func TestServerSessionCreateInvalidArguments(t *testing.T) {
	rec := NewErrorRecord()
	conn, err := ServerSessionCreate(context.Background(), &ServerConfig{ErrorRecord: rec}, nil)
	if conn != nil || !errors.Is(err, ErrNilArgument) {
		t.Fatal("unexpected result", err)
	}
	if status, _, _, _ := rec.GetAndClear(); Status(status) != StatusInvalidArg {
		t.Fatal("unexpected status", status)
	}
}
