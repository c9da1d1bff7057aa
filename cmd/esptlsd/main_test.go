package main

import (
	"context"
	"io"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ooni/esptls/internal/model"
	"github.com/ooni/esptls/internal/testingx"
	"github.com/ooni/esptls/pkg/esptls"
)

func TestLoadProfile(t *testing.T) {
	if _, err := app.Parse([]string{
		"--address", "127.0.0.1:0",
		"--alpn", "h2", "--alpn", "http/1.1",
		"--cert", "cert.pem",
		"--key", "key.pem",
	}); err != nil {
		t.Fatal(err)
	}
	settings, err := loadProfile()
	if err != nil {
		t.Fatal(err)
	}
	if settings.Server.Address != "127.0.0.1:0" || settings.Server.Metrics != "127.0.0.1:9091" {
		t.Fatal("unexpected endpoints")
	}
	if diff := cmp.Diff([]string{"h2", "http/1.1"}, settings.Server.ALPN); diff != "" {
		t.Fatal(diff)
	}
	if settings.Server.TimeoutMS != 10000 {
		t.Fatal("unexpected timeout", settings.Server.TimeoutMS)
	}
}

func TestEchoServer(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("the connector needs linux sockets")
	}
	pki := testingx.MustNewPKI("esptlsd test CA")
	leaf := pki.MustIssue(&testingx.LeafOptions{CommonName: "example.com", DNSNames: []string{"example.com"}})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := newEchoServer(model.DiscardLogger, &esptls.ServerConfig{
		ServerCert: leaf.CertPEM,
		ServerKey:  leaf.KeyPEM,
		ALPN:       []string{"h2"},
		TimeoutMS:  5000,
	})
	go srv.Serve(listener)
	defer srv.Close()

	port := uint16(listener.Addr().(*net.TCPAddr).Port)
	conn, err := esptls.Connect(context.Background(), "127.0.0.1", port, &esptls.Config{
		CACert:     pki.CACertPEM(),
		CommonName: "example.com",
		ALPN:       []string{"h2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("abcdef")); err != nil {
		t.Fatal(err)
	}
	buffer := make([]byte, 6)
	if _, err := io.ReadFull(conn, buffer); err != nil {
		t.Fatal(err)
	}
	if string(buffer) != "abcdef" {
		t.Fatal("unexpected echo", string(buffer))
	}
}

func TestEchoServerRejectsUntrustedClient(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("the connector needs linux sockets")
	}
	pki := testingx.MustNewPKI("esptlsd test CA")
	leaf := pki.MustIssue(&testingx.LeafOptions{CommonName: "example.com", DNSNames: []string{"example.com"}})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := newEchoServer(model.DiscardLogger, &esptls.ServerConfig{
		ServerCert: leaf.CertPEM,
		ServerKey:  leaf.KeyPEM,
		CACert:     pki.CACertPEM(),
	})
	go srv.Serve(listener)
	defer srv.Close()

	port := uint16(listener.Addr().(*net.TCPAddr).Port)
	conn, err := esptls.Connect(context.Background(), "127.0.0.1", port, &esptls.Config{
		CACert:     pki.CACertPEM(),
		CommonName: "example.com",
	})
	if err == nil {
		// with TLS 1.3 the client learns about the rejection when reading
		defer conn.Close()
		if _, err = io.ReadFull(conn, make([]byte, 1)); err == nil {
			t.Fatal("expected an error")
		}
	}
}

func TestEchoServerCloseWithSilentClient(t *testing.T) {
	pki := testingx.MustNewPKI("esptlsd test CA")
	leaf := pki.MustIssue(&testingx.LeafOptions{CommonName: "example.com", DNSNames: []string{"example.com"}})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := newEchoServer(model.DiscardLogger, &esptls.ServerConfig{
		ServerCert: leaf.CertPEM,
		ServerKey:  leaf.KeyPEM,
	})
	go srv.Serve(listener)

	// connect and never send the ClientHello
	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	time.Sleep(100 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- srv.Close()
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close is stuck waiting for the handshake")
	}
}
