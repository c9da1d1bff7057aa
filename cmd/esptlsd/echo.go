package main

//
// TLS echo server
//

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ooni/esptls/internal/model"
	"github.com/ooni/esptls/pkg/esptls"
)

// echoServer accepts TCP connections, creates a server session for each
// of them and echoes the received data. The zero value is invalid; construct
// using newEchoServer.
type echoServer struct {
	cancel   context.CancelFunc
	cfg      *esptls.ServerConfig
	ctx      context.Context
	listener net.Listener
	logger   model.Logger
	mu       sync.Mutex
	wg       sync.WaitGroup
}

func newEchoServer(logger model.Logger, cfg *esptls.ServerConfig) *echoServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &echoServer{
		cancel: cancel,
		cfg:    cfg,
		ctx:    ctx,
		logger: logger,
	}
}

// Serve accepts connections until the listener is closed.
func (s *echoServer) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	for {
		conn, err := listener.Accept()
		if err != nil && errors.Is(err, net.ErrClosed) {
			return nil
		}
		if err != nil {
			s.logger.Warnf("esptlsd: listener.Accept failed: %s", err.Error())
			continue
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

// Close closes the listener, interrupts the handshakes in progress and
// waits for all the sessions to terminate.
func (s *echoServer) Close() error {
	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	return err
}

func (s *echoServer) handle(tcpConn net.Conn) {
	defer s.wg.Done()
	cfg := *s.cfg
	cfg.ErrorRecord = esptls.NewErrorRecord()
	peer := tcpConn.RemoteAddr().String()
	conn, err := esptls.ServerSessionCreate(s.ctx, &cfg, tcpConn)
	if err != nil {
		status, code, flags, _ := cfg.ErrorRecord.GetAndClear()
		s.logger.Warnf("esptlsd: handshake with %s: %s (status=%#x code=%d flags=%#x)",
			peer, err.Error(), status, code, flags)
		return
	}
	defer conn.ServerSessionDelete()
	s.logger.Infof("esptlsd: session with %s: alpn=%q", peer, conn.ConnectionState().NegotiatedProtocol)

	// close the session when we're shutting down
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.ctx.Done():
			conn.SetDeadline(time.Now())
		case <-done:
		}
	}()

	count, err := s.echo(conn)
	s.logger.Infof("esptlsd: session with %s: echoed %d bytes... %s", peer, count, model.ErrorToStringOrOK(err))
}

// echo copies the data read from conn back to conn until EOF.
func (s *echoServer) echo(conn *esptls.Conn) (int64, error) {
	buffer := make([]byte, 16384)
	var total int64
	for {
		count, err := conn.Read(buffer)
		if count > 0 {
			if _, err := conn.Write(buffer[:count]); err != nil {
				return total, err
			}
			total += int64(count)
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return total, nil
		case errors.Is(err, esptls.ErrWantRead) && s.ctx.Err() == nil:
		default:
			return total, err
		}
	}
}
