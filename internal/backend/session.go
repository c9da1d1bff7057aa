package backend

import (
	"bufio"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ooni/esptls/internal/errorsx"
	"github.com/ooni/esptls/internal/lasterror"
	"github.com/ooni/esptls/internal/model"
)

// EngineConn is the connection type of a TLS engine. Both *tls.Conn and
// *utls.UConn implement this interface.
type EngineConn interface {
	net.Conn
	Handshake() error
}

// SessionConfig contains the arguments of NewSession.
type SessionConfig struct {
	// Conn is the MANDATORY engine connection.
	Conn EngineConn

	// Raw is the MANDATORY conn below Conn.
	Raw net.Conn

	// State is the MANDATORY function returning the connection state.
	State func() tls.ConnectionState

	// Logger is the OPTIONAL logger.
	Logger model.Logger

	// Record is the OPTIONAL error record.
	Record *lasterror.Record

	// Description describes the session in log messages.
	Description string
}

// NewSession creates a Session driving the given engine connection.
func NewSession(config *SessionConfig) Session {
	s := &session{
		conn:   config.Conn,
		raw:    config.Raw,
		state:  config.State,
		logger: model.ValidLoggerOrDefault(config.Logger),
		rec:    config.Record,
		descr:  config.Description,
		reader: bufio.NewReaderSize(config.Conn, MaxFragmentLen),
	}
	s.driver = NewHandshakeDriver(s.handshake)
	return s
}

type session struct {
	closeOnce sync.Once
	closeErr  error
	conn      EngineConn
	descr     string
	driver    *HandshakeDriver
	hsErr     error
	logger    model.Logger
	raw       net.Conn
	reader    *bufio.Reader
	rec       *lasterror.Record
	state     func() tls.ConnectionState
}

func (s *session) handshake() error {
	s.logger.Debugf("%s...", s.descr)
	start := time.Now()
	err := s.conn.Handshake()
	elapsed := time.Since(start)
	if err != nil {
		s.logger.Debugf("%s... %s in %s", s.descr, err, elapsed)
		return err
	}
	state := s.state()
	s.logger.Debugf("%s... ok in %s {next=%s cipher=%s v=%s}", s.descr, elapsed,
		state.NegotiatedProtocol, tls.CipherSuiteName(state.CipherSuite),
		tls.VersionName(state.Version))
	return nil
}

// HandshakeStep implements Session.
func (s *session) HandshakeStep(wait time.Duration) error {
	err := s.driver.Step(wait)
	switch {
	case err == nil:
		return nil
	case IsWouldBlock(err):
		return err
	default:
		s.hsErr = err
		return Fail(s.rec, errorsx.StatusHandshakeFailed, CodeOf(err), errorsx.TLSHandshakeOperation, err)
	}
}

// Read implements Session.
func (s *session) Read(b []byte) (int, error) {
	count, err := s.reader.Read(b)
	switch {
	case err == nil:
		return count, nil
	case errors.Is(err, io.EOF):
		return 0, io.EOF
	case isTimeout(err):
		return 0, ErrWantRead
	default:
		s.logger.Warnf("tls: read failed: %s", err)
		return 0, Fail(s.rec, errorsx.StatusReadFailed, CodeOf(err), errorsx.ReadOperation, err)
	}
}

// Write implements Session.
func (s *session) Write(b []byte) (int, error) {
	count, err := WriteFragmented(s.conn, b, MaxFragmentLen)
	switch {
	case err == nil:
		return count, nil
	case IsWouldBlock(err):
		return 0, err
	default:
		s.logger.Warnf("tls: write failed: %s", err)
		return count, Fail(s.rec, errorsx.StatusWriteFailed, CodeOf(err), errorsx.WriteOperation, err)
	}
}

// BytesAvailable implements Session.
func (s *session) BytesAvailable() int {
	return s.reader.Buffered()
}

// VerifyFlags implements Session.
func (s *session) VerifyFlags() uint32 {
	return VerifyFlagsOf(s.hsErr)
}

// ConnectionState implements Session.
func (s *session) ConnectionState() tls.ConnectionState {
	return s.state()
}

// Underlying implements Session.
func (s *session) Underlying() any {
	return s.conn
}

// Close implements Session.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		if s.driver.Running() {
			// unblock the handshake goroutine before closing the engine conn
			s.raw.Close()
			s.driver.Wait()
		}
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
