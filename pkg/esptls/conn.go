package esptls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/ooni/esptls/internal/backend"
	"github.com/ooni/esptls/internal/errorsx"
	"github.com/ooni/esptls/internal/lasterror"
	"github.com/ooni/esptls/internal/model"
	"github.com/ooni/esptls/internal/runtimex"
	"github.com/ooni/esptls/internal/tcpconn"
)

// ConnState is the state of a Conn.
type ConnState int

// The states are ordered: a Conn only moves to a greater state.
const (
	StateInit = ConnState(iota)
	StateConnecting
	StateHandshake
	StateFail
	StateDone
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateHandshake:
		return "handshake"
	case StateFail:
		return "fail"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state_%d", int(s))
	}
}

// Role is the role of a Conn.
type Role int

const (
	// RoleClient is the client role.
	RoleClient = Role(iota)

	// RoleServer is the server role.
	RoleServer
)

// String returns the role name.
func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Outcome is the result of a single step of the state machine.
type Outcome int

const (
	// OutcomeFailed means that the connection failed.
	OutcomeFailed = Outcome(-1)

	// OutcomeInProgress means that the caller should step again later.
	OutcomeInProgress = Outcome(0)

	// OutcomeDone means that the connection is established.
	OutcomeDone = Outcome(1)
)

// Session is the TLS engine session of a Conn.
type Session = backend.Session

// pollInterval is the maximum time a non-blocking step waits for
// the socket and the interval between steps of a synchronous connect.
const pollInterval = 10 * time.Millisecond

// defaultBackend is the TLS engine selected at build time.
var defaultBackend = newDefaultBackend()

// Conn is a TCP or TLS connection. The zero value is invalid; construct
// using NewConn. A Conn is driven by a single goroutine at a time.
type Conn struct {
	backend      backend.Backend
	cfg          *Config
	closeOnce    sync.Once
	conn         net.Conn
	connector    *tcpconn.Connector
	deadline     time.Time
	err          error
	fd           int
	host         string
	hsStarted    time.Time
	id           string
	ioTimeout    time.Duration
	isTLS        bool
	logger       model.Logger
	newConnector func(logger model.Logger, cfg *Config) *tcpconn.Connector
	nonBlock     bool
	port         uint16
	read         func(b []byte) (int, error)
	rec          *lasterror.Record
	role         Role
	session      backend.Session
	state        ConnState
	timeout      time.Duration
	trusted      bool
	write        func(b []byte) (int, error)
}

var _ net.Conn = &Conn{}

// NewConn creates a new Conn in StateInit. When rec is nil, the
// Conn creates its own ErrorRecord.
func NewConn(logger Logger, rec *ErrorRecord) *Conn {
	if rec == nil {
		rec = lasterror.New()
	}
	id := uuid.Must(uuid.NewRandom()).String()
	metricConnectionsInflight.Inc()
	return &Conn{
		backend:      defaultBackend,
		fd:           -1,
		id:           id,
		logger:       model.NewPrefixLogger("esptls "+id[:8], logger),
		newConnector: newConnector,
		rec:          rec,
		role:         RoleClient,
		state:        StateInit,
	}
}

func newConnector(logger model.Logger, cfg *Config) *tcpconn.Connector {
	if cfg != nil && cfg.DNSServer != "" {
		return tcpconn.NewConnector(logger, tcpconn.NewResolverUDP(logger, cfg.DNSServer))
	}
	return tcpconn.NewConnector(logger, tcpconn.NewResolverSystem(logger))
}

// Connect connects to host and port and, when cfg is not nil, performs
// the TLS handshake. It steps the state machine until it reaches a
// terminal state. On failure, the Conn is destroyed and the only way to
// inspect the failure is through cfg.ErrorRecord.
func Connect(ctx context.Context, host string, port uint16, cfg *Config) (*Conn, error) {
	c := NewConn(cfg.logger(), cfg.errorRecord())
	return c.loop(ctx, func() (Outcome, error) {
		return c.ConnectAsync(ctx, host, port, cfg)
	})
}

// ConnectAsync performs a single step of the state machine. The host, port
// and cfg are only used by the first call. The Conn survives failures: the
// caller must Close it in any case.
func (c *Conn) ConnectAsync(ctx context.Context, host string, port uint16, cfg *Config) (Outcome, error) {
	if c == nil {
		return OutcomeFailed, errorsx.New(errorsx.StatusInvalidArg, errorsx.TopLevelOperation, ErrNilConn)
	}
	if c.role != RoleClient {
		return OutcomeFailed, c.invalidState(errorsx.TopLevelOperation, ErrWrongRole)
	}
	if c.state == StateInit {
		c.host, c.port, c.cfg = host, port, cfg
	}
	return c.step(ctx)
}

// loop steps until a terminal state, sleeping between steps. On failure
// it closes the Conn.
func (c *Conn) loop(ctx context.Context, step func() (Outcome, error)) (*Conn, error) {
	for {
		outcome, err := step()
		switch outcome {
		case OutcomeDone:
			return c, nil
		case OutcomeFailed:
			c.Close()
			return nil, err
		}
		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			_, err := c.fail(c.interrupted(ctx.Err()))
			c.Close()
			return nil, err
		case <-timer.C:
		}
	}
}

// step runs the state machine until it needs to wait or reaches a
// terminal state. A step that completes moves on to the next state.
func (c *Conn) step(ctx context.Context) (Outcome, error) {
	for {
		switch c.state {
		case StateInit:
			if err := c.stepInit(ctx); err != nil {
				return c.fail(err)
			}
		case StateConnecting:
			ready, err := c.stepConnecting(ctx)
			if err != nil {
				return c.fail(err)
			}
			if !ready {
				return OutcomeInProgress, nil
			}
		case StateHandshake:
			done, err := c.stepHandshake(ctx)
			if err != nil {
				return c.fail(err)
			}
			if !done {
				return OutcomeInProgress, nil
			}
		case StateFail:
			return OutcomeFailed, c.err
		default:
			return OutcomeDone, nil
		}
	}
}

func (c *Conn) stepInit(ctx context.Context) error {
	if c.role != RoleClient {
		return c.invalidState(errorsx.TopLevelOperation, ErrWrongRole)
	}
	c.connector = c.newConnector(c.logger, c.cfg)

	if c.cfg == nil {
		conn, err := c.connector.Dial(ctx, c.host, c.port, &tcpconn.Options{Timeout: -1}, c.rec)
		if err != nil {
			return err
		}
		c.conn = conn
		c.bind(c.rawRead, c.rawWrite)
		c.setState(StateDone)
		return nil
	}

	c.isTLS = true
	c.nonBlock = c.cfg.NonBlock
	c.timeout = c.cfg.timeout()
	c.trusted = c.cfg.hasTrust()
	if !c.nonBlock && c.timeout > 0 {
		c.ioTimeout = c.timeout
	}
	addrs, err := c.connector.Resolve(ctx, c.host, c.cfg.AddrFamily, c.rec)
	if err != nil {
		return err
	}
	fd, _, err := c.connector.Open(netip.AddrPortFrom(addrs[0], c.port), c.cfg.options(), c.rec)
	if err != nil {
		return err
	}
	c.fd = fd
	if c.nonBlock && c.timeout > 0 {
		c.deadline = time.Now().Add(c.timeout)
	}
	c.setState(StateConnecting)
	return nil
}

func (c *Conn) stepConnecting(ctx context.Context) (bool, error) {
	if c.nonBlock {
		ready, err := c.connector.Wait(c.fd, c.pollTimeout(), c.rec)
		if err != nil {
			return false, err
		}
		if !ready {
			if !c.deadline.IsZero() && !time.Now().Before(c.deadline) {
				return false, c.connectTimeout()
			}
			return false, nil
		}
	} else if err := c.connector.Complete(ctx, c.fd, c.timeout, c.rec); err != nil {
		return false, err
	}

	conn, err := c.connector.Finish(c.fd, c.rec)
	c.fd = -1
	if err != nil {
		return false, err
	}
	c.conn = conn
	sess, err := c.backend.NewClientSession(conn, c.host, c.cfg.clientConfig(c.logger), c.rec)
	if err != nil {
		return false, err
	}
	c.startHandshake(sess)
	return true, nil
}

// pollTimeout returns how long a non-blocking step waits for the socket.
func (c *Conn) pollTimeout() time.Duration {
	if c.deadline.IsZero() {
		return 0
	}
	return min(pollInterval, max(time.Until(c.deadline), 0))
}

func (c *Conn) connectTimeout() error {
	err := errorsx.New(errorsx.StatusConnectionTimeout, errorsx.ConnectOperation,
		fmt.Errorf("connect: %w", syscall.ETIMEDOUT))
	c.rec.Capture(lasterror.KindSystem, int(syscall.ETIMEDOUT))
	c.rec.Capture(lasterror.KindStatus, int(err.Status))
	return err
}

// startHandshake binds I/O to the session and enters StateHandshake.
func (c *Conn) startHandshake(sess backend.Session) {
	c.session = sess
	c.bind(c.tlsRead, c.tlsWrite)
	if c.timeout > 0 {
		c.setDeadline("SetDeadline", c.conn.SetDeadline, time.Now().Add(c.timeout))
	}
	c.hsStarted = time.Now()
	c.setState(StateHandshake)
}

func (c *Conn) stepHandshake(ctx context.Context) (bool, error) {
	var err error
	if c.nonBlock {
		err = c.session.HandshakeStep(0)
	} else if err = c.handshakeBlocking(ctx); err != nil && errors.Is(err, ctx.Err()) {
		return false, c.interrupted(ctx.Err())
	}
	switch {
	case err == nil:
		c.setDeadline("SetDeadline", c.conn.SetDeadline, time.Time{})
		metricHandshakeDurationSeconds.WithLabelValues(c.role.String()).Observe(
			time.Since(c.hsStarted).Seconds())
		c.setState(StateDone)
		return true, nil
	case backend.IsWouldBlock(err):
		return false, nil
	default:
		if c.trusted {
			c.rec.Capture(lasterror.KindCertFlags, int(c.session.VerifyFlags()))
		}
		return false, err
	}
}

// handshakeBlocking waits for the handshake to complete in slices of
// pollInterval and gives up as soon as ctx is done.
func (c *Conn) handshakeBlocking(ctx context.Context) error {
	for {
		err := c.session.HandshakeStep(pollInterval)
		if !backend.IsWouldBlock(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Conn) setState(next ConnState) {
	runtimex.Assert(next > c.state, "esptls: state transitions must be monotonic")
	c.logger.Debugf("%s -> %s", c.state, next)
	c.state = next
	if next == StateDone {
		metricConnectionsCount.WithLabelValues(c.role.String(), "done").Inc()
	}
}

func (c *Conn) fail(err error) (Outcome, error) {
	if c.state == StateFail {
		return OutcomeFailed, c.err
	}
	c.err = err
	c.logger.Warnf("connect %s:%d... %s", c.host, c.port, err)
	c.setState(StateFail)
	metricConnectionsCount.WithLabelValues(c.role.String(), "failed").Inc()
	metricFailuresCount.WithLabelValues(errorsx.StatusOf(err).String()).Inc()
	return OutcomeFailed, err
}

// interrupted returns the failure of a synchronous connect whose context
// is done while waiting in the current state.
func (c *Conn) interrupted(err error) error {
	status, op := errorsx.StatusFailedConnectToHost, errorsx.ConnectOperation
	if c.state == StateHandshake {
		status, op = errorsx.StatusHandshakeFailed, errorsx.TLSHandshakeOperation
	}
	wrapped := errorsx.New(status, op, err)
	c.rec.Capture(lasterror.KindStatus, int(wrapped.Status))
	return wrapped
}

func (c *Conn) invalidState(op string, err error) error {
	wrapped := errorsx.New(errorsx.StatusInvalidState, op, err)
	c.rec.Capture(lasterror.KindStatus, int(wrapped.Status))
	return wrapped
}

// bind binds the I/O functions. This happens once per Conn.
func (c *Conn) bind(read, write func(b []byte) (int, error)) {
	runtimex.Assert(c.read == nil && c.write == nil, "esptls: I/O already bound")
	c.read, c.write = read, write
}

func (c *Conn) rawRead(b []byte) (int, error) {
	if c.ioTimeout > 0 {
		c.setDeadline("SetReadDeadline", c.conn.SetReadDeadline, time.Now().Add(c.ioTimeout))
	}
	count, err := c.conn.Read(b)
	switch {
	case err == nil || errors.Is(err, io.EOF):
	case c.ioTimeout > 0 && errors.Is(err, os.ErrDeadlineExceeded):
		return count, c.timedOut(errorsx.ReadOperation)
	default:
		c.rec.Capture(lasterror.KindSystem, errorsx.Errno(err))
	}
	return count, err
}

func (c *Conn) rawWrite(b []byte) (int, error) {
	if c.ioTimeout > 0 {
		c.setDeadline("SetWriteDeadline", c.conn.SetWriteDeadline, time.Now().Add(c.ioTimeout))
	}
	count, err := c.conn.Write(b)
	switch {
	case err == nil:
	case c.ioTimeout > 0 && errors.Is(err, os.ErrDeadlineExceeded):
		return count, c.timedOut(errorsx.WriteOperation)
	default:
		c.rec.Capture(lasterror.KindSystem, errorsx.Errno(err))
	}
	return count, err
}

func (c *Conn) tlsRead(b []byte) (int, error) {
	switch {
	case c.nonBlock && c.session.BytesAvailable() <= 0:
		c.setDeadline("SetReadDeadline", c.conn.SetReadDeadline, time.Now().Add(pollInterval))
		defer c.setDeadline("SetReadDeadline", c.conn.SetReadDeadline, time.Time{})
	case c.ioTimeout > 0:
		c.setDeadline("SetReadDeadline", c.conn.SetReadDeadline, time.Now().Add(c.ioTimeout))
		count, err := c.session.Read(b)
		if errors.Is(err, backend.ErrWantRead) {
			return count, c.timedOut(errorsx.ReadOperation)
		}
		return count, err
	}
	return c.session.Read(b)
}

func (c *Conn) tlsWrite(b []byte) (int, error) {
	if c.ioTimeout <= 0 {
		return c.session.Write(b)
	}
	c.setDeadline("SetWriteDeadline", c.conn.SetWriteDeadline, time.Now().Add(c.ioTimeout))
	count, err := c.session.Write(b)
	if errors.Is(err, backend.ErrWantWrite) {
		return count, c.timedOut(errorsx.WriteOperation)
	}
	return count, err
}

// timedOut returns the failure of a blocking read or write that did not
// complete within the configured timeout, like a socket with SO_RCVTIMEO
// or SO_SNDTIMEO would.
func (c *Conn) timedOut(op string) error {
	err := errorsx.New(errorsx.StatusConnectionTimeout, op,
		fmt.Errorf("%s: %w", op, os.ErrDeadlineExceeded))
	c.rec.Capture(lasterror.KindSystem, int(syscall.EAGAIN))
	c.rec.Capture(lasterror.KindStatus, int(err.Status))
	return err
}

// setDeadline calls set and logs the failure, if any.
func (c *Conn) setDeadline(name string, set func(t time.Time) error, t time.Time) {
	if err := set(t); err != nil {
		c.logger.Debugf("%s %s... %s", name, t.Format(time.RFC3339Nano), err)
	}
}

// Read reads from the connection. In non-blocking mode, it returns
// ErrWantRead when no data is available. In blocking mode with a positive
// TimeoutMS, each Read and Write fails with StatusConnectionTimeout when it
// does not complete in time, overriding any deadline set by the caller.
// It returns io.EOF when the peer has closed the connection.
func (c *Conn) Read(b []byte) (int, error) {
	if err := c.checkDone(errorsx.ReadOperation); err != nil {
		return 0, err
	}
	return c.read(b)
}

// Write writes to the connection. A TLS connection returns the
// number of bytes written so far when a write would block.
func (c *Conn) Write(b []byte) (int, error) {
	if err := c.checkDone(errorsx.WriteOperation); err != nil {
		return 0, err
	}
	return c.write(b)
}

func (c *Conn) checkDone(op string) error {
	if c == nil {
		return errorsx.New(errorsx.StatusInvalidArg, op, ErrNilConn)
	}
	if c.state != StateDone {
		return c.invalidState(op, ErrNotConnected)
	}
	return nil
}

// Close destroys the connection, closing the socket and releasing
// the TLS session. It is safe to call Close more than once.
func (c *Conn) Close() (err error) {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		switch {
		case c.session != nil:
			err = c.session.Close()
		case c.conn != nil:
			err = c.conn.Close()
		case c.fd >= 0:
			err = c.connector.Sockets.Close(c.fd)
		}
		c.fd = -1
		metricConnectionsInflight.Dec()
	})
	return
}

// Destroy is an alias for Close.
func (c *Conn) Destroy() error {
	return c.Close()
}

// BytesAvailable returns the number of decrypted bytes that can be read
// without touching the network. It returns -1 for a nil Conn.
func (c *Conn) BytesAvailable() (int, error) {
	if c == nil {
		return -1, errorsx.New(errorsx.StatusInvalidArg, errorsx.TopLevelOperation, ErrNilConn)
	}
	if c.session == nil {
		return 0, nil
	}
	return c.session.BytesAvailable(), nil
}

// ID returns the unique ID of the connection.
func (c *Conn) ID() string {
	return c.id
}

// State returns the current state.
func (c *Conn) State() ConnState {
	return c.state
}

// Role returns the connection role.
func (c *Conn) Role() Role {
	return c.role
}

// IsTLS returns whether the connection uses TLS.
func (c *Conn) IsTLS() bool {
	return c.isTLS
}

// Err returns the failure that moved the connection to StateFail.
func (c *Conn) Err() error {
	return c.err
}

// NetConn returns the underlying TCP connection or nil.
func (c *Conn) NetConn() net.Conn {
	return c.conn
}

// Session returns the TLS session or nil.
func (c *Conn) Session() Session {
	return c.session
}

// ConnectionState returns the TLS connection state.
func (c *Conn) ConnectionState() tls.ConnectionState {
	if c.session == nil {
		return tls.ConnectionState{}
	}
	return c.session.ConnectionState()
}

// ErrorRecord returns the connection error record.
func (c *Conn) ErrorRecord() *ErrorRecord {
	return c.rec
}

// GetAndClearLastError returns and clears the last status, TLS engine
// code and certificate verification flags.
func (c *Conn) GetAndClearLastError() (Status, int, uint32, error) {
	if c == nil {
		return 0, 0, 0, lasterror.ErrInvalidState
	}
	status, code, flags, err := c.rec.GetAndClear()
	return Status(status), code, flags, err
}

// LocalAddr implements net.Conn.
func (c *Conn) LocalAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

// RemoteAddr implements net.Conn.
func (c *Conn) RemoteAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

// SetDeadline implements net.Conn.
func (c *Conn) SetDeadline(t time.Time) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.SetDeadline(t)
}

// SetReadDeadline implements net.Conn.
func (c *Conn) SetReadDeadline(t time.Time) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements net.Conn.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.SetWriteDeadline(t)
}
