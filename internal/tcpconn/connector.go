// Package tcpconn resolves hostnames and drives TCP connects to completion
// without blocking, reporting failures with errorsx statuses.
package tcpconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"syscall"
	"time"

	"github.com/ooni/esptls/internal/errorsx"
	"github.com/ooni/esptls/internal/lasterror"
	"github.com/ooni/esptls/internal/model"
)

// Options contains the socket options for Open.
type Options struct {
	// Family restricts the resolved addresses.
	Family Family

	// NonBlock indicates that the caller polls the socket using Wait
	// rather than waiting for the connect to complete.
	NonBlock bool

	// Timeout is the socket I/O timeout. A negative value means that
	// we should not set SO_RCVTIMEO and SO_SNDTIMEO.
	Timeout time.Duration

	// KeepAlive is the OPTIONAL keep-alive configuration.
	KeepAlive *KeepAlive

	// IfName is the OPTIONAL interface to bind to.
	IfName string
}

// Connector creates TCP connections. Construct using NewConnector.
type Connector struct {
	// Logger is the MANDATORY logger.
	Logger model.DebugLogger

	// Resolver is the MANDATORY resolver.
	Resolver Resolver

	// Sockets is the MANDATORY sockets implementation.
	Sockets Sockets
}

// NewConnector creates a new Connector using the given resolver and
// the sockets implementation of the current platform.
func NewConnector(logger model.DebugLogger, resolver Resolver) *Connector {
	return &Connector{
		Logger:   logger,
		Resolver: resolver,
		Sockets:  NewSockets(),
	}
}

// fail records the errno and the status of a failure into rec and
// returns the corresponding error wrapper.
func (c *Connector) fail(rec *lasterror.Record, status errorsx.Status, op string, err error) error {
	wrapped := errorsx.New(status, op, err)
	rec.Capture(lasterror.KindSystem, errorsx.Errno(err))
	rec.Capture(lasterror.KindStatus, int(wrapped.Status))
	return wrapped
}

// ErrNoMatchingAddress indicates that none of the resolved addresses
// belongs to the requested family.
var ErrNoMatchingAddress = errors.New("tcpconn: no address for the requested family")

// Resolve resolves hostname. This operation is always blocking. The
// returned addresses are filtered by family and IPv4 ones come first.
func (c *Connector) Resolve(ctx context.Context, hostname string,
	family Family, rec *lasterror.Record) ([]netip.Addr, error) {
	addrs, err := c.Resolver.LookupNetIP(ctx, hostname)
	if err != nil {
		return nil, c.fail(rec, errorsx.StatusCannotResolveHostname, errorsx.ResolveOperation, err)
	}
	var out []netip.Addr
	for _, addr := range addrs {
		addr = addr.Unmap()
		switch {
		case family == FamilyINET && !addr.Is4():
		case family == FamilyINET6 && !addr.Is6():
		default:
			out = append(out, addr)
		}
	}
	if len(out) <= 0 {
		return nil, c.fail(rec, errorsx.StatusCannotResolveHostname,
			errorsx.ResolveOperation, ErrNoMatchingAddress)
	}
	sortAddrs(out)
	return out, nil
}

// sortAddrs sorts IPv4 addresses before IPv6 ones, preserving
// the resolver order within each family.
func sortAddrs(addrs []netip.Addr) {
	slices.SortStableFunc(addrs, func(a, b netip.Addr) int {
		switch {
		case a.Is4() && !b.Is4():
			return -1
		case !a.Is4() && b.Is4():
			return 1
		default:
			return 0
		}
	})
}

// ErrUnsupportedFamily indicates an address that is neither IPv4 nor IPv6.
var ErrUnsupportedFamily = errors.New("tcpconn: unsupported protocol family")

// Open creates a socket, applies the options and starts connecting to
// endpoint. The socket is always in non-blocking mode. The inProgress
// return value is true when the connect has not completed yet. On
// failure, the socket is closed and fd is -1.
func (c *Connector) Open(endpoint netip.AddrPort, opts *Options,
	rec *lasterror.Record) (fd int, inProgress bool, err error) {
	addr := endpoint.Addr()
	var family Family
	switch {
	case addr.Is4():
		family = FamilyINET
	case addr.Is6():
		family = FamilyINET6
	default:
		return -1, false, c.fail(rec, errorsx.StatusUnsupportedProtocolFamily,
			errorsx.ConnectOperation, ErrUnsupportedFamily)
	}
	fd, err = c.Sockets.Socket(family)
	if err != nil {
		return -1, false, c.fail(rec, errorsx.StatusCannotCreateSocket, errorsx.ConnectOperation, err)
	}
	if err := c.configure(fd, opts); err != nil {
		c.Sockets.Close(fd)
		return -1, false, c.fail(rec, errorsx.StatusSocketSetoptFailed, errorsx.ConnectOperation, err)
	}
	c.Logger.Debugf("connect %s...", endpoint)
	err = c.Sockets.Connect(fd, endpoint)
	switch {
	case err == nil:
		return fd, false, nil
	case errors.Is(err, syscall.EINPROGRESS):
		return fd, true, nil
	default:
		c.Logger.Debugf("connect %s... %s", endpoint, err)
		c.Sockets.Close(fd)
		return -1, false, c.fail(rec, errorsx.StatusFailedConnectToHost, errorsx.ConnectOperation, err)
	}
}

func (c *Connector) configure(fd int, opts *Options) error {
	if opts.Timeout >= 0 {
		if err := c.Sockets.SetTimeouts(fd, opts.Timeout); err != nil {
			return err
		}
	}
	if opts.KeepAlive != nil {
		if err := c.Sockets.SetKeepAlive(fd, opts.KeepAlive); err != nil {
			return err
		}
	}
	if opts.IfName != "" {
		if err := c.Sockets.BindToDevice(fd, opts.IfName); err != nil {
			return err
		}
	}
	return c.Sockets.SetNonblock(fd)
}

// Wait polls fd for at most timeout waiting for an in-progress connect
// to complete. It returns false and no error if the socket is not ready
// yet. A pending socket error is reported as StatusSocketSetoptFailed.
func (c *Connector) Wait(fd int, timeout time.Duration, rec *lasterror.Record) (bool, error) {
	return c.wait(fd, timeout, errorsx.StatusSocketSetoptFailed, rec)
}

// pollSlice is the longest Complete waits before checking the context.
const pollSlice = 10 * time.Millisecond

// Complete waits for an in-progress connect to complete, for at most
// timeout if positive, and returns early when ctx is done. A timeout is
// reported as StatusConnectionTimeout and a pending socket error or a
// done context as StatusFailedConnectToHost.
func (c *Connector) Complete(ctx context.Context, fd int, timeout time.Duration, rec *lasterror.Record) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		slice := pollSlice
		if !deadline.IsZero() {
			slice = min(slice, max(time.Until(deadline), 0))
		}
		ready, err := c.wait(fd, slice, errorsx.StatusFailedConnectToHost, rec)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return c.fail(rec, errorsx.StatusFailedConnectToHost, errorsx.ConnectOperation, err)
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return c.fail(rec, errorsx.StatusConnectionTimeout, errorsx.ConnectOperation,
				fmt.Errorf("connect: %w", syscall.ETIMEDOUT))
		}
	}
}

func (c *Connector) wait(fd int, timeout time.Duration,
	pendingStatus errorsx.Status, rec *lasterror.Record) (bool, error) {
	ready, err := c.Sockets.Poll(fd, timeout)
	if err != nil {
		return false, c.fail(rec, errorsx.StatusFailedConnectToHost, errorsx.ConnectOperation, err)
	}
	if !ready {
		return false, nil
	}
	soerr, err := c.Sockets.SocketError(fd)
	if err != nil {
		return false, c.fail(rec, errorsx.StatusSocketSetoptFailed, errorsx.ConnectOperation, err)
	}
	if soerr != 0 {
		err := fmt.Errorf("connect: %w", syscall.Errno(soerr))
		c.Logger.Debugf("connect... %s", err)
		return false, c.fail(rec, pendingStatus, errorsx.ConnectOperation, err)
	}
	return true, nil
}

// Finish converts the connected fd into a net.Conn. The fd is always
// consumed, regardless of the result.
func (c *Connector) Finish(fd int, rec *lasterror.Record) (net.Conn, error) {
	conn, err := c.Sockets.FileConn(fd)
	if err != nil {
		// FileConn has already closed fd and the number may be reused
		return nil, c.fail(rec, errorsx.StatusCannotCreateSocket, errorsx.ConnectOperation, err)
	}
	c.Logger.Debugf("connect %s... ok", conn.RemoteAddr())
	return conn, nil
}

// Dial resolves hostname and connects to the first reachable address,
// waiting for each connect to complete. The returned error is the one
// that occurred with the last address we tried.
func (c *Connector) Dial(ctx context.Context, hostname string, port uint16,
	opts *Options, rec *lasterror.Record) (net.Conn, error) {
	addrs, err := c.Resolve(ctx, hostname, opts.Family, rec)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	for _, addr := range addrs {
		if err = ctx.Err(); err != nil {
			break
		}
		var conn net.Conn
		if conn, err = c.dialAddr(ctx, netip.AddrPortFrom(addr, port), opts, rec); err == nil {
			c.Logger.Debugf("dial %s:%d... ok in %s", hostname, port, time.Since(start))
			return conn, nil
		}
	}
	c.Logger.Debugf("dial %s:%d... %s in %s", hostname, port, err, time.Since(start))
	if errorsx.StatusOf(err) == errorsx.StatusInvalidState { // the context error
		err = c.fail(rec, errorsx.StatusFailedConnectToHost, errorsx.ConnectOperation, err)
	}
	return nil, err
}

func (c *Connector) dialAddr(ctx context.Context, endpoint netip.AddrPort,
	opts *Options, rec *lasterror.Record) (net.Conn, error) {
	fd, inProgress, err := c.Open(endpoint, opts, rec)
	if err != nil {
		return nil, err
	}
	if inProgress {
		if err := c.Complete(ctx, fd, opts.Timeout, rec); err != nil {
			c.Sockets.Close(fd)
			return nil, err
		}
	}
	return c.Finish(fd, rec)
}

// PlainConnect establishes a plain TCP connection to hostname and port
// using the system resolver and the given options.
func PlainConnect(ctx context.Context, logger model.DebugLogger, hostname string,
	port uint16, opts *Options, rec *lasterror.Record) (net.Conn, error) {
	return NewConnector(logger, NewResolverSystem(logger)).Dial(ctx, hostname, port, opts, rec)
}
