//go:build !linux

package tcpconn

import (
	"net"
	"net/netip"
	"time"
)

// NewSockets returns the Sockets implementation for this platform.
func NewSockets() Sockets {
	return &socketsUnsupported{}
}

// socketsUnsupported fails every operation with ErrUnsupportedPlatform.
type socketsUnsupported struct{}

var _ Sockets = &socketsUnsupported{}

// Socket implements Sockets.
func (*socketsUnsupported) Socket(family Family) (int, error) {
	return -1, ErrUnsupportedPlatform
}

// SetNonblock implements Sockets.
func (*socketsUnsupported) SetNonblock(fd int) error {
	return ErrUnsupportedPlatform
}

// SetTimeouts implements Sockets.
func (*socketsUnsupported) SetTimeouts(fd int, timeout time.Duration) error {
	return ErrUnsupportedPlatform
}

// SetKeepAlive implements Sockets.
func (*socketsUnsupported) SetKeepAlive(fd int, ka *KeepAlive) error {
	return ErrUnsupportedPlatform
}

// BindToDevice implements Sockets.
func (*socketsUnsupported) BindToDevice(fd int, ifname string) error {
	return ErrUnsupportedPlatform
}

// Connect implements Sockets.
func (*socketsUnsupported) Connect(fd int, endpoint netip.AddrPort) error {
	return ErrUnsupportedPlatform
}

// Poll implements Sockets.
func (*socketsUnsupported) Poll(fd int, timeout time.Duration) (bool, error) {
	return false, ErrUnsupportedPlatform
}

// SocketError implements Sockets.
func (*socketsUnsupported) SocketError(fd int) (int, error) {
	return 0, ErrUnsupportedPlatform
}

// Close implements Sockets.
func (*socketsUnsupported) Close(fd int) error {
	return ErrUnsupportedPlatform
}

// FileConn implements Sockets.
func (*socketsUnsupported) FileConn(fd int) (net.Conn, error) {
	return nil, ErrUnsupportedPlatform
}
