package tcpconn

//
// Socket system calls
//

import (
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/ooni/esptls/internal/model"
)

// Family is the address family of a socket.
type Family = model.AddressFamily

const (
	FamilyUnspec = model.AddressFamilyUnspec
	FamilyINET   = model.AddressFamilyINET
	FamilyINET6  = model.AddressFamilyINET6
)

// KeepAlive contains the TCP keep-alive settings.
type KeepAlive = model.KeepAlive

// ErrUnsupportedPlatform indicates that we cannot manage raw sockets
// on the current platform.
var ErrUnsupportedPlatform = errors.New("tcpconn: unsupported platform")

// Sockets abstracts the system calls required to create and connect
// a TCP socket without blocking. The implementation for the current
// platform is returned by NewSockets. Tests use mocks.Sockets.
type Sockets interface {
	// Socket creates a new TCP socket for the given family.
	Socket(family Family) (int, error)

	// SetNonblock puts the socket in non-blocking mode.
	SetNonblock(fd int) error

	// SetTimeouts sets SO_RCVTIMEO and SO_SNDTIMEO.
	SetTimeouts(fd int, timeout time.Duration) error

	// SetKeepAlive enables TCP keep-alive.
	SetKeepAlive(fd int, ka *KeepAlive) error

	// BindToDevice binds the socket to the given network interface.
	BindToDevice(fd int, ifname string) error

	// Connect issues the connect system call. In non-blocking mode
	// this usually returns syscall.EINPROGRESS.
	Connect(fd int, endpoint netip.AddrPort) error

	// Poll waits for the socket to become readable or writable. A
	// negative timeout means waiting forever.
	Poll(fd int, timeout time.Duration) (bool, error)

	// SocketError returns the pending error of the socket (SO_ERROR).
	SocketError(fd int) (int, error)

	// Close closes the socket.
	Close(fd int) error

	// FileConn converts the connected socket to a net.Conn. It always
	// closes fd: on success the conn owns a duplicate of the socket.
	FileConn(fd int) (net.Conn, error)
}
