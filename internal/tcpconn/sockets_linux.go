//go:build linux

package tcpconn

import (
	"errors"
	"net"
	"net/netip"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// NewSockets returns the Sockets implementation for this platform.
func NewSockets() Sockets {
	return &socketsUnix{}
}

// socketsUnix implements Sockets using golang.org/x/sys/unix.
type socketsUnix struct{}

var _ Sockets = &socketsUnix{}

// Socket implements Sockets.
func (*socketsUnix) Socket(family Family) (int, error) {
	domain := unix.AF_INET
	if family == FamilyINET6 {
		domain = unix.AF_INET6
	}
	return unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
}

// SetNonblock implements Sockets.
func (*socketsUnix) SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

// SetTimeouts implements Sockets.
func (*socketsUnix) SetTimeouts(fd int, timeout time.Duration) error {
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return err
	}
	return unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)
}

// SetKeepAlive implements Sockets.
func (*socketsUnix) SetKeepAlive(fd int, ka *KeepAlive) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	if ka.Idle > 0 {
		secs := int(ka.Idle / time.Second)
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs); err != nil {
			return err
		}
	}
	if ka.Interval > 0 {
		secs := int(ka.Interval / time.Second)
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs); err != nil {
			return err
		}
	}
	if ka.Count > 0 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, ka.Count); err != nil {
			return err
		}
	}
	return nil
}

// BindToDevice implements Sockets.
func (*socketsUnix) BindToDevice(fd int, ifname string) error {
	return unix.BindToDevice(fd, ifname)
}

// Connect implements Sockets.
func (*socketsUnix) Connect(fd int, endpoint netip.AddrPort) error {
	var sa unix.Sockaddr
	addr := endpoint.Addr()
	if addr.Is4() || addr.Is4In6() {
		sa = &unix.SockaddrInet4{Port: int(endpoint.Port()), Addr: addr.Unmap().As4()}
	} else {
		sa6 := &unix.SockaddrInet6{Port: int(endpoint.Port()), Addr: addr.As16()}
		if zone := addr.Zone(); zone != "" {
			if ifi, err := net.InterfaceByName(zone); err == nil {
				sa6.ZoneId = uint32(ifi.Index)
			}
		}
		sa = sa6
	}
	return unix.Connect(fd, sa)
}

// Poll implements Sockets.
func (*socketsUnix) Poll(fd int, timeout time.Duration) (bool, error) {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		msec := -1
		if !deadline.IsZero() {
			msec = int(time.Until(deadline) / time.Millisecond)
			if msec < 0 {
				msec = 0
			}
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN | unix.POLLOUT}}
		count, err := unix.Poll(fds, msec)
		if errors.Is(err, syscall.EINTR) {
			continue // interrupted by a signal, e.g., the Go scheduler's SIGURG
		}
		if err != nil {
			return false, err
		}
		return count > 0 && fds[0].Revents != 0, nil
	}
}

// SocketError implements Sockets.
func (*socketsUnix) SocketError(fd int) (int, error) {
	return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
}

// Close implements Sockets.
func (*socketsUnix) Close(fd int) error {
	return unix.Close(fd)
}

// FileConn implements Sockets.
func (*socketsUnix) FileConn(fd int) (net.Conn, error) {
	filep := os.NewFile(uintptr(fd), "esptls-socket")
	defer filep.Close() // net.FileConn duplicates the descriptor
	return net.FileConn(filep)
}
