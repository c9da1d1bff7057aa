package mocks

import (
	"net"
	"net/netip"
	"time"

	"github.com/ooni/esptls/internal/model"
)

// Sockets allows mocking the socket system calls.
type Sockets struct {
	MockSocket       func(family model.AddressFamily) (int, error)
	MockSetNonblock  func(fd int) error
	MockSetTimeouts  func(fd int, timeout time.Duration) error
	MockSetKeepAlive func(fd int, ka *model.KeepAlive) error
	MockBindToDevice func(fd int, ifname string) error
	MockConnect      func(fd int, endpoint netip.AddrPort) error
	MockPoll         func(fd int, timeout time.Duration) (bool, error)
	MockSocketError  func(fd int) (int, error)
	MockClose        func(fd int) error
	MockFileConn     func(fd int) (net.Conn, error)
}

// Socket calls MockSocket.
func (s *Sockets) Socket(family model.AddressFamily) (int, error) {
	return s.MockSocket(family)
}

// SetNonblock calls MockSetNonblock.
func (s *Sockets) SetNonblock(fd int) error {
	return s.MockSetNonblock(fd)
}

// SetTimeouts calls MockSetTimeouts.
func (s *Sockets) SetTimeouts(fd int, timeout time.Duration) error {
	return s.MockSetTimeouts(fd, timeout)
}

// SetKeepAlive calls MockSetKeepAlive.
func (s *Sockets) SetKeepAlive(fd int, ka *model.KeepAlive) error {
	return s.MockSetKeepAlive(fd, ka)
}

// BindToDevice calls MockBindToDevice.
func (s *Sockets) BindToDevice(fd int, ifname string) error {
	return s.MockBindToDevice(fd, ifname)
}

// Connect calls MockConnect.
func (s *Sockets) Connect(fd int, endpoint netip.AddrPort) error {
	return s.MockConnect(fd, endpoint)
}

// Poll calls MockPoll.
func (s *Sockets) Poll(fd int, timeout time.Duration) (bool, error) {
	return s.MockPoll(fd, timeout)
}

// SocketError calls MockSocketError.
func (s *Sockets) SocketError(fd int) (int, error) {
	return s.MockSocketError(fd)
}

// Close calls MockClose.
func (s *Sockets) Close(fd int) error {
	return s.MockClose(fd)
}

// FileConn calls MockFileConn.
func (s *Sockets) FileConn(fd int) (net.Conn, error) {
	return s.MockFileConn(fd)
}
