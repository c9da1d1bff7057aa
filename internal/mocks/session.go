package mocks

import (
	"crypto/tls"
	"time"
)

// Session is a mockable TLS engine session.
type Session struct {
	MockHandshakeStep   func(wait time.Duration) error
	MockRead            func(b []byte) (int, error)
	MockWrite           func(b []byte) (int, error)
	MockBytesAvailable  func() int
	MockVerifyFlags     func() uint32
	MockConnectionState func() tls.ConnectionState
	MockUnderlying      func() any
	MockClose           func() error
}

// HandshakeStep calls MockHandshakeStep.
func (s *Session) HandshakeStep(wait time.Duration) error {
	return s.MockHandshakeStep(wait)
}

// Read calls MockRead.
func (s *Session) Read(b []byte) (int, error) {
	return s.MockRead(b)
}

// Write calls MockWrite.
func (s *Session) Write(b []byte) (int, error) {
	return s.MockWrite(b)
}

// BytesAvailable calls MockBytesAvailable.
func (s *Session) BytesAvailable() int {
	return s.MockBytesAvailable()
}

// VerifyFlags calls MockVerifyFlags.
func (s *Session) VerifyFlags() uint32 {
	return s.MockVerifyFlags()
}

// ConnectionState calls MockConnectionState.
func (s *Session) ConnectionState() tls.ConnectionState {
	return s.MockConnectionState()
}

// Underlying calls MockUnderlying.
func (s *Session) Underlying() any {
	return s.MockUnderlying()
}

// Close calls MockClose.
func (s *Session) Close() error {
	return s.MockClose()
}
