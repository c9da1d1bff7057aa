// Package esptls establishes TCP and TLS connections through an explicit
// state machine that callers can drive either synchronously or one step at
// a time from their own event loop.
//
// A client Conn walks through StateInit, StateConnecting and StateHandshake
// and ends in StateDone or StateFail. Without a Config, Connect creates a
// plain TCP connection and goes straight from StateInit to StateDone.
//
// Every failure is recorded into the connection ErrorRecord, which keeps
// the last system errno, the last TLS engine code, the last certificate
// verification flags and the last Status. Pass your own record using
// Config.ErrorRecord to inspect failures of the synchronous API, which
// destroys the Conn when it fails.
//
// The TLS engine is selected at build time. The default engine is the
// standard library crypto/tls. Build with the esptls_utls tag to use uTLS.
package esptls
