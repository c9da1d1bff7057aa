package esptls

//
// Server sessions
//

import (
	"context"
	"errors"
	"net"

	"github.com/ooni/esptls/internal/errorsx"
	"github.com/ooni/esptls/internal/lasterror"
)

// ErrNilArgument indicates a nil configuration or connection.
var ErrNilArgument = errors.New("esptls: nil argument")

// ServerSessionCreate creates a server session over conn, which must be
// an accepted TCP connection, and steps the handshake until it reaches a
// terminal state. On failure, the Conn is destroyed, which closes conn.
func ServerSessionCreate(ctx context.Context, cfg *ServerConfig, conn net.Conn) (*Conn, error) {
	var (
		logger Logger
		rec    *ErrorRecord
	)
	if cfg != nil {
		logger, rec = cfg.Logger, cfg.ErrorRecord
	}
	c := NewConn(logger, rec)
	if err := c.ServerSessionInit(cfg, conn); err != nil {
		c.Close()
		return nil, err
	}
	return c.loop(ctx, func() (Outcome, error) {
		return c.ServerSessionContinueAsync(ctx)
	})
}

// ServerSessionInit turns a Conn in StateInit into a server session over
// conn and moves it to StateHandshake. The Conn owns conn from now on.
func (c *Conn) ServerSessionInit(cfg *ServerConfig, conn net.Conn) error {
	if c == nil {
		return errorsx.New(errorsx.StatusInvalidArg, errorsx.TLSSetupOperation, ErrNilConn)
	}
	if c.state != StateInit {
		return c.invalidState(errorsx.TLSSetupOperation, ErrAlreadyStarted)
	}
	if cfg == nil || conn == nil {
		err := errorsx.New(errorsx.StatusInvalidArg, errorsx.TLSSetupOperation, ErrNilArgument)
		c.rec.Capture(lasterror.KindStatus, int(err.Status))
		c.fail(err)
		return err
	}
	c.role = RoleServer
	c.isTLS = true
	c.nonBlock = cfg.NonBlock
	c.timeout = cfg.timeoutDuration()
	c.trusted = len(cfg.CACert) > 0
	c.conn = conn
	sess, err := c.backend.NewServerSession(conn, cfg.serverConfig(c.logger), c.rec)
	if err != nil {
		_, err = c.fail(err)
		return err
	}
	c.startHandshake(sess)
	return nil
}

// ServerSessionContinueAsync performs a single handshake step of a
// server session. The Conn survives failures.
func (c *Conn) ServerSessionContinueAsync(ctx context.Context) (Outcome, error) {
	if c == nil {
		return OutcomeFailed, errorsx.New(errorsx.StatusInvalidArg, errorsx.TopLevelOperation, ErrNilConn)
	}
	if c.role != RoleServer {
		return OutcomeFailed, c.invalidState(errorsx.TopLevelOperation, ErrWrongRole)
	}
	return c.step(ctx)
}

// ServerSessionDelete destroys a server session.
func (c *Conn) ServerSessionDelete() error {
	return c.Close()
}
