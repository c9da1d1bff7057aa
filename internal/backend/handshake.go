package backend

import (
	"sync"
	"sync/atomic"
	"time"
)

// HandshakeDriver turns a blocking handshake into a sequence of steps. The
// first Step runs the handshake in a background goroutine and each Step
// waits for at most the given time for it to complete. The zero value is
// invalid; construct using NewHandshakeDriver.
type HandshakeDriver struct {
	done    chan struct{}
	err     error
	once    sync.Once
	run     func() error
	started atomic.Bool
}

// NewHandshakeDriver creates a driver for the given blocking handshake.
func NewHandshakeDriver(run func() error) *HandshakeDriver {
	return &HandshakeDriver{
		done: make(chan struct{}),
		run:  run,
	}
}

// Step waits for at most wait for the handshake to complete. A zero wait
// only checks for completion and a negative wait blocks until completion.
// It returns ErrWantRead while the handshake is still running.
func (d *HandshakeDriver) Step(wait time.Duration) error {
	d.once.Do(func() {
		d.started.Store(true)
		go func() {
			defer close(d.done)
			d.err = d.run()
		}()
	})
	switch {
	case wait < 0:
		<-d.done
		return d.err
	case wait == 0:
		select {
		case <-d.done:
			return d.err
		default:
			return ErrWantRead
		}
	default:
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-d.done:
			return d.err
		case <-timer.C:
			return ErrWantRead
		}
	}
}

// Running returns whether the handshake goroutine is still running.
func (d *HandshakeDriver) Running() bool {
	if !d.started.Load() {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the handshake goroutine, if any, has returned.
func (d *HandshakeDriver) Wait() {
	if d.started.Load() {
		<-d.done
	}
}
