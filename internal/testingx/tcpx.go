package testingx

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/apex/log"
	"github.com/ooni/esptls/internal/runtimex"
)

// TCPListener creates TCP listeners for the test servers.
type TCPListener interface {
	ListenTCP(network string, addr *net.TCPAddr) (net.Listener, error)
}

// TCPListenerStdlib implements [TCPListener] for the stdlib.
type TCPListenerStdlib struct{}

var _ TCPListener = &TCPListenerStdlib{}

// ListenTCP implements TCPListener.
func (*TCPListenerStdlib) ListenTCP(network string, addr *net.TCPAddr) (net.Listener, error) {
	return net.ListenTCP(network, addr)
}

// TCPEchoServer is a plaintext TCP server echoing back what it receives.
type TCPEchoServer struct {
	cancel    context.CancelFunc
	closeOnce sync.Once
	listener  net.Listener
	wg        sync.WaitGroup
}

// MustNewTCPEchoServer creates and starts a [TCPEchoServer] on localhost.
func MustNewTCPEchoServer() *TCPEchoServer {
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
	listener := runtimex.Try1((&TCPListenerStdlib{}).ListenTCP("tcp", addr))
	ctx, cancel := context.WithCancel(context.Background())
	srv := &TCPEchoServer{
		cancel:   cancel,
		listener: listener,
	}
	srv.wg.Add(1)
	go srv.mainloop(ctx)
	return srv
}

// Endpoint returns the endpoint where the server is listening.
func (p *TCPEchoServer) Endpoint() string {
	return p.listener.Addr().String()
}

// Port returns the port where the server is listening.
func (p *TCPEchoServer) Port() uint16 {
	return uint16(p.listener.Addr().(*net.TCPAddr).Port)
}

// Close closes this server as soon as possible.
func (p *TCPEchoServer) Close() (err error) {
	p.closeOnce.Do(func() {
		err = p.listener.Close()
		p.cancel()
		p.wg.Wait()
	})
	return
}

func (p *TCPEchoServer) mainloop(ctx context.Context) {
	defer runtimex.CatchLogAndIgnorePanic(log.Log, "TCPEchoServer.mainloop")
	defer p.wg.Done()
	for {
		conn, err := p.listener.Accept()
		runtimex.PanicOnError(err, "p.listener.Accept")
		go func() {
			defer conn.Close()
			go func() {
				<-ctx.Done()
				conn.Close()
			}()
			_, _ = io.Copy(conn, conn)
		}()
	}
}
