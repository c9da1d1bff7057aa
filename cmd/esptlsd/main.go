// Command esptlsd is a TLS echo server built on esptls server sessions.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/apex/log"
	"github.com/ooni/esptls/internal/config"
	"github.com/ooni/esptls/internal/runtimex"
	"github.com/ooni/esptls/pkg/esptls"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	app = kingpin.New("esptlsd", "TLS echo server using esptls server sessions")

	// address is the endpoint where we accept TLS connections
	address = app.Flag("address", "TLS endpoint").Default("").String()

	// alpn contains the ALPN protocols we support
	alpn = app.Flag("alpn", "Supported ALPN protocol (repeatable)").Strings()

	// certFile and keyFile are the server identity
	certFile = app.Flag("cert", "Server certificate file").String()
	keyFile  = app.Flag("key", "Server private key file").String()

	// clientCA requires client certificates issued by this CA
	clientCA = app.Flag("client-ca", "Require client certificates issued by the CA in this file").String()

	// debug controls whether to enable verbose logging
	debug = app.Flag("debug", "Toggle debug mode").Short('v').Bool()

	// metrics is the endpoint where we serve prometheus metrics
	metrics = app.Flag("metrics", "Prometheus endpoint").Default("").String()

	// profile is the optional JSON profile
	profile = app.Flag("profile", "Read settings from the given JSON profile").String()

	// timeoutMS is the handshake timeout
	timeoutMS = app.Flag("timeout-ms", "Handshake timeout in milliseconds").Default("10000").Int()

	// sigs is the channel where we collect signals
	sigs = make(chan os.Signal, 1)
)

// loadProfile merges the profile and the command line flags.
func loadProfile() (*config.Config, error) {
	settings := config.Default()
	if *profile != "" {
		var err error
		if settings, err = config.ReadConfig(*profile); err != nil {
			return nil, err
		}
	}
	if *address != "" {
		settings.Server.Address = *address
	}
	if *metrics != "" {
		settings.Server.Metrics = *metrics
	}
	if *certFile != "" {
		settings.Server.ServerCert = *certFile
	}
	if *keyFile != "" {
		settings.Server.ServerKey = *keyFile
	}
	if *clientCA != "" {
		settings.Server.ClientCA = *clientCA
	}
	if len(*alpn) > 0 {
		settings.Server.ALPN = *alpn
	}
	if settings.Server.TimeoutMS == 0 {
		settings.Server.TimeoutMS = *timeoutMS
	}
	return settings, settings.Validate()
}

// shutdown calls srv.Shutdown with a reasonably long timeout.
func shutdown(srv *http.Server, wg *sync.WaitGroup) {
	defer wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	// set log level
	logmap := map[bool]log.Level{
		true:  log.DebugLevel,
		false: log.InfoLevel,
	}
	log.SetLevel(logmap[*debug])

	settings, err := loadProfile()
	runtimex.PanicOnError(err, "loadProfile failed")
	cfg, err := settings.ServerConfig(log.Log)
	runtimex.PanicOnError(err, "settings.ServerConfig failed")

	// create the TLS echo server
	listener, err := net.Listen("tcp", settings.Server.Address)
	runtimex.PanicOnError(err, "net.Listen failed")
	srv := newEchoServer(log.Log, cfg)
	log.Infof("serving TLS echo at %s using %s", listener.Addr().String(), esptls.BackendName())
	go srv.Serve(listener)

	// create another server for serving prometheus metrics
	promMux := http.NewServeMux()
	promMux.Handle("/metrics", promhttp.Handler())
	promSrv := &http.Server{Addr: settings.Server.Metrics, Handler: promMux}
	go promSrv.ListenAndServe()
	log.Infof("serving prometheus metrics at http://%s/", settings.Server.Metrics)

	// await for a signal
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Infof("interrupted by signal: %v", sig)

	// stop accepting and wait for the pending sessions
	log.Infof("waiting for pending sessions to complete")
	shutdownWg := &sync.WaitGroup{}
	shutdownWg.Add(1)
	go shutdown(promSrv, shutdownWg)
	srv.Close()
	shutdownWg.Wait()
}
