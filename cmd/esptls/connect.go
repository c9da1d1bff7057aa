package main

//
// The connect subcommand
//

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/ooni/esptls/internal/config"
	"github.com/ooni/esptls/internal/lasterror"
	"github.com/ooni/esptls/internal/model"
	"github.com/ooni/esptls/pkg/esptls"
	"github.com/spf13/cobra"
)

// connectOptions contains the connect flags.
type connectOptions struct {
	alpn        []string
	bundle      bool
	caFile      string
	certFile    string
	commonName  string
	globalStore []string
	idle        time.Duration
	keyFile     string
	keyPassword string
	nonBlock    bool
	plain       bool
	send        string
	skipCN      bool
	timeoutMS   int
}

func newConnectCommand(globals *globalOptions) *cobra.Command {
	opts := &connectOptions{}
	cmd := &cobra.Command{
		Use:   "connect URL|HOST:PORT",
		Short: "Connect, optionally send data and copy the response to the stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return opts.run(ctx, log.Log, globals, args[0], os.Stdout)
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVar(&opts.alpn, "alpn", nil, "Comma separated ALPN protocols")
	flags.BoolVar(&opts.bundle, "bundle", false, "Trust the system certificate bundle")
	flags.StringVar(&opts.caFile, "ca", "", "Trust the CA certificates in FILE")
	flags.StringVar(&opts.certFile, "cert", "", "Client certificate FILE")
	flags.StringVar(&opts.commonName, "common-name", "", "Verify the server using this name")
	flags.StringArrayVar(&opts.globalStore, "global-store", nil, "Add FILE to the global CA store")
	flags.DurationVar(&opts.idle, "idle", 3*time.Second, "Stop reading after this much idle time")
	flags.StringVar(&opts.keyFile, "key", "", "Client private key FILE")
	flags.StringVar(&opts.keyPassword, "key-password", "", "Password of the client private key")
	flags.BoolVar(&opts.nonBlock, "non-block", false, "Use the non-blocking mode")
	flags.BoolVar(&opts.plain, "plain", false, "Use plain TCP instead of TLS")
	flags.StringVar(&opts.send, "send", "", "Send STRING after connecting")
	flags.BoolVar(&opts.skipCN, "skip-cn", false, "Do not verify the server name")
	flags.IntVar(&opts.timeoutMS, "timeout-ms", 10000, "Connect and I/O timeout in milliseconds")
	return cmd
}

// parseTarget returns the host and the port of a URL or of HOST:PORT.
func parseTarget(target string) (string, uint16, error) {
	if strings.Contains(target, "://") {
		return esptls.ParseURL(target)
	}
	host, sport, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.ParseUint(sport, 10, 16)
	if err != nil || port == 0 {
		return "", 0, fmt.Errorf("invalid port: %q", sport)
	}
	return host, uint16(port), nil
}

// clientConfig merges the profile and the flags.
func (opts *connectOptions) clientConfig(logger model.Logger, profile *config.Config) (*esptls.Config, error) {
	profile.TLS.GlobalStore = append(profile.TLS.GlobalStore, opts.globalStore...)
	if opts.caFile != "" {
		profile.TLS.CACert = opts.caFile
	}
	if opts.certFile != "" || opts.keyFile != "" {
		profile.TLS.ClientCert, profile.TLS.ClientKey = opts.certFile, opts.keyFile
		profile.TLS.ClientKeyPassword = opts.keyPassword
	}
	if opts.commonName != "" {
		profile.TLS.CommonName = opts.commonName
	}
	if len(opts.alpn) > 0 {
		profile.TLS.ALPN = opts.alpn
	}
	profile.TLS.SkipCommonName = profile.TLS.SkipCommonName || opts.skipCN
	profile.TLS.SystemBundle = profile.TLS.SystemBundle || opts.bundle
	profile.Network.NonBlock = profile.Network.NonBlock || opts.nonBlock
	if profile.Network.TimeoutMS == 0 {
		profile.Network.TimeoutMS = opts.timeoutMS
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	data, err := profile.GlobalStoreData(logger)
	if err != nil {
		return nil, err
	}
	for _, entry := range data {
		if err := esptls.SetGlobalCAStore(entry); err != nil && esptls.StatusOf(err) != esptls.StatusCertPartlyOK {
			return nil, err
		}
	}
	return profile.ClientConfig(logger)
}

func (opts *connectOptions) run(ctx context.Context, logger model.Logger,
	globals *globalOptions, target string, w io.Writer) error {
	host, port, err := parseTarget(target)
	if err != nil {
		return err
	}
	profile := config.Default()
	if globals.profile != "" {
		if profile, err = config.ReadConfig(globals.profile); err != nil {
			return err
		}
	}
	defer esptls.FreeGlobalCAStore()

	rec := esptls.NewErrorRecord()
	var cfg *esptls.Config
	if !opts.plain {
		if cfg, err = opts.clientConfig(logger, profile); err != nil {
			return err
		}
		cfg.ErrorRecord = rec
	}
	conn, err := esptls.Connect(ctx, host, port, cfg)
	if err != nil {
		printLastError(logger, rec)
		return err
	}
	defer conn.Close()
	if conn.IsTLS() {
		state := conn.ConnectionState()
		logger.Infof("connected to %s:%d using %s (alpn=%q backend=%s)", host, port,
			tls.VersionName(state.Version), state.NegotiatedProtocol, esptls.BackendName())
	} else {
		logger.Infof("connected to %s:%d using plain TCP", host, port)
	}

	if opts.send != "" {
		if err := writeAll(ctx, conn, []byte(opts.send)); err != nil {
			printLastError(logger, conn.ErrorRecord())
			return err
		}
	}
	return copyResponse(ctx, w, conn, opts.idle)
}

// printLastError logs the content of the error record.
func printLastError(logger model.Logger, rec *esptls.ErrorRecord) {
	errno, _ := rec.GetAndClearKind(lasterror.KindSystem)
	status, code, flags, err := rec.GetAndClear()
	if err != nil {
		return
	}
	logger.Warnf("last error: status=%s (%#x) code=-%#x flags=%#x errno=%d",
		esptls.Status(status), status, -code, flags, errno)
}

// writeAll writes data, retrying while a non-blocking write would block.
func writeAll(ctx context.Context, conn *esptls.Conn, data []byte) error {
	for len(data) > 0 && ctx.Err() == nil {
		count, err := conn.Write(data)
		data = data[count:]
		switch {
		case err == nil:
		case errors.Is(err, esptls.ErrWantWrite) || errors.Is(err, esptls.ErrWantRead):
			time.Sleep(10 * time.Millisecond)
		default:
			return err
		}
	}
	return ctx.Err()
}

// copyResponse copies the response to w until EOF or until the
// connection is idle for longer than idle.
func copyResponse(ctx context.Context, w io.Writer, conn *esptls.Conn, idle time.Duration) error {
	buffer := make([]byte, 4096)
	last := time.Now()
	for ctx.Err() == nil {
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		count, err := conn.Read(buffer)
		if count > 0 {
			last = time.Now()
			if _, err := w.Write(buffer[:count]); err != nil {
				return err
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, esptls.ErrWantRead) || errors.Is(err, os.ErrDeadlineExceeded):
			if time.Since(last) > idle {
				return nil
			}
		default:
			return err
		}
	}
	return nil
}
