package esptls

//
// URL-addressed connections
//

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/ooni/esptls/internal/errorsx"
	"github.com/ooni/esptls/internal/lasterror"
	"golang.org/x/net/idna"
)

// ErrInvalidURL indicates a URL without a host or with an invalid port.
var ErrInvalidURL = errors.New("esptls: invalid URL")

// defaultPorts maps URL schemes to their default port.
var defaultPorts = map[string]uint16{
	"http":  80,
	"https": 443,
	"ws":    80,
	"wss":   443,
	"mqtt":  1883,
	"mqtts": 8883,
}

// ParseURL returns the host and the port of rawURL. The host is converted
// to its ASCII form. When the URL has no port, the port depends on the
// scheme and defaults to 443.
func ParseURL(rawURL string) (string, uint16, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %s", ErrInvalidURL, err.Error())
	}
	host := parsed.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if _, err := netip.ParseAddr(host); err != nil {
		if host, err = idna.Lookup.ToASCII(host); err != nil {
			return "", 0, fmt.Errorf("%w: %s", ErrInvalidURL, err.Error())
		}
	}
	if sport := parsed.Port(); sport != "" {
		port, err := strconv.ParseUint(sport, 10, 16)
		if err != nil || port == 0 {
			return "", 0, fmt.Errorf("%w: invalid port %q", ErrInvalidURL, sport)
		}
		return host, uint16(port), nil
	}
	if port, found := defaultPorts[strings.ToLower(parsed.Scheme)]; found {
		return host, port, nil
	}
	return host, 443, nil
}

func invalidURL(rec *lasterror.Record, err error) error {
	wrapped := errorsx.New(errorsx.StatusInvalidArg, errorsx.TopLevelOperation, err)
	rec.Capture(lasterror.KindStatus, int(wrapped.Status))
	return wrapped
}

// ConnectURL is like Connect but takes the host and the port from rawURL.
func ConnectURL(ctx context.Context, rawURL string, cfg *Config) (*Conn, error) {
	host, port, err := ParseURL(rawURL)
	if err != nil {
		return nil, invalidURL(cfg.errorRecord(), err)
	}
	return Connect(ctx, host, port, cfg)
}

// ConnectURLAsync is like ConnectAsync but takes the host and the port
// from rawURL. An invalid URL moves the Conn to StateFail.
func (c *Conn) ConnectURLAsync(ctx context.Context, rawURL string, cfg *Config) (Outcome, error) {
	if c == nil || c.state != StateInit {
		return c.ConnectAsync(ctx, "", 0, cfg)
	}
	host, port, err := ParseURL(rawURL)
	if err != nil {
		return c.fail(invalidURL(c.rec, err))
	}
	return c.ConnectAsync(ctx, host, port, cfg)
}
