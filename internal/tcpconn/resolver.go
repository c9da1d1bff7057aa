package tcpconn

//
// Name resolution
//

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"github.com/ooni/esptls/internal/model"
)

// Resolver resolves a hostname to IP addresses.
type Resolver interface {
	// LookupNetIP resolves hostname to a list of addresses.
	LookupNetIP(ctx context.Context, hostname string) ([]netip.Addr, error)

	// Network is the resolver network (e.g., "system", "udp").
	Network() string

	// Address is the resolver address (e.g., "8.8.8.8:53").
	Address() string
}

// Errors returned by the DNS-over-UDP resolver.
var (
	ErrDNSNoSuchHost  = errors.New("esptlsresolver: no such host")
	ErrDNSRefused     = errors.New("esptlsresolver: refused")
	ErrDNSServfail    = errors.New("esptlsresolver: server failure")
	ErrDNSMisbehaving = errors.New("esptlsresolver: server misbehaving")
	ErrDNSNoAnswer    = errors.New("esptlsresolver: no answer")
)

// NewResolverSystem creates a resolver using the Go standard library
// resolver, which may use getaddrinfo.
func NewResolverSystem(logger model.DebugLogger) Resolver {
	return &resolverLogger{
		Resolver: &resolverShortCircuitIPAddr{&resolverSystem{}},
		Logger:   logger,
	}
}

// NewResolverUDP creates a resolver using DNS-over-UDP with the
// given server endpoint (e.g., "1.1.1.1:53").
func NewResolverUDP(logger model.DebugLogger, address string) Resolver {
	return &resolverLogger{
		Resolver: &resolverShortCircuitIPAddr{&resolverUDP{
			address: address,
			client:  &dns.Client{Net: "udp", Timeout: defaultDNSTimeout},
		}},
		Logger: logger,
	}
}

const defaultDNSTimeout = 5 * time.Second

// resolverSystem is the system resolver.
type resolverSystem struct{}

func (r *resolverSystem) LookupNetIP(ctx context.Context, hostname string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", hostname)
}

func (r *resolverSystem) Network() string {
	return "system"
}

func (r *resolverSystem) Address() string {
	return ""
}

// resolverUDP sends A and AAAA queries over UDP using miekg/dns.
type resolverUDP struct {
	address string
	client  *dns.Client
}

func (r *resolverUDP) LookupNetIP(ctx context.Context, hostname string) ([]netip.Addr, error) {
	var (
		addrs []netip.Addr
		errs  []error
	)
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		out, err := r.lookup(ctx, hostname, qtype)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		addrs = append(addrs, out...)
	}
	if len(addrs) <= 0 {
		return nil, errs[0] // prefer the A query result
	}
	return addrs, nil
}

func (r *resolverUDP) lookup(ctx context.Context, hostname string, qtype uint16) ([]netip.Addr, error) {
	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(hostname), qtype)
	query.RecursionDesired = true
	reply, _, err := r.client.ExchangeContext(ctx, query, r.address)
	if err != nil {
		return nil, err
	}
	return decodeLookupReply(reply, qtype)
}

func decodeLookupReply(reply *dns.Msg, qtype uint16) ([]netip.Addr, error) {
	switch reply.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, ErrDNSNoSuchHost
	case dns.RcodeRefused:
		return nil, ErrDNSRefused
	case dns.RcodeServerFailure:
		return nil, ErrDNSServfail
	default:
		return nil, ErrDNSMisbehaving
	}
	var addrs []netip.Addr
	for _, answer := range reply.Answer {
		var ip net.IP
		switch rr := answer.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				ip = rr.A
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				ip = rr.AAAA
			}
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, addr.Unmap())
		}
	}
	if len(addrs) <= 0 {
		return nil, ErrDNSNoAnswer
	}
	return addrs, nil
}

func (r *resolverUDP) Network() string {
	return "udp"
}

func (r *resolverUDP) Address() string {
	return r.address
}

// resolverShortCircuitIPAddr returns IP literals without resolving them.
type resolverShortCircuitIPAddr struct {
	Resolver
}

func (r *resolverShortCircuitIPAddr) LookupNetIP(ctx context.Context, hostname string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(hostname); err == nil {
		return []netip.Addr{addr.Unmap()}, nil
	}
	return r.Resolver.LookupNetIP(ctx, hostname)
}

// resolverLogger is a resolver that emits events.
type resolverLogger struct {
	Resolver
	Logger model.DebugLogger
}

func (r *resolverLogger) LookupNetIP(ctx context.Context, hostname string) ([]netip.Addr, error) {
	prefix := fmt.Sprintf("resolve[A,AAAA] %s with %s (%s)", hostname, r.Network(), r.Address())
	r.Logger.Debugf("%s...", prefix)
	start := time.Now()
	addrs, err := r.Resolver.LookupNetIP(ctx, hostname)
	elapsed := time.Since(start)
	if err != nil {
		r.Logger.Debugf("%s... %s in %s", prefix, err, elapsed)
		return nil, err
	}
	r.Logger.Debugf("%s... %+v in %s", prefix, addrs, elapsed)
	return addrs, nil
}
