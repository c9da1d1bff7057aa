package tcpconn

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/ooni/esptls/internal/model"
)

// startDNSServer starts a DNS-over-UDP server answering with handler.
func startDNSServer(t *testing.T, handler dns.HandlerFunc) string {
	pconn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pconn,
		Handler:           handler,
		NotifyStartedFunc: func() { close(started) },
	}
	go srv.ActivateAndServe()
	<-started
	t.Cleanup(func() { srv.Shutdown() })
	return pconn.LocalAddr().String()
}

func TestResolverUDP(t *testing.T) {
	t.Run("A and AAAA records", func(t *testing.T) {
		address := startDNSServer(t, func(w dns.ResponseWriter, query *dns.Msg) {
			reply := new(dns.Msg)
			reply.SetReply(query)
			q := query.Question[0]
			switch q.Qtype {
			case dns.TypeA:
				reply.Answer = append(reply.Answer, &dns.A{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
					A:   net.IPv4(10, 0, 0, 1),
				})
			case dns.TypeAAAA:
				reply.Answer = append(reply.Answer, &dns.AAAA{
					Hdr:  dns.RR_Header{Name: q.Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 60},
					AAAA: net.ParseIP("2001:db8::1"),
				})
			}
			w.WriteMsg(reply)
		})
		reso := NewResolverUDP(model.DiscardLogger, address)
		if reso.Network() != "udp" || reso.Address() != address {
			t.Fatal("unexpected network or address")
		}
		addrs, err := reso.LookupNetIP(context.Background(), "example.com")
		if err != nil {
			t.Fatal(err)
		}
		if len(addrs) != 2 {
			t.Fatal("unexpected addrs", addrs)
		}
		if addrs[0] != netip.MustParseAddr("10.0.0.1") || addrs[1] != netip.MustParseAddr("2001:db8::1") {
			t.Fatal("unexpected addrs", addrs)
		}
	})

	t.Run("NXDOMAIN", func(t *testing.T) {
		address := startDNSServer(t, func(w dns.ResponseWriter, query *dns.Msg) {
			reply := new(dns.Msg)
			reply.SetRcode(query, dns.RcodeNameError)
			w.WriteMsg(reply)
		})
		reso := NewResolverUDP(model.DiscardLogger, address)
		_, err := reso.LookupNetIP(context.Background(), "example.com")
		if !errors.Is(err, ErrDNSNoSuchHost) {
			t.Fatal("unexpected error", err)
		}
	})
}

func TestDecodeLookupReply(t *testing.T) {
	cases := []struct {
		rcode  int
		expect error
	}{
		{dns.RcodeSuccess, ErrDNSNoAnswer},
		{dns.RcodeNameError, ErrDNSNoSuchHost},
		{dns.RcodeRefused, ErrDNSRefused},
		{dns.RcodeServerFailure, ErrDNSServfail},
		{dns.RcodeFormatError, ErrDNSMisbehaving},
	}
	for _, tc := range cases {
		t.Run(dns.RcodeToString[tc.rcode], func(t *testing.T) {
			reply := &dns.Msg{}
			reply.Rcode = tc.rcode
			_, err := decodeLookupReply(reply, dns.TypeA)
			if !errors.Is(err, tc.expect) {
				t.Fatal("unexpected error", err)
			}
		})
	}

	t.Run("ignores records of the wrong type", func(t *testing.T) {
		reply := &dns.Msg{}
		reply.Answer = append(reply.Answer, &dns.AAAA{AAAA: net.ParseIP("::1")})
		if _, err := decodeLookupReply(reply, dns.TypeA); !errors.Is(err, ErrDNSNoAnswer) {
			t.Fatal("unexpected error", err)
		}
	})
}

func TestResolverShortCircuitIPAddr(t *testing.T) {
	reso := &resolverShortCircuitIPAddr{newResolver(nil, errors.New("should not be called"))}
	addrs, err := reso.LookupNetIP(context.Background(), "::ffff:127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 1 || addrs[0] != netip.MustParseAddr("127.0.0.1") {
		t.Fatal("unexpected addrs", addrs)
	}
}

func TestResolverSystem(t *testing.T) {
	reso := NewResolverSystem(model.DiscardLogger)
	if reso.Network() != "system" {
		t.Fatal("unexpected network")
	}
	addrs, err := reso.LookupNetIP(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 1 || !addrs[0].IsLoopback() {
		t.Fatal("unexpected addrs", addrs)
	}
}
