package mocks

import (
	"context"
	"net/netip"
)

// Resolver is a mockable Resolver.
type Resolver struct {
	MockLookupNetIP func(ctx context.Context, hostname string) ([]netip.Addr, error)
	MockNetwork     func() string
	MockAddress     func() string
}

// LookupNetIP calls MockLookupNetIP.
func (r *Resolver) LookupNetIP(ctx context.Context, hostname string) ([]netip.Addr, error) {
	return r.MockLookupNetIP(ctx, hostname)
}

// Address calls MockAddress.
func (r *Resolver) Address() string {
	return r.MockAddress()
}

// Network calls MockNetwork.
func (r *Resolver) Network() string {
	return r.MockNetwork()
}
