package model

//
// Network model
//

import "time"

// AddressFamily is the address family of a socket.
type AddressFamily int

const (
	// AddressFamilyUnspec accepts both IPv4 and IPv6 addresses.
	AddressFamilyUnspec = AddressFamily(iota)

	// AddressFamilyINET only accepts IPv4 addresses.
	AddressFamilyINET

	// AddressFamilyINET6 only accepts IPv6 addresses.
	AddressFamilyINET6
)

// String returns the family name.
func (f AddressFamily) String() string {
	switch f {
	case AddressFamilyINET:
		return "inet"
	case AddressFamilyINET6:
		return "inet6"
	default:
		return "unspec"
	}
}

// KeepAlive contains the TCP keep-alive settings.
type KeepAlive struct {
	// Idle is the idle time before sending the first probe.
	Idle time.Duration

	// Interval is the interval between probes.
	Interval time.Duration

	// Count is the number of unanswered probes before failing.
	Count int
}
