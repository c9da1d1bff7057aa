package errorsx

//
// Status taxonomy
//

import "fmt"

// Status identifies which logical step of connection establishment
// failed, independently of the raw system or engine error code.
type Status int

// StatusBase is the offset of all the Status values. We use an offset
// so that a Status never collides with a generic errno value.
const StatusBase Status = 0x8000

// StatusOK indicates that no error occurred.
const StatusOK Status = 0

// These are the TCP and socket level failures.
const (
	// StatusCannotResolveHostname means that name resolution failed.
	StatusCannotResolveHostname = StatusBase + 0x01

	// StatusCannotCreateSocket means that we could not create a socket.
	StatusCannotCreateSocket = StatusBase + 0x02

	// StatusUnsupportedProtocolFamily means the address is neither IPv4 nor IPv6.
	StatusUnsupportedProtocolFamily = StatusBase + 0x03

	// StatusFailedConnectToHost means that connect failed.
	StatusFailedConnectToHost = StatusBase + 0x04

	// StatusSocketSetoptFailed means that setting a socket option failed or
	// that the socket reported a pending error after a non-blocking connect.
	StatusSocketSetoptFailed = StatusBase + 0x05

	// StatusConnectionTimeout means that a blocking connect timed out.
	StatusConnectionTimeout = StatusBase + 0x06

	// StatusTCPClosedFIN means that the peer closed the connection.
	StatusTCPClosedFIN = StatusBase + 0x08
)

// These are the failures reported by the TLS engine adapters.
const (
	// StatusCertPartlyOK means that some certificates of a PEM bundle could
	// not be parsed. This is a soft failure: the other certificates are in use.
	StatusCertPartlyOK = StatusBase + 0x10

	// StatusRandSeedFailed means that the random source could not be read.
	StatusRandSeedFailed = StatusBase + 0x11

	// StatusSetHostnameFailed means that the hostname to verify is invalid.
	StatusSetHostnameFailed = StatusBase + 0x12

	// StatusConfigDefaultsFailed means that the TLS version or the
	// cipher suites could not be configured.
	StatusConfigDefaultsFailed = StatusBase + 0x13

	// StatusConfALPNFailed means that the ALPN list is invalid.
	StatusConfALPNFailed = StatusBase + 0x14

	// StatusX509CrtParseFailed means that a certificate could not be parsed.
	StatusX509CrtParseFailed = StatusBase + 0x15

	// StatusConfOwnCertFailed means that our certificate and key do not match.
	StatusConfOwnCertFailed = StatusBase + 0x16

	// StatusSetupFailed means that the engine handle could not be created.
	StatusSetupFailed = StatusBase + 0x17

	// StatusWriteFailed means that writing application data failed.
	StatusWriteFailed = StatusBase + 0x18

	// StatusPKParseKeyFailed means that the private key could not be parsed.
	StatusPKParseKeyFailed = StatusBase + 0x19

	// StatusHandshakeFailed means that the TLS handshake failed.
	StatusHandshakeFailed = StatusBase + 0x1A

	// StatusConfPSKFailed means that the pre-shared key could not be configured.
	StatusConfPSKFailed = StatusBase + 0x1B

	// StatusTicketSetupFailed means that session tickets could not be configured.
	StatusTicketSetupFailed = StatusBase + 0x1C

	// StatusReadFailed means that reading application data failed.
	StatusReadFailed = StatusBase + 0x1D
)

// These are generic failures of the API itself.
const (
	// StatusInvalidArg means that the caller passed an invalid argument.
	StatusInvalidArg = StatusBase + 0x40

	// StatusInvalidState means that the operation is not valid in the current state.
	StatusInvalidState = StatusBase + 0x41
)

var statusString = map[Status]string{
	StatusOK:                        "",
	StatusCannotResolveHostname:     "cannot_resolve_hostname",
	StatusCannotCreateSocket:        "cannot_create_socket",
	StatusUnsupportedProtocolFamily: "unsupported_protocol_family",
	StatusFailedConnectToHost:       "failed_connect_to_host",
	StatusSocketSetoptFailed:        "socket_setopt_failed",
	StatusConnectionTimeout:         "connection_timeout",
	StatusTCPClosedFIN:              "tcp_closed_fin",
	StatusCertPartlyOK:              "cert_partly_ok",
	StatusRandSeedFailed:            "rand_seed_failed",
	StatusSetHostnameFailed:         "ssl_set_hostname_failed",
	StatusConfigDefaultsFailed:      "ssl_config_defaults_failed",
	StatusConfALPNFailed:            "ssl_conf_alpn_protocols_failed",
	StatusX509CrtParseFailed:        "x509_crt_parse_failed",
	StatusConfOwnCertFailed:         "ssl_conf_own_cert_failed",
	StatusSetupFailed:               "ssl_setup_failed",
	StatusWriteFailed:               "ssl_write_failed",
	StatusPKParseKeyFailed:          "pk_parse_key_failed",
	StatusHandshakeFailed:           "ssl_handshake_failed",
	StatusConfPSKFailed:             "ssl_conf_psk_failed",
	StatusTicketSetupFailed:         "ssl_ticket_setup_failed",
	StatusReadFailed:                "ssl_read_failed",
	StatusInvalidArg:                "invalid_arg",
	StatusInvalidState:              "invalid_state",
}

// String returns the failure string for the status. Unknown values
// map to `unknown_status_0xNNNN`.
func (s Status) String() string {
	if str, found := statusString[s]; found {
		return str
	}
	return fmt.Sprintf("unknown_status_%#x", int(s))
}

// AllStatuses returns all the known non-OK statuses.
func AllStatuses() []Status {
	out := make([]Status, 0, len(statusString))
	for s := range statusString {
		if s != StatusOK {
			out = append(out, s)
		}
	}
	return out
}
