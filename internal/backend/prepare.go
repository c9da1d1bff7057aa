package backend

//
// Engine independent session configuration
//

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ooni/esptls/internal/errorsx"
	"github.com/ooni/esptls/internal/lasterror"
	"github.com/ooni/esptls/internal/model"
)

// TrustMode is the kind of trust material used by a client session.
type TrustMode int

const (
	// TrustNone means that the server certificate is not verified.
	TrustNone = TrustMode(iota)

	// TrustBundle means that a certificate bundle callback installed
	// the trust anchors.
	TrustBundle

	// TrustGlobalStore means that we use the global CA store.
	TrustGlobalStore

	// TrustCACert means that we use the configured CA chain.
	TrustCACert

	// TrustPSK means that we use a pre-shared key.
	TrustPSK
)

// String returns the trust mode name.
func (m TrustMode) String() string {
	switch m {
	case TrustBundle:
		return "bundle"
	case TrustGlobalStore:
		return "global_store"
	case TrustCACert:
		return "ca_cert"
	case TrustPSK:
		return "psk"
	default:
		return "none"
	}
}

// ClientParams is the engine independent client configuration produced by
// PrepareClient. Engines copy these fields into their own configuration.
type ClientParams struct {
	// Trust is the selected trust mode.
	Trust TrustMode

	// ServerName is the SNI.
	ServerName string

	// VerifyName is the name to verify or empty to skip the check.
	VerifyName string

	// RootCAs contains the trust anchors. It is nil with TrustNone.
	RootCAs *x509.CertPool

	// Certificates contains the OPTIONAL client certificate.
	Certificates []tls.Certificate

	// NextProtos contains the ALPN protocols.
	NextProtos []string

	// MinVersion and MaxVersion bound the TLS version.
	MinVersion uint16
	MaxVersion uint16

	// CipherSuites contains the OPTIONAL cipher suites.
	CipherSuites []uint16

	// SessionTickets enables the client session cache.
	SessionTickets bool

	// extraVerify is the OPTIONAL callback installed by a bundle.
	extraVerify func(rawCerts [][]byte, chains [][]*x509.Certificate) error
}

var _ TrustConfig = &ClientParams{}

// SetRootCAs implements TrustConfig.
func (p *ClientParams) SetRootCAs(pool *x509.CertPool) {
	p.RootCAs = pool
}

// SetVerifyPeerCertificate implements TrustConfig.
func (p *ClientParams) SetVerifyPeerCertificate(fn func(rawCerts [][]byte, chains [][]*x509.Certificate) error) {
	p.extraVerify = fn
}

// VerifyPeerCertificate verifies the server chain against RootCAs and
// VerifyName. Engines MUST disable their own verification and use this
// function as their verification callback, so that the errors have the
// same types and a skipped name check still verifies the chain.
func (p *ClientParams) VerifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if p.RootCAs == nil {
		return nil
	}
	if len(rawCerts) <= 0 {
		return errors.New("backend: server did not send any certificate")
	}
	intermediates := x509.NewCertPool()
	var leaf *x509.Certificate
	for idx, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return err
		}
		if idx == 0 {
			leaf = cert
			continue
		}
		intermediates.AddCert(cert)
	}
	chains, err := leaf.Verify(x509.VerifyOptions{
		DNSName:       p.VerifyName,
		Intermediates: intermediates,
		Roots:         p.RootCAs,
	})
	if err != nil {
		return err
	}
	if p.extraVerify != nil {
		return p.extraVerify(rawCerts, chains)
	}
	return nil
}

// entropySource is the source used to check the random number generator.
var entropySource io.Reader = rand.Reader

// Errors returned by PrepareClient and PrepareServer.
var (
	ErrInvalidHostname    = errors.New("backend: invalid hostname")
	ErrInvalidALPN        = errors.New("backend: invalid ALPN protocol")
	ErrInvalidCipherSuite = errors.New("backend: invalid cipher suite")
	ErrInvalidTLSVersion  = errors.New("backend: invalid TLS version")
	ErrNoRootCAs          = errors.New("backend: the bundle did not set any root CA")
	ErrGlobalStoreNotInit = errors.New("backend: global CA store is not initialized")
	ErrPSKUnsupported     = errors.New("backend: TLS-PSK cipher suites are not supported")
	ErrIncompleteIdentity = errors.New("backend: both certificate and key are required")
	ErrInvalidTicketKey   = errors.New("backend: session ticket key must be 32 bytes")
	ErrNilConn            = errors.New("backend: nil conn")
)

// PrepareClient validates cfg and computes the client parameters for
// connecting to hostname. Each configuration step that fails captures
// its engine code and its own status into rec.
func PrepareClient(store *CertStore, hostname string, cfg *ClientConfig,
	rec *lasterror.Record) (*ClientParams, error) {
	logger := model.ValidLoggerOrDefault(cfg.Logger)
	if err := checkEntropy(rec); err != nil {
		return nil, err
	}

	p := &ClientParams{SessionTickets: cfg.SessionTickets}
	p.ServerName = hostname
	if cfg.CommonName != "" {
		p.ServerName = cfg.CommonName
	}
	if !validHostname(p.ServerName) {
		return nil, Fail(rec, errorsx.StatusSetHostnameFailed, CodeBadInputData,
			errorsx.TLSSetupOperation, fmt.Errorf("%w: %q", ErrInvalidHostname, p.ServerName))
	}
	if !cfg.SkipCommonName {
		p.VerifyName = p.ServerName
	}

	var err error
	p.MinVersion, p.MaxVersion, p.CipherSuites, err = configDefaults(cfg.TLSVersion, cfg.CipherSuites)
	if err != nil {
		return nil, Fail(rec, errorsx.StatusConfigDefaultsFailed, CodeBadInputData,
			errorsx.TLSSetupOperation, err)
	}

	if err := validateALPN(cfg.ALPN); err != nil {
		return nil, Fail(rec, errorsx.StatusConfALPNFailed, CodeBadInputData,
			errorsx.TLSSetupOperation, err)
	}
	p.NextProtos = cfg.ALPN

	if err := p.selectTrust(store, cfg, logger, rec); err != nil {
		return nil, err
	}

	switch {
	case len(cfg.ClientCert) > 0 && len(cfg.ClientKey) > 0:
		cert, err := LoadOwnCert(cfg.ClientCert, cfg.ClientKey, cfg.ClientKeyPassword, rec)
		if err != nil {
			return nil, err
		}
		p.Certificates = []tls.Certificate{cert}
	case len(cfg.ClientCert) > 0 || len(cfg.ClientKey) > 0:
		return nil, Fail(rec, errorsx.StatusConfOwnCertFailed, CodeBadInputData,
			errorsx.TLSSetupOperation, ErrIncompleteIdentity)
	}
	return p, nil
}

// selectTrust applies the trust material with the highest precedence:
// bundle, global store, CA chain, PSK, and finally no verification.
func (p *ClientParams) selectTrust(store *CertStore, cfg *ClientConfig,
	logger model.Logger, rec *lasterror.Record) error {
	switch {
	case cfg.CrtBundleAttach != nil:
		p.Trust = TrustBundle
		if err := cfg.CrtBundleAttach(p); err != nil {
			return Fail(rec, errorsx.StatusSetupFailed, CodeBadInputData, errorsx.TLSSetupOperation, err)
		}
		if p.RootCAs == nil {
			return Fail(rec, errorsx.StatusSetupFailed, CodeBadInputData,
				errorsx.TLSSetupOperation, ErrNoRootCAs)
		}

	case cfg.UseGlobalCAStore:
		p.Trust = TrustGlobalStore
		if p.RootCAs = store.Get(); p.RootCAs == nil {
			return Fail(rec, errorsx.StatusSetupFailed, CodeBadInputData,
				errorsx.TLSSetupOperation, ErrGlobalStoreNotInit)
		}

	case len(cfg.CACert) > 0:
		p.Trust = TrustCACert
		certs, failed, err := ParseCertChain(cfg.CACert)
		if err != nil {
			return Fail(rec, errorsx.StatusX509CrtParseFailed, CodeX509InvalidFormat,
				errorsx.TLSSetupOperation, err)
		}
		if failed > 0 {
			logger.Warnf("backend: CA chain partly parsed, %d certificates failed", failed)
		}
		p.RootCAs = x509.NewCertPool()
		for _, cert := range certs {
			p.RootCAs.AddCert(cert)
		}

	case cfg.PSK != nil:
		p.Trust = TrustPSK
		return Fail(rec, errorsx.StatusConfPSKFailed, CodeFeatureUnavailable,
			errorsx.TLSSetupOperation, ErrPSKUnsupported)

	default:
		p.Trust = TrustNone
		logger.Warn("backend: no server verification option set, the server certificate is not verified")
	}
	return nil
}

// ServerParams is the engine independent server configuration produced
// by PrepareServer.
type ServerParams struct {
	// Certificates contains the server certificate.
	Certificates []tls.Certificate

	// ClientCAs contains the OPTIONAL CAs used to verify client certificates.
	ClientCAs *x509.CertPool

	// NextProtos contains the supported ALPN protocols.
	NextProtos []string

	// MinVersion and MaxVersion bound the TLS version.
	MinVersion uint16
	MaxVersion uint16

	// CipherSuites contains the OPTIONAL cipher suites.
	CipherSuites []uint16

	// TicketKey is the OPTIONAL session ticket key.
	TicketKey *[32]byte
}

// PrepareServer is like PrepareClient for the server role.
func PrepareServer(cfg *ServerConfig, rec *lasterror.Record) (*ServerParams, error) {
	logger := model.ValidLoggerOrDefault(cfg.Logger)
	if err := checkEntropy(rec); err != nil {
		return nil, err
	}
	p := &ServerParams{NextProtos: cfg.ALPN}

	var err error
	p.MinVersion, p.MaxVersion, p.CipherSuites, err = configDefaults(cfg.TLSVersion, cfg.CipherSuites)
	if err != nil {
		return nil, Fail(rec, errorsx.StatusConfigDefaultsFailed, CodeBadInputData,
			errorsx.TLSSetupOperation, err)
	}
	if err := validateALPN(cfg.ALPN); err != nil {
		return nil, Fail(rec, errorsx.StatusConfALPNFailed, CodeBadInputData,
			errorsx.TLSSetupOperation, err)
	}

	if len(cfg.CACert) > 0 {
		certs, failed, err := ParseCertChain(cfg.CACert)
		if err != nil {
			return nil, Fail(rec, errorsx.StatusX509CrtParseFailed, CodeX509InvalidFormat,
				errorsx.TLSSetupOperation, err)
		}
		if failed > 0 {
			logger.Warnf("backend: client CA chain partly parsed, %d certificates failed", failed)
		}
		p.ClientCAs = x509.NewCertPool()
		for _, cert := range certs {
			p.ClientCAs.AddCert(cert)
		}
	}

	if len(cfg.ServerCert) <= 0 || len(cfg.ServerKey) <= 0 {
		return nil, Fail(rec, errorsx.StatusConfOwnCertFailed, CodeBadInputData,
			errorsx.TLSSetupOperation, ErrIncompleteIdentity)
	}
	cert, err := LoadOwnCert(cfg.ServerCert, cfg.ServerKey, cfg.ServerKeyPassword, rec)
	if err != nil {
		return nil, err
	}
	p.Certificates = []tls.Certificate{cert}

	if cfg.TicketKey != nil {
		if len(cfg.TicketKey) != 32 {
			return nil, Fail(rec, errorsx.StatusTicketSetupFailed, CodeBadInputData,
				errorsx.TLSSetupOperation, ErrInvalidTicketKey)
		}
		p.TicketKey = (*[32]byte)(cfg.TicketKey)
	}
	return p, nil
}

func checkEntropy(rec *lasterror.Record) error {
	seed := make([]byte, 32)
	if _, err := io.ReadFull(entropySource, seed); err != nil {
		return Fail(rec, errorsx.StatusRandSeedFailed, CodeEntropyFailed, errorsx.TLSSetupOperation, err)
	}
	return nil
}

func validHostname(name string) bool {
	return name != "" && len(name) <= 255 && !strings.ContainsRune(name, 0)
}

func validateALPN(protos []string) error {
	for _, proto := range protos {
		if len(proto) <= 0 || len(proto) > 255 {
			return fmt.Errorf("%w: %q", ErrInvalidALPN, proto)
		}
	}
	return nil
}

func configDefaults(version string, suites []uint16) (uint16, uint16, []uint16, error) {
	config := &tls.Config{}
	if err := ConfigureTLSVersion(config, version); err != nil {
		return 0, 0, nil, err
	}
	known := make(map[uint16]bool)
	for _, suite := range tls.CipherSuites() {
		known[suite.ID] = true
	}
	for _, suite := range tls.InsecureCipherSuites() {
		known[suite.ID] = true
	}
	for _, id := range suites {
		if !known[id] {
			return 0, 0, nil, fmt.Errorf("%w: %#04x", ErrInvalidCipherSuite, id)
		}
	}
	return config.MinVersion, config.MaxVersion, suites, nil
}

// ConfigureTLSVersion configures the correct TLS version into
// a *tls.Config or returns ErrInvalidTLSVersion.
//
// Recognized strings: TLSv1.3, TLSv1.2, TLSv1.1, TLSv1.0.
func ConfigureTLSVersion(config *tls.Config, version string) error {
	switch version {
	case "TLSv1.3":
		config.MinVersion = tls.VersionTLS13
		config.MaxVersion = tls.VersionTLS13
	case "TLSv1.2":
		config.MinVersion = tls.VersionTLS12
		config.MaxVersion = tls.VersionTLS12
	case "TLSv1.1":
		config.MinVersion = tls.VersionTLS11
		config.MaxVersion = tls.VersionTLS11
	case "TLSv1.0", "TLSv1":
		config.MinVersion = tls.VersionTLS10
		config.MaxVersion = tls.VersionTLS10
	case "":
		// nothing to do
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTLSVersion, version)
	}
	return nil
}
