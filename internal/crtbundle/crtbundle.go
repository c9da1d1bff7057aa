// Package crtbundle implements certificate bundles, i.e., sets of trust
// anchors that a client attaches to a session instead of a CA chain.
package crtbundle

import (
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/ooni/esptls/internal/backend"
	"github.com/ooni/esptls/internal/model"
)

// ErrEmptyBundle indicates that the bundle contains no trust anchors.
var ErrEmptyBundle = errors.New("crtbundle: empty bundle")

// Bundle is a set of trust anchors. The zero value is an empty bundle
// whose Attach method always fails.
type Bundle struct {
	logger model.Logger
	name   string
	pool   *x509.CertPool
}

// New creates a bundle from PEM or DER encoded certificates. Certificates
// that fail to parse are skipped with a warning.
func New(logger model.Logger, name string, data []byte) (*Bundle, error) {
	logger = model.ValidLoggerOrDefault(logger)
	certs, failed, err := backend.ParseCertChain(data)
	if err != nil {
		return nil, fmt.Errorf("crtbundle: %s: %w", name, err)
	}
	if failed > 0 {
		logger.Warnf("crtbundle: %s: skipped %d invalid certificates", name, failed)
	}
	pool := x509.NewCertPool()
	for _, cert := range certs {
		pool.AddCert(cert)
	}
	logger.Debugf("crtbundle: %s: %d trust anchors", name, len(certs))
	return &Bundle{logger: logger, name: name, pool: pool}, nil
}

// NewSystem creates a bundle using the system trust anchors.
func NewSystem(logger model.Logger) (*Bundle, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("crtbundle: system: %w", err)
	}
	return &Bundle{logger: model.ValidLoggerOrDefault(logger), name: "system", pool: pool}, nil
}

// Name returns the bundle name.
func (b *Bundle) Name() string {
	return b.name
}

// Pool returns a copy of the bundle trust anchors.
func (b *Bundle) Pool() *x509.CertPool {
	if b.pool == nil {
		return nil
	}
	return b.pool.Clone()
}

// Attach installs the bundle into config. Its signature matches
// backend.CrtBundleAttach, so the method value can be used directly.
func (b *Bundle) Attach(config backend.TrustConfig) error {
	if b.pool == nil {
		return ErrEmptyBundle
	}
	config.SetRootCAs(b.pool.Clone())
	config.SetVerifyPeerCertificate(b.verified)
	return nil
}

func (b *Bundle) verified(rawCerts [][]byte, chains [][]*x509.Certificate) error {
	if len(chains) > 0 && len(chains[0]) > 0 {
		anchor := chains[0][len(chains[0])-1]
		b.logger.Debugf("crtbundle: %s: verified using %s", b.name, anchor.Subject)
	}
	return nil
}

var _ backend.CrtBundleAttach = (&Bundle{}).Attach
