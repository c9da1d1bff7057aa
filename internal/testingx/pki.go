package testingx

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"time"

	"github.com/ooni/esptls/internal/runtimex"
)

// PKI is a small certification authority for tests that need client
// certificates, expired certificates, or encrypted private keys.
type PKI struct {
	// Cert is the CA certificate.
	Cert *x509.Certificate

	key    *ecdsa.PrivateKey
	serial int64
}

// MustNewPKI creates a new [PKI] whose CA has the given common name.
func MustNewPKI(commonName string) *PKI {
	key := runtimex.Try1(ecdsa.GenerateKey(elliptic.P256(), rand.Reader))
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der := runtimex.Try1(x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key))
	return &PKI{
		Cert:   runtimex.Try1(x509.ParseCertificate(der)),
		key:    key,
		serial: 1,
	}
}

// CACertPEM returns the CA certificate in PEM format.
func (p *PKI) CACertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.Cert.Raw})
}

// LeafOptions contains the options for [PKI.MustIssue].
type LeafOptions struct {
	// CommonName is the subject common name.
	CommonName string

	// DNSNames and IPAddresses are the subject alternative names.
	DNSNames    []string
	IPAddresses []net.IP

	// NotBefore and NotAfter default to one hour ago and one day from now.
	NotBefore time.Time
	NotAfter  time.Time

	// Client selects a client authentication certificate.
	Client bool
}

// Leaf is a certificate issued by a [PKI].
type Leaf struct {
	// CertPEM is the certificate in PEM format.
	CertPEM []byte

	// KeyPEM is the PKCS#8 private key in PEM format.
	KeyPEM []byte

	// Certificate is the certificate ready to use with crypto/tls.
	Certificate tls.Certificate

	key *ecdsa.PrivateKey
}

// MustIssue issues a new leaf certificate.
func (p *PKI) MustIssue(opts *LeafOptions) *Leaf {
	key := runtimex.Try1(ecdsa.GenerateKey(elliptic.P256(), rand.Reader))
	p.serial++
	notBefore, notAfter := opts.NotBefore, opts.NotAfter
	if notBefore.IsZero() {
		notBefore = time.Now().Add(-time.Hour)
	}
	if notAfter.IsZero() {
		notAfter = time.Now().Add(24 * time.Hour)
	}
	usage := x509.ExtKeyUsageServerAuth
	if opts.Client {
		usage = x509.ExtKeyUsageClientAuth
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(p.serial),
		Subject:      pkix.Name{CommonName: opts.CommonName},
		DNSNames:     opts.DNSNames,
		IPAddresses:  opts.IPAddresses,
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
	}
	der := runtimex.Try1(x509.CreateCertificate(rand.Reader, template, p.Cert, &key.PublicKey, p.key))
	keyDER := runtimex.Try1(x509.MarshalPKCS8PrivateKey(key))
	return &Leaf{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
		Certificate: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  key,
		},
		key: key,
	}
}

// MustEncryptedKeyPEM returns the private key as a legacy encrypted
// EC PRIVATE KEY PEM block, as emitted by `openssl ec -aes256`.
func (l *Leaf) MustEncryptedKeyPEM(password []byte) []byte {
	der := runtimex.Try1(x509.MarshalECPrivateKey(l.key))
	block := runtimex.Try1(x509.EncryptPEMBlock(rand.Reader, "EC PRIVATE KEY", der, password, x509.PEMCipherAES256))
	return pem.EncodeToMemory(block)
}
