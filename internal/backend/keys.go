package backend

//
// Certificates and private keys
//

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"

	"github.com/ooni/esptls/internal/errorsx"
	"github.com/ooni/esptls/internal/lasterror"
)

// Fail captures code and status into rec and returns the error wrapper
// for the failed operation.
func Fail(rec *lasterror.Record, status errorsx.Status, code int, op string, err error) error {
	wrapped := errorsx.New(status, op, err)
	rec.Capture(lasterror.KindBackendCode, code)
	rec.Capture(lasterror.KindStatus, int(wrapped.Status))
	return wrapped
}

// ErrNoCertificates indicates that the input contains no valid certificate.
var ErrNoCertificates = errors.New("backend: no valid certificates")

// ParseCertChain parses PEM or DER encoded certificates. It returns the
// certificates it could parse and the number of PEM blocks that failed
// to parse. It fails only when no certificate is valid.
func ParseCertChain(data []byte) ([]*x509.Certificate, int, error) {
	if !bytes.Contains(data, []byte("-----BEGIN")) {
		certs, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, 1, err
		}
		if len(certs) <= 0 {
			return nil, 0, ErrNoCertificates
		}
		return certs, 0, nil
	}
	var (
		certs  []*x509.Certificate
		failed int
	)
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			failed++
			continue
		}
		certs = append(certs, cert)
	}
	if len(certs) <= 0 {
		return nil, failed, ErrNoCertificates
	}
	return certs, failed, nil
}

// ErrPublicKeyMismatch indicates that the private key does not match the
// public key of the certificate.
var ErrPublicKeyMismatch = errors.New("backend: private key does not match certificate")

// ErrEncryptedKeyUnsupported indicates an encrypted PKCS#8 key.
var ErrEncryptedKeyUnsupported = errors.New("backend: encrypted PKCS#8 keys are not supported")

// LoadOwnCert parses a certificate chain and its private key, decrypting
// the key with password when it is encrypted, and checks they match.
func LoadOwnCert(certData, keyData, password []byte, rec *lasterror.Record) (tls.Certificate, error) {
	certs, _, err := ParseCertChain(certData)
	if err != nil {
		return tls.Certificate{}, Fail(rec, errorsx.StatusX509CrtParseFailed,
			CodeX509InvalidFormat, errorsx.TLSSetupOperation, err)
	}
	key, code, err := parsePrivateKey(keyData, password)
	if err != nil {
		return tls.Certificate{}, Fail(rec, errorsx.StatusPKParseKeyFailed,
			code, errorsx.TLSSetupOperation, err)
	}
	pub, ok := certs[0].PublicKey.(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(key.Public()) {
		return tls.Certificate{}, Fail(rec, errorsx.StatusConfOwnCertFailed,
			CodeBadInputData, errorsx.TLSSetupOperation, ErrPublicKeyMismatch)
	}
	out := tls.Certificate{PrivateKey: key, Leaf: certs[0]}
	for _, cert := range certs {
		out.Certificate = append(out.Certificate, cert.Raw)
	}
	return out, nil
}

func parsePrivateKey(data, password []byte) (crypto.Signer, int, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		if block.Type == "ENCRYPTED PRIVATE KEY" {
			return nil, CodeFeatureUnavailable, ErrEncryptedKeyUnsupported
		}
		der = block.Bytes
		if x509.IsEncryptedPEMBlock(block) {
			decrypted, err := x509.DecryptPEMBlock(block, password)
			if err != nil {
				return nil, CodePKPasswordMismatch, err
			}
			der = decrypted
		}
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		switch k := key.(type) {
		case *rsa.PrivateKey, *ecdsa.PrivateKey, ed25519.PrivateKey:
			return k.(crypto.Signer), 0, nil
		}
		return nil, CodePKKeyInvalid, errors.New("backend: unsupported private key type")
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, 0, nil
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, CodePKKeyInvalid, err
	}
	return key, 0, nil
}
