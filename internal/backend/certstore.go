package backend

//
// Global CA store
//

import (
	"crypto/x509"
	"fmt"
	"sync"

	"github.com/ooni/esptls/internal/errorsx"
	"github.com/ooni/esptls/internal/model"
)

// CertStore is a process-wide, appendable CA store. Set replaces the
// pool with an extended copy, so sessions that already use a pool keep
// using a consistent snapshot.
type CertStore struct {
	logger model.Logger
	mu     sync.Mutex
	pool   *x509.CertPool
	count  int
}

// DefaultCertStore is the global CA store shared by all the engines.
var DefaultCertStore = NewCertStore(model.DiscardLogger)

// NewCertStore creates a new, uninitialized CertStore.
func NewCertStore(logger model.Logger) *CertStore {
	return &CertStore{logger: logger}
}

// Init initializes the store. This operation is idempotent.
func (s *CertStore) Init() {
	defer s.mu.Unlock()
	s.mu.Lock()
	s.initLocked()
}

func (s *CertStore) initLocked() {
	if s.pool == nil {
		s.pool = x509.NewCertPool()
		s.count = 0
	}
}

// Set parses PEM or DER certificates and appends them to the store, which
// is initialized if needed, also when parsing fails. When only some PEM certificates are valid, it
// appends the valid ones and returns a soft StatusCertPartlyOK error.
func (s *CertStore) Set(data []byte) error {
	defer s.mu.Unlock()
	s.mu.Lock()
	s.initLocked()
	certs, failed, err := ParseCertChain(data)
	if err != nil {
		s.logger.Warnf("certstore: cannot parse certificates: %s", err)
		return Fail(nil, errorsx.StatusX509CrtParseFailed, CodeX509InvalidFormat,
			errorsx.CAStoreOperation, err)
	}
	next := s.pool.Clone()
	for _, cert := range certs {
		next.AddCert(cert)
	}
	s.pool = next
	s.count += len(certs)
	if failed > 0 {
		s.logger.Warnf("certstore: added %d certificates, %d failed to parse", len(certs), failed)
		return errorsx.New(errorsx.StatusCertPartlyOK, errorsx.CAStoreOperation,
			fmt.Errorf("%d certificates failed to parse", failed))
	}
	s.logger.Debugf("certstore: added %d certificates", len(certs))
	return nil
}

// Get returns the store's pool or nil if the store is not initialized.
func (s *CertStore) Get() *x509.CertPool {
	defer s.mu.Unlock()
	s.mu.Lock()
	return s.pool
}

// Len returns the number of certificates added since Init.
func (s *CertStore) Len() int {
	defer s.mu.Unlock()
	s.mu.Lock()
	return s.count
}

// Free releases the store. This operation is idempotent.
func (s *CertStore) Free() {
	defer s.mu.Unlock()
	s.mu.Lock()
	s.pool = nil
	s.count = 0
}
