package esptls

//
// Global CA store and certificate bundles
//

import (
	"crypto/x509"

	"github.com/ooni/esptls/internal/crtbundle"
)

// InitGlobalCAStore initializes the global CA store. Calling it again
// has no effect.
func InitGlobalCAStore() error {
	return defaultBackend.InitGlobalStore()
}

// SetGlobalCAStore parses the given PEM or DER certificates and appends
// them to the global CA store, initializing it if needed. When only some
// certificates are valid, the valid ones are appended and the returned
// error has StatusCertPartlyOK.
func SetGlobalCAStore(data []byte) error {
	return defaultBackend.SetGlobalStore(data)
}

// GetGlobalCAStore returns the global CA store or nil if it has not
// been initialized. The returned pool must not be modified.
func GetGlobalCAStore() *x509.CertPool {
	return defaultBackend.GlobalStore()
}

// FreeGlobalCAStore releases the global CA store. The connections that
// are already using it keep working.
func FreeGlobalCAStore() {
	defaultBackend.FreeGlobalStore()
}

// CrtBundle is a certificate bundle. Use its Attach method as
// Config.CrtBundleAttach.
type CrtBundle = crtbundle.Bundle

// NewCrtBundle creates a named CrtBundle from PEM or DER certificates.
func NewCrtBundle(logger Logger, name string, data []byte) (*CrtBundle, error) {
	return crtbundle.New(logger, name, data)
}

// NewSystemCrtBundle creates a CrtBundle using the system trust anchors.
func NewSystemCrtBundle(logger Logger) (*CrtBundle, error) {
	return crtbundle.NewSystem(logger)
}

// BackendName returns the name of the TLS engine in use.
func BackendName() string {
	return defaultBackend.Name()
}
