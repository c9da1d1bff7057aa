// Package lasterror implements the per-connection record of the last
// error that occurred, split by category.
//
// A Record is single-owner: it is not safe to Capture into the same
// Record from multiple goroutines without external synchronization.
package lasterror

import "errors"

// Kind is the category of a captured error.
type Kind int

const (
	// KindSystem is the errno of a failed system call.
	KindSystem = Kind(iota)

	// KindBackendCode is the raw result code of the TLS engine.
	KindBackendCode

	// KindCertFlags is the certificate verification flags bitmask.
	KindCertFlags

	// KindStatus is the high level errorsx.Status.
	KindStatus
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindBackendCode:
		return "backend_code"
	case KindCertFlags:
		return "cert_flags"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

// ErrInvalidState is returned when reading from a nil Record.
var ErrInvalidState = errors.New("lasterror: invalid state")

// ErrInvalidKind is returned when reading an unknown Kind.
var ErrInvalidKind = errors.New("lasterror: invalid kind")

// Record is the last error record. The zero value is ready to use
// and reports no error in every category.
type Record struct {
	errno  int
	code   int
	flags  uint32
	status int
}

// New creates a new empty Record.
func New() *Record {
	return &Record{}
}

// Capture stores code in the slot for kind. Other slots are not
// modified. This method is a no-op on a nil Record or an unknown kind.
func (r *Record) Capture(kind Kind, code int) {
	if r == nil {
		return
	}
	switch kind {
	case KindSystem:
		r.errno = code
	case KindBackendCode:
		r.code = code
	case KindCertFlags:
		r.flags = uint32(code)
	case KindStatus:
		r.status = code
	}
}

// GetAndClear returns the status, the backend code and the certificate
// flags and resets all the categories, including KindSystem.
func (r *Record) GetAndClear() (status int, code int, flags uint32, err error) {
	if r == nil {
		return 0, 0, 0, ErrInvalidState
	}
	status, code, flags = r.status, r.code, r.flags
	*r = Record{}
	return
}

// GetAndClearKind returns the value stored for kind and clears only
// that category. This is the only way to read KindSystem.
func (r *Record) GetAndClearKind(kind Kind) (int, error) {
	if r == nil {
		return 0, ErrInvalidState
	}
	var value int
	switch kind {
	case KindSystem:
		value, r.errno = r.errno, 0
	case KindBackendCode:
		value, r.code = r.code, 0
	case KindCertFlags:
		value, r.flags = int(r.flags), 0
	case KindStatus:
		value, r.status = r.status, 0
	default:
		return 0, ErrInvalidKind
	}
	return value, nil
}
