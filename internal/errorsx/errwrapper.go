// Package errorsx contains the failure taxonomy used when establishing
// connections, along with the error wrapper carrying it.
package errorsx

import (
	"encoding/json"
	"errors"
	"syscall"
)

// Operations that may fail. The resolve, connect, tls_setup and
// tls_handshake operations are _major_ operations. The others are
// _minor_ operations that may occur at any time.
const (
	// ResolveOperation is the name resolution operation.
	ResolveOperation = "resolve"

	// ConnectOperation is the TCP connect operation.
	ConnectOperation = "connect"

	// TLSSetupOperation is the creation of the TLS engine handle.
	TLSSetupOperation = "tls_setup"

	// TLSHandshakeOperation is the TLS handshake.
	TLSHandshakeOperation = "tls_handshake"

	// ReadOperation is a read of application data.
	ReadOperation = "read"

	// WriteOperation is a write of application data.
	WriteOperation = "write"

	// CAStoreOperation is an operation on the global CA store.
	CAStoreOperation = "ca_store"

	// TopLevelOperation is used when we don't know the operation.
	TopLevelOperation = "top_level"
)

// Error is our error wrapper for Go errors. Its Status identifies the
// logical step that failed and Error returns the matching failure string.
type Error struct {
	// Status is the failure status.
	Status Status

	// Operation is the operation that failed.
	//
	// If an Error referring to a major operation is wrapping another
	// Error and such Error already refers to a major operation, then
	// the new Error uses the child's major operation.
	Operation string

	// WrappedErr is the error that we're wrapping.
	WrappedErr error
}

// Error returns the failure string.
func (e *Error) Error() string {
	return e.Status.String()
}

// Unwrap allows to access the underlying error.
func (e *Error) Unwrap() error {
	return e.WrappedErr
}

// MarshalJSON converts an Error to a JSON value.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Status.String())
}

// New creates a new Error using the given status, operation name, and
// underlying error. This function panics if status is StatusOK or op is
// empty. A nil err is allowed, for failures without an underlying cause.
//
// If err is already an *Error, the returned wrapper keeps the child's
// status and its operation when the child operation is a major one.
func New(status Status, op string, err error) *Error {
	var child *Error
	if errors.As(err, &child) {
		return &Error{
			Status:     child.Status,
			Operation:  classifyOperation(child, op),
			WrappedErr: err,
		}
	}
	if status == StatusOK {
		panic("errorsx: StatusOK is not a failure")
	}
	if op == "" {
		panic("errorsx: empty op")
	}
	return &Error{
		Status:     status,
		Operation:  op,
		WrappedErr: err,
	}
}

func classifyOperation(child *Error, op string) string {
	switch child.Operation {
	case ResolveOperation, ConnectOperation, TLSSetupOperation, TLSHandshakeOperation:
		return child.Operation
	}
	return op
}

// StatusOf returns the Status of err, StatusOK if err is nil, or
// StatusInvalidState if err is not an *Error.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var wrapper *Error
	if errors.As(err, &wrapper) {
		return wrapper.Status
	}
	return StatusInvalidState
}

// IsSoft returns whether err is a soft failure, i.e., the operation
// partially succeeded and the caller may continue.
func IsSoft(err error) bool {
	return err != nil && StatusOf(err) == StatusCertPartlyOK
}

// Errno returns the system error number wrapped by err or zero.
func Errno(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return 0
}
