package errorsx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with a plain error", func(t *testing.T) {
		err := New(StatusFailedConnectToHost, ConnectOperation, syscall.ECONNREFUSED)
		if err.Status != StatusFailedConnectToHost {
			t.Fatal("unexpected status")
		}
		if err.Operation != ConnectOperation {
			t.Fatal("unexpected operation")
		}
		if err.Error() != "failed_connect_to_host" {
			t.Fatal("unexpected failure string", err.Error())
		}
		if !errors.Is(err, syscall.ECONNREFUSED) {
			t.Fatal("cannot unwrap")
		}
	})

	t.Run("with a nil error", func(t *testing.T) {
		err := New(StatusInvalidArg, TopLevelOperation, nil)
		if err.Unwrap() != nil {
			t.Fatal("expected nil wrapped error")
		}
	})

	t.Run("keeps the child major operation", func(t *testing.T) {
		child := New(StatusCannotResolveHostname, ResolveOperation, io.EOF)
		err := New(StatusHandshakeFailed, TLSHandshakeOperation, child)
		if err.Status != StatusCannotResolveHostname {
			t.Fatal("unexpected status", err.Status)
		}
		if err.Operation != ResolveOperation {
			t.Fatal("unexpected operation", err.Operation)
		}
	})

	t.Run("replaces the child minor operation", func(t *testing.T) {
		child := New(StatusReadFailed, ReadOperation, io.EOF)
		err := New(StatusHandshakeFailed, TLSHandshakeOperation, child)
		if err.Operation != TLSHandshakeOperation {
			t.Fatal("unexpected operation", err.Operation)
		}
	})

	t.Run("panics with StatusOK", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatal("expected a panic")
			}
		}()
		New(StatusOK, ConnectOperation, io.EOF)
	})

	t.Run("panics with an empty operation", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatal("expected a panic")
			}
		}()
		New(StatusSetupFailed, "", io.EOF)
	})
}

func TestErrorMarshalJSON(t *testing.T) {
	err := New(StatusHandshakeFailed, TLSHandshakeOperation, io.EOF)
	data, jerr := json.Marshal(err)
	if jerr != nil {
		t.Fatal(jerr)
	}
	if string(data) != `"ssl_handshake_failed"` {
		t.Fatal("unexpected JSON", string(data))
	}
}

func TestStatusOf(t *testing.T) {
	if StatusOf(nil) != StatusOK {
		t.Fatal("expected StatusOK")
	}
	if StatusOf(io.EOF) != StatusInvalidState {
		t.Fatal("expected StatusInvalidState")
	}
	wrapped := fmt.Errorf("context: %w", New(StatusConfALPNFailed, TLSSetupOperation, nil))
	if StatusOf(wrapped) != StatusConfALPNFailed {
		t.Fatal("expected StatusConfALPNFailed")
	}
}

func TestIsSoft(t *testing.T) {
	if IsSoft(nil) {
		t.Fatal("nil is not soft")
	}
	if !IsSoft(New(StatusCertPartlyOK, CAStoreOperation, nil)) {
		t.Fatal("expected soft")
	}
	if IsSoft(New(StatusX509CrtParseFailed, CAStoreOperation, nil)) {
		t.Fatal("expected hard")
	}
}

func TestErrno(t *testing.T) {
	err := New(StatusFailedConnectToHost, ConnectOperation,
		fmt.Errorf("connect: %w", syscall.ETIMEDOUT))
	if Errno(err) != int(syscall.ETIMEDOUT) {
		t.Fatal("unexpected errno", Errno(err))
	}
	if Errno(io.EOF) != 0 {
		t.Fatal("expected zero errno")
	}
}

func TestStatusString(t *testing.T) {
	for _, s := range AllStatuses() {
		if s < StatusBase {
			t.Fatal("status below base", int(s))
		}
		if s.String() == "" {
			t.Fatal("empty string for", int(s))
		}
	}
	if Status(0x9999).String() != "unknown_status_0x9999" {
		t.Fatal("unexpected string", Status(0x9999).String())
	}
}
