//go:build esptls_utls

package esptls

import (
	"github.com/ooni/esptls/internal/backend"
	"github.com/ooni/esptls/internal/backend/utlsx"
)

func newDefaultBackend() backend.Backend {
	return utlsx.New()
}
