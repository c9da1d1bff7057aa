// Package runtimex contains runtime extensions. This package is inspired to
// https://pkg.go.dev/github.com/m-lab/go/rtx, except that it's simpler.
package runtimex

import (
	"fmt"

	"github.com/ooni/esptls/internal/model"
)

// PanicOnError calls panic() if err is not nil.
func PanicOnError(err error, message string) {
	if err != nil {
		panic(fmt.Errorf("%s: %w", message, err))
	}
}

// Assert calls panic if assertion is false.
func Assert(assertion bool, message string) {
	if !assertion {
		panic(message)
	}
}

// Try0 panics if err is not nil.
func Try0(err error) {
	PanicOnError(err, "Try0")
}

// Try1 panics if err is not nil and otherwise returns v.
func Try1[T any](v T, err error) T {
	PanicOnError(err, "Try1")
	return v
}

// CatchLogAndIgnorePanic recovers from a panic, logs it as a warning
// and otherwise ignores it. Use it with defer in background goroutines.
func CatchLogAndIgnorePanic(logger model.Logger, prefix string) {
	if r := recover(); r != nil {
		logger.Warnf("%s: caught panic: %+v", prefix, r)
	}
}
