package engine

import (
	"errors"
	"fmt"
)

// Common execution errors
var (
	ErrInvalidBinary    = errors.New("invalid module/component")
	ErrNoStartFunction  = errors.New("module does not have a WASI start function")
	ErrCommandRunFailed = errors.New("failed to run component targeting `wasi:cli/command` world")
)

// FunctionNotExportedError reports a requested function absent from a
// component's exports.
type FunctionNotExportedError struct {
	Function string
}

func (e FunctionNotExportedError) Error() string {
	return fmt.Sprintf("component does not have exported function %q", e.Function)
}

func WithDetails(err error, details string) error {
	return fmt.Errorf("%s: %w", details, err)
}

func IsInvalidBinary(err error) bool {
	return errors.Is(err, ErrInvalidBinary)
}
