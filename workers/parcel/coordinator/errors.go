package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed coordinator and as the
	// result of a cycle that finished after Close.
	ErrClosed = errors.New("coordinator closed")

	// ErrNotReady marks a setup that could not produce usable data yet. The
	// host should defer activation and retry.
	ErrNotReady = errors.New("integration not ready")
)

// SetupError is returned by FirstRefresh when the first cycle failed and no
// data was ever cached. It matches ErrNotReady and unwraps to the fetch error.
type SetupError struct {
	Entry string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup of entry %s failed: %v", e.Entry, e.Err)
}

func (e *SetupError) Unwrap() []error {
	return []error{ErrNotReady, e.Err}
}
