package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPath is returned for routing paths that are empty or do not
	// start with '/'.
	ErrInvalidPath = errors.New("dispatch: invalid routing path")
	// ErrNilEngine is returned when New is called without an engine.
	ErrNilEngine = errors.New("dispatch: nil engine")
	// ErrNilInvoker is returned when an engine reports success without
	// building an invoker.
	ErrNilInvoker = errors.New("dispatch: engine returned no invoker")
	// ErrNoAddress is returned when the engine cannot resolve the address
	// of the port serving a request.
	ErrNoAddress = errors.New("dispatch: no address available for port")
)

// RegistrationError reports an endpoint that could not be registered.
type RegistrationError struct {
	Path string
	Err  error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("dispatch: register %q: %v", e.Path, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }
