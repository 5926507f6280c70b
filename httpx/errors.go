package httpx

import (
	"errors"
	"fmt"

	"dqx0.com/go/wsgate/httpx/internal/http1"
)

var (
	ErrBadRequest     = errors.New("httpx: bad request")
	ErrHeaderTooLarge = errors.New("httpx: header too large")
	ErrBodyTooLarge   = errors.New("httpx: body too large")
	ErrServerClosed   = errors.New("httpx: server closed")
	ErrChannelClosed  = errors.New("httpx: channel closed")
)

// FramingError reports a request that violated HTTP/1.x framing rules or a
// configured size limit. Kind is one of ErrBadRequest, ErrHeaderTooLarge or
// ErrBodyTooLarge.
type FramingError struct {
	Kind error
	Err  error
}

func (e *FramingError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *FramingError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsFramingError reports whether err is, or wraps, a *FramingError.
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

// asFramingError converts codec errors to a *FramingError and returns nil
// for anything that is not a framing problem (EOF, resets, timeouts).
func asFramingError(err error) error {
	switch {
	case err == nil:
		return nil
	case IsFramingError(err):
		return err
	case errors.Is(err, http1.ErrLineTooLong), errors.Is(err, http1.ErrHeaderTooLarge):
		return &FramingError{Kind: ErrHeaderTooLarge, Err: err}
	case errors.Is(err, http1.ErrMalformed):
		return &FramingError{Kind: ErrBadRequest, Err: err}
	default:
		return nil
	}
}
