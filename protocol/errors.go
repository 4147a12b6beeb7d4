package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrFraming            = errors.New("protocol: framing error")
	ErrTooLarge           = errors.New("protocol: value too large")
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
	ErrVersionMismatch    = errors.New("protocol: version mismatch")
	ErrUnexpectedStatus   = errors.New("protocol: unexpected status byte")
	ErrUnknownTable       = errors.New("protocol: unknown table id")
	ErrUnknownCommand     = errors.New("protocol: unknown command id")
	ErrInvalidLayout      = errors.New("protocol: invalid layout")
)

// IsProtocolError reports whether err indicates client/server version skew or a
// desynchronized stream. Such errors are never retried and the connection that
// produced them must not be reused.
func IsProtocolError(err error) bool {
	switch {
	case errors.Is(err, ErrFraming),
		errors.Is(err, ErrUnsupportedVersion),
		errors.Is(err, ErrVersionMismatch),
		errors.Is(err, ErrUnexpectedStatus),
		errors.Is(err, ErrUnknownTable),
		errors.Is(err, ErrUnknownCommand):
		return true
	}
	return false
}

// Error codes carried by a StatusError response.
const (
	CodeInternal   int64 = 1
	CodeNotAllowed int64 = 2
	CodeValidation int64 = 3
	CodeNotFound   int64 = 4
	CodeProtocol   int64 = 5
)

// RemoteError is a failure reported by the server with a StatusError response.
type RemoteError struct {
	Code    int64
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// ValidationError reports a malformed domain value found while decoding.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("protocol: invalid value for %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
