package dispatch

import (
	"errors"
	"fmt"

	"github.com/huykn/mastersync/protocol"
)

var (
	ErrClosed        = errors.New("dispatch: closed")
	ErrInvalidConfig = errors.New("dispatch: invalid configuration")
)

// TransportError is an I/O failure on a connection. The request it interrupted
// is lost and the connection is discarded.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("dispatch: transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err came from a failed connection.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRemoteError reports whether err is an error status sent by the server.
func IsRemoteError(err error) bool {
	var re *protocol.RemoteError
	return errors.As(err, &re)
}

// classify leaves protocol failures as they are and wraps everything else as
// a transport failure of op.
func classify(op string, err error) error {
	if protocol.IsProtocolError(err) || errors.Is(err, protocol.ErrTooLarge) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
