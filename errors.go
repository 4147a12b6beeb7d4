package mastersync

import (
	"errors"

	"github.com/huykn/mastersync/namedlock"
	"github.com/huykn/mastersync/protocol"
	"github.com/huykn/mastersync/session"
)

// ErrInvalidConfig is returned when the configuration is invalid.
var ErrInvalidConfig = session.ErrInvalidConfig

// ErrClosed is returned when operations are performed on a closed session.
var ErrClosed = session.ErrClosed

// ErrUnknownTable is returned for table ids the session's schema does not know.
var ErrUnknownTable = protocol.ErrUnknownTable

// ErrVersionMismatch is returned when a new connection negotiates a version
// other than the session's.
var ErrVersionMismatch = protocol.ErrVersionMismatch

// ErrLockTimeout matches every named lock timeout.
var ErrLockTimeout = namedlock.ErrTimeout

// IsProtocolError reports whether err is a protocol violation. Protocol errors
// point at client/server version skew and are never worth retrying.
func IsProtocolError(err error) bool {
	return protocol.IsProtocolError(err)
}

// IsRemoteError reports whether err is an error status sent by the master.
func IsRemoteError(err error) bool {
	var re *protocol.RemoteError
	return errors.As(err, &re)
}
