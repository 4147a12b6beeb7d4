package dispatch

import (
	"fmt"

	"github.com/huykn/mastersync/logging"
	"github.com/huykn/mastersync/protocol"
)

// Options configures a Dispatcher and its connection pool.
type Options struct {
	// MaxConnections bounds the connections held open to the server. Callers
	// beyond that wait for a connection to be released.
	MaxConnections int

	// Versions offered during the handshake. Defaults to every supported version.
	Versions []protocol.Version

	// Limits bounds decoded strings and response chunks.
	Limits protocol.Limits

	Logger    logging.Logger
	DebugMode bool
}

// DefaultOptions returns the dispatcher defaults.
func DefaultOptions() Options {
	return Options{
		MaxConnections: 4,
		Versions:       protocol.Versions(),
		Limits:         protocol.DefaultLimits(),
		Logger:         logging.NewNoOpLogger(),
	}
}

// Validate checks the options and fills unset defaults.
func (o *Options) Validate() error {
	if o.MaxConnections <= 0 {
		return fmt.Errorf("%w: MaxConnections must be positive", ErrInvalidConfig)
	}
	if len(o.Versions) == 0 {
		o.Versions = protocol.Versions()
	}
	for _, v := range o.Versions {
		if !protocol.Supported(v) {
			return fmt.Errorf("%w: version %s is not supported", ErrInvalidConfig, v)
		}
	}
	if o.Limits == (protocol.Limits{}) {
		o.Limits = protocol.DefaultLimits()
	}
	o.Logger = logging.OrNoOp(o.Logger)
	return nil
}
