package mastersync

import (
	"runtime"

	"github.com/huykn/mastersync/protocol"
)

// Version is the current version of the mastersync library.
const Version = "v0.4.0"

// VersionInfo provides version information.
type VersionInfo struct {
	Version   string
	GoVersion string

	// Protocol is the newest master protocol version spoken.
	Protocol string

	// Protocols lists every supported protocol version, oldest first.
	Protocols []string
}

// GetVersionInfo returns the current version information.
func GetVersionInfo() VersionInfo {
	vs := protocol.Versions()
	protocols := make([]string, len(vs))
	for i, v := range vs {
		protocols[i] = v.String()
	}
	return VersionInfo{
		Version:   Version,
		GoVersion: runtime.Version(),
		Protocol:  protocol.Current.String(),
		Protocols: protocols,
	}
}
