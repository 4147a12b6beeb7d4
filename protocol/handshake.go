package protocol

import (
	"fmt"
	"sort"
)

// Magic opens every client hello.
const Magic int32 = 0x4d53594e

// WriteHello offers versions to the server, newest first, and flushes.
func WriteHello(e *Encoder, offered []Version) error {
	sorted := make([]Version, len(offered))
	copy(sorted, offered)
	sort.Slice(sorted, func(i, j int) bool { return sorted[j].Less(sorted[i]) })

	if err := e.WriteInt32(Magic); err != nil {
		return err
	}
	if err := e.WriteCompactUint(uint64(len(sorted))); err != nil {
		return err
	}
	for _, v := range sorted {
		if err := e.WriteString(v.String()); err != nil {
			return err
		}
	}
	return e.Flush()
}

// ReadHello reads a client hello. Tokens the reader cannot parse are dropped;
// choosing among the rest is up to the server.
func ReadHello(d *Decoder) ([]Version, error) {
	magic, err := d.ReadInt32()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: bad hello magic 0x%08x", ErrFraming, uint32(magic))
	}
	n, err := d.ReadCompactUint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(versions))*4+16 {
		return nil, fmt.Errorf("%w: hello offers %d versions", ErrTooLarge, n)
	}
	offered := make([]Version, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		if v, err := ParseVersion(s); err == nil {
			offered = append(offered, v)
		}
	}
	return offered, nil
}

// Choose returns the newest version present in both lists.
func Choose(offered, supported []Version) (Version, bool) {
	var best Version
	found := false
	for _, o := range offered {
		for _, s := range supported {
			if o == s && (!found || best.Less(o)) {
				best, found = o, true
			}
		}
	}
	return best, found
}

// WriteHelloReply accepts the hello with version v and flushes.
func WriteHelloReply(e *Encoder, v Version) error {
	if err := WriteDone(e); err != nil {
		return err
	}
	if err := e.WriteString(v.String()); err != nil {
		return err
	}
	return e.Flush()
}

// WriteHelloReject refuses the hello and flushes.
func WriteHelloReject(e *Encoder, message string) error {
	if err := WriteError(e, CodeProtocol, message); err != nil {
		return err
	}
	return e.Flush()
}

// ReadHelloReply reads the server's choice. A version the client did not offer
// is a hard failure.
func ReadHelloReply(d *Decoder, offered []Version) (Version, error) {
	status, err := ReadStatus(d)
	if err != nil {
		return Version{}, err
	}
	switch status {
	case StatusDone:
	case StatusError:
		rerr, err := ReadRemoteError(d)
		if err != nil {
			return Version{}, err
		}
		return Version{}, fmt.Errorf("%w: server refused hello: %s", ErrUnsupportedVersion, rerr.Message)
	default:
		return Version{}, fmt.Errorf("%w: %s in hello reply", ErrUnexpectedStatus, status)
	}
	s, err := d.ReadString()
	if err != nil {
		return Version{}, err
	}
	v, err := ParseVersion(s)
	if err != nil {
		return Version{}, err
	}
	for _, o := range offered {
		if o == v {
			return v, nil
		}
	}
	return Version{}, fmt.Errorf("%w: server chose %s which was not offered", ErrUnsupportedVersion, v)
}
