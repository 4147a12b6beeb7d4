package dispatch

import (
	"bufio"
	"io"

	"github.com/huykn/mastersync/protocol"
)

// Conn is one negotiated connection. Its version is fixed by the handshake and
// gates every value written or read on it. A Conn carries one request at a time.
type Conn struct {
	id      uint64
	rw      io.ReadWriteCloser
	enc     *protocol.Encoder
	dec     *protocol.Decoder
	version protocol.Version
	broken  bool
}

// Handshake negotiates a protocol version on a fresh stream.
func Handshake(rw io.ReadWriteCloser, offered []protocol.Version, limits protocol.Limits) (*Conn, error) {
	bw := bufio.NewWriter(rw)
	br := bufio.NewReader(rw)

	if err := protocol.WriteHello(protocol.NewEncoder(bw, protocol.Version{}), offered); err != nil {
		return nil, classify("hello", err)
	}
	v, err := protocol.ReadHelloReply(protocol.NewDecoder(br, protocol.Version{}, limits), offered)
	if err != nil {
		return nil, classify("hello", err)
	}
	return &Conn{
		rw:      rw,
		enc:     protocol.NewEncoder(bw, v),
		dec:     protocol.NewDecoder(br, v, limits),
		version: v,
	}, nil
}

// Version returns the negotiated protocol version.
func (c *Conn) Version() protocol.Version {
	return c.version
}

// Broken reports whether the connection failed and must not be reused.
func (c *Conn) Broken() bool {
	return c.broken
}

func (c *Conn) Close() error {
	c.broken = true
	return c.rw.Close()
}
