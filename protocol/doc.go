// Package protocol implements the wire format spoken with the master server:
// compact integers, nullable fields, version-gated record layouts, the
// NEXT/DONE/ERROR response framing, command ids and the version handshake.
//
// Every Encoder and Decoder is bound to the version negotiated for its
// connection. Record types describe themselves once as a Layout, which is
// walked in the same order for reading and writing.
package protocol
