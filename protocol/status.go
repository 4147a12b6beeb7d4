package protocol

import (
	"fmt"
)

// Status tags each chunk of a response.
type Status byte

const (
	// StatusNext is followed by a compact length and that many payload bytes.
	StatusNext Status = 1
	// StatusDone terminates a response successfully.
	StatusDone Status = 2
	// StatusError terminates a response with a compact code and a message.
	StatusError Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusNext:
		return "next"
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(0x%02x)", byte(s))
	}
}

// WriteChunk writes one StatusNext chunk carrying payload.
func WriteChunk(e *Encoder, payload []byte) error {
	if err := e.WriteByte(byte(StatusNext)); err != nil {
		return err
	}
	return e.WriteBytes(payload)
}

// WriteDone terminates a response successfully.
func WriteDone(e *Encoder) error {
	return e.WriteByte(byte(StatusDone))
}

// WriteError terminates a response with a remote error.
func WriteError(e *Encoder, code int64, message string) error {
	if err := e.WriteByte(byte(StatusError)); err != nil {
		return err
	}
	if err := e.WriteCompactInt(code); err != nil {
		return err
	}
	return e.WriteString(message)
}

// ReadStatus reads the next status byte. A closed stream is returned as the
// underlying read error; an unknown byte is ErrUnexpectedStatus.
func ReadStatus(d *Decoder) (Status, error) {
	b, err := d.ReadByte()
	if err != nil {
		return 0, err
	}
	s := Status(b)
	switch s {
	case StatusNext, StatusDone, StatusError:
		return s, nil
	}
	return 0, fmt.Errorf("%w: 0x%02x", ErrUnexpectedStatus, b)
}

// ReadChunkInto reads the payload of a StatusNext chunk, reusing buf.
func ReadChunkInto(d *Decoder, buf []byte) ([]byte, error) {
	n, err := d.ReadCompactUint()
	if err != nil {
		return nil, err
	}
	if n > d.limits.MaxChunkBytes {
		return nil, fmt.Errorf("%w: chunk of %d bytes exceeds limit %d", ErrTooLarge, n, d.limits.MaxChunkBytes)
	}
	if uint64(cap(buf)) < n {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if err := d.ReadFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadRemoteError reads the body of a StatusError response.
func ReadRemoteError(d *Decoder) (*RemoteError, error) {
	code, err := d.ReadCompactInt()
	if err != nil {
		return nil, err
	}
	msg, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	return &RemoteError{Code: code, Message: msg}, nil
}
