package protocol

import (
	"bufio"
	"encoding/binary"
	"io"
	"time"
)

// Encoder writes wire values for one negotiated Version. Writes are buffered
// until Flush.
type Encoder struct {
	w       *bufio.Writer
	version Version
	scratch [maxCompactLen]byte
}

// NewEncoder returns an Encoder writing to w at version v.
func NewEncoder(w io.Writer, v Version) *Encoder {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}
	return &Encoder{w: bw, version: v}
}

// Reset discards buffered output and retargets e at w and version v.
func (e *Encoder) Reset(w io.Writer, v Version) {
	e.w.Reset(w)
	e.version = v
}

// Version returns the version every layout written through e is gated on.
func (e *Encoder) Version() Version {
	return e.version
}

func (e *Encoder) WriteByte(b byte) error {
	return e.w.WriteByte(b)
}

func (e *Encoder) WriteBool(b bool) error {
	if b {
		return e.w.WriteByte(1)
	}
	return e.w.WriteByte(0)
}

func (e *Encoder) WriteCompactInt(v int64) error {
	_, err := e.w.Write(AppendCompactInt(e.scratch[:0], v))
	return err
}

func (e *Encoder) WriteCompactUint(v uint64) error {
	_, err := e.w.Write(AppendCompactUint(e.scratch[:0], v))
	return err
}

func (e *Encoder) WriteInt32(v int32) error {
	binary.BigEndian.PutUint32(e.scratch[:4], uint32(v))
	_, err := e.w.Write(e.scratch[:4])
	return err
}

func (e *Encoder) WriteInt64(v int64) error {
	binary.BigEndian.PutUint64(e.scratch[:8], uint64(v))
	_, err := e.w.Write(e.scratch[:8])
	return err
}

// WriteBytes writes a compact length followed by b.
func (e *Encoder) WriteBytes(b []byte) error {
	if err := e.WriteCompactUint(uint64(len(b))); err != nil {
		return err
	}
	_, err := e.w.Write(b)
	return err
}

// WriteString writes a compact length followed by the UTF-8 bytes of s.
func (e *Encoder) WriteString(s string) error {
	if err := e.WriteCompactUint(uint64(len(s))); err != nil {
		return err
	}
	_, err := e.w.WriteString(s)
	return err
}

// WriteNullString writes a presence flag, then s when it is non-nil.
func (e *Encoder) WriteNullString(s *string) error {
	if err := e.WriteBool(s != nil); err != nil || s == nil {
		return err
	}
	return e.WriteString(*s)
}

// WriteNullCompactInt writes a presence flag, then v when it is non-nil.
func (e *Encoder) WriteNullCompactInt(v *int64) error {
	if err := e.WriteBool(v != nil); err != nil || v == nil {
		return err
	}
	return e.WriteCompactInt(*v)
}

// WriteTime writes t as compact Unix milliseconds.
func (e *Encoder) WriteTime(t time.Time) error {
	return e.WriteCompactInt(t.UnixMilli())
}

// Write copies p verbatim, for pre-encoded payloads.
func (e *Encoder) Write(p []byte) (int, error) {
	return e.w.Write(p)
}

// Flush pushes buffered bytes to the underlying writer.
func (e *Encoder) Flush() error {
	return e.w.Flush()
}
