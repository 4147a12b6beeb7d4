package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Limits constrains decode memory use.
type Limits struct {
	MaxStringBytes uint64
	MaxChunkBytes  uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxStringBytes: 1 << 20,
		MaxChunkBytes:  8 << 20,
	}
}

// Decoder reads wire values for one negotiated Version.
type Decoder struct {
	r       *bufio.Reader
	version Version
	limits  Limits
	scratch [8]byte
}

// NewDecoder returns a Decoder reading from r at version v.
func NewDecoder(r io.Reader, v Version, limits Limits) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Decoder{r: br, version: v, limits: limits}
}

// Reset discards buffered input and retargets d at r and version v.
func (d *Decoder) Reset(r io.Reader, v Version) {
	d.r.Reset(r)
	d.version = v
}

// Version returns the version every layout read through d is gated on.
func (d *Decoder) Version() Version {
	return d.version
}

// Limits returns the decode limits of d.
func (d *Decoder) Limits() Limits {
	return d.limits
}

// ReadByte returns the next byte. Unlike the value readers it passes io.EOF
// through unchanged, so callers can tell a closed stream from a torn record.
func (d *Decoder) ReadByte() (byte, error) {
	return d.r.ReadByte()
}

// More reports whether at least one more byte can be read.
func (d *Decoder) More() bool {
	_, err := d.r.Peek(1)
	return err == nil
}

func (d *Decoder) ReadBool() (bool, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return false, truncated(err, "bool")
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: invalid bool byte 0x%02x", ErrFraming, b)
	}
}

func (d *Decoder) ReadCompactInt() (int64, error) {
	return ReadCompactInt(d.r)
}

func (d *Decoder) ReadCompactUint() (uint64, error) {
	return ReadCompactUint(d.r)
}

func (d *Decoder) ReadInt32() (int32, error) {
	if _, err := io.ReadFull(d.r, d.scratch[:4]); err != nil {
		return 0, truncated(err, "int32")
	}
	return int32(binary.BigEndian.Uint32(d.scratch[:4])), nil
}

func (d *Decoder) ReadInt64() (int64, error) {
	if _, err := io.ReadFull(d.r, d.scratch[:8]); err != nil {
		return 0, truncated(err, "int64")
	}
	return int64(binary.BigEndian.Uint64(d.scratch[:8])), nil
}

// ReadBytes reads a compact length followed by that many bytes.
func (d *Decoder) ReadBytes() ([]byte, error) {
	n, err := d.ReadCompactUint()
	if err != nil {
		return nil, err
	}
	if n > d.limits.MaxStringBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrTooLarge, n, d.limits.MaxStringBytes)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, truncated(err, "bytes")
	}
	return buf, nil
}

func (d *Decoder) ReadString() (string, error) {
	buf, err := d.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// ReadNullString reads a presence flag and, when set, the string.
func (d *Decoder) ReadNullString() (*string, error) {
	present, err := d.ReadBool()
	if err != nil || !present {
		return nil, err
	}
	s, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ReadNullCompactInt reads a presence flag and, when set, the integer.
func (d *Decoder) ReadNullCompactInt() (*int64, error) {
	present, err := d.ReadBool()
	if err != nil || !present {
		return nil, err
	}
	v, err := d.ReadCompactInt()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ReadTime reads compact Unix milliseconds.
func (d *Decoder) ReadTime() (time.Time, error) {
	ms, err := d.ReadCompactInt()
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// ReadFull fills p from the stream.
func (d *Decoder) ReadFull(p []byte) error {
	if _, err := io.ReadFull(d.r, p); err != nil {
		return truncated(err, "payload")
	}
	return nil
}

func truncated(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated %s", ErrFraming, what)
	}
	return err
}
