package protocol

import (
	"errors"
	"fmt"
	"io"
)

// Compact integers are zigzag mapped and written base-128, low group first,
// with the high bit of each byte marking continuation. Magnitudes below 64
// take one byte; any int64 takes at most ten.
const maxCompactLen = 10

// AppendCompactInt appends the compact encoding of v to buf.
func AppendCompactInt(buf []byte, v int64) []byte {
	return AppendCompactUint(buf, zigzag(v))
}

// AppendCompactUint appends the compact encoding of an unsigned v to buf.
func AppendCompactUint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// CompactLen returns the number of bytes AppendCompactInt writes for v.
func CompactLen(v int64) int {
	u := zigzag(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// ReadCompactUint reads one compact unsigned integer. A stream that ends before
// the final byte, or an encoding longer than ten bytes, yields ErrFraming.
func ReadCompactUint(r io.ByteReader) (uint64, error) {
	var v uint64
	var shift uint
	for i := 0; i < maxCompactLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, fmt.Errorf("%w: truncated compact integer", ErrFraming)
			}
			return 0, err
		}
		if i == maxCompactLen-1 && b > 1 {
			return 0, fmt.Errorf("%w: compact integer overflows 64 bits", ErrFraming)
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
	}
	return 0, fmt.Errorf("%w: compact integer too long", ErrFraming)
}

// ReadCompactInt reads one compact signed integer.
func ReadCompactInt(r io.ByteReader) (int64, error) {
	u, err := ReadCompactUint(r)
	if err != nil {
		return 0, err
	}
	return unzigzag(u), nil
}

func zigzag(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

func unzigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}
