package protocol

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactIntRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 63, -64, 64, -65, 127, 128, 300, -300, 1 << 20, math.MaxInt32, math.MinInt32, math.MaxInt64, math.MinInt64}
	for _, v := range values {
		buf := AppendCompactInt(nil, v)
		assert.Equal(t, CompactLen(v), len(buf), "length of %d", v)
		assert.LessOrEqual(t, len(buf), maxCompactLen)

		got, err := ReadCompactInt(bytes.NewReader(buf))
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, got)
	}
}

func TestCompactIntSmallValuesTakeOneByte(t *testing.T) {
	for v := int64(-64); v < 64; v++ {
		assert.Len(t, AppendCompactInt(nil, v), 1, "value %d", v)
	}
	assert.Len(t, AppendCompactInt(nil, 64), 2)
	assert.Len(t, AppendCompactInt(nil, -65), 2)
}

func TestCompactIntTruncated(t *testing.T) {
	buf := AppendCompactInt(nil, math.MaxInt64)
	for n := 0; n < len(buf); n++ {
		_, err := ReadCompactInt(bytes.NewReader(buf[:n]))
		assert.ErrorIs(t, err, ErrFraming, "prefix of %d bytes", n)
	}
}

func TestCompactIntOverflow(t *testing.T) {
	buf := bytes.Repeat([]byte{0xff}, 9)
	buf = append(buf, 0x02)
	_, err := ReadCompactUint(bytes.NewReader(buf))
	assert.ErrorIs(t, err, ErrFraming)

	buf = bytes.Repeat([]byte{0x80}, 11)
	_, err = ReadCompactUint(bytes.NewReader(buf))
	assert.ErrorIs(t, err, ErrFraming)
}
