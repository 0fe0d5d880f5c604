package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderWidths(t *testing.T) {
	r := NewReader([]byte{0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 0x03, 0, 0, 0, 0, 0, 0, 0, 0x04})

	for i, width := range []int{1, 2, 4, 8} {
		v, err := r.Uint(width)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), v)
	}
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 15, r.Pos())

	_, err := r.Uint8()
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestReaderTruncated(t *testing.T) {
	r := NewReader([]byte{0x00, 0x01, 0x02})
	_, err := r.Uint32()
	assert.ErrorIs(t, err, ErrTruncatedFrame)
	// a failed read does not move the cursor
	assert.Equal(t, 0, r.Pos())

	v, err := r.Uint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), v)

	_, err = r.Uint(3)
	assert.Error(t, err)
}

func TestReaderBytesShareBuffer(t *testing.T) {
	buf := []byte{0xAA, 0xBB, 0xCC}
	r := NewReader(buf)
	b, err := r.Bytes(2)
	require.NoError(t, err)
	buf[0] = 0x11
	assert.Equal(t, byte(0x11), b[0])
}

func TestDecodeCoordinate(t *testing.T) {
	assert.Equal(t, 0.0, DecodeCoordinate(0x00000000))
	assert.InDelta(t, 214.7483647, DecodeCoordinate(0x7FFFFFFF), 1e-9)
	assert.InDelta(t, -0.0000001, DecodeCoordinate(0xFFFFFFFF), 1e-12)
	assert.InDelta(t, 25.3011875, DecodeCoordinate(0x0F14A7A3), 1e-9)

	r := NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	v, err := r.Coordinate()
	require.NoError(t, err)
	assert.Less(t, v, 0.0)
}

func TestDecodeTimestamp(t *testing.T) {
	loc := time.FixedZone("GST", 4*3600)
	ts := DecodeTimestamp(1560166592000, loc)

	assert.Equal(t, time.Date(2019, 6, 10, 11, 36, 32, 0, time.UTC), ts.UTC)
	assert.Equal(t, time.UTC, ts.UTC.Location())
	assert.Equal(t, "15:36:32 10-06-2019", ts.Local)
}
