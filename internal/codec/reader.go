package codec

import (
	"encoding/binary"
	"fmt"
	"time"
)

// LocalLayout is the rendering used for the local-time fields of a record.
const LocalLayout = "15:04:05 02-01-2006"

// Reader is a forward-only big-endian cursor over a frame. Reads return
// sub-slices of the underlying buffer and never allocate.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Pos() int { return r.pos }

// Len reports the unread byte count.
func (r *Reader) Len() int { return len(r.buf) - r.pos }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d (len=%d)", ErrTruncatedFrame, n, r.pos, len(r.buf))
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) Uint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) Uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) Uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Uint reads an unsigned integer of 1, 2, 4 or 8 bytes.
func (r *Reader) Uint(width int) (uint64, error) {
	switch width {
	case 1:
		v, err := r.Uint8()
		return uint64(v), err
	case 2:
		v, err := r.Uint16()
		return uint64(v), err
	case 4:
		v, err := r.Uint32()
		return uint64(v), err
	case 8:
		return r.Uint64()
	}
	return 0, fmt.Errorf("unsupported field width %d", width)
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) ([]byte, error) {
	return r.take(n)
}

// Coordinate reads a 4-byte coordinate field in decimal degrees.
func (r *Reader) Coordinate() (float64, error) {
	v, err := r.Uint32()
	if err != nil {
		return 0, err
	}
	return DecodeCoordinate(v), nil
}

// DecodeCoordinate interprets v as a two's-complement value in units of 1e-7 degrees.
func DecodeCoordinate(v uint32) float64 {
	if v&(1<<31) != 0 {
		return float64(int32(v)) / 1e7
	}
	return float64(v) / 1e7
}

// Timestamp carries an instant together with its local rendering.
type Timestamp struct {
	UTC   time.Time
	Local string
}

func NewTimestamp(t time.Time, loc *time.Location) Timestamp {
	if loc == nil {
		loc = time.Local
	}
	return Timestamp{UTC: t.UTC(), Local: t.In(loc).Format(LocalLayout)}
}

// DecodeTimestamp converts milliseconds since the Unix epoch.
func DecodeTimestamp(ms uint64, loc *time.Location) Timestamp {
	return NewTimestamp(time.UnixMilli(int64(ms)), loc)
}
