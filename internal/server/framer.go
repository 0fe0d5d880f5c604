package server

import (
	"encoding/binary"
	"fmt"

	"avl-gateway/internal/codec"
)

const (
	frameHeader  = 8 // preamble + data field length
	frameTrailer = 4 // crc

	handshakeHeader = 2
	maxHandshake    = 64
)

// framer splits a device byte stream into frames. Binary frames (zero
// preamble) and handshakes (0x00 then a non-zero length byte) are
// length-delimited and may span reads. Anything else is taken as one frame
// per read.
type framer struct {
	buf []byte
	max int
}

func newFramer(limit int) *framer {
	return &framer{max: limit}
}

func (f *framer) pending() int { return len(f.buf) }

// push appends chunk and returns the complete frames now available. On a
// declared length over max the buffered bytes are discarded.
func (f *framer) push(chunk []byte) ([][]byte, error) {
	f.buf = append(f.buf, chunk...)

	var frames [][]byte
	for len(f.buf) > 0 {
		if n, ok := handshakeLen(f.buf); ok {
			if len(f.buf) < n {
				break
			}
			frames = append(frames, f.take(n))
			continue
		}
		if !zeroPrefix(f.buf) {
			frames = append(frames, f.take(len(f.buf)))
			break
		}
		if len(f.buf) < frameHeader {
			break
		}
		total := frameHeader + int(binary.BigEndian.Uint32(f.buf[4:8])) + frameTrailer
		if f.max > 0 && total > f.max {
			n := len(f.buf)
			f.buf = nil
			return frames, fmt.Errorf("%w: declared frame of %d bytes exceeds %d, dropped %d buffered bytes",
				codec.ErrMalformedFrame, total, f.max, n)
		}
		if len(f.buf) < total {
			break
		}
		frames = append(frames, f.take(total))
	}
	return frames, nil
}

func (f *framer) take(n int) []byte {
	out := make([]byte, n)
	copy(out, f.buf[:n])
	f.buf = f.buf[n:]
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return out
}

// handshakeLen returns the total size of a handshake starting at b. Declared
// lengths over maxHandshake are not treated as handshakes.
func handshakeLen(b []byte) (int, bool) {
	if len(b) < handshakeHeader || b[0] != 0 || b[1] == 0 {
		return 0, false
	}
	declared := int(binary.BigEndian.Uint16(b[:handshakeHeader]))
	if declared > maxHandshake {
		return 0, false
	}
	return handshakeHeader + declared, true
}

// zeroPrefix reports whether b starts like a preamble: up to four zero bytes.
func zeroPrefix(b []byte) bool {
	for i := 0; i < len(b) && i < 4; i++ {
		if b[i] != 0 {
			return false
		}
	}
	return true
}
