package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FrameKind is the result of classifying one inbound frame.
type FrameKind int

const (
	Unrecognized FrameKind = iota
	Handshake
	ControlRequest
	Codec8Extended
	Codec12Response
)

func (k FrameKind) String() string {
	switch k {
	case Handshake:
		return "handshake"
	case ControlRequest:
		return "control_request"
	case Codec8Extended:
		return "codec8e"
	case Codec12Response:
		return "codec12"
	default:
		return "unrecognized"
	}
}

// ControlSignature prefixes the HTTP-style command requests that share the device port.
var ControlSignature = []byte("POST /send-data?")

const imeiLen = 15

// Classify sniffs a frame once. Checks run in priority order: handshake,
// control request, Codec 8 Extended, Codec 12.
func Classify(frame []byte) FrameKind {
	switch {
	case looksLikeHandshake(frame):
		return Handshake
	case bytes.HasPrefix(frame, ControlSignature):
		return ControlRequest
	case hasZeroPreamble(frame) && len(frame) > 8 && frame[8] == CodecID8E:
		return Codec8Extended
	case hasZeroPreamble(frame) && len(frame) > 8 && frame[8] == CodecID12:
		return Codec12Response
	}
	return Unrecognized
}

func hasZeroPreamble(frame []byte) bool {
	return len(frame) >= 4 && binary.BigEndian.Uint32(frame) == 0
}

// A handshake is a 2-byte length followed by printable ASCII. Length and
// content are validated later by ParseHandshake.
func looksLikeHandshake(frame []byte) bool {
	if len(frame) < 3 || frame[0] != 0x00 || frame[1] == 0x00 {
		return false
	}
	for _, b := range frame[2:] {
		if b < 0x20 || b > 0x7E {
			return false
		}
	}
	return true
}

// ParseHandshake validates an IMEI frame: the declared length must equal the
// byte count and the text must be exactly 15 digits.
func ParseHandshake(frame []byte) (string, error) {
	if len(frame) < 2 {
		return "", fmt.Errorf("%w: frame too short", ErrHandshakeRejected)
	}
	declared := int(binary.BigEndian.Uint16(frame[:2]))
	if declared != len(frame)-2 {
		return "", fmt.Errorf("%w: declared length %d, got %d bytes", ErrHandshakeRejected, declared, len(frame)-2)
	}
	imei := string(frame[2:])
	if !ValidIMEI(imei) {
		return "", fmt.Errorf("%w: %q is not a 15 digit identifier", ErrHandshakeRejected, imei)
	}
	return imei, nil
}

// ValidIMEI reports whether s is exactly 15 ASCII digits.
func ValidIMEI(s string) bool {
	if len(s) != imeiLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// BuildHandshake encodes an identifier the way devices send it.
func BuildHandshake(imei string) []byte {
	out := binary.BigEndian.AppendUint16(nil, uint16(len(imei)))
	return append(out, imei...)
}

// BuildAck encodes the record-count acknowledgement for a Codec 8 Extended frame.
func BuildAck(records int) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(records))
}
