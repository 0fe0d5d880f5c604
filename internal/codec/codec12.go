package codec

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// BuildCodec12 arma un comando Codec 12 (Type=0x05) con el texto ASCII cmd (p.ej. "getinfo").
// Frame = 00000000 | dataSize(4B) | payload | crc(4B)
// payload = 0x0C | 0x01 | 0x05 | cmdLen(4B) | cmd | 0x01
func BuildCodec12(cmd string) []byte {
	cmdBytes := []byte(cmd)
	payload := []byte{CodecID12, 0x01, TypeCommand}
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(cmdBytes)))
	payload = append(payload, cmdBytes...)
	payload = append(payload, 0x01)

	out := make([]byte, 0, headerSize+len(payload)+crcSize)
	out = append(out, 0, 0, 0, 0)                                       // preamble
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))      // data size
	out = append(out, payload...)                                       // payload
	out = binary.BigEndian.AppendUint32(out, uint32(Crc16IBM(payload))) // CRC en 4B (alto=0,0)
	return out
}

const (
	c12TypeOffset    = 10
	c12RespLenOffset = 11
	c12TextOffset    = 15
)

// ParseCodec12Response decodes a Codec 12 reply frame. Invalid UTF-8 in the
// text is replaced rather than failing the frame.
func (d *Decoder) ParseCodec12Response(deviceID string, frame []byte) (*CommandReply, error) {
	if len(frame) < c12TextOffset {
		return nil, fmt.Errorf("%w: frame too short: %d", ErrTruncatedFrame, len(frame))
	}
	if frame[8] != CodecID12 {
		return nil, fmt.Errorf("%w: codec 0x%02X is not 0x0C", ErrMalformedFrame, frame[8])
	}

	msgType := frame[c12TypeOffset]
	if msgType == TypeCommand {
		return nil, fmt.Errorf("%w: command frame (type 0x05) received from device", ErrMalformedFrame)
	}

	respLen := int(binary.BigEndian.Uint32(frame[c12RespLenOffset:c12TextOffset]))
	if respLen > len(frame)-c12TextOffset {
		return nil, fmt.Errorf("%w: response size %d exceeds %d remaining bytes", ErrMalformedFrame, respLen, len(frame)-c12TextOffset)
	}

	if d.VerifyCRC {
		if err := verifyCodec12CRC(frame); err != nil {
			return nil, err
		}
	}

	text, err := unicode.UTF8.NewDecoder().Bytes(frame[c12TextOffset : c12TextOffset+respLen])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	return &CommandReply{
		DeviceID:   deviceID,
		Type:       msgType,
		Text:       string(text),
		ReceivedAt: d.now().UTC(),
	}, nil
}

func verifyCodec12CRC(frame []byte) error {
	dataLen := int(binary.BigEndian.Uint32(frame[4:8]))
	if headerSize+dataLen+crcSize > len(frame) {
		return fmt.Errorf("%w: declared %d bytes, have %d", ErrTruncatedFrame, headerSize+dataLen+crcSize, len(frame))
	}
	want := binary.BigEndian.Uint32(frame[headerSize+dataLen:])
	if calc := Crc16IBM(frame[headerSize : headerSize+dataLen]); uint32(calc) != want {
		return fmt.Errorf("%w: crc %08X, calculated %08X", ErrMalformedFrame, want, calc)
	}
	return nil
}
