package codec

import (
	"encoding/hex"
	"time"
)

const (
	CodecID8E uint8 = 0x8E
	CodecID12 uint8 = 0x0C

	TypeCommand     uint8 = 0x05
	TypeResponse    uint8 = 0x06
	TypeNotExecuted uint8 = 0x11
)

// RTPWindow is the widest device/server clock gap still treated as a live record.
const RTPWindow = 60 * time.Second

// Flag is a boolean that serializes as 1 or 0.
type Flag bool

func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func (f *Flag) UnmarshalJSON(b []byte) error {
	*f = string(b) == "1" || string(b) == "true"
	return nil
}

// HexBytes serializes as a hex string.
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return []byte(`"` + hex.EncodeToString(h) + `"`), nil
}

// IOItem is one decoded IO element. Val holds the big-endian value for
// elements up to 8 bytes wide; Raw always holds the wire bytes. Variable
// marks elements from the variable-length tier.
type IOItem struct {
	Name     string   `json:"name"`
	Size     int      `json:"size"`
	Val      uint64   `json:"val"`
	Raw      HexBytes `json:"raw"`
	Variable bool     `json:"variable,omitempty"`
}

func (i IOItem) Hex() string { return hex.EncodeToString(i.Raw) }

// Opaque reports whether the element is a byte string rather than a number.
func (i IOItem) Opaque() bool { return i.Variable || i.Size > 8 }

type GPSData struct {
	Longitude  float64 `json:"longitude"`
	Latitude   float64 `json:"latitude"`
	Altitude   uint16  `json:"altitude"`
	Angle      uint16  `json:"angle"`
	Satellites uint8   `json:"satellites"`
	Speed      uint16  `json:"speed"`
}

type AVLRecord struct {
	DeviceID      string            `json:"device_id"`
	Timestamp     time.Time         `json:"timestamp"`
	LocalTime     string            `json:"t"`
	ReceivedAt    time.Time         `json:"reception_timestamp"`
	ReceivedLocal string            `json:"reception_time"`
	RTP           Flag              `json:"rtp"`
	Priority      uint8             `json:"priority"`
	GPS           GPSData           `json:"gps"`
	EventIOID     uint16            `json:"event_io_id"`
	TotalIO       uint16            `json:"total_io"`
	IO            map[uint16]IOItem `json:"io"`
}

// Elements flattens the IO map into name -> value. Opaque elements are
// rendered as hex.
func (r *AVLRecord) Elements() map[string]any {
	out := make(map[string]any, len(r.IO))
	for _, item := range r.IO {
		if item.Opaque() {
			out[item.Name] = item.Hex()
			continue
		}
		out[item.Name] = item.Val
	}
	return out
}

// CommandReply is the text a device returned in a Codec 12 frame.
type CommandReply struct {
	DeviceID   string    `json:"device_id"`
	Type       uint8     `json:"type"`
	Text       string    `json:"response_data"`
	ReceivedAt time.Time `json:"received_at"`
	Seq        uint64    `json:"seq,omitempty"`
}

// AvlPacket is the frame-level view of a Codec 8 Extended packet.
type AvlPacket struct {
	Len     uint32      `json:"data_len"`
	CodecID uint8       `json:"codec_id"`
	Qty1    uint8       `json:"qty1"`
	Records []AVLRecord `json:"records"`
	Qty2    uint8       `json:"qty2"`
	CRC     uint32      `json:"crc"`
}
