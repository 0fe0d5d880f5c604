package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"avl-gateway/internal/codec/fmxxx"
)

const (
	headerSize = 8 // preamble + data field length
	crcSize    = 4
)

// Decoder turns binary frames into records. Now and Location are injected so
// decoding stays a pure function of its input.
type Decoder struct {
	Now       func() time.Time
	Location  *time.Location
	VerifyCRC bool
}

func NewDecoder(verifyCRC bool) *Decoder {
	return &Decoder{Now: time.Now, Location: time.Local, VerifyCRC: verifyCRC}
}

func (d *Decoder) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// ParseCodec8E decodes one Codec 8 Extended frame. The record loop is bounded
// by the data field length: records must end exactly at the trailing count.
func (d *Decoder) ParseCodec8E(deviceID string, data []byte) (*AvlPacket, error) {
	if len(data) < headerSize+2 {
		return nil, fmt.Errorf("%w: packet too short: %d", ErrTruncatedFrame, len(data))
	}
	if binary.BigEndian.Uint32(data[0:4]) != 0 {
		return nil, fmt.Errorf("%w: invalid preamble (expected 0x00000000)", ErrMalformedFrame)
	}

	dataLen := binary.BigEndian.Uint32(data[4:8])
	if dataLen < 3 {
		return nil, fmt.Errorf("%w: data field length %d", ErrMalformedFrame, dataLen)
	}
	total := headerSize + int(dataLen) + crcSize
	if len(data) < total {
		return nil, fmt.Errorf("%w: declared %d bytes, have %d", ErrTruncatedFrame, total, len(data))
	}
	if data[8] != CodecID8E {
		return nil, fmt.Errorf("%w: codec 0x%02X is not 0x8E", ErrMalformedFrame, data[8])
	}

	end := headerSize + int(dataLen) - 1 // offset of the trailing record count
	pkt := &AvlPacket{
		Len:     dataLen,
		CodecID: data[8],
		Qty1:    data[9],
		Qty2:    data[end],
		CRC:     binary.BigEndian.Uint32(data[end+1 : end+1+crcSize]),
	}

	if d.VerifyCRC {
		if calc := Crc16IBM(data[headerSize : end+1]); uint32(calc) != pkt.CRC {
			return nil, fmt.Errorf("%w: crc %08X, calculated %08X", ErrMalformedFrame, pkt.CRC, calc)
		}
	}

	received := d.now()
	r := NewReader(data[headerSize+2 : end])
	for r.Len() > 0 {
		rec, err := d.decodeRecord(r, deviceID, received)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrMalformedFrame, len(pkt.Records)+1, err)
		}
		pkt.Records = append(pkt.Records, rec)
	}

	if len(pkt.Records) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrMalformedFrame)
	}
	if int(pkt.Qty1) != len(pkt.Records) || pkt.Qty2 != pkt.Qty1 {
		return nil, fmt.Errorf("%w: record count %d/%d, decoded %d", ErrMalformedFrame, pkt.Qty1, pkt.Qty2, len(pkt.Records))
	}
	return pkt, nil
}

func (d *Decoder) decodeRecord(r *Reader, deviceID string, received time.Time) (AVLRecord, error) {
	var err error
	u8 := func() uint8 {
		if err != nil {
			return 0
		}
		var v uint8
		v, err = r.Uint8()
		return v
	}
	u16 := func() uint16 {
		if err != nil {
			return 0
		}
		var v uint16
		v, err = r.Uint16()
		return v
	}
	u64 := func() uint64 {
		if err != nil {
			return 0
		}
		var v uint64
		v, err = r.Uint64()
		return v
	}
	coord := func() float64 {
		if err != nil {
			return 0
		}
		var v float64
		v, err = r.Coordinate()
		return v
	}
	raw := func(n int) []byte {
		if err != nil {
			return nil
		}
		var b []byte
		b, err = r.Bytes(n)
		return b
	}

	deviceTime := DecodeTimestamp(u64(), d.Location)
	rec := AVLRecord{
		DeviceID:  deviceID,
		Timestamp: deviceTime.UTC,
		LocalTime: deviceTime.Local,
		Priority:  u8(),
	}
	rec.GPS.Longitude = coord()
	rec.GPS.Latitude = coord()
	rec.GPS.Altitude = u16()
	rec.GPS.Angle = u16()
	rec.GPS.Satellites = u8()
	rec.GPS.Speed = u16()
	rec.EventIOID = u16()
	rec.TotalIO = u16()
	rec.IO = make(map[uint16]IOItem, rec.TotalIO)

	for _, width := range []int{1, 2, 4, 8} {
		n := u16()
		for i := 0; i < int(n) && err == nil; i++ {
			id := u16()
			if b := raw(width); err == nil {
				rec.IO[id] = newIOItem(id, b)
			}
		}
	}

	// variable-width tier, Codec 8 Extended only
	nx := u16()
	for i := 0; i < int(nx) && err == nil; i++ {
		id := u16()
		size := u16()
		if b := raw(int(size)); err == nil {
			item := newIOItem(id, b)
			item.Variable = true
			rec.IO[id] = item
		}
	}
	if err != nil {
		return AVLRecord{}, err
	}

	reception := NewTimestamp(received, d.Location)
	rec.ReceivedAt = reception.UTC
	rec.ReceivedLocal = reception.Local
	rec.RTP = Flag(withinRTP(rec.Timestamp, rec.ReceivedAt))
	return rec, nil
}

func withinRTP(device, received time.Time) bool {
	diff := received.Sub(device)
	if diff < 0 {
		diff = -diff
	}
	return diff <= RTPWindow
}

func newIOItem(id uint16, b []byte) IOItem {
	item := IOItem{Name: fmxxx.Name(id), Size: len(b), Raw: bytes.Clone(b)}
	if len(b) <= 8 {
		for _, v := range b {
			item.Val = item.Val<<8 | uint64(v)
		}
	}
	return item
}
