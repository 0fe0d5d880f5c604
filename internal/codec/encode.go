package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// EncodeCodec8E builds a Codec 8 Extended frame from records, the inverse of
// ParseCodec8E. Gateways never send AVL data; tests use it to build frames.
func EncodeCodec8E(records []AVLRecord) ([]byte, error) {
	if len(records) == 0 || len(records) > 255 {
		return nil, fmt.Errorf("record count %d out of range", len(records))
	}

	body := []byte{CodecID8E, byte(len(records))}
	for i := range records {
		var err error
		body, err = appendRecord(body, &records[i])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
	}
	body = append(body, byte(len(records)))

	out := make([]byte, 0, headerSize+len(body)+crcSize)
	out = binary.BigEndian.AppendUint32(out, 0)
	out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
	out = append(out, body...)
	out = binary.BigEndian.AppendUint32(out, uint32(Crc16IBM(body)))
	return out, nil
}

func appendRecord(b []byte, rec *AVLRecord) ([]byte, error) {
	b = binary.BigEndian.AppendUint64(b, uint64(rec.Timestamp.UnixMilli()))
	b = append(b, rec.Priority)
	b = binary.BigEndian.AppendUint32(b, encodeCoordinate(rec.GPS.Longitude))
	b = binary.BigEndian.AppendUint32(b, encodeCoordinate(rec.GPS.Latitude))
	b = binary.BigEndian.AppendUint16(b, rec.GPS.Altitude)
	b = binary.BigEndian.AppendUint16(b, rec.GPS.Angle)
	b = append(b, rec.GPS.Satellites)
	b = binary.BigEndian.AppendUint16(b, rec.GPS.Speed)
	b = binary.BigEndian.AppendUint16(b, rec.EventIOID)
	b = binary.BigEndian.AppendUint16(b, uint16(len(rec.IO)))

	ids := make([]int, 0, len(rec.IO))
	for id := range rec.IO {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	tiers := map[int][]uint16{}
	for _, id := range ids {
		item := rec.IO[uint16(id)]
		switch {
		case !item.Variable && (item.Size == 1 || item.Size == 2 || item.Size == 4 || item.Size == 8):
			tiers[item.Size] = append(tiers[item.Size], uint16(id))
		default:
			if item.Size > math.MaxUint16 || len(item.Raw) != item.Size {
				return nil, fmt.Errorf("io %d: bad variable size %d", id, item.Size)
			}
			tiers[0] = append(tiers[0], uint16(id))
		}
	}

	for _, width := range []int{1, 2, 4, 8} {
		b = binary.BigEndian.AppendUint16(b, uint16(len(tiers[width])))
		for _, id := range tiers[width] {
			b = binary.BigEndian.AppendUint16(b, id)
			v := rec.IO[id].Val
			for shift := (width - 1) * 8; shift >= 0; shift -= 8 {
				b = append(b, byte(v>>uint(shift)))
			}
		}
	}

	b = binary.BigEndian.AppendUint16(b, uint16(len(tiers[0])))
	for _, id := range tiers[0] {
		item := rec.IO[id]
		b = binary.BigEndian.AppendUint16(b, id)
		b = binary.BigEndian.AppendUint16(b, uint16(item.Size))
		b = append(b, item.Raw...)
	}
	return b, nil
}

func encodeCoordinate(deg float64) uint32 {
	return uint32(int32(math.Round(deg * 1e7)))
}
