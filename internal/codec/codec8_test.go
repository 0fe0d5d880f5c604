package codec

import (
	"encoding/binary"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleAVL = "000000000000004A8E010000016B412CEE000100000000000000000000000000000000010005000100010100010011001D00010010015E2C880002000B000000003544C87A000E000000001DD7E06A00000100002994"

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func fixedDecoder(now time.Time) *Decoder {
	return &Decoder{
		Now:       func() time.Time { return now },
		Location:  time.UTC,
		VerifyCRC: true,
	}
}

func TestParseCodec8ESample(t *testing.T) {
	devTime := time.Date(2019, 6, 10, 11, 36, 32, 0, time.UTC)
	d := fixedDecoder(devTime)

	pkt, err := d.ParseCodec8E("356307042441013", mustHex(t, sampleAVL))
	require.NoError(t, err)

	assert.Equal(t, uint32(0x4A), pkt.Len)
	assert.Equal(t, CodecID8E, pkt.CodecID)
	assert.Equal(t, uint8(1), pkt.Qty1)
	assert.Equal(t, uint8(1), pkt.Qty2)
	assert.Equal(t, uint32(0x2994), pkt.CRC)
	require.Len(t, pkt.Records, 1)

	rec := pkt.Records[0]
	assert.Equal(t, "356307042441013", rec.DeviceID)
	assert.Equal(t, devTime, rec.Timestamp)
	assert.Equal(t, "11:36:32 10-06-2019", rec.LocalTime)
	assert.Equal(t, uint8(1), rec.Priority)
	assert.Equal(t, GPSData{}, rec.GPS)
	assert.Equal(t, uint16(1), rec.EventIOID)
	assert.Equal(t, uint16(5), rec.TotalIO)
	assert.True(t, bool(rec.RTP))

	want := map[uint16]struct {
		size int
		val  uint64
	}{
		1:  {1, 1},
		17: {2, 29},
		16: {4, 22949000},
		11: {8, 893700218},
		14: {8, 500686954},
	}
	require.Len(t, rec.IO, len(want))
	for id, w := range want {
		item, ok := rec.IO[id]
		require.True(t, ok, "io %d", id)
		assert.Equal(t, w.size, item.Size, "io %d", id)
		assert.Equal(t, w.val, item.Val, "io %d", id)
		assert.Len(t, item.Raw, w.size)
	}
	assert.Equal(t, "digital_input_1", rec.IO[1].Name)
}

func TestParseCodec8ERTPWindow(t *testing.T) {
	devTime := time.Date(2019, 6, 10, 11, 36, 32, 0, time.UTC)
	frame := mustHex(t, sampleAVL)

	pkt, err := fixedDecoder(devTime.Add(RTPWindow)).ParseCodec8E("x", frame)
	require.NoError(t, err)
	assert.True(t, bool(pkt.Records[0].RTP))

	pkt, err = fixedDecoder(devTime.Add(120 * time.Second)).ParseCodec8E("x", frame)
	require.NoError(t, err)
	assert.False(t, bool(pkt.Records[0].RTP))
	assert.Equal(t, devTime.Add(120*time.Second), pkt.Records[0].ReceivedAt)

	// a device clock ahead of the server counts the same way
	pkt, err = fixedDecoder(devTime.Add(-120 * time.Second)).ParseCodec8E("x", frame)
	require.NoError(t, err)
	assert.False(t, bool(pkt.Records[0].RTP))
}

func TestParseCodec8ECRCMismatch(t *testing.T) {
	frame := mustHex(t, sampleAVL)
	frame[len(frame)-1] ^= 0xFF

	_, err := fixedDecoder(time.Now()).ParseCodec8E("x", frame)
	assert.ErrorIs(t, err, ErrMalformedFrame)

	d := fixedDecoder(time.Now())
	d.VerifyCRC = false
	_, err = d.ParseCodec8E("x", frame)
	assert.NoError(t, err)
}

func TestParseCodec8ECountMismatch(t *testing.T) {
	frame := mustHex(t, sampleAVL)
	frame[len(frame)-5] = 2 // N2

	d := fixedDecoder(time.Now())
	d.VerifyCRC = false
	_, err := d.ParseCodec8E("x", frame)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestParseCodec8ETruncated(t *testing.T) {
	frame := mustHex(t, sampleAVL)
	d := fixedDecoder(time.Now())

	for _, n := range []int{0, 4, 9, 20, len(frame) - 1} {
		_, err := d.ParseCodec8E("x", frame[:n])
		assert.ErrorIs(t, err, ErrTruncatedFrame, "len %d", n)
	}
}

func TestParseCodec8EBadHeader(t *testing.T) {
	d := fixedDecoder(time.Now())

	frame := mustHex(t, sampleAVL)
	frame[0] = 1
	_, err := d.ParseCodec8E("x", frame)
	assert.ErrorIs(t, err, ErrMalformedFrame)

	frame = mustHex(t, sampleAVL)
	frame[8] = 0x08
	_, err = d.ParseCodec8E("x", frame)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

// A declared IO count that runs past the record area must fail instead of
// reading into the trailing count or CRC.
func TestParseCodec8EOverrun(t *testing.T) {
	frame := mustHex(t, sampleAVL)
	// 8-byte tier count lives after the 4-byte tier: bump it from 2 to 3
	off := 10 + 8 + 1 + 15 + 2 + 2 + 2 + 3 + 2 + 4 + 2 + 6
	require.Equal(t, uint16(2), binary.BigEndian.Uint16(frame[off:]))
	binary.BigEndian.PutUint16(frame[off:], 3)

	d := fixedDecoder(time.Now())
	d.VerifyCRC = false
	_, err := d.ParseCodec8E("x", frame)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func sampleRecords(now time.Time) []AVLRecord {
	ts := now.Truncate(time.Millisecond).UTC()
	return []AVLRecord{
		{
			Timestamp: ts,
			Priority:  1,
			GPS: GPSData{
				Longitude:  25.3011875,
				Latitude:   -54.6850123,
				Altitude:   120,
				Angle:      270,
				Satellites: 9,
				Speed:      64,
			},
			EventIOID: 239,
			IO: map[uint16]IOItem{
				239:  {Size: 1, Val: 1},
				66:   {Size: 2, Val: 12850},
				16:   {Size: 4, Val: 123456},
				11:   {Size: 8, Val: 893700218},
				9999: {Size: 2, Val: 7},
				385:  {Size: 10, Raw: HexBytes{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
			},
		},
		{
			Timestamp: ts.Add(-30 * time.Second),
			GPS:       GPSData{Longitude: -0.0000001, Latitude: 214.7483647},
			IO:        map[uint16]IOItem{},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	in := sampleRecords(now)

	frame, err := EncodeCodec8E(in)
	require.NoError(t, err)
	assert.Equal(t, Codec8Extended, Classify(frame))

	pkt, err := fixedDecoder(now).ParseCodec8E("352093081429150", frame)
	require.NoError(t, err)
	require.Len(t, pkt.Records, len(in))
	assert.Equal(t, uint8(2), pkt.Qty1)

	for i, rec := range pkt.Records {
		assert.Equal(t, in[i].Timestamp, rec.Timestamp)
		assert.Equal(t, in[i].Priority, rec.Priority)
		assert.InDelta(t, in[i].GPS.Longitude, rec.GPS.Longitude, 1e-9)
		assert.InDelta(t, in[i].GPS.Latitude, rec.GPS.Latitude, 1e-9)
		assert.Equal(t, in[i].GPS.Speed, rec.GPS.Speed)
		assert.Equal(t, in[i].EventIOID, rec.EventIOID)
		assert.Equal(t, uint16(len(in[i].IO)), rec.TotalIO)
		require.Len(t, rec.IO, len(in[i].IO))
		for id, want := range in[i].IO {
			got := rec.IO[id]
			assert.Equal(t, want.Size, got.Size, "io %d", id)
			if want.Size <= 8 {
				assert.Equal(t, want.Val, got.Val, "io %d", id)
			} else {
				assert.Equal(t, want.Raw, got.Raw, "io %d", id)
			}
		}
	}

	assert.True(t, bool(pkt.Records[0].RTP))
	assert.True(t, bool(pkt.Records[1].RTP))
	assert.Equal(t, "9999", pkt.Records[0].IO[9999].Name)
	assert.Equal(t, "ignition", pkt.Records[0].IO[239].Name)
}

func TestEncodeIdempotent(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	first, err := EncodeCodec8E(sampleRecords(now))
	require.NoError(t, err)

	pkt, err := fixedDecoder(now).ParseCodec8E("x", first)
	require.NoError(t, err)
	second, err := EncodeCodec8E(pkt.Records)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEncodeRejects(t *testing.T) {
	_, err := EncodeCodec8E(nil)
	assert.Error(t, err)

	_, err = EncodeCodec8E([]AVLRecord{{IO: map[uint16]IOItem{1: {Size: 3, Raw: HexBytes{1}}}}})
	assert.Error(t, err)
}

func TestElements(t *testing.T) {
	rec := AVLRecord{IO: map[uint16]IOItem{
		239: {Name: "ignition", Size: 1, Val: 1},
		385: {Name: "beacon_ids", Size: 10, Raw: HexBytes{0xAB, 0xCD, 0, 0, 0, 0, 0, 0, 0, 1}},
	}}
	el := rec.Elements()
	assert.Equal(t, uint64(1), el["ignition"])
	assert.Equal(t, "abcd0000000000000001", el["beacon_ids"])
}

func TestVariableTierKeptOpaque(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	in := []AVLRecord{{
		Timestamp: now,
		IO: map[uint16]IOItem{
			239: {Size: 1, Val: 1},
			385: {Size: 2, Raw: HexBytes{0x0A, 0x0B}, Variable: true},
		},
	}}
	frame, err := EncodeCodec8E(in)
	require.NoError(t, err)

	pkt, err := fixedDecoder(now).ParseCodec8E("x", frame)
	require.NoError(t, err)
	rec := pkt.Records[0]
	assert.True(t, rec.IO[385].Variable)
	assert.True(t, rec.IO[385].Opaque())
	assert.False(t, rec.IO[239].Variable)
	assert.Equal(t, "0a0b", rec.Elements()[rec.IO[385].Name])
	assert.Equal(t, uint64(1), rec.Elements()["ignition"])

	again, err := EncodeCodec8E(pkt.Records)
	require.NoError(t, err)
	assert.Equal(t, frame, again)
}
