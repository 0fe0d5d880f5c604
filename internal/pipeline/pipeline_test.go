package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avl-gateway/internal/codec"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRecord() *codec.AVLRecord {
	return &codec.AVLRecord{
		DeviceID:  "356307042441013",
		Timestamp: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		RTP:       true,
		Priority:  1,
		GPS: codec.GPSData{
			Longitude:  25.3011875,
			Latitude:   54.6850123,
			Altitude:   120,
			Angle:      270,
			Satellites: 9,
			Speed:      64,
		},
		EventIOID: 239,
		IO: map[uint16]codec.IOItem{
			239: {Name: "ignition", Size: 1, Val: 1},
			219: {Name: "iccid_part_1", Size: 8, Val: 4051327829469704249},
			220: {Name: "iccid_part_2", Size: 8, Val: 3617572717105460786},
			221: {Name: "iccid_part_3", Size: 8, Val: 3617296498359795712},
			385: {Name: "beacon", Size: 3, Raw: codec.HexBytes{0x0A, 0x0B, 0x0C}, Variable: true},
		},
	}
}

func TestBuildTracking(t *testing.T) {
	tr := BuildTracking(sampleRecord())

	assert.Equal(t, "356307042441013", tr.IMEI)
	assert.Equal(t, "2024-03-01T08:00:00Z", tr.Datetime)
	assert.Equal(t, 54.6850123, tr.Lat)
	assert.Equal(t, 25.3011875, tr.Lon)
	assert.Equal(t, 64, tr.Spd)
	assert.Equal(t, 270, tr.Crs)
	assert.Equal(t, 9, tr.Sats)
	assert.Equal(t, 1, tr.MsgType)
	assert.Equal(t, 1, tr.Fix)
	assert.Equal(t, uint64(1), tr.PermIO["ignition"])
	assert.Equal(t, "0a0b0c", tr.ExtIO["beacon"])
	assert.NotContains(t, tr.PermIO, "beacon")
	assert.Equal(t, "8952020924380762238", tr.ICCID)
}

func TestBuildTrackingBuffered(t *testing.T) {
	rec := sampleRecord()
	rec.RTP = false
	rec.GPS.Satellites = 2
	delete(rec.IO, 221)

	tr := BuildTracking(rec)
	assert.Equal(t, 0, tr.MsgType)
	assert.Equal(t, 0, tr.Fix)
	assert.Empty(t, tr.ICCID)
}

func TestCalcFix(t *testing.T) {
	assert.Equal(t, 1, CalcFix(4, 19.4, -99.1))
	assert.Equal(t, 0, CalcFix(3, 19.4, -99.1))
	assert.Equal(t, 0, CalcFix(9, 0, 0))
	assert.Equal(t, 0, CalcFix(9, 91, 0))
	assert.Equal(t, 0, CalcFix(9, 10, 214.7))
}

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestProcessorFanOut(t *testing.T) {
	failing := &recordingSink{name: "failing", err: errors.New("boom")}
	ok := &recordingSink{name: "ok"}
	p := NewProcessor(8, discardLogger(), failing, ok)
	assert.Equal(t, []string{"failing", "ok"}, p.Sinks())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	require.True(t, p.DeviceConnected("356307042441013", "10.0.0.1:5000"))
	require.True(t, p.SubmitRecord(sampleRecord()))
	require.True(t, p.DeviceDisconnected("356307042441013"))

	require.Eventually(t, func() bool { return ok.count() == 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, failing.count())

	cancel()
	<-done

	ok.mu.Lock()
	defer ok.mu.Unlock()
	assert.Equal(t, EventConnect, ok.events[0].Kind)
	assert.Equal(t, "10.0.0.1:5000", ok.events[0].Remote)
	assert.Equal(t, EventTracking, ok.events[1].Kind)
	require.NotNil(t, ok.events[1].Tracking)
	assert.Equal(t, "356307042441013", ok.events[1].Tracking.IMEI)
	assert.Equal(t, EventDisconnect, ok.events[2].Kind)
}

func TestProcessorDropsWhenFull(t *testing.T) {
	s := &recordingSink{name: "slow"}
	p := NewProcessor(1, discardLogger(), s)

	assert.True(t, p.DeviceConnected("a", ""))
	assert.False(t, p.DeviceConnected("b", ""))
}

func TestProcessorFlushOnShutdown(t *testing.T) {
	s := &recordingSink{name: "s"}
	p := NewProcessor(4, discardLogger(), s)
	p.DeviceConnected("a", "")
	p.DeviceConnected("b", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))
	assert.Equal(t, 2, s.count())
}

func TestProcessorWithoutSinks(t *testing.T) {
	p := NewProcessor(1, discardLogger())
	assert.True(t, p.SubmitRecord(sampleRecord()))
	assert.True(t, p.SubmitRecord(sampleRecord()))
}
