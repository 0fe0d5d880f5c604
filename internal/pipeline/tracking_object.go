package pipeline

import (
	"encoding/binary"
	"strings"
	"time"

	"avl-gateway/internal/codec"
	"avl-gateway/internal/codec/fmxxx"
)

type TrackingObject struct {
	IMEI     string `json:"imei"`
	Model    string `json:"model,omitempty"`
	FWVer    string `json:"fw_ver,omitempty"`
	ICCID    string `json:"iccid,omitempty"`
	Datetime string `json:"dt"`

	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Alt  int     `json:"alt"`
	Spd  int     `json:"spd"`
	Crs  int     `json:"crs"`
	Sats int     `json:"sats"`

	Priority int               `json:"priority"`
	EventID  int               `json:"event_id"`
	PermIO   map[string]uint64 `json:"perm_io"`
	ExtIO    map[string]string `json:"ext_io,omitempty"`

	MsgType int `json:"msg_type"` // 1=live, 0=buffer
	Fix     int `json:"fix"`      // 1 si sats>3 y coords válidas
}

func coordsValid(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}
	return true
}

func CalcFix(sats int, lat, lon float64) int {
	if sats > 3 && coordsValid(lat, lon) {
		return 1
	}
	return 0
}

// DecideMsgType marks records inside the real-time window as live.
func DecideMsgType(rtp bool) int {
	if rtp {
		return 1
	}
	return 0
}

// BuildTracking flattens a decoded record into the downstream tracking shape.
// Numeric IO elements go to PermIO by name, opaque ones (variable tier or
// wider than 8 bytes) to ExtIO as hex.
func BuildTracking(rec *codec.AVLRecord) *TrackingObject {
	tr := &TrackingObject{
		IMEI:     rec.DeviceID,
		Datetime: rec.Timestamp.UTC().Format(time.RFC3339),
		Lat:      rec.GPS.Latitude,
		Lon:      rec.GPS.Longitude,
		Alt:      int(rec.GPS.Altitude),
		Spd:      int(rec.GPS.Speed),
		Crs:      int(rec.GPS.Angle),
		Sats:     int(rec.GPS.Satellites),
		Priority: int(rec.Priority),
		EventID:  int(rec.EventIOID),
		PermIO:   make(map[string]uint64, len(rec.IO)),
		MsgType:  DecideMsgType(bool(rec.RTP)),
	}
	for _, item := range rec.IO {
		if item.Opaque() {
			if tr.ExtIO == nil {
				tr.ExtIO = make(map[string]string)
			}
			tr.ExtIO[item.Name] = item.Hex()
			continue
		}
		tr.PermIO[item.Name] = item.Val
	}
	tr.Fix = CalcFix(tr.Sats, tr.Lat, tr.Lon)
	tr.ICCID, _ = ICCIDFromRecord(rec)
	return tr
}

// Each ICCID part is a uint64 whose 8 big-endian bytes hold ASCII digits
// or padding. 4051327829469704249 -> "89520209".
func decodeICCIDChunk(u uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], u)

	var sb strings.Builder
	for _, b := range buf {
		if b >= '0' && b <= '9' {
			sb.WriteByte(b)
		}
	}
	return sb.String()
}

// ICCIDFromRecord joins IO 219, 220 and 221 into the SIM ICCID when all three are present.
func ICCIDFromRecord(rec *codec.AVLRecord) (string, bool) {
	var sb strings.Builder
	for _, id := range []fmxxx.ID{fmxxx.ICCIDPt1, fmxxx.ICCIDPt2, fmxxx.ICCIDPt3} {
		item, ok := rec.IO[uint16(id)]
		if !ok || item.Size != 8 {
			return "", false
		}
		sb.WriteString(decodeICCIDChunk(item.Val))
	}
	iccid := sb.String()
	if len(iccid) < 18 {
		return "", false
	}
	return iccid, true
}
