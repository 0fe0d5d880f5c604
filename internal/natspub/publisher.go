// Package natspub publishes device events to NATS subjects of the form
// <prefix>.<imei>.tracking and <prefix>.<imei>.status.
package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"avl-gateway/internal/codec"
	"avl-gateway/internal/pipeline"
)

type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

type statusMessage struct {
	IMEI   string `json:"imei"`
	Event  string `json:"event"`
	Remote string `json:"remote,omitempty"`
	At     string `json:"at"`
}

// trackingMessage is one record with its IO elements flattened by name.
type trackingMessage struct {
	IMEI       string         `json:"imei"`
	Timestamp  time.Time      `json:"timestamp"`
	ReceivedAt time.Time      `json:"received_at"`
	RTP        codec.Flag     `json:"rtp"`
	Priority   uint8          `json:"priority"`
	GPS        codec.GPSData  `json:"gps"`
	EventID    uint16         `json:"event_id"`
	IO         map[string]any `json:"io"`
}

func newTrackingMessage(rec *codec.AVLRecord) trackingMessage {
	return trackingMessage{
		IMEI:       rec.DeviceID,
		Timestamp:  rec.Timestamp,
		ReceivedAt: rec.ReceivedAt,
		RTP:        rec.RTP,
		Priority:   rec.Priority,
		GPS:        rec.GPS,
		EventID:    rec.EventIOID,
		IO:         rec.Elements(),
	}
}

func Connect(url, prefix string, lg *slog.Logger) (*Publisher, error) {
	lg = lg.With("component", "natspub")
	nc, err := nats.Connect(url,
		nats.Name("avl-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			lg.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			lg.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return New(nc, prefix, lg), nil
}

func New(nc *nats.Conn, prefix string, lg *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = "avl"
	}
	return &Publisher{nc: nc, prefix: prefix, logger: lg}
}

func (p *Publisher) Subject(imei, suffix string) string {
	return p.prefix + "." + imei + "." + suffix
}

func (p *Publisher) Name() string { return "nats" }

func (p *Publisher) Publish(_ context.Context, ev pipeline.Event) error {
	var (
		subject string
		payload any
	)
	switch ev.Kind {
	case pipeline.EventTracking:
		if ev.Record == nil {
			return nil
		}
		subject, payload = p.Subject(ev.DeviceID, "tracking"), newTrackingMessage(ev.Record)
	case pipeline.EventConnect, pipeline.EventDisconnect:
		subject = p.Subject(ev.DeviceID, "status")
		payload = statusMessage{
			IMEI:   ev.DeviceID,
			Event:  string(ev.Kind),
			Remote: ev.Remote,
			At:     ev.At.UTC().Format(time.RFC3339),
		}
	default:
		return nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(subject, b); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages before closing the connection.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}
