// Package pipeline converts decoded records into tracking events and fans
// them out to the configured downstream sinks.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"avl-gateway/internal/codec"
	"avl-gateway/internal/observability"
)

type EventKind string

const (
	EventTracking   EventKind = "tracking"
	EventConnect    EventKind = "device_connect"
	EventDisconnect EventKind = "device_disconnect"
)

type Event struct {
	Kind     EventKind
	DeviceID string
	Remote   string
	At       time.Time
	Tracking *TrackingObject
	Record   *codec.AVLRecord
}

// Sink is a downstream consumer. Publish is called from the processor
// worker only, one event at a time.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

const defaultSinkTimeout = 5 * time.Second

type Processor struct {
	sinks   []Sink
	queue   chan Event
	logger  *slog.Logger
	timeout time.Duration
}

func NewProcessor(queueSize int, lg *slog.Logger, sinks ...Sink) *Processor {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Processor{
		sinks:   sinks,
		queue:   make(chan Event, queueSize),
		logger:  lg.With("component", "pipeline"),
		timeout: defaultSinkTimeout,
	}
}

func (p *Processor) Sinks() []string {
	names := make([]string, 0, len(p.sinks))
	for _, s := range p.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Submit queues ev without blocking. It reports false when the queue is
// full and the event was dropped.
func (p *Processor) Submit(ev Event) bool {
	if len(p.sinks) == 0 {
		return true
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case p.queue <- ev:
		return true
	default:
		observability.SinkDropped.Inc()
		p.logger.Warn("pipeline queue full, event dropped", "kind", ev.Kind, "imei", ev.DeviceID)
		return false
	}
}

func (p *Processor) SubmitRecord(rec *codec.AVLRecord) bool {
	return p.Submit(Event{
		Kind:     EventTracking,
		DeviceID: rec.DeviceID,
		At:       rec.ReceivedAt,
		Tracking: BuildTracking(rec),
		Record:   rec,
	})
}

func (p *Processor) DeviceConnected(id, remote string) bool {
	return p.Submit(Event{Kind: EventConnect, DeviceID: id, Remote: remote})
}

func (p *Processor) DeviceDisconnected(id string) bool {
	return p.Submit(Event{Kind: EventDisconnect, DeviceID: id})
}

// Run delivers queued events until ctx is done. Whatever is still queued at
// that point is flushed with a short deadline.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "sinks", p.Sinks())
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return nil
		case ev := <-p.queue:
			p.deliver(ctx, ev)
		}
	}
}

func (p *Processor) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	for {
		select {
		case ev := <-p.queue:
			p.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (p *Processor) deliver(ctx context.Context, ev Event) {
	for _, s := range p.sinks {
		sctx, cancel := context.WithTimeout(ctx, p.timeout)
		err := s.Publish(sctx, ev)
		cancel()
		if err != nil {
			observability.SinkErrors.WithLabelValues(s.Name()).Inc()
			p.logger.Warn("sink publish failed", "sink", s.Name(), "kind", ev.Kind, "imei", ev.DeviceID, "err", err)
		}
	}
}
