package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"avl-gateway/internal/codec"
	"avl-gateway/internal/observability"
	"avl-gateway/internal/registry"
)

const DefaultGrace = 3 * time.Second

// Quota counts commands per device and day.
type Quota interface {
	IncDailyCmdCounter(ctx context.Context, id, cmd string, limit int) (allowed bool, count int64, err error)
}

// Result is the outcome of one dispatched command. NoResponse is set when
// the device stayed silent for the whole grace period.
type Result struct {
	DeviceID   string
	Command    string
	Reply      *codec.CommandReply
	NoResponse bool
}

type Correlator struct {
	reg    *registry.Registry
	logger *slog.Logger

	Grace      time.Duration
	Quota      Quota
	DailyLimit int
}

func NewCorrelator(reg *registry.Registry, lg *slog.Logger) *Correlator {
	return &Correlator{
		reg:    reg,
		logger: lg.With("component", "dispatcher"),
		Grace:  DefaultGrace,
	}
}

// Dispatch writes the named command to id and waits for its reply. Commands
// to one device are serialized, so the next Codec 12 reply on the session
// belongs to this command.
func (c *Correlator) Dispatch(ctx context.Context, id, name string) (Result, error) {
	res := Result{DeviceID: id, Command: name}

	cmd, ok := getCmd(name)
	if !ok {
		return res, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	if _, err := c.reg.Get(id); err != nil {
		observability.Commands.WithLabelValues(name, "not_connected").Inc()
		return res, err
	}
	if err := c.checkQuota(ctx, id, cmd); err != nil {
		observability.Commands.WithLabelValues(name, "quota").Inc()
		return res, err
	}

	s, release, err := c.reg.Reserve(ctx, id)
	if err != nil {
		return res, err
	}
	defer release()

	p, err := c.reg.Expect(id)
	if err != nil {
		return res, err
	}

	start := time.Now()
	if _, err := s.Write(cmd.Build()); err != nil {
		p.Cancel()
		observability.Commands.WithLabelValues(name, "send_failed").Inc()
		c.logger.Error("command send failed", "cmd", name, "imei", id, "err", err)
		if errors.Is(err, registry.ErrDeviceNotConnected) {
			return res, err
		}
		return res, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	c.logger.Info("command sent", "cmd", name, "imei", id, "seq", p.Seq)

	grace := c.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case rep := <-p.Reply():
		res.Reply = rep
	case <-p.Done():
		if res.Reply = c.withdraw(p); res.Reply == nil {
			observability.Commands.WithLabelValues(name, "not_connected").Inc()
			return res, registry.ErrDeviceNotConnected
		}
	case <-timer.C:
		if res.Reply = c.withdraw(p); res.Reply == nil {
			res.NoResponse = true
		}
	case <-ctx.Done():
		if res.Reply = c.withdraw(p); res.Reply == nil {
			return res, ctx.Err()
		}
	}

	if res.NoResponse {
		observability.Commands.WithLabelValues(name, "no_response").Inc()
		c.logger.Warn("command not answered", "cmd", name, "imei", id, "grace", grace)
		return res, nil
	}
	observability.Commands.WithLabelValues(name, "ok").Inc()
	observability.CommandLatency.Observe(time.Since(start).Seconds())
	return res, nil
}

// withdraw cancels p and returns a reply that raced the cancellation, if any.
func (c *Correlator) withdraw(p *registry.Pending) *codec.CommandReply {
	p.Cancel()
	select {
	case rep := <-p.Reply():
		return rep
	default:
		return nil
	}
}

func (c *Correlator) checkQuota(ctx context.Context, id string, cmd Command) error {
	limit := c.DailyLimit
	if cmd.DailyLimit > 0 {
		limit = cmd.DailyLimit
	}
	if c.Quota == nil || limit <= 0 {
		return nil
	}
	allowed, n, err := c.Quota.IncDailyCmdCounter(ctx, id, cmd.Name, limit)
	if err != nil {
		// the quota store being down does not block commands
		c.logger.Warn("daily counter unavailable", "cmd", cmd.Name, "imei", id, "err", err)
		return nil
	}
	if !allowed {
		return fmt.Errorf("%w: %s sent %d times today to %s", ErrQuotaExceeded, cmd.Name, n, id)
	}
	return nil
}
