// Package link keeps an NDJSON uplink to socket-tcp-proxy: device
// connect/disconnect notices and tracking go up, commands come down.
package link

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"avl-gateway/internal/pipeline"
)

var ErrNotConnected = errors.New("link: not connected")

// CommandFunc runs a command requested by the proxy against a device.
type CommandFunc func(ctx context.Context, imei, command string) (reply string, noResponse bool, err error)

type Client struct {
	addr      string
	logger    *slog.Logger
	onCommand CommandFunc

	DialTimeout time.Duration
	RetryDelay  time.Duration

	mu      sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex

	iccidMu sync.Mutex
	iccids  map[string]string
}

func New(addr string, lg *slog.Logger, onCommand CommandFunc) *Client {
	return &Client{
		addr:        addr,
		logger:      lg.With("component", "link"),
		onCommand:   onCommand,
		DialTimeout: 5 * time.Second,
		RetryDelay:  2 * time.Second,
		iccids:      make(map[string]string),
	}
}

// Run mantiene la conexión al proxy hasta que ctx termine.
func (c *Client) Run(ctx context.Context) error {
	d := net.Dialer{Timeout: c.DialTimeout}
	for {
		conn, err := d.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("link: dial failed", "addr", c.addr, "err", err)
			if !sleepCtx(ctx, c.RetryDelay) {
				return nil
			}
			continue
		}

		c.setConn(conn)
		c.logger.Info("link: connected", "remote", conn.RemoteAddr().String())

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		c.readLoop(ctx, conn)
		stop()

		c.clearConn(conn)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("link: connection closed, reconnecting...")
		if !sleepCtx(ctx, c.RetryDelay) {
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *Client) clearConn(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) getConn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) Connected() bool { return c.getConn() != nil }

func (c *Client) readLoop(ctx context.Context, conn net.Conn) {
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)
		go c.handleIncomingLine(ctx, line)
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		c.logger.Warn("link: read error", "err", err)
	}
}

func (c *Client) handleIncomingLine(ctx context.Context, line []byte) {
	var req commandRequest
	if err := json.Unmarshal(line, &req); err != nil || req.Command == "" || req.IMEI == "" {
		c.logger.Info("link: incoming line", "line", string(line))
		return
	}
	if c.onCommand == nil {
		return
	}

	res := commandResponse{CommandResponse: true, IMEI: req.IMEI, Command: req.Command}
	reply, noResponse, err := c.onCommand(ctx, req.IMEI, req.Command)
	switch {
	case err != nil:
		res.Error = err.Error()
	case noResponse:
		res.NoResponse = true
	default:
		res.Response = reply
	}
	if err := c.sendNDJSON(ctx, res); err != nil {
		c.logger.Warn("link: send command_response failed", "imei", req.IMEI, "err", err)
	}
}

func (c *Client) sendNDJSON(ctx context.Context, v any) error {
	conn := c.getConn()
	if conn == nil {
		return ErrNotConnected
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if _, err := conn.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("link: write: %w", err)
	}
	return nil
}

func (c *Client) Name() string { return "link" }

func (c *Client) Publish(ctx context.Context, ev pipeline.Event) error {
	at := ev.At.UTC().Format(time.RFC3339)
	switch ev.Kind {
	case pipeline.EventConnect:
		info := deviceInfo(ev.DeviceID, ev.Remote, c.knownICCID(ev.DeviceID))
		return c.sendNDJSON(ctx, deviceConnectPayload{
			DeviceConnect: true,
			IMEI:          info.IMEI,
			ICCID:         info.ICCID,
			RemoteIP:      info.RemoteIP,
			RemotePort:    info.RemotePort,
			At:            at,
		})
	case pipeline.EventDisconnect:
		return c.sendNDJSON(ctx, deviceDisconnectPayload{DeviceDisconnect: true, IMEI: ev.DeviceID, At: at})
	case pipeline.EventTracking:
		if ev.Tracking == nil {
			return nil
		}
		if c.rememberICCID(ev.DeviceID, ev.Tracking.ICCID) {
			if err := c.sendNDJSON(ctx, deviceUpdatePayload{DeviceUpdate: true, IMEI: ev.DeviceID, ICCID: ev.Tracking.ICCID}); err != nil {
				return err
			}
		}
		return c.sendNDJSON(ctx, ev.Tracking)
	}
	return nil
}

func (c *Client) knownICCID(imei string) string {
	c.iccidMu.Lock()
	defer c.iccidMu.Unlock()
	return c.iccids[imei]
}

// rememberICCID reports whether iccid is new for imei.
func (c *Client) rememberICCID(imei, iccid string) bool {
	if iccid == "" {
		return false
	}
	c.iccidMu.Lock()
	defer c.iccidMu.Unlock()
	if c.iccids[imei] == iccid {
		return false
	}
	c.iccids[imei] = iccid
	return true
}
