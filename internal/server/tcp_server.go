// Package server runs the device-facing TCP listener: one goroutine per
// connection, frames handled in arrival order.
package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"avl-gateway/internal/codec"
	"avl-gateway/internal/dispatcher"
	"avl-gateway/internal/observability"
	"avl-gateway/internal/registry"
	"avl-gateway/internal/utilities"
)

const (
	DefaultMaxFrame = 64 * 1024
	presenceTimeout = 2 * time.Second
)

// Presence mirrors device state to an external store.
type Presence interface {
	MarkOnline(ctx context.Context, id, remote string) error
	Touch(ctx context.Context, id string) error
	MarkOffline(ctx context.Context, id string) error
	SaveLastReply(ctx context.Context, id, text string) error
}

// Events receives decoded records and connection changes for the sinks.
type Events interface {
	SubmitRecord(rec *codec.AVLRecord) bool
	DeviceConnected(id, remote string) bool
	DeviceDisconnected(id string) bool
}

// Commander runs control requests received on the device port.
type Commander interface {
	Handle(ctx context.Context, req dispatcher.ControlRequest) (int, any)
}

type Options struct {
	Addr         string
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	MaxFrame     int
	EchoReplies  bool

	Presence Presence
	Events   Events
	Commands Commander
	Journal  *utilities.Journal
}

type TcpServer struct {
	opts   Options
	reg    *registry.Registry
	dec    *codec.Decoder
	logger *slog.Logger

	wg sync.WaitGroup
}

func New(reg *registry.Registry, dec *codec.Decoder, lg *slog.Logger, opts Options) *TcpServer {
	if opts.MaxFrame <= 0 {
		opts.MaxFrame = DefaultMaxFrame
	}
	return &TcpServer{
		opts:   opts,
		reg:    reg,
		dec:    dec,
		logger: lg.With("component", "tcp"),
	}
}

func (srv *TcpServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", srv.opts.Addr)
	if err != nil {
		return err
	}
	return srv.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is done, then waits for
// the open connections to wind down.
func (srv *TcpServer) Serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()
	defer srv.wg.Wait()

	srv.logger.Info("TCP server listening", "addr", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			srv.logger.Error("accept error", "err", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		observability.TCPConnections.Inc()

		srv.wg.Add(1)
		go func(c net.Conn) {
			defer srv.wg.Done()
			srv.HandleConnection(ctx, c)
		}(conn)
	}
}

// connState is what one connection knows about itself.
type connState struct {
	conn    net.Conn
	remote  string
	session *registry.Session
}

func (st *connState) deviceID() string {
	if st.session == nil {
		return ""
	}
	return st.session.DeviceID
}

func (srv *TcpServer) HandleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetLinger(0)
		_ = tcpConn.SetNoDelay(false)
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(60 * time.Second)
	}

	st := &connState{conn: conn, remote: remoteOf(conn)}
	defer srv.teardown(st)

	fr := newFramer(srv.opts.MaxFrame)
	buffer := make([]byte, 2048)
	for {
		if srv.opts.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(srv.opts.IdleTimeout))
		}
		n, err := conn.Read(buffer)
		if n > 0 {
			frames, ferr := fr.push(buffer[:n])
			for _, frame := range frames {
				srv.handleFrame(ctx, st, frame)
			}
			if ferr != nil {
				observability.ParseErrors.WithLabelValues("framing").Inc()
				srv.logger.Warn("frame discarded", "imei", st.deviceID(), "remote", st.remote, "err", ferr)
			}
		}
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				srv.logger.Info("idle timeout, closing", "imei", st.deviceID(), "remote", st.remote)
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			default:
				srv.logger.Warn("read error", "imei", st.deviceID(), "remote", st.remote, "err", err)
			}
			return
		}
	}
}

func (srv *TcpServer) handleFrame(ctx context.Context, st *connState, frame []byte) {
	kind := codec.Classify(frame)
	observability.FramesRecv.WithLabelValues(kind.String()).Inc()

	if srv.opts.Journal.Enabled() {
		if err := srv.opts.Journal.Record(st.deviceID(), "in", hex.EncodeToString(frame)); err != nil {
			srv.logger.Warn("raw journal write failed", "err", err)
		}
	}
	if st.session != nil {
		st.session.Touch(time.Now())
	}

	switch kind {
	case codec.Handshake:
		srv.handshake(ctx, st, frame)
	case codec.ControlRequest:
		srv.control(ctx, st, frame)
	case codec.Codec8Extended:
		if st.session == nil {
			srv.logger.Warn("packet received before IMEI registration", "bytes", len(frame), "remote", st.remote)
			return
		}
		srv.avl(ctx, st, frame)
	case codec.Codec12Response:
		if st.session == nil {
			srv.logger.Warn("command reply before IMEI registration", "bytes", len(frame), "remote", st.remote)
			return
		}
		srv.reply(ctx, st, frame)
	default:
		srv.logger.Warn("unrecognized frame dropped", "imei", st.deviceID(), "remote", st.remote,
			"bytes", len(frame), "head", hex.EncodeToString(frame[:min(len(frame), 16)]))
	}
}

func (srv *TcpServer) handshake(ctx context.Context, st *connState, frame []byte) {
	imei, err := codec.ParseHandshake(frame)
	if err != nil {
		observability.HandshakeRejected.Inc()
		srv.logger.Warn("handshake rejected", "remote", st.remote, "err", err)
		return
	}

	if st.session != nil && st.session.DeviceID != imei {
		srv.teardown(st)
	}

	s, prev := srv.reg.Register(imei, st.conn)
	st.session = s
	if prev != nil && !prev.Conn(st.conn) {
		srv.logger.Info("previous session replaced", "imei", imei, "previous_remote", prev.RemoteAddr())
	}
	observability.HandshakeOK.Inc()
	observability.ActiveDevices.Set(float64(srv.reg.Len()))
	srv.logger.Info("IMEI detected", "imei", imei, "remote", st.remote, "session", s.ID.String())

	if _, err := s.Write([]byte{0x01}); err != nil {
		srv.logger.Warn("handshake ack failed", "imei", imei, "err", err)
		return
	}

	if prev == nil || !prev.Conn(st.conn) {
		srv.withPresence(ctx, func(ctx context.Context, p Presence) error {
			return p.MarkOnline(ctx, imei, st.remote)
		})
		if srv.opts.Events != nil {
			srv.opts.Events.DeviceConnected(imei, st.remote)
		}
	}
}

func (srv *TcpServer) avl(ctx context.Context, st *connState, frame []byte) {
	id := st.session.DeviceID
	start := time.Now()
	pkt, err := srv.dec.ParseCodec8E(id, frame)
	observability.ObserveParseLatency(start)
	if err != nil {
		observability.ParseErrors.WithLabelValues(codec.Codec8Extended.String()).Inc()
		srv.logger.Warn("codec8e decode failed", "imei", id, "bytes", len(frame), "err", err)
		return
	}

	for i := range pkt.Records {
		rec := &pkt.Records[i]
		if err := srv.reg.AppendReply(id, registry.AVLEntry(rec)); err != nil {
			srv.logger.Debug("record not buffered", "imei", id, "err", err)
		}
		if srv.opts.Events != nil {
			srv.opts.Events.SubmitRecord(rec)
		}
	}

	if _, err := st.session.Write(codec.BuildAck(len(pkt.Records))); err != nil {
		srv.logger.Warn("ack failed", "imei", id, "err", err)
		return
	}
	observability.RecordsAck.Add(float64(len(pkt.Records)))
	srv.logger.Debug("avl frame acknowledged", "imei", id, "records", len(pkt.Records))

	srv.withPresence(ctx, func(ctx context.Context, p Presence) error {
		return p.Touch(ctx, id)
	})
}

func (srv *TcpServer) reply(ctx context.Context, st *connState, frame []byte) {
	id := st.session.DeviceID
	rep, err := srv.dec.ParseCodec12Response(id, frame)
	if err != nil {
		observability.ParseErrors.WithLabelValues(codec.Codec12Response.String()).Inc()
		srv.logger.Warn("codec12 decode failed", "imei", id, "bytes", len(frame), "err", err)
		return
	}

	if err := srv.reg.AppendReply(id, registry.CommandEntry(rep)); err != nil {
		srv.logger.Debug("reply not buffered", "imei", id, "err", err)
	}
	srv.logger.Info("command reply", "imei", id, "type", rep.Type, "seq", rep.Seq, "text", rep.Text)

	srv.withPresence(ctx, func(ctx context.Context, p Presence) error {
		return p.SaveLastReply(ctx, id, rep.Text)
	})

	if srv.opts.EchoReplies {
		b, err := json.Marshal(rep)
		if err == nil {
			_, err = st.session.Write(b)
		}
		if err != nil {
			srv.logger.Warn("reply echo failed", "imei", id, "err", err)
		}
	}
}

// control answers a command request with an HTTP/1.1 response on the same
// connection. It is accepted whether or not the connection has registered.
// On a registered connection the request runs in its own goroutine so the
// device keeps being read, including the reply the command is waiting for.
func (srv *TcpServer) control(ctx context.Context, st *connState, frame []byte) {
	if s := st.session; s != nil {
		remote := st.remote
		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			srv.answerControl(ctx, s, remote, frame)
		}()
		return
	}
	if srv.opts.WriteTimeout > 0 {
		_ = st.conn.SetWriteDeadline(time.Now().Add(srv.opts.WriteTimeout))
	}
	srv.answerControl(ctx, st.conn, st.remote, frame)
}

func (srv *TcpServer) answerControl(ctx context.Context, w io.Writer, remote string, frame []byte) {
	var (
		status int
		body   any
	)
	req, err := dispatcher.ParseControlRequest(frame)
	switch {
	case err != nil:
		status, body = dispatcher.StatusFor(err), dispatcher.ErrorResponse{Error: err.Error()}
	case srv.opts.Commands == nil:
		status, body = http.StatusServiceUnavailable, dispatcher.ErrorResponse{Error: "commands disabled", DeviceID: req.ID}
	default:
		status, body = srv.opts.Commands.Handle(ctx, req)
	}
	srv.logger.Info("control request", "remote", remote, "id", req.ID, "command", req.Command, "status", status)

	if err := dispatcher.WriteHTTPResponse(w, status, body); err != nil {
		srv.logger.Warn("control response failed", "remote", remote, "err", err)
	}
}

// teardown releases the connection's session if it is still current.
func (srv *TcpServer) teardown(st *connState) {
	s := st.session
	if s == nil {
		return
	}
	st.session = nil
	if !srv.reg.Release(s) {
		return
	}
	observability.ActiveDevices.Set(float64(srv.reg.Len()))
	srv.logger.Info("device disconnected", "imei", s.DeviceID, "remote", st.remote)

	srv.withPresence(context.Background(), func(ctx context.Context, p Presence) error {
		return p.MarkOffline(ctx, s.DeviceID)
	})
	if srv.opts.Events != nil {
		srv.opts.Events.DeviceDisconnected(s.DeviceID)
	}
}

func (srv *TcpServer) withPresence(ctx context.Context, fn func(context.Context, Presence) error) {
	if srv.opts.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), presenceTimeout)
	defer cancel()
	if err := fn(ctx, srv.opts.Presence); err != nil {
		observability.RedisErrors.Inc()
		srv.logger.Warn("presence update failed", "err", err)
	}
}

func remoteOf(conn net.Conn) string {
	if a := conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
