package registry

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is the registry's handle on one registered device connection.
// Writes are serialized so command frames and acks never interleave.
type Session struct {
	ID        uuid.UUID
	DeviceID  string
	CreatedAt time.Time

	conn         net.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	lastActivity atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(deviceID string, conn net.Conn, writeTimeout time.Duration, now time.Time) *Session {
	s := &Session{
		ID:           uuid.New(),
		DeviceID:     deviceID,
		CreatedAt:    now,
		conn:         conn,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// Write sends p to the device with a bounded deadline. It fails fast once
// the session has been unregistered.
func (s *Session) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, ErrDeviceNotConnected
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.Write(p)
}

func (s *Session) Touch(t time.Time) {
	s.lastActivity.Store(t.UnixNano())
}

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Done is closed when the session is unregistered or replaced.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) RemoteAddr() string {
	if s.conn == nil || s.conn.RemoteAddr() == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

// Conn reports whether s wraps c.
func (s *Session) Conn(c net.Conn) bool {
	return s.conn == c
}

// detach ends the session without touching the connection.
func (s *Session) detach() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Close ends the session and its connection.
func (s *Session) Close() error {
	s.detach()
	return s.conn.Close()
}
