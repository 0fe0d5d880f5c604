// Package registry tracks connected devices, their reply buffers and the
// commands waiting on a reply.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"avl-gateway/internal/codec"
)

var (
	ErrDeviceNotConnected = errors.New("device not connected")
	ErrNoReply            = errors.New("no reply buffered")
)

const DefaultReplyBuffer = 64

type EntryKind string

const (
	EntryAVL     EntryKind = "avl"
	EntryCommand EntryKind = "command"
)

// Entry is one element of a device's reply buffer: a decoded AVL record or
// a command reply.
type Entry struct {
	Kind  EntryKind
	AVL   *codec.AVLRecord
	Reply *codec.CommandReply
}

func AVLEntry(rec *codec.AVLRecord) Entry        { return Entry{Kind: EntryAVL, AVL: rec} }
func CommandEntry(rep *codec.CommandReply) Entry { return Entry{Kind: EntryCommand, Reply: rep} }

func (e Entry) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EntryAVL:
		return json.Marshal(e.AVL)
	case EntryCommand:
		return json.Marshal(e.Reply)
	}
	return []byte("null"), nil
}

type device struct {
	session *Session

	mu      sync.Mutex
	replies *ring[Entry]
	pending []*Pending
	seq     uint64

	cmdSlot chan struct{}
}

// Info is a point-in-time view of a registered device.
type Info struct {
	DeviceID     string    `json:"device_id"`
	SessionID    string    `json:"session_id"`
	Remote       string    `json:"remote"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	Buffered     int       `json:"buffered"`
}

type Registry struct {
	mu      sync.RWMutex
	devices map[string]*device

	capacity     int
	writeTimeout time.Duration
	now          func() time.Time
}

// New builds a registry whose reply buffers keep the last capacity entries.
func New(capacity int, writeTimeout time.Duration) *Registry {
	if capacity <= 0 {
		capacity = DefaultReplyBuffer
	}
	return &Registry{
		devices:      make(map[string]*device),
		capacity:     capacity,
		writeTimeout: writeTimeout,
		now:          time.Now,
	}
}

// Register creates a session and an empty buffer for id. A previous session
// for the same id is closed and returned; nothing carries over.
func (r *Registry) Register(id string, conn net.Conn) (*Session, *Session) {
	s := newSession(id, conn, r.writeTimeout, r.now())
	d := &device{
		session: s,
		replies: newRing[Entry](r.capacity),
		cmdSlot: make(chan struct{}, 1),
	}

	r.mu.Lock()
	prev := r.devices[id]
	r.devices[id] = d
	r.mu.Unlock()

	if prev == nil {
		return s, nil
	}
	if prev.session.Conn(conn) {
		prev.session.detach()
	} else {
		_ = prev.session.Close()
	}
	return s, prev.session
}

// Unregister removes id and closes its connection.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	d, ok := r.devices[id]
	if ok {
		delete(r.devices, id)
	}
	r.mu.Unlock()

	if ok {
		_ = d.session.Close()
	}
	return ok
}

// Release removes s if it is still the current session for its device. The
// connection is left to the caller.
func (r *Registry) Release(s *Session) bool {
	r.mu.Lock()
	d, ok := r.devices[s.DeviceID]
	current := ok && d.session == s
	if current {
		delete(r.devices, s.DeviceID)
	}
	r.mu.Unlock()

	s.detach()
	return current
}

func (r *Registry) lookup(id string) (*device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, ErrDeviceNotConnected
	}
	return d, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	d, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return d.session, nil
}

// AppendReply stores e in the device buffer. A command reply also completes
// the oldest pending command, if any.
func (r *Registry) AppendReply(id string, e Entry) error {
	d, err := r.lookup(id)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if e.Kind == EntryCommand && e.Reply != nil && len(d.pending) > 0 {
		p := d.pending[0]
		d.pending = d.pending[1:]
		e.Reply.Seq = p.Seq
		p.ch <- e.Reply
	}
	d.replies.push(e)
	return nil
}

func (r *Registry) LatestReply(id string) (Entry, error) {
	d, err := r.lookup(id)
	if err != nil {
		return Entry{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.replies.last()
	if !ok {
		return Entry{}, ErrNoReply
	}
	return e, nil
}

// Replies returns the buffered entries for id, oldest first.
func (r *Registry) Replies(id string) ([]Entry, error) {
	d, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.replies.snapshot(), nil
}

// Pending is an outstanding command waiting for its Codec 12 reply.
type Pending struct {
	Seq      uint64
	DeviceID string

	ch      chan *codec.CommandReply
	dev     *device
	session *Session
}

// Reply delivers the reply that completed this command.
func (p *Pending) Reply() <-chan *codec.CommandReply { return p.ch }

// Done is closed if the device session ends first.
func (p *Pending) Done() <-chan struct{} { return p.session.Done() }

// Cancel withdraws the command; a reply arriving later is buffered as unsolicited.
func (p *Pending) Cancel() {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	for i, q := range p.dev.pending {
		if q == p {
			p.dev.pending = append(p.dev.pending[:i], p.dev.pending[i+1:]...)
			return
		}
	}
}

// Expect registers a pending command for id and assigns its sequence number.
func (r *Registry) Expect(id string) (*Pending, error) {
	d, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	p := &Pending{
		Seq:      d.seq,
		DeviceID: id,
		ch:       make(chan *codec.CommandReply, 1),
		dev:      d,
		session:  d.session,
	}
	d.pending = append(d.pending, p)
	return p, nil
}

// Reserve grants exclusive use of id's command channel until release is
// called, so one command is in flight per device.
func (r *Registry) Reserve(ctx context.Context, id string) (s *Session, release func(), err error) {
	d, err := r.lookup(id)
	if err != nil {
		return nil, nil, err
	}

	select {
	case d.cmdSlot <- struct{}{}:
		select {
		case <-d.session.Done():
			<-d.cmdSlot
			return nil, nil, ErrDeviceNotConnected
		default:
		}
		return d.session, func() { <-d.cmdSlot }, nil
	case <-d.session.Done():
		return nil, nil, ErrDeviceNotConnected
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Devices lists registered devices sorted by id.
func (r *Registry) Devices() []Info {
	r.mu.RLock()
	devs := make([]*device, 0, len(r.devices))
	for _, d := range r.devices {
		devs = append(devs, d)
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(devs))
	for _, d := range devs {
		d.mu.Lock()
		n := d.replies.len()
		d.mu.Unlock()
		out = append(out, Info{
			DeviceID:     d.session.DeviceID,
			SessionID:    d.session.ID.String(),
			Remote:       d.session.RemoteAddr(),
			ConnectedAt:  d.session.CreatedAt,
			LastActivity: d.session.LastActivity(),
			Buffered:     n,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
