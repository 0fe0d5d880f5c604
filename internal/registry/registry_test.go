package registry

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avl-gateway/internal/codec"
)

const imei = "356307042441013"

func pipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestRegisterGetUnregister(t *testing.T) {
	reg := New(4, time.Second)
	server, _ := pipe(t)

	s, prev := reg.Register(imei, server)
	require.NotNil(t, s)
	assert.Nil(t, prev)
	assert.Equal(t, imei, s.DeviceID)

	got, err := reg.Get(imei)
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, 1, reg.Len())

	assert.True(t, reg.Unregister(imei))
	_, err = reg.Get(imei)
	assert.ErrorIs(t, err, ErrDeviceNotConnected)

	select {
	case <-s.Done():
	default:
		t.Fatal("session not closed on unregister")
	}
	assert.False(t, reg.Unregister(imei))
}

func TestRegisterReplacesPriorSession(t *testing.T) {
	reg := New(4, time.Second)
	first, firstPeer := pipe(t)
	second, _ := pipe(t)

	s1, _ := reg.Register(imei, first)
	require.NoError(t, reg.AppendReply(imei, CommandEntry(&codec.CommandReply{Text: "old"})))

	s2, prev := reg.Register(imei, second)
	assert.Same(t, s1, prev)
	assert.NotEqual(t, s1.ID, s2.ID)

	// the old connection is closed and its buffer does not carry over
	_, err := firstPeer.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	_, err = reg.LatestReply(imei)
	assert.ErrorIs(t, err, ErrNoReply)

	// a stale release must not remove the replacement
	assert.False(t, reg.Release(s1))
	got, err := reg.Get(imei)
	require.NoError(t, err)
	assert.Same(t, s2, got)
}

func TestReleaseKeepsConnectionOpen(t *testing.T) {
	reg := New(4, time.Second)
	server, client := pipe(t)

	s, _ := reg.Register(imei, server)
	assert.True(t, reg.Release(s))
	assert.Equal(t, 0, reg.Len())

	go func() { _, _ = server.Write([]byte{0x01}) }()
	buf := make([]byte, 1)
	_, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), buf[0])

	_, err = s.Write([]byte{0x02})
	assert.ErrorIs(t, err, ErrDeviceNotConnected)
}

func TestLatestReply(t *testing.T) {
	reg := New(2, time.Second)
	server, _ := pipe(t)
	reg.Register(imei, server)

	_, err := reg.LatestReply(imei)
	assert.ErrorIs(t, err, ErrNoReply)
	_, err = reg.LatestReply("000000000000000")
	assert.ErrorIs(t, err, ErrDeviceNotConnected)

	rec := &codec.AVLRecord{DeviceID: imei}
	require.NoError(t, reg.AppendReply(imei, AVLEntry(rec)))
	rep := &codec.CommandReply{DeviceID: imei, Text: "DI1:1"}
	require.NoError(t, reg.AppendReply(imei, CommandEntry(rep)))

	e, err := reg.LatestReply(imei)
	require.NoError(t, err)
	assert.Equal(t, EntryCommand, e.Kind)
	assert.Same(t, rep, e.Reply)

	// capacity 2: a third entry evicts the first
	require.NoError(t, reg.AppendReply(imei, AVLEntry(rec)))
	entries, err := reg.Replies(imei)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, EntryCommand, entries[0].Kind)
	assert.Equal(t, EntryAVL, entries[1].Kind)

	assert.ErrorIs(t, reg.AppendReply("000000000000000", AVLEntry(rec)), ErrDeviceNotConnected)
}

func TestPendingCompletedInOrder(t *testing.T) {
	reg := New(8, time.Second)
	server, _ := pipe(t)
	reg.Register(imei, server)

	p1, err := reg.Expect(imei)
	require.NoError(t, err)
	p2, err := reg.Expect(imei)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p1.Seq)
	assert.Equal(t, uint64(2), p2.Seq)

	// AVL records never complete a command
	require.NoError(t, reg.AppendReply(imei, AVLEntry(&codec.AVLRecord{})))
	require.NoError(t, reg.AppendReply(imei, CommandEntry(&codec.CommandReply{Text: "first"})))
	require.NoError(t, reg.AppendReply(imei, CommandEntry(&codec.CommandReply{Text: "second"})))

	r1 := <-p1.Reply()
	r2 := <-p2.Reply()
	assert.Equal(t, "first", r1.Text)
	assert.Equal(t, uint64(1), r1.Seq)
	assert.Equal(t, "second", r2.Text)
	assert.Equal(t, uint64(2), r2.Seq)
}

func TestPendingCancel(t *testing.T) {
	reg := New(8, time.Second)
	server, _ := pipe(t)
	reg.Register(imei, server)

	p, err := reg.Expect(imei)
	require.NoError(t, err)
	p.Cancel()

	require.NoError(t, reg.AppendReply(imei, CommandEntry(&codec.CommandReply{Text: "late"})))
	select {
	case <-p.Reply():
		t.Fatal("cancelled command received a reply")
	default:
	}

	e, err := reg.LatestReply(imei)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), e.Reply.Seq)
}

func TestPendingDoneOnUnregister(t *testing.T) {
	reg := New(8, time.Second)
	server, _ := pipe(t)
	reg.Register(imei, server)

	p, err := reg.Expect(imei)
	require.NoError(t, err)
	reg.Unregister(imei)

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("pending command not released")
	}
}

func TestReserveSerializesCommands(t *testing.T) {
	reg := New(8, time.Second)
	server, _ := pipe(t)
	reg.Register(imei, server)

	_, release, err := reg.Reserve(context.Background(), imei)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = reg.Reserve(ctx, imei)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	_, release2, err := reg.Reserve(context.Background(), imei)
	require.NoError(t, err)
	release2()

	_, _, err = reg.Reserve(context.Background(), "000000000000000")
	assert.ErrorIs(t, err, ErrDeviceNotConnected)
}

func TestReserveFailsWhenDeviceLeaves(t *testing.T) {
	reg := New(8, time.Second)
	server, _ := pipe(t)
	reg.Register(imei, server)

	_, release, err := reg.Reserve(context.Background(), imei)
	require.NoError(t, err)
	defer release()

	errCh := make(chan error, 1)
	go func() {
		_, _, err := reg.Reserve(context.Background(), imei)
		errCh <- err
	}()

	reg.Unregister(imei)
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrDeviceNotConnected)
	case <-time.After(time.Second):
		t.Fatal("reserve blocked past unregister")
	}
}

func TestDevices(t *testing.T) {
	reg := New(8, time.Second)
	a, _ := pipe(t)
	b, _ := pipe(t)
	reg.Register("356307042441014", a)
	reg.Register(imei, b)
	require.NoError(t, reg.AppendReply(imei, AVLEntry(&codec.AVLRecord{})))

	infos := reg.Devices()
	require.Len(t, infos, 2)
	assert.Equal(t, imei, infos[0].DeviceID)
	assert.Equal(t, 1, infos[0].Buffered)
	assert.Equal(t, "356307042441014", infos[1].DeviceID)
}
