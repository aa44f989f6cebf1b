package net

import (
	"errors"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeEvent struct {
	ch  *ReliableChannel
	err error
}

type reliableRecorder struct {
	received chan *MessageContainer
	closed   chan closeEvent
}

func newReliableRecorder() *reliableRecorder {
	return &reliableRecorder{
		received: make(chan *MessageContainer, 256),
		closed:   make(chan closeEvent, 4),
	}
}

func (r *reliableRecorder) ReliableChannelDidReceive(_ *ReliableChannel, c *MessageContainer) {
	r.received <- c
}

func (r *reliableRecorder) ReliableChannelDidClose(ch *ReliableChannel, err error) {
	r.closed <- closeEvent{ch: ch, err: err}
}

func newPipePair(t *testing.T, cfg *TransportCfg) (*ReliableChannel, *reliableRecorder, *ReliableChannel, *reliableRecorder) {
	t.Helper()
	a, b := net.Pipe()
	ra, rb := newReliableRecorder(), newReliableRecorder()
	ca := NewReliableChannel(1, a, cfg, ra)
	cb := NewReliableChannel(2, b, cfg, rb)
	return ca, ra, cb, rb
}

func TestReliableDeliversInOrder(t *testing.T) {
	ca, _, cb, rb := newPipePair(t, nil)
	ca.Start()
	cb.Start()
	defer ca.Close()
	defer cb.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, ca.Send(&chatMsg{From: int32(i), Text: "m"}))
		if i%10 == 9 {
			ca.Flush()
		}
	}

	for i := 0; i < 100; i++ {
		c := recv(t, rb.received)
		var m chatMsg
		require.NoError(t, c.Parse(&m))
		assert.Equal(t, int32(i), m.From)
	}
}

func TestReliableCloseNotifiesOnce(t *testing.T) {
	ca, ra, cb, rb := newPipePair(t, nil)
	ca.Start()
	cb.Start()

	require.NoError(t, ca.Close())
	require.NoError(t, ca.Close())

	ev := recv(t, ra.closed)
	assert.Same(t, ca, ev.ch)
	assert.NoError(t, ev.err)
	<-ca.Done()
	assert.Equal(t, StateClosed, ca.State())

	// the peer sees the hang-up as a transport error
	peer := recv(t, rb.closed)
	var te *TransportError
	assert.True(t, errors.As(peer.err, &te))

	assert.ErrorIs(t, ca.Send(&chatMsg{}), ErrChannelClosed)
	require.NoError(t, ca.Close())
	assert.Len(t, ra.closed, 0)
}

func TestReliableCloseFlushesPending(t *testing.T) {
	ca, _, cb, rb := newPipePair(t, nil)
	ca.Start()
	cb.Start()
	defer cb.Close()

	require.NoError(t, ca.Send(&chatMsg{From: 42, Text: "last words"}))
	require.NoError(t, ca.Close())

	c := recv(t, rb.received)
	var m chatMsg
	require.NoError(t, c.Parse(&m))
	assert.Equal(t, "last words", m.Text)
	recv(t, rb.closed)
}

func TestReliableProtocolErrorCloses(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	cfg := DefaultTransportCfg()
	cfg.MaxFrameSize = 64
	ra := newReliableRecorder()
	ca := NewReliableChannel(1, a, cfg, ra)
	ca.Start()

	go func() {
		_, _ = b.Write(EncodeFrameHead(nil, FrameHead{Type: chatType, BodySize: 65}))
	}()

	ev := recv(t, ra.closed)
	assert.True(t, IsProtocolError(ev.err))
	assert.ErrorIs(t, ev.err, ErrFrameTooLarge)
	assert.Len(t, ra.received, 0)
}

func TestReliableSendOverflowCloses(t *testing.T) {
	cfg := DefaultTransportCfg()
	cfg.MaxFrameSize = 64
	cfg.MaxPendingBytes = 64
	ca, ra, cb, _ := newPipePair(t, cfg)
	defer cb.Close()

	require.NoError(t, ca.Send(&chatMsg{Text: "0123456789012345678901234567890123456789"}))
	err := ca.Send(&chatMsg{Text: "0123456789012345678901234567890123456789"})
	assert.ErrorIs(t, err, ErrSendQueueFull)

	ev := recv(t, ra.closed)
	assert.ErrorIs(t, ev.err, ErrSendQueueFull)
	assert.Equal(t, StateClosed, ca.State())
}

func TestReliableCloseBeforeStart(t *testing.T) {
	ca, ra, cb, _ := newPipePair(t, nil)
	defer cb.Close()

	require.NoError(t, ca.Close())
	ev := recv(t, ra.closed)
	assert.NoError(t, ev.err)
	<-ca.Done()

	// starting afterwards is a no-op
	ca.Start()
	assert.Equal(t, StateClosed, ca.State())
}

func TestReliableFrameTooLargeKeepsChannel(t *testing.T) {
	cfg := DefaultTransportCfg()
	cfg.MaxFrameSize = 8
	cfg.MaxPendingBytes = 1024
	ca, _, cb, _ := newPipePair(t, cfg)
	defer cb.Close()
	defer ca.Close()

	err := ca.Send(&chatMsg{Text: "far too long for eight bytes"})
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Equal(t, StateOpen, ca.State())
	assert.NoError(t, ca.Send(&chatMsg{}))
}

func TestReliableClosingStopsDelivery(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	peer, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer peer.Close()
	conn, err := ln.Accept()
	require.NoError(t, err)

	r := newReliableRecorder()
	ch := NewReliableChannel(1, conn, nil, r)
	ch.Start()
	require.NoError(t, ch.Close())

	// the peer keeps talking after the local close
	frame, err := PackFrame(nil, &chatMsg{From: 7, Text: "too late"}, 0)
	require.NoError(t, err)
	_, err = peer.Write(frame)
	require.NoError(t, err)

	// half-closed: the peer reads EOF, then hangs up
	_, err = io.ReadAll(peer)
	require.NoError(t, err)
	require.NoError(t, peer.Close())

	ev := recv(t, r.closed)
	assert.NoError(t, ev.err)
	assert.Len(t, r.received, 0)
}
