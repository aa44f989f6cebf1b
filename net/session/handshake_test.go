package session

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

type handshakeProbe struct {
	sends    int
	timeouts int
}

func newProbedHandshake(clk clock.Clock, interval time.Duration, retries int) (*UnreliableConnectController, *handshakeProbe) {
	p := &handshakeProbe{}
	h := NewUnreliableConnectController(clk, interval, retries,
		func() error { p.sends++; return nil },
		func() { p.timeouts++ },
	)
	return h, p
}

func TestHandshakeTimesOutAfterRetries(t *testing.T) {
	clk := clock.NewMock()
	h, p := newProbedHandshake(clk, 3*time.Second, 3)
	assert.Equal(t, HandshakeIdle, h.State())

	h.Connect()
	assert.Equal(t, HandshakeConnecting, h.State())
	assert.Equal(t, 1, p.sends)

	// 间隔未到不重发
	clk.Add(2 * time.Second)
	h.Update()
	assert.Equal(t, 1, p.sends)

	for i := 0; i < 10; i++ {
		clk.Add(3 * time.Second)
		h.Update()
	}
	assert.Equal(t, 4, p.sends)
	assert.Equal(t, 1, p.timeouts)
	assert.Equal(t, 3, h.Retries())
	assert.Equal(t, HandshakeTimedOut, h.State())
	assert.Equal(t, "timed_out", h.State().String())
}

func TestHandshakeStopsOnAck(t *testing.T) {
	clk := clock.NewMock()
	h, p := newProbedHandshake(clk, time.Second, 3)

	h.Connect()
	clk.Add(time.Second)
	h.Update()
	assert.Equal(t, 2, p.sends)

	assert.True(t, h.ReceivedConnected())
	assert.False(t, h.ReceivedConnected())
	assert.Equal(t, HandshakeConnected, h.State())

	for i := 0; i < 10; i++ {
		clk.Add(time.Second)
		h.Update()
	}
	assert.Equal(t, 2, p.sends)
	assert.Equal(t, 0, p.timeouts)
}

func TestHandshakeConnectWhileConnecting(t *testing.T) {
	clk := clock.NewMock()
	h, p := newProbedHandshake(clk, time.Second, 0)

	h.Connect()
	h.Connect()
	assert.Equal(t, 1, p.sends)

	clk.Add(time.Second)
	h.Update()
	assert.Equal(t, 1, p.timeouts)

	// a timed out handshake can be started again
	h.Connect()
	assert.Equal(t, 2, p.sends)
	assert.Equal(t, HandshakeConnecting, h.State())

	h.Reset()
	assert.Equal(t, HandshakeIdle, h.State())
	assert.False(t, h.ReceivedConnected())
}
