package session

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/lcx/gamenet/metrics"
)

// HandshakeState is the client side of the unreliable connect.
type HandshakeState int

const (
	HandshakeIdle HandshakeState = iota
	HandshakeConnecting
	HandshakeConnected
	HandshakeTimedOut
)

func (s HandshakeState) String() string {
	switch s {
	case HandshakeIdle:
		return "idle"
	case HandshakeConnecting:
		return "connecting"
	case HandshakeConnected:
		return "connected"
	case HandshakeTimedOut:
		return "timed_out"
	}
	return "unknown"
}

// UnreliableConnectController repeats the connect datagram until the
// server acknowledges it. It sends once on Connect and once more every
// retry interval, up to maxRetries more times; the interval after the last
// send ends in a single timeout. It is driven by Update on the main loop.
type UnreliableConnectController struct {
	clock      clock.Clock
	interval   time.Duration
	maxRetries int
	send       func() error
	onTimeout  func()

	state      HandshakeState
	retryCount int
	startTime  time.Time
}

// NewUnreliableConnectController ...
func NewUnreliableConnectController(clk clock.Clock, interval time.Duration, maxRetries int, send func() error, onTimeout func()) *UnreliableConnectController {
	if clk == nil {
		clk = clock.New()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &UnreliableConnectController{
		clock:      clk,
		interval:   interval,
		maxRetries: maxRetries,
		send:       send,
		onTimeout:  onTimeout,
	}
}

func (u *UnreliableConnectController) State() HandshakeState { return u.state }

// Retries is how many resends happened since Connect.
func (u *UnreliableConnectController) Retries() int { return u.retryCount }

// Connect starts the handshake. It is a no-op while one is in progress.
func (u *UnreliableConnectController) Connect() {
	if u.state == HandshakeConnecting {
		return
	}
	u.state = HandshakeConnecting
	u.retryCount = 0
	u.startTime = u.clock.Now()
	u.sendOnce()
}

// ReceivedConnected ends the handshake. It reports whether this call did
// the transition, so duplicate acknowledgements can be ignored.
func (u *UnreliableConnectController) ReceivedConnected() bool {
	if u.state != HandshakeConnecting {
		return false
	}
	u.state = HandshakeConnected
	return true
}

// Reset returns to idle, for a new connection.
func (u *UnreliableConnectController) Reset() {
	u.state = HandshakeIdle
	u.retryCount = 0
}

func (u *UnreliableConnectController) Update() {
	if u.state != HandshakeConnecting {
		return
	}
	if u.clock.Since(u.startTime) < u.interval {
		return
	}
	if u.retryCount >= u.maxRetries {
		u.state = HandshakeTimedOut
		metrics.IncrCounterWithGroup("session", "handshake_timeout_total", 1)
		if u.onTimeout != nil {
			u.onTimeout()
		}
		return
	}
	u.retryCount++
	u.startTime = u.clock.Now()
	metrics.IncrCounterWithGroup("session", "handshake_retry_total", 1)
	u.sendOnce()
}

func (u *UnreliableConnectController) sendOnce() {
	if u.send != nil {
		// 发送失败等下一次重试
		_ = u.send()
	}
}
