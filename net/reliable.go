package net

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lcx/gamenet/log"
	"github.com/lcx/gamenet/metrics"
)

const _defaultLinger = 3 * time.Second

// ChannelState is the lifecycle of a reliable channel.
type ChannelState int32

const (
	StateOpen ChannelState = iota
	StateClosing
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ReliableChannelListener is called from the channel's receive goroutine.
// ReliableChannelDidClose is called exactly once and after the last
// ReliableChannelDidReceive. err is nil for a locally requested close.
// Nothing is delivered once Close has been called.
type ReliableChannelListener interface {
	ReliableChannelDidReceive(ch *ReliableChannel, c *MessageContainer)
	ReliableChannelDidClose(ch *ReliableChannel, err error)
}

// ReliableChannel owns one stream connection. Sends are framed into a
// pending buffer and handed to the writer goroutine by Flush, once per tick.
type ReliableChannel struct {
	id       uint64
	conn     net.Conn
	cfg      *TransportCfg
	listener ReliableChannelListener
	local    NetEndPoint
	remote   NetEndPoint

	state   atomic.Int32
	mu      sync.Mutex
	pending []byte
	err     error

	writeCh    chan []byte
	closing    chan struct{}
	done       chan struct{}
	startOnce  sync.Once
	finishOnce sync.Once

	lastReadTime  time.Time
	lastWriteTime time.Time
}

// NewReliableChannel wraps conn. Nothing is read or written until Start.
func NewReliableChannel(id uint64, conn net.Conn, cfg *TransportCfg, listener ReliableChannelListener) *ReliableChannel {
	if cfg == nil {
		cfg = DefaultTransportCfg()
	}
	return &ReliableChannel{
		id:       id,
		conn:     conn,
		cfg:      cfg,
		listener: listener,
		local:    EndPointFromAddr(conn.LocalAddr()),
		remote:   EndPointFromAddr(conn.RemoteAddr()),
		writeCh:  make(chan []byte, cfg.SendQueueSize),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *ReliableChannel) ID() uint64 { return c.id }

func (c *ReliableChannel) State() ChannelState { return ChannelState(c.state.Load()) }

func (c *ReliableChannel) LocalEndPoint() NetEndPoint { return c.local }

func (c *ReliableChannel) RemoteEndPoint() NetEndPoint { return c.remote }

// Done is closed once the channel reaches StateClosed.
func (c *ReliableChannel) Done() <-chan struct{} { return c.done }

func (c *ReliableChannel) MarshalLogObj(e *log.LogEvent) {
	e.Uint64("id", c.id).Str("remote", c.remote.String()).Str("state", c.State().String())
}

// Start launches the receive and send goroutines.
func (c *ReliableChannel) Start() {
	c.startOnce.Do(func() {
		go c.serveSend()
		go c.serveRecv()
	})
}

// Send frames m into the pending buffer. It fails with ErrChannelClosed
// once Close has been called. Overflowing MaxPendingBytes closes the
// channel, since the peer cannot keep up.
func (c *ReliableChannel) Send(m TypedMessage) error {
	c.mu.Lock()
	if c.State() != StateOpen {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	before := len(c.pending)
	b, err := PackFrame(c.pending, m, c.cfg.MaxFrameSize)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if len(b) > c.cfg.MaxPendingBytes {
		c.pending = b[:before]
		c.mu.Unlock()
		metrics.IncrCounterWithGroup("net", "reliable_send_overflow_total", 1)
		c.shutdown(&TransportError{Op: "send", Err: ErrSendQueueFull})
		return ErrSendQueueFull
	}
	c.pending = b
	c.mu.Unlock()
	return nil
}

// Flush hands pending bytes to the writer without blocking. When the
// writer is backed up the bytes stay pending for the next tick.
func (c *ReliableChannel) Flush() {
	if c.State() != StateOpen {
		return
	}
	c.mu.Lock()
	c.flushLocked()
	c.mu.Unlock()
}

func (c *ReliableChannel) flushLocked() bool {
	if len(c.pending) == 0 {
		return true
	}
	select {
	case c.writeCh <- c.pending:
		c.pending = nil
		return true
	default:
		metrics.IncrCounterWithGroup("net", "reliable_flush_backlog_total", 1)
		return false
	}
}

// Close moves Open to Closing. Pending bytes get up to WriteTimeout to
// reach the peer, then the socket is released. Calling Close again, or on a
// channel the peer already dropped, is a no-op.
func (c *ReliableChannel) Close() error {
	c.shutdown(nil)
	return nil
}

// CloseWithError is Close with a cause, reported to the listener. Used when
// a frame decodes at the transport level but not at the session level.
func (c *ReliableChannel) CloseWithError(err error) {
	c.shutdown(err)
}

func (c *ReliableChannel) shutdown(cause error) {
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		return
	}

	c.mu.Lock()
	if cause != nil && c.err == nil {
		c.err = cause
	}
	if !c.flushLocked() {
		log.Warn().Obj("channel", c).Int("dropped", len(c.pending)).Msg("reliable close dropped pending bytes")
		c.pending = nil
	}
	c.mu.Unlock()
	close(c.closing)

	notStarted := false
	c.startOnce.Do(func() { notStarted = true })
	if notStarted {
		c.finish()
	}
}

func (c *ReliableChannel) setErr(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

func (c *ReliableChannel) finish() {
	c.finishOnce.Do(func() {
		prev := ChannelState(c.state.Swap(int32(StateClosed)))
		_ = c.conn.Close()
		close(c.done)

		c.mu.Lock()
		err := c.err
		c.mu.Unlock()

		metrics.IncrCounterWithDimGroup("net", "reliable_close_total", 1, metrics.Dimension{"initiator": closeInitiator(prev, err)})
		if err != nil {
			log.Info().Obj("channel", c).Err(err).Msg("reliable channel closed")
		} else {
			log.Debug().Obj("channel", c).Msg("reliable channel closed")
		}

		if c.listener != nil {
			c.listener.ReliableChannelDidClose(c, err)
		}
	})
}

func closeInitiator(prev ChannelState, err error) string {
	switch {
	case prev == StateClosing && err == nil:
		return "local"
	case IsProtocolError(err):
		return "protocol"
	default:
		return "transport"
	}
}

func (c *ReliableChannel) serveRecv() {
	defer c.finish()

	buf := make([]byte, c.cfg.ReadBufferSize)
	fr := NewFrameReader(c.cfg.MaxFrameSize)
	for {
		c.setReadDeadline()
		n, err := c.conn.Read(buf)
		if n > 0 {
			metrics.IncrCounterWithGroup("net", "reliable_bytes_in_total", metrics.Value(n))
		}
		// 关闭中只排空 socket, 不再投递
		if n > 0 && c.State() == StateOpen {
			fr.Feed(buf[:n])
			for c.State() == StateOpen {
				container, perr := fr.Next()
				if perr != nil {
					metrics.IncrCounterWithGroup("net", "protocol_error_total", 1)
					log.Warn().Obj("channel", c).Err(perr).Msg("reliable channel protocol error")
					c.setErr(perr)
					return
				}
				if container == nil {
					break
				}
				metrics.IncrCounterWithGroup("net", "reliable_frames_in_total", 1)
				if c.listener != nil {
					c.listener.ReliableChannelDidReceive(c, container)
				}
			}
		}
		if err != nil {
			if c.State() == StateOpen {
				c.setErr(&TransportError{Op: "read", Err: err})
			}
			return
		}
	}
}

func (c *ReliableChannel) serveSend() {
	for {
		select {
		case b := <-c.writeCh:
			if !c.write(b) {
				return
			}
		case <-c.closing:
			c.drain()
			return
		case <-c.done:
			return
		}
	}
}

// drain writes whatever is queued within WriteTimeout, then half-closes
// the stream so the peer reads everything before EOF. The receive
// goroutine finishes the channel when the peer hangs up or the linger
// deadline passes.
func (c *ReliableChannel) drain() {
	wt := c.cfg.writeTimeout()
	if wt <= 0 {
		wt = _defaultLinger
	}
	deadline := time.Now().Add(wt)
	_ = c.conn.SetWriteDeadline(deadline)

	for {
		select {
		case b := <-c.writeCh:
			if _, err := c.conn.Write(b); err != nil {
				c.setErr(&TransportError{Op: "write", Err: err})
				_ = c.conn.Close()
				return
			}
			metrics.IncrCounterWithGroup("net", "reliable_bytes_out_total", metrics.Value(len(b)))
		default:
			if hc, ok := c.conn.(interface{ CloseWrite() error }); ok {
				_ = c.conn.SetReadDeadline(deadline)
				if hc.CloseWrite() == nil {
					return
				}
			}
			_ = c.conn.Close()
			return
		}
	}
}

func (c *ReliableChannel) write(b []byte) bool {
	c.setWriteDeadline()
	if _, err := c.conn.Write(b); err != nil {
		c.setErr(&TransportError{Op: "write", Err: err})
		_ = c.conn.Close()
		return false
	}
	metrics.IncrCounterWithGroup("net", "reliable_bytes_out_total", metrics.Value(len(b)))
	return true
}

// Deadlines are refreshed at most once a second; only one goroutine
// touches each timestamp.
func (c *ReliableChannel) setReadDeadline() {
	if c.State() != StateOpen {
		return
	}
	if idle := c.cfg.idleTimeout(); idle > 0 {
		n := time.Now()
		if n.Sub(c.lastReadTime) > time.Second {
			c.lastReadTime = n
			_ = c.conn.SetReadDeadline(n.Add(idle))
		}
	}
}

func (c *ReliableChannel) setWriteDeadline() {
	if idle := c.cfg.idleTimeout(); idle > 0 {
		n := time.Now()
		if n.Sub(c.lastWriteTime) > time.Second {
			c.lastWriteTime = n
			_ = c.conn.SetWriteDeadline(n.Add(idle))
		}
	}
}
