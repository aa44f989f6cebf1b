package net

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/lcx/gamenet/log"
	"github.com/lcx/gamenet/metrics"
)

const _defaultConnectTimeout = 10 * time.Second

// ErrAlreadyConnected is returned by Connect while a connection is pending
// or established.
var ErrAlreadyConnected = errors.New("net: already connected")

// NetworkClientListener receives client events from I/O goroutines.
type NetworkClientListener interface {
	// DidConnect runs before any message of the new connection is read, so
	// work it schedules is ordered ahead of every DidReceive.
	DidConnect(ch *ReliableChannel)
	DidFailToConnect(err error)
	DidDisconnect(ch *ReliableChannel, err error)
	DidReceive(d *Delivery)
}

// ClientOption configures a NetworkClient.
type ClientOption func(*NetworkClient)

// WithClientTransportCfg ...
func WithClientTransportCfg(cfg *TransportCfg) ClientOption {
	return func(c *NetworkClient) {
		if cfg != nil {
			c.cfg = cfg
		}
	}
}

// WithConnectTimeout bounds the stream dial.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *NetworkClient) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithClientFilters appends inbound filters, run on the I/O goroutine in
// order.
func WithClientFilters(fs ...Filter) ClientOption {
	return func(c *NetworkClient) {
		c.filters = append(c.filters, fs...)
	}
}

// NetworkClient holds one stream to the server and a datagram socket bound
// to the stream's local address. Datagrams from anywhere but the server are
// dropped.
type NetworkClient struct {
	cfg            *TransportCfg
	listener       NetworkClientListener
	filters        FilterChain
	connectTimeout time.Duration

	mu         sync.Mutex
	connecting bool
	cancel     context.CancelFunc
	reliable   *ReliableChannel
	udp        *UnreliableChannel
	server     NetEndPoint
}

// NewNetworkClient ...
func NewNetworkClient(listener NetworkClientListener, opts ...ClientOption) *NetworkClient {
	c := &NetworkClient{
		cfg:            DefaultTransportCfg(),
		listener:       listener,
		connectTimeout: _defaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials host:port in the background. The outcome arrives as
// DidConnect or DidFailToConnect.
func (c *NetworkClient) Connect(ctx context.Context, host string, port int) error {
	c.mu.Lock()
	if c.connecting || c.reliable != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	c.connecting = true
	c.cancel = cancel
	c.mu.Unlock()

	go c.dial(ctx, cancel, net.JoinHostPort(host, strconv.Itoa(port)))
	return nil
}

func (c *NetworkClient) dial(ctx context.Context, cancel context.CancelFunc, addr string) {
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		metrics.IncrCounterWithDimGroup("net", "dial_total", 1, metrics.Dimension{"result": "fail"})
		log.Warn().Str("addr", addr).Err(err).Msg("connect failed")
		if c.listener != nil {
			c.listener.DidFailToConnect(&TransportError{Op: "dial", Err: err})
		}
		return
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	pc, err := c.listenPacket(conn.LocalAddr())
	if err != nil {
		_ = conn.Close()
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		metrics.IncrCounterWithDimGroup("net", "dial_total", 1, metrics.Dimension{"result": "fail"})
		if c.listener != nil {
			c.listener.DidFailToConnect(&TransportError{Op: "listen packet", Err: err})
		}
		return
	}

	ch := NewReliableChannel(0, conn, c.cfg, c)
	udp := NewUnreliableChannel(pc, c.cfg, c)

	c.mu.Lock()
	c.connecting = false
	c.reliable = ch
	c.udp = udp
	c.server = ch.RemoteEndPoint()
	c.mu.Unlock()

	metrics.IncrCounterWithDimGroup("net", "dial_total", 1, metrics.Dimension{"result": "ok"})
	log.Info().Obj("channel", ch).Obj("udp", udp.LocalEndPoint()).Msg("connected")

	if c.listener != nil {
		c.listener.DidConnect(ch)
	}
	udp.Start()
	ch.Start()
}

// listenPacket prefers the stream's own local address so the datagram
// port matches; any free port will do when it is taken.
func (c *NetworkClient) listenPacket(local net.Addr) (net.PacketConn, error) {
	ep := EndPointFromAddr(local)
	pc, err := net.ListenUDP("udp", ep.UDPAddr())
	if err != nil {
		pc, err = net.ListenUDP("udp", &net.UDPAddr{IP: ep.Addr().AsSlice()})
		if err != nil {
			return nil, err
		}
	}
	if n := c.cfg.SocketBufferSize; n > 0 {
		if err := pc.SetReadBuffer(n); err != nil {
			log.Warn().Int("size", n).Err(err).Msg("set datagram read buffer")
		}
	}
	return pc, nil
}

// Reliable returns the current stream channel, or nil.
func (c *NetworkClient) Reliable() *ReliableChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reliable
}

// LocalUnreliableEndPoint is the local datagram address, or the zero
// endpoint when not connected.
func (c *NetworkClient) LocalUnreliableEndPoint() NetEndPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.udp == nil {
		return NetEndPoint{}
	}
	return c.udp.LocalEndPoint()
}

// Send queues m on the selected channel.
func (c *NetworkClient) Send(m TypedMessage, channel Channel) error {
	c.mu.Lock()
	ch, udp, server := c.reliable, c.udp, c.server
	c.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}
	if channel == Unreliable {
		return udp.Send(m, server)
	}
	return ch.Send(m)
}

// Flush hands pending stream bytes to the writer.
func (c *NetworkClient) Flush() {
	if ch := c.Reliable(); ch != nil {
		ch.Flush()
	}
}

// Disconnect closes the connection, or aborts a pending dial.
func (c *NetworkClient) Disconnect() {
	c.mu.Lock()
	ch, cancel := c.reliable, c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if ch != nil {
		_ = ch.Close()
	}
}

// ReliableChannelDidReceive implements ReliableChannelListener.
func (c *NetworkClient) ReliableChannelDidReceive(ch *ReliableChannel, m *MessageContainer) {
	c.handle(&Delivery{Channel: Reliable, Container: m, Source: ch, From: ch.RemoteEndPoint()})
}

// ReliableChannelDidClose implements ReliableChannelListener.
func (c *NetworkClient) ReliableChannelDidClose(ch *ReliableChannel, err error) {
	var udp *UnreliableChannel
	c.mu.Lock()
	if c.reliable == ch {
		udp = c.udp
		c.reliable = nil
		c.udp = nil
		c.server = NetEndPoint{}
	}
	c.mu.Unlock()
	if udp != nil {
		_ = udp.Close()
	}
	if c.listener != nil {
		c.listener.DidDisconnect(ch, err)
	}
}

// UnreliableChannelDidReceive implements UnreliableChannelListener.
func (c *NetworkClient) UnreliableChannelDidReceive(_ *UnreliableChannel, m *MessageContainer, from NetEndPoint) {
	c.mu.Lock()
	ch, server := c.reliable, c.server
	c.mu.Unlock()
	if ch == nil || from != server {
		dropDatagram("foreign_source")
		return
	}
	c.handle(&Delivery{Channel: Unreliable, Container: m, Source: ch, From: from})
}

func (c *NetworkClient) handle(d *Delivery) {
	if err := c.filters.Handle(d, c.deliver); err != nil {
		log.Warn().Obj("msg", d.Container).Str("channel", d.Channel.String()).Err(err).Msg("delivery filter")
	}
}

func (c *NetworkClient) deliver(d *Delivery) error {
	if c.listener != nil {
		c.listener.DidReceive(d)
	}
	return nil
}
