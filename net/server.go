package net

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/lcx/gamenet/log"
	"github.com/lcx/gamenet/metrics"
)

const _defaultUnidentifiedCacheSize = 1024

// NetworkServerListener receives server events. Every method is called from
// an I/O goroutine; implementations hand the work over to their own loop.
type NetworkServerListener interface {
	// DidAcceptChannel is called for every new stream. The channel is not
	// started; the listener calls Start once it is ready for its messages.
	DidAcceptChannel(ch *ReliableChannel)
	ChannelDidClose(ch *ReliableChannel, err error)
	DidReceive(d *Delivery)
	// DidReceiveUnidentified is called for datagrams from an endpoint no
	// channel has claimed yet. They are otherwise dropped.
	DidReceiveUnidentified(c *MessageContainer, from NetEndPoint)
}

// ServerOption configures a NetworkServer.
type ServerOption func(*NetworkServer)

// WithServerTransportCfg ...
func WithServerTransportCfg(cfg *TransportCfg) ServerOption {
	return func(s *NetworkServer) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithFilters appends inbound filters, run on the I/O goroutine in order.
func WithFilters(fs ...Filter) ServerOption {
	return func(s *NetworkServer) {
		s.filters = append(s.filters, fs...)
	}
}

// WithAcceptLimiter paces the accept loop.
func WithAcceptLimiter(l *AcceptLimiter) ServerOption {
	return func(s *NetworkServer) {
		s.accept = l
	}
}

// WithUnidentifiedCacheSize bounds how many unknown datagram sources are
// tracked for drop accounting.
func WithUnidentifiedCacheSize(n int) ServerOption {
	return func(s *NetworkServer) {
		if n > 0 {
			s.unidentifiedSize = n
		}
	}
}

// NetworkServer listens for streams and datagrams on the same port. Each
// accepted stream becomes a ReliableChannel; datagrams are attributed to a
// channel once its endpoint has been registered.
type NetworkServer struct {
	cfg              *TransportCfg
	listener         NetworkServerListener
	filters          FilterChain
	accept           *AcceptLimiter
	unidentifiedSize int

	nextID   atomic.Uint64
	channels *Registry[uint64, *ReliableChannel]

	epMu         sync.Mutex
	endpoints    *Registry[NetEndPoint, *ReliableChannel]
	boundTo      map[uint64]NetEndPoint
	unidentified *lru.Cache[NetEndPoint, int]

	ln     net.Listener
	udp    *UnreliableChannel
	cancel context.CancelFunc
	group  *errgroup.Group

	stopOnce sync.Once
	stopErr  error
}

// NewNetworkServer ...
func NewNetworkServer(listener NetworkServerListener, opts ...ServerOption) *NetworkServer {
	s := &NetworkServer{
		cfg:              DefaultTransportCfg(),
		listener:         listener,
		unidentifiedSize: _defaultUnidentifiedCacheSize,
		channels:         NewRegistry[uint64, *ReliableChannel](),
		endpoints:        NewRegistry[NetEndPoint, *ReliableChannel](),
		boundTo:          make(map[uint64]NetEndPoint),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.accept == nil {
		s.accept = NewAcceptLimiter(0)
	}
	// size is always positive here, so New cannot fail
	s.unidentified, _ = lru.New[NetEndPoint, int](s.unidentifiedSize)
	return s
}

// Start binds host:port for streams and the same resolved port for
// datagrams. Port 0 picks a free port; Addr reports it.
func (s *NetworkServer) Start(host string, port int) error {
	metrics.IncrCounterWithGroup("net", "server_start_total", 1)

	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		metrics.IncrCounterWithDimGroup("net", "server_start_error_total", 1, metrics.Dimension{"error_type": "listen"})
		return &TransportError{Op: "listen", Err: err}
	}
	actual := EndPointFromAddr(ln.Addr()).Port()
	pc, err := net.ListenPacket("udp", net.JoinHostPort(host, strconv.Itoa(actual)))
	if err != nil {
		_ = ln.Close()
		metrics.IncrCounterWithDimGroup("net", "server_start_error_total", 1, metrics.Dimension{"error_type": "listen_packet"})
		return &TransportError{Op: "listen packet", Err: err}
	}
	if uc, ok := pc.(*net.UDPConn); ok && s.cfg.SocketBufferSize > 0 {
		if err := uc.SetReadBuffer(s.cfg.SocketBufferSize); err != nil {
			log.Warn().Int("size", s.cfg.SocketBufferSize).Err(err).Msg("set datagram read buffer")
		}
	}

	s.ln = ln
	s.udp = NewUnreliableChannel(pc, s.cfg, s)
	s.udp.Start()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.group, ctx = errgroup.WithContext(ctx)
	s.group.Go(func() error {
		return s.serve(ctx)
	})

	log.Info().Obj("addr", s.Addr()).Msg("network server started")
	return nil
}

// Addr is the bound stream address; datagrams use the same port.
func (s *NetworkServer) Addr() NetEndPoint {
	if s.ln == nil {
		return NetEndPoint{}
	}
	return EndPointFromAddr(s.ln.Addr())
}

func (s *NetworkServer) serve(ctx context.Context) error {
	for {
		s.accept.Take()
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			log.Error().Err(err).Msg("accept")
			return &TransportError{Op: "accept", Err: err}
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
			if n := s.cfg.SocketBufferSize; n > 0 {
				if err := tc.SetReadBuffer(n); err != nil {
					log.Error().Int("BufSize", n).Err(err).Msg("Set read buffer err")
				}
				if err := tc.SetWriteBuffer(n); err != nil {
					log.Error().Int("BufSize", n).Err(err).Msg("Set write buffer err")
				}
			}
		}

		ch := NewReliableChannel(s.nextID.Add(1), conn, s.cfg, s)
		s.channels.Set(ch.ID(), ch)
		metrics.IncrCounterWithGroup("net", "connection_success_total", 1)
		metrics.UpdateGaugeWithGroup("net", "current_connections", metrics.Value(s.channels.Len()))

		if s.listener != nil {
			s.listener.DidAcceptChannel(ch)
		}
	}
}

// Channels returns a snapshot of the open channels.
func (s *NetworkServer) Channels() []*ReliableChannel {
	return s.channels.Values()
}

// RegisterEndPoint binds datagrams from ep to ch. Registering again moves
// the binding: a channel owns at most one endpoint and an endpoint belongs
// to at most one channel, the latest registration winning. It returns how
// many datagrams from ep were dropped before the binding, and the channel
// that lost ep, if any.
func (s *NetworkServer) RegisterEndPoint(ep NetEndPoint, ch *ReliableChannel) (dropped int, displaced *ReliableChannel) {
	s.epMu.Lock()
	if old, ok := s.boundTo[ch.ID()]; ok && old != ep {
		s.endpoints.Delete(old)
	}
	if prev, replaced := s.endpoints.Set(ep, ch); replaced && prev != ch {
		delete(s.boundTo, prev.ID())
		displaced = prev
	}
	s.boundTo[ch.ID()] = ep
	s.epMu.Unlock()

	metrics.UpdateGaugeWithGroup("net", "identified_endpoints", metrics.Value(s.endpoints.Len()))

	dropped, ok := s.unidentified.Peek(ep)
	if ok {
		s.unidentified.Remove(ep)
	}
	return dropped, displaced
}

// UnregisterEndPoint removes whatever binding ch holds.
func (s *NetworkServer) UnregisterEndPoint(ch *ReliableChannel) {
	s.epMu.Lock()
	if ep, ok := s.boundTo[ch.ID()]; ok {
		delete(s.boundTo, ch.ID())
		if cur, ok := s.endpoints.Get(ep); ok && cur == ch {
			s.endpoints.Delete(ep)
		}
	}
	s.epMu.Unlock()
	metrics.UpdateGaugeWithGroup("net", "identified_endpoints", metrics.Value(s.endpoints.Len()))
}

// EndPointOf reports the datagram endpoint bound to ch.
func (s *NetworkServer) EndPointOf(ch *ReliableChannel) (NetEndPoint, bool) {
	s.epMu.Lock()
	defer s.epMu.Unlock()
	ep, ok := s.boundTo[ch.ID()]
	return ep, ok
}

// SendUnreliable sends one datagram to ep.
func (s *NetworkServer) SendUnreliable(m TypedMessage, ep NetEndPoint) error {
	if s.udp == nil {
		return ErrNotConnected
	}
	return s.udp.Send(m, ep)
}

// Flush pushes every channel's pending bytes to its writer.
func (s *NetworkServer) Flush() {
	s.channels.Range(func(_ uint64, ch *ReliableChannel) bool {
		ch.Flush()
		return true
	})
}

// Stop closes the listener, the datagram socket and every channel, then
// waits for the accept loop.
func (s *NetworkServer) Stop() error {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		var err error
		if s.ln != nil {
			err = multierr.Append(err, s.ln.Close())
		}
		if s.udp != nil {
			err = multierr.Append(err, s.udp.Close())
		}
		s.channels.Range(func(_ uint64, ch *ReliableChannel) bool {
			err = multierr.Append(err, ch.Close())
			return true
		})
		if s.group != nil {
			err = multierr.Append(err, s.group.Wait())
		}
		s.stopErr = err
		log.Info().Err(err).Msg("network server stopped")
	})
	return s.stopErr
}

// ReliableChannelDidReceive implements ReliableChannelListener.
func (s *NetworkServer) ReliableChannelDidReceive(ch *ReliableChannel, c *MessageContainer) {
	s.handle(&Delivery{Channel: Reliable, Container: c, Source: ch, From: ch.RemoteEndPoint()})
}

// ReliableChannelDidClose implements ReliableChannelListener.
func (s *NetworkServer) ReliableChannelDidClose(ch *ReliableChannel, err error) {
	s.channels.Delete(ch.ID())
	s.UnregisterEndPoint(ch)
	metrics.IncrCounterWithGroup("net", "connection_close_total", 1)
	metrics.UpdateGaugeWithGroup("net", "current_connections", metrics.Value(s.channels.Len()))
	if s.listener != nil {
		s.listener.ChannelDidClose(ch, err)
	}
}

// UnreliableChannelDidReceive implements UnreliableChannelListener.
func (s *NetworkServer) UnreliableChannelDidReceive(_ *UnreliableChannel, c *MessageContainer, from NetEndPoint) {
	ch, ok := s.endpoints.Get(from)
	if !ok {
		n, _ := s.unidentified.Get(from)
		s.unidentified.Add(from, n+1)
		dropDatagram("unidentified")
		if s.listener != nil {
			s.listener.DidReceiveUnidentified(c, from)
		}
		return
	}
	s.handle(&Delivery{Channel: Unreliable, Container: c, Source: ch, From: from})
}

func (s *NetworkServer) handle(d *Delivery) {
	if err := s.filters.Handle(d, s.deliver); err != nil {
		log.Warn().Obj("msg", d.Container).Str("channel", d.Channel.String()).Err(err).Msg("delivery filter")
	}
}

func (s *NetworkServer) deliver(d *Delivery) error {
	if s.listener != nil {
		s.listener.DidReceive(d)
	}
	return nil
}
