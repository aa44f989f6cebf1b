package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/lcx/gamenet/config"
	"github.com/lcx/gamenet/log"
	"github.com/lcx/gamenet/metrics"
	"github.com/lcx/gamenet/net"
	"github.com/lcx/gamenet/net/nat"
)

const _defaultResolveTimeout = 3 * time.Second

var (
	// ErrHandshakeTimeout is reported when the unreliable connect ran out
	// of retries. The reliable channel stays up.
	ErrHandshakeTimeout = errors.New("session: unreliable handshake timed out")
	// ErrNotConnected ...
	ErrNotConnected = net.ErrNotConnected
)

// ClientListener receives client events on the main loop.
type ClientListener interface {
	// DidConnect is called with net.Reliable when the stream is up and
	// with net.Unreliable when the server acknowledged the handshake.
	DidConnect(channel net.Channel)
	// ConnectDidTimeout is called with net.Reliable when the dial failed
	// and with net.Unreliable and ErrHandshakeTimeout when the handshake
	// ran out of retries.
	ConnectDidTimeout(channel net.Channel, err error)
	DidDisconnect(err error)
	DidReceiveMessage(c *net.MessageContainer)
	PlayerDidConnect(p *RemotePlayer)
	DidIdentifyLocalPlayer(p *RemotePlayer)
	PlayerDidDisconnect(p *RemotePlayer)
}

// ClientOption configures a GameClient.
type ClientOption func(*GameClient)

// WithClientClock replaces the wall clock, for tests.
func WithClientClock(c clock.Clock) ClientOption {
	return func(g *GameClient) {
		g.clock = c
	}
}

// WithResolver replaces how the client finds its external address.
func WithResolver(r nat.Resolver) ClientOption {
	return func(g *GameClient) {
		g.resolver = r
	}
}

// WithClientFilters inspects deliveries on the I/O goroutine before they
// are routed.
func WithClientFilters(fs ...net.Filter) ClientOption {
	return func(g *GameClient) {
		g.filters = append(g.filters, fs...)
	}
}

// GameClient mirrors the server's player list and runs the unreliable
// handshake. Like GameServer, state changes happen in Update.
type GameClient struct {
	cfg        *ClientCfg
	clock      clock.Clock
	resolver   nat.Resolver
	filters    []net.Filter
	listener   ClientListener
	network    *net.NetworkClient
	dispatcher *Dispatcher
	router     *ClientRouter
	handshake  *UnreliableConnectController

	players     *PlayerCollection[int32, *RemotePlayer]
	localPlayer *RemotePlayer
}

// NewGameClient ...
func NewGameClient(cfg *ClientCfg, opts ...ClientOption) *GameClient {
	if cfg == nil {
		cfg = DefaultClientCfg()
	}
	c := &GameClient{
		cfg:        cfg,
		dispatcher: NewDispatcher("client"),
		players:    NewPlayerCollection[int32, *RemotePlayer](),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.resolver == nil {
		c.resolver = defaultResolver(cfg)
	}
	c.router = newClientRouter(c, c.dispatcher)
	c.handshake = NewUnreliableConnectController(c.clock,
		seconds(cfg.SecondsBetweenRetries), cfg.MaximumNumberOfRetries,
		func() error { return c.network.Send(&ConnectMessage{}, net.Unreliable) },
		c.handshakeTimedOut,
	)
	c.network = net.NewNetworkClient(c,
		net.WithClientTransportCfg(cfg.transport()),
		net.WithConnectTimeout(seconds(cfg.ConnectTimeout)),
		net.WithClientFilters(c.filters...),
	)
	return c
}

// NewGameClientWithConfigManager loads game_client from configManager.
func NewGameClientWithConfigManager(configManager config.ConfigManager, opts ...ClientOption) (*GameClient, error) {
	if configManager == nil {
		return nil, errors.New("configManager cannot be nil")
	}
	cfg := DefaultClientCfg()
	if err := configManager.LoadConfig(_clientConfigName, cfg); err != nil {
		return nil, fmt.Errorf("failed to load %s config: %w", _clientConfigName, err)
	}
	return NewGameClient(cfg, opts...), nil
}

func defaultResolver(cfg *ClientCfg) nat.Resolver {
	if len(cfg.StunServers) == 0 {
		return nat.LocalResolver{}
	}
	return nat.Chain{nat.NewSTUNResolver(cfg.StunServers), nat.LocalResolver{}}
}

// SetListener must be called before Connect.
func (c *GameClient) SetListener(l ClientListener) { c.listener = l }

// Players is the read-only player view, local player included.
func (c *GameClient) Players() ReadOnlyPlayerCollection[int32, *RemotePlayer] { return c.players }

// LocalPlayer is nil until the server identified us.
func (c *GameClient) LocalPlayer() *RemotePlayer { return c.localPlayer }

// HandshakeState ...
func (c *GameClient) HandshakeState() HandshakeState { return c.handshake.State() }

// Network exposes the underlying network client.
func (c *GameClient) Network() *net.NetworkClient { return c.network }

// Connect dials host:port; empty host or zero port fall back to the
// configured ones.
func (c *GameClient) Connect(ctx context.Context, host string, port int) error {
	if host == "" {
		host = c.cfg.Host
	}
	if port == 0 {
		port = c.cfg.Port
	}
	return c.network.Connect(ctx, host, port)
}

// Disconnect closes the connection. DidDisconnect follows on Update.
func (c *GameClient) Disconnect() { c.network.Disconnect() }

func (c *GameClient) Send(m net.TypedMessage, channel net.Channel) error {
	return c.network.Send(m, channel)
}

// Update runs one tick: queued executors, handshake retries, then flush.
func (c *GameClient) Update() {
	c.dispatcher.Drain()
	c.handshake.Update()
	c.network.Flush()
}

// DidConnect implements net.NetworkClientListener. It runs on the dial
// goroutine before the channel reads anything, so the address lookup may
// block here without reordering messages.
func (c *GameClient) DidConnect(ch *net.ReliableChannel) {
	timeout := seconds(c.cfg.ResolveTimeout)
	if timeout <= 0 {
		timeout = _defaultResolveTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ip, err := c.resolver.Resolve(ctx, ch.LocalEndPoint().Addr())
	cancel()
	udp := c.network.LocalUnreliableEndPoint()

	c.dispatcher.Enqueue(func() {
		if c.listener != nil {
			c.listener.DidConnect(net.Reliable)
		}
		if err != nil {
			metrics.IncrCounterWithGroup("session", "nat_resolve_fail_total", 1)
			log.Warn().Obj("channel", ch).Err(err).Msg("external address unknown, staying reliable only")
			return
		}
		id := &NatIdentifierMessage{RemoteIP: ip.String(), Port: int32(udp.Port())}
		if serr := c.network.Send(id, net.Reliable); serr != nil {
			log.Warn().Err(serr).Msg("send nat identifier")
			return
		}
		log.Info().Str("ip", id.RemoteIP).Int32("port", id.Port).Msg("nat identifier sent")
		c.handshake.Connect()
	})
}

// DidFailToConnect implements net.NetworkClientListener.
func (c *GameClient) DidFailToConnect(err error) {
	c.dispatcher.Enqueue(func() {
		if c.listener != nil {
			c.listener.ConnectDidTimeout(net.Reliable, err)
		}
	})
}

// DidDisconnect implements net.NetworkClientListener.
func (c *GameClient) DidDisconnect(_ *net.ReliableChannel, err error) {
	c.dispatcher.Enqueue(func() {
		c.handshake.Reset()
		c.players.Clear()
		c.localPlayer = nil
		log.Info().Err(err).Msg("disconnected")
		if c.listener != nil {
			c.listener.DidDisconnect(err)
		}
	})
}

// DidReceive implements net.NetworkClientListener.
func (c *GameClient) DidReceive(d *net.Delivery) {
	c.router.Route(d)
}

func (c *GameClient) handshakeTimedOut() {
	log.Warn().Int("retries", c.handshake.Retries()).Msg("unreliable handshake timed out")
	if c.listener != nil {
		c.listener.ConnectDidTimeout(net.Unreliable, ErrHandshakeTimeout)
	}
}

func (c *GameClient) unreliableConnected() {
	if !c.handshake.ReceivedConnected() {
		return
	}
	log.Info().Int("retries", c.handshake.Retries()).Msg("unreliable connected")
	if c.listener != nil {
		c.listener.DidConnect(net.Unreliable)
	}
}

func (c *GameClient) connectedPlayer(m *ConnectedPlayerMessage) {
	if _, ok := c.players.Get(m.PlayerID); ok {
		return
	}
	p := &RemotePlayer{id: m.PlayerID, isLocalPlayer: m.IsMe}
	c.players.Add(p.id, p)
	if c.listener != nil {
		c.listener.PlayerDidConnect(p)
	}
	if p.isLocalPlayer {
		c.localPlayer = p
		log.Info().Int32("playerId", p.id).Msg("local player identified")
		if c.listener != nil {
			c.listener.DidIdentifyLocalPlayer(p)
		}
	}
}

func (c *GameClient) disconnectedPlayer(m *DisconnectedPlayerMessage) {
	p, ok := c.players.Remove(m.PlayerID)
	if !ok {
		return
	}
	if c.listener != nil {
		c.listener.PlayerDidDisconnect(p)
	}
}

func (c *GameClient) pingResult(m *PingResultMessage) {
	if p, ok := c.players.Get(m.PlayerID); ok {
		p.mostRecentPingValue = m.Value
	}
}

func (c *GameClient) pinged() {
	if c.localPlayer != nil {
		c.localPlayer.lastPingTime = c.clock.Now()
	}
}

// replyPong runs on the I/O goroutine and flushes right away, so the
// measured round trip does not include a client tick.
func (c *GameClient) replyPong() {
	if err := c.network.Send(&PongMessage{}, net.Reliable); err != nil {
		log.Debug().Err(err).Msg("pong")
		return
	}
	c.network.Flush()
}

func (c *GameClient) receivedMessage(m *net.MessageContainer) {
	if c.listener != nil {
		c.listener.DidReceiveMessage(m)
	}
}
