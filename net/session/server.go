package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/lcx/gamenet/config"
	"github.com/lcx/gamenet/log"
	"github.com/lcx/gamenet/metrics"
	"github.com/lcx/gamenet/net"
)

const _registrarTimeout = 5 * time.Second

// ServerListener receives server events on the main loop.
type ServerListener interface {
	// PlayerDidConnect is called with net.Reliable once the player is
	// announced, and with net.Unreliable when its first connect datagram
	// is acknowledged.
	PlayerDidConnect(p *Player, channel net.Channel)
	PlayerDidDisconnect(p *Player)
	DidReceiveClientMessage(c *net.MessageContainer, p *Player)
}

// Registrar publishes a running server, e.g. to service discovery.
type Registrar interface {
	Register(ctx context.Context, addr net.NetEndPoint) error
	Deregister(ctx context.Context) error
}

// ServerOption configures a GameServer.
type ServerOption func(*GameServer)

// WithServerClock replaces the wall clock, for tests.
func WithServerClock(c clock.Clock) ServerOption {
	return func(s *GameServer) {
		s.clock = c
	}
}

// WithRegistrar registers the server once it is listening.
func WithRegistrar(r Registrar) ServerOption {
	return func(s *GameServer) {
		s.registrar = r
	}
}

// WithServerLogger sets the logger players derive theirs from.
func WithServerLogger(l *log.GameLogger) ServerOption {
	return func(s *GameServer) {
		s.logger = l
	}
}

// GameServer owns the network server, the player collection and the ping
// controller. Network events are turned into executors and run by Update,
// so the collection is only touched from the goroutine calling Update.
type GameServer struct {
	cfg        *ServerCfg
	clock      clock.Clock
	registrar  Registrar
	logger     *log.GameLogger
	listener   ServerListener
	network    *net.NetworkServer
	dispatcher *Dispatcher
	router     *ServerRouter

	acceptLimiter *net.AcceptLimiter
	recvLimiter   *net.RecvLimiter

	players   *PlayerCollection[int32, *Player]
	byChannel *net.Registry[uint64, *Player]
	ping      *PingController
	nextID    int32
}

// NewGameServer ...
func NewGameServer(cfg *ServerCfg, opts ...ServerOption) *GameServer {
	if cfg == nil {
		cfg = DefaultServerCfg()
	}
	s := &GameServer{
		cfg:        cfg,
		dispatcher: NewDispatcher("server"),
		players:    NewPlayerCollection[int32, *Player](),
		byChannel:  net.NewRegistry[uint64, *Player](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.logger == nil {
		s.logger = log.Default()
	}

	s.ping = NewPingController(s.clock, cfg.pingCoolDown())
	s.players.SetObserver(s.ping)
	s.router = newServerRouter(s, s.dispatcher)
	s.acceptLimiter = net.NewAcceptLimiter(cfg.AcceptRate)
	s.recvLimiter = net.NewRecvLimiter(cfg.UnreliableRecvRate, cfg.UnreliableRecvBurst)
	s.network = net.NewNetworkServer(s,
		net.WithServerTransportCfg(cfg.transport()),
		net.WithAcceptLimiter(s.acceptLimiter),
		net.WithFilters(s.recvLimiter.Filter),
		net.WithUnidentifiedCacheSize(cfg.UnidentifiedCacheSize),
	)
	return s
}

// NewGameServerWithConfigManager loads game_server from configManager and
// follows its hot reloads of rates and ping cool-down.
func NewGameServerWithConfigManager(configManager config.ConfigManager, opts ...ServerOption) (*GameServer, error) {
	if configManager == nil {
		return nil, errors.New("configManager cannot be nil")
	}
	cfg := DefaultServerCfg()
	if err := configManager.LoadConfig(_serverConfigName, cfg); err != nil {
		return nil, fmt.Errorf("failed to load %s config: %w", _serverConfigName, err)
	}
	s := NewGameServer(cfg, opts...)
	configManager.AddChangeListener(s)
	return s, nil
}

// GetConfigName implements config.ConfigChangeListener.
func (s *GameServer) GetConfigName() string {
	return _serverConfigName
}

// OnConfigChanged applies the parts of ServerCfg that can change at
// runtime. Listen address and transport sizes need a restart.
func (s *GameServer) OnConfigChanged(configName string, newConfig, _ config.Config) error {
	if configName != _serverConfigName {
		return nil
	}
	cfg, ok := newConfig.(*ServerCfg)
	if !ok {
		return fmt.Errorf("invalid configuration type for %s", _serverConfigName)
	}
	s.acceptLimiter.Reload(cfg.AcceptRate)
	s.recvLimiter.Reload(cfg.UnreliableRecvRate, cfg.UnreliableRecvBurst)
	s.ping.SetCoolDown(cfg.pingCoolDown())
	log.Info().Str("configName", configName).Int("acceptRate", cfg.AcceptRate).
		Int("recvRate", cfg.UnreliableRecvRate).Float64("pingCoolDown", cfg.PingCoolDown).
		Msg("game server configuration updated")
	return nil
}

// SetListener must be called before Start.
func (s *GameServer) SetListener(l ServerListener) { s.listener = l }

// Players is the read-only player view. Main loop only.
func (s *GameServer) Players() ReadOnlyPlayerCollection[int32, *Player] { return s.players }

func (s *GameServer) PingController() *PingController { return s.ping }

func (s *GameServer) Network() *net.NetworkServer { return s.network }

// Addr is the bound address, valid after Start.
func (s *GameServer) Addr() net.NetEndPoint { return s.network.Addr() }

// Start binds the configured host and port.
func (s *GameServer) Start() error {
	if err := s.network.Start(s.cfg.Host, s.cfg.Port); err != nil {
		return err
	}
	if s.registrar != nil {
		ctx, cancel := context.WithTimeout(context.Background(), _registrarTimeout)
		defer cancel()
		if err := s.registrar.Register(ctx, s.Addr()); err != nil {
			log.Warn().Obj("addr", s.Addr()).Err(err).Msg("service registration failed")
		}
	}
	log.Info().Obj("addr", s.Addr()).Msg("game server started")
	return nil
}

// Stop deregisters and closes every socket. Disconnect callbacks of the
// remaining players run on the next Update.
func (s *GameServer) Stop() error {
	var err error
	if s.registrar != nil {
		ctx, cancel := context.WithTimeout(context.Background(), _registrarTimeout)
		err = multierr.Append(err, s.registrar.Deregister(ctx))
		cancel()
	}
	err = multierr.Append(err, s.network.Stop())
	return err
}

// Update runs one tick: queued executors, due pings, then socket flush.
func (s *GameServer) Update() {
	s.dispatcher.Drain()
	s.ping.Update()
	s.network.Flush()
}

// SendBroadcast sends m to every player. Errors of individual players are
// combined; the rest still get the message.
func (s *GameServer) SendBroadcast(m net.TypedMessage, channel net.Channel) error {
	return s.SendBroadcastWhere(m, nil, channel)
}

// SendBroadcastWhere sends m to the players pred accepts. A nil pred
// accepts everyone.
func (s *GameServer) SendBroadcastWhere(m net.TypedMessage, pred func(*Player) bool, channel net.Channel) error {
	var err error
	s.players.ForEach(func(p *Player) {
		if pred == nil || pred(p) {
			err = multierr.Append(err, p.Send(m, channel))
		}
	})
	return err
}

// DidAcceptChannel implements net.NetworkServerListener.
func (s *GameServer) DidAcceptChannel(ch *net.ReliableChannel) {
	s.dispatcher.Enqueue(func() { s.accept(ch) })
}

// ChannelDidClose implements net.NetworkServerListener.
func (s *GameServer) ChannelDidClose(ch *net.ReliableChannel, err error) {
	s.dispatcher.Enqueue(func() { s.disconnect(ch, err) })
}

// DidReceive implements net.NetworkServerListener.
func (s *GameServer) DidReceive(d *net.Delivery) {
	p, ok := s.byChannel.Get(d.Source.ID())
	if !ok {
		return
	}
	s.router.Route(d, p)
}

// DidReceiveUnidentified implements net.NetworkServerListener. Such
// datagrams are dropped; the client resends after identifying.
func (s *GameServer) DidReceiveUnidentified(c *net.MessageContainer, from net.NetEndPoint) {
	log.Trace().Obj("msg", c).Obj("from", from).Msg("datagram from unidentified endpoint")
}

// accept adds the player and announces it in one executor, so no executor
// sees a half-added player. The channel starts reading only afterwards.
func (s *GameServer) accept(ch *net.ReliableChannel) {
	id := s.nextID
	s.nextID++
	p := newPlayer(id, ch, s.network, s.logger)

	s.players.Add(id, p)
	s.byChannel.Set(ch.ID(), p)

	for _, each := range s.players.Values() {
		s.sendTo(each, &ConnectedPlayerMessage{PlayerID: id, IsMe: each == p})
		if each != p {
			s.sendTo(p, &ConnectedPlayerMessage{PlayerID: each.id})
		}
	}

	metrics.UpdateGaugeWithGroup("session", "players_online", metrics.Value(s.players.Len()))
	p.Logger().Info().Obj("player", p).Obj("remote", ch.RemoteEndPoint()).Int("online", s.players.Len()).Msg("player connected")

	if s.listener != nil {
		s.listener.PlayerDidConnect(p, net.Reliable)
	}
	ch.Start()
}

func (s *GameServer) disconnect(ch *net.ReliableChannel, cause error) {
	p, ok := s.byChannel.Delete(ch.ID())
	if !ok {
		return
	}
	s.players.Remove(p.id)
	s.network.UnregisterEndPoint(ch)

	if err := s.SendBroadcast(&DisconnectedPlayerMessage{PlayerID: p.id}, net.Reliable); err != nil {
		log.Debug().Int32("playerId", p.id).Err(err).Msg("disconnect broadcast")
	}

	metrics.UpdateGaugeWithGroup("session", "players_online", metrics.Value(s.players.Len()))
	p.Logger().Info().Obj("player", p).Err(cause).Int("online", s.players.Len()).Msg("player disconnected")

	if s.listener != nil {
		s.listener.PlayerDidDisconnect(p)
	}
}

func (s *GameServer) sendTo(p *Player, m net.TypedMessage) {
	if err := p.Send(m, net.Reliable); err != nil {
		p.Logger().Debug().Stringer("msg", m.Type()).Err(err).Msg("send failed")
	}
}

// identify binds the announced datagram endpoint to p. A second identify
// moves the binding. A player whose endpoint is claimed by p goes back to
// reliable only until it identifies again.
func (s *GameServer) identify(p *Player, m *NatIdentifierMessage) {
	if _, ok := s.players.Get(p.id); !ok {
		return
	}
	ep, err := net.NewNetEndPoint(m.RemoteIP, int(m.Port))
	if err != nil {
		p.Logger().Warn().Str("ip", m.RemoteIP).Int32("port", m.Port).Err(err).Msg("bad nat identifier")
		return
	}
	p.identify(ep)
	dropped, displaced := s.network.RegisterEndPoint(ep, p.reliable)
	if displaced != nil {
		if other, ok := s.byChannel.Get(displaced.ID()); ok && other != p {
			other.forgetEndPoint()
			metrics.IncrCounterWithGroup("session", "endpoint_takeover_total", 1)
			other.Logger().Warn().Obj("player", other).Obj("udp", ep).Int32("by", p.id).Msg("datagram endpoint taken over")
		}
	}
	metrics.IncrCounterWithGroup("session", "identified_total", 1)
	p.Logger().Info().Obj("player", p).Int("droppedBefore", dropped).Msg("player identified")
}

// unreliableConnect acknowledges every connect datagram, since an earlier
// acknowledgement may have been lost.
func (s *GameServer) unreliableConnect(p *Player) {
	if _, ok := s.players.Get(p.id); !ok {
		return
	}
	if err := p.Send(&ConnectAckMessage{}, net.Unreliable); err != nil {
		p.Logger().Debug().Err(err).Msg("connect ack")
		return
	}
	if p.unreliableConnected {
		return
	}
	p.unreliableConnected = true
	p.Logger().Debug().Obj("player", p).Msg("unreliable connected")
	if s.listener != nil {
		s.listener.PlayerDidConnect(p, net.Unreliable)
	}
}

func (s *GameServer) pong(p *Player) {
	if _, ok := s.players.Get(p.id); !ok {
		return
	}
	if _, ok := s.ping.PongReceived(p); !ok {
		return
	}
	result := &PingResultMessage{PlayerID: p.id, Value: p.mostRecentPingValue}
	_ = s.SendBroadcastWhere(result, func(each *Player) bool { return each.identified }, net.Unreliable)
}

func (s *GameServer) receivedClientMessage(c *net.MessageContainer, p *Player) {
	if _, ok := s.players.Get(p.id); !ok {
		return
	}
	if s.listener != nil {
		s.listener.DidReceiveClientMessage(c, p)
	}
}
