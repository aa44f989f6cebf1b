package session

import (
	"github.com/lcx/gamenet/log"
	"github.com/lcx/gamenet/metrics"
	"github.com/lcx/gamenet/net"
)

// ServerRouter runs on I/O goroutines. It decodes protocol messages and
// enqueues their executors; anything else is enqueued for the listener
// as is.
type ServerRouter struct {
	server     *GameServer
	dispatcher *Dispatcher
}

func newServerRouter(s *GameServer, d *Dispatcher) *ServerRouter {
	return &ServerRouter{server: s, dispatcher: d}
}

// Route handles one delivery from p.
func (r *ServerRouter) Route(d *net.Delivery, p *Player) {
	var (
		e   Executor
		err error
	)
	c := d.Container
	switch c.Type() {
	case TypeNatIdentifier:
		e, err = bind(c, func(m *NatIdentifierMessage) { r.server.identify(p, m) })
	case TypeConnect:
		e, err = bind(c, func(*ConnectMessage) { r.server.unreliableConnect(p) })
	case TypePong:
		e, err = bind(c, func(*PongMessage) { r.server.pong(p) })
	default:
		e = func() { r.server.receivedClientMessage(c, p) }
	}
	if err != nil {
		reject(d, err, "server")
		return
	}
	r.dispatcher.Enqueue(e)
}

// ClientRouter is the client side of ServerRouter.
type ClientRouter struct {
	client     *GameClient
	dispatcher *Dispatcher
}

func newClientRouter(c *GameClient, d *Dispatcher) *ClientRouter {
	return &ClientRouter{client: c, dispatcher: d}
}

// Route handles one delivery from the server.
func (r *ClientRouter) Route(d *net.Delivery) {
	var (
		e   Executor
		err error
	)
	c := d.Container
	switch c.Type() {
	case TypeConnectedPlayer:
		e, err = bind(c, r.client.connectedPlayer)
	case TypeDisconnectedPlayer:
		e, err = bind(c, r.client.disconnectedPlayer)
	case TypePing:
		// 立即回 pong, 不等下一帧
		e, err = bind(c, func(*PingMessage) { r.client.pinged() })
		if err == nil {
			r.client.replyPong()
		}
	case TypePingResult:
		e, err = bind(c, r.client.pingResult)
	case TypeConnectAck:
		e, err = bind(c, func(*ConnectAckMessage) { r.client.unreliableConnected() })
	default:
		e = func() { r.client.receivedMessage(c) }
	}
	if err != nil {
		reject(d, err, "client")
		return
	}
	r.dispatcher.Enqueue(e)
}

// reject closes a reliable channel that carried an undecodable message.
// Broken datagrams are only counted.
func reject(d *net.Delivery, err error, side string) {
	metrics.IncrCounterWithDimGroup("session", "protocol_error_total", 1, metrics.Dimension{"side": side, "channel": d.Channel.String()})
	if d.Channel == net.Unreliable {
		log.Debug().Str("side", side).Obj("msg", d.Container).Obj("from", d.From).Err(err).Msg("dropped undecodable datagram")
		return
	}
	log.Warn().Str("side", side).Obj("msg", d.Container).Obj("channel", d.Source).Err(err).Msg("closing channel on protocol error")
	d.Source.CloseWithError(err)
}
