package session

import (
	"time"

	"github.com/lcx/gamenet/log"
	"github.com/lcx/gamenet/net"
)

// unreliableSender is the shared datagram socket of the server.
type unreliableSender interface {
	SendUnreliable(m net.TypedMessage, to net.NetEndPoint) error
}

// Player is a connected client as the server sees it. All fields are
// owned by the main loop.
type Player struct {
	id         int32
	reliable   *net.ReliableChannel
	unreliable unreliableSender
	logger     *log.PlayerLogger

	endpoint            net.NetEndPoint
	identified          bool
	unreliableConnected bool

	mostRecentPingValue float32
	lastPongTime        time.Time
}

func newPlayer(id int32, reliable *net.ReliableChannel, unreliable unreliableSender, base *log.GameLogger) *Player {
	return &Player{
		id:         id,
		reliable:   reliable,
		unreliable: unreliable,
		logger:     log.NewPlayerLogger(base, id),
	}
}

func (p *Player) PlayerID() int32 { return p.id }

// Channel is the player's reliable channel.
func (p *Player) Channel() *net.ReliableChannel { return p.reliable }

func (p *Player) Logger() *log.PlayerLogger { return p.logger }

// RemoteIdentifiedEndPoint is the datagram endpoint announced by the
// client, if any.
func (p *Player) RemoteIdentifiedEndPoint() (net.NetEndPoint, bool) {
	return p.endpoint, p.identified
}

// MostRecentPingValue is the last measured round trip in seconds.
func (p *Player) MostRecentPingValue() float32 { return p.mostRecentPingValue }

func (p *Player) LastPongTime() time.Time { return p.lastPongTime }

// Send queues m on the chosen channel. Unreliable sends fail with
// net.ErrEndPointNotIdentified until the client has identified itself.
func (p *Player) Send(m net.TypedMessage, channel net.Channel) error {
	if channel == net.Unreliable {
		if !p.identified {
			return net.ErrEndPointNotIdentified
		}
		return p.unreliable.SendUnreliable(m, p.endpoint)
	}
	return p.reliable.Send(m)
}

// Disconnect closes the reliable channel; removal follows through the
// normal disconnect path.
func (p *Player) Disconnect() {
	_ = p.reliable.Close()
}

func (p *Player) identify(ep net.NetEndPoint) {
	p.endpoint = ep
	p.identified = true
}

func (p *Player) forgetEndPoint() {
	p.endpoint = net.NetEndPoint{}
	p.identified = false
	p.unreliableConnected = false
}

func (p *Player) MarshalLogObj(e *log.LogEvent) {
	e.Int32("playerId", p.id).Uint64("channel", p.reliable.ID())
	if p.identified {
		e.Str("udp", p.endpoint.String())
	}
}

// RemotePlayer is a player as a client sees it.
type RemotePlayer struct {
	id                  int32
	isLocalPlayer       bool
	mostRecentPingValue float32
	lastPingTime        time.Time
}

func (p *RemotePlayer) PlayerID() int32 { return p.id }

func (p *RemotePlayer) IsLocalPlayer() bool { return p.isLocalPlayer }

// MostRecentPingValue is the round trip the server last reported for this
// player, in seconds.
func (p *RemotePlayer) MostRecentPingValue() float32 { return p.mostRecentPingValue }

// LastPingTime is when the local player last answered a ping. It is only
// set on the local player.
func (p *RemotePlayer) LastPingTime() time.Time { return p.lastPingTime }
