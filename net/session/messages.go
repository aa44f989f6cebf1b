// Package session turns the transport into players: membership, the
// unreliable rendezvous, ping and the main-loop dispatch of messages.
package session

import (
	"github.com/lcx/gamenet/codec"
	"github.com/lcx/gamenet/net"
)

// Reserved message types of the session protocol.
const (
	TypeConnect            net.MessageType = 1
	TypeConnectAck         net.MessageType = 2
	TypeNatIdentifier      net.MessageType = 3
	TypeConnectedPlayer    net.MessageType = 4
	TypeDisconnectedPlayer net.MessageType = 5
	TypePing               net.MessageType = 6
	TypePong               net.MessageType = 7
	TypePingResult         net.MessageType = 8
)

func init() {
	net.RegisterProtocolMessage(TypeConnect, "connect", func() net.TypedMessage { return &ConnectMessage{} })
	net.RegisterProtocolMessage(TypeConnectAck, "connect_ack", func() net.TypedMessage { return &ConnectAckMessage{} })
	net.RegisterProtocolMessage(TypeNatIdentifier, "nat_identifier", func() net.TypedMessage { return &NatIdentifierMessage{} })
	net.RegisterProtocolMessage(TypeConnectedPlayer, "connected_player", func() net.TypedMessage { return &ConnectedPlayerMessage{} })
	net.RegisterProtocolMessage(TypeDisconnectedPlayer, "disconnected_player", func() net.TypedMessage { return &DisconnectedPlayerMessage{} })
	net.RegisterProtocolMessage(TypePing, "ping", func() net.TypedMessage { return &PingMessage{} })
	net.RegisterProtocolMessage(TypePong, "pong", func() net.TypedMessage { return &PongMessage{} })
	net.RegisterProtocolMessage(TypePingResult, "ping_result", func() net.TypedMessage { return &PingResultMessage{} })
}

// ConnectMessage is the client's unreliable connect datagram.
type ConnectMessage struct{}

func (*ConnectMessage) Type() net.MessageType { return TypeConnect }

func (*ConnectMessage) Encode(*codec.Writer) {}

func (*ConnectMessage) Decode(*codec.Reader) {}

// ConnectAckMessage answers ConnectMessage over the unreliable channel.
type ConnectAckMessage struct{}

func (*ConnectAckMessage) Type() net.MessageType { return TypeConnectAck }

func (*ConnectAckMessage) Encode(*codec.Writer) {}

func (*ConnectAckMessage) Decode(*codec.Reader) {}

// NatIdentifierMessage tells the server, over the reliable channel, which
// endpoint the client's datagrams come from.
type NatIdentifierMessage struct {
	RemoteIP string
	Port     int32
}

func (*NatIdentifierMessage) Type() net.MessageType { return TypeNatIdentifier }

func (m *NatIdentifierMessage) Encode(w *codec.Writer) {
	w.WriteString(m.RemoteIP)
	w.WriteInt32(m.Port)
}

func (m *NatIdentifierMessage) Decode(r *codec.Reader) {
	m.RemoteIP = r.ReadString()
	m.Port = r.ReadInt32()
}

// ConnectedPlayerMessage announces a player. IsMe is set only on the copy
// sent to that player.
type ConnectedPlayerMessage struct {
	PlayerID int32
	IsMe     bool
}

func (*ConnectedPlayerMessage) Type() net.MessageType { return TypeConnectedPlayer }

func (m *ConnectedPlayerMessage) Encode(w *codec.Writer) {
	w.WriteInt32(m.PlayerID)
	w.WriteBool(m.IsMe)
}

func (m *ConnectedPlayerMessage) Decode(r *codec.Reader) {
	m.PlayerID = r.ReadInt32()
	m.IsMe = r.ReadBool()
}

// DisconnectedPlayerMessage ...
type DisconnectedPlayerMessage struct {
	PlayerID int32
}

func (*DisconnectedPlayerMessage) Type() net.MessageType { return TypeDisconnectedPlayer }

func (m *DisconnectedPlayerMessage) Encode(w *codec.Writer) { w.WriteInt32(m.PlayerID) }

func (m *DisconnectedPlayerMessage) Decode(r *codec.Reader) { m.PlayerID = r.ReadInt32() }

// PingMessage ...
type PingMessage struct{}

func (*PingMessage) Type() net.MessageType { return TypePing }

func (*PingMessage) Encode(*codec.Writer) {}

func (*PingMessage) Decode(*codec.Reader) {}

// PongMessage ...
type PongMessage struct{}

func (*PongMessage) Type() net.MessageType { return TypePong }

func (*PongMessage) Encode(*codec.Writer) {}

func (*PongMessage) Decode(*codec.Reader) {}

// PingResultMessage carries a player's latest round-trip time in seconds.
type PingResultMessage struct {
	PlayerID int32
	Value    float32
}

func (*PingResultMessage) Type() net.MessageType { return TypePingResult }

func (m *PingResultMessage) Encode(w *codec.Writer) {
	w.WriteInt32(m.PlayerID)
	w.WriteFloat32(m.Value)
}

func (m *PingResultMessage) Decode(r *codec.Reader) {
	m.PlayerID = r.ReadInt32()
	m.Value = r.ReadFloat32()
}
