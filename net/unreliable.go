package net

import (
	"errors"
	"net"
	"sync"

	"github.com/lcx/gamenet/log"
	"github.com/lcx/gamenet/metrics"
)

// UnreliableChannelListener is called from the channel's receive goroutine.
type UnreliableChannelListener interface {
	UnreliableChannelDidReceive(ch *UnreliableChannel, c *MessageContainer, from NetEndPoint)
}

type datagram struct {
	b  []byte
	to NetEndPoint
}

// UnreliableChannel owns one datagram socket. Every datagram is one
// container; nothing is kept between packets. Losses of any kind are
// counted and never reported as errors.
type UnreliableChannel struct {
	conn     net.PacketConn
	cfg      *TransportCfg
	listener UnreliableChannelListener
	local    NetEndPoint

	sendCh    chan datagram
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// NewUnreliableChannel wraps conn. Nothing is read or written until Start.
func NewUnreliableChannel(conn net.PacketConn, cfg *TransportCfg, listener UnreliableChannelListener) *UnreliableChannel {
	if cfg == nil {
		cfg = DefaultTransportCfg()
	}
	return &UnreliableChannel{
		conn:     conn,
		cfg:      cfg,
		listener: listener,
		local:    EndPointFromAddr(conn.LocalAddr()),
		sendCh:   make(chan datagram, cfg.SendQueueSize),
		done:     make(chan struct{}),
	}
}

func (u *UnreliableChannel) LocalEndPoint() NetEndPoint { return u.local }

// Start launches the receive and send goroutines.
func (u *UnreliableChannel) Start() {
	u.startOnce.Do(func() {
		go u.serveRecv()
		go u.serveSend()
	})
}

// Send queues m for to. A full queue drops the datagram.
func (u *UnreliableChannel) Send(m TypedMessage, to NetEndPoint) error {
	select {
	case <-u.done:
		return ErrChannelClosed
	default:
	}
	if !to.IsValid() {
		return ErrEndPointNotIdentified
	}

	b, err := PackFrame(nil, m, u.cfg.MaxDatagramSize-FrameHeadSize)
	if err != nil {
		return err
	}
	select {
	case u.sendCh <- datagram{b: b, to: to}:
	default:
		dropDatagram("send_queue_full")
	}
	return nil
}

// Close releases the socket. It is safe to call more than once.
func (u *UnreliableChannel) Close() error {
	u.closeOnce.Do(func() {
		close(u.done)
		u.closeErr = u.conn.Close()
	})
	return u.closeErr
}

func (u *UnreliableChannel) closed() bool {
	select {
	case <-u.done:
		return true
	default:
		return false
	}
}

func dropDatagram(reason string) {
	metrics.IncrCounterWithDimGroup("net", "datagram_drop_total", 1, metrics.Dimension{"reason": reason})
}

func (u *UnreliableChannel) serveRecv() {
	buf := make([]byte, u.cfg.MaxDatagramSize)
	for {
		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			if u.closed() || errors.Is(err, net.ErrClosed) {
				return
			}
			dropDatagram("read_error")
			log.Debug().Str("local", u.local.String()).Err(err).Msg("datagram read")
			continue
		}

		container, err := DecodeDatagram(buf[:n])
		if err != nil {
			dropDatagram("decode")
			continue
		}
		metrics.IncrCounterWithGroup("net", "datagram_in_total", 1)
		if u.listener != nil {
			u.listener.UnreliableChannelDidReceive(u, container, EndPointFromAddr(addr))
		}
	}
}

func (u *UnreliableChannel) serveSend() {
	for {
		select {
		case d := <-u.sendCh:
			if _, err := u.conn.WriteTo(d.b, d.to.UDPAddr()); err != nil {
				if u.closed() {
					return
				}
				dropDatagram("write_error")
				continue
			}
			metrics.IncrCounterWithGroup("net", "datagram_out_total", 1)
		case <-u.done:
			return
		}
	}
}
