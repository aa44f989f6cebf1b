package net

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/lcx/gamenet/log"
)

// NetEndPoint is an (address, port) value. It is comparable and used as a
// map key for datagram demultiplexing, so addresses are kept unmapped:
// ::ffff:1.2.3.4 and 1.2.3.4 are the same endpoint.
type NetEndPoint struct {
	ap netip.AddrPort
}

// NewNetEndPoint parses ip and pairs it with port.
func NewNetEndPoint(ip string, port int) (NetEndPoint, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return NetEndPoint{}, fmt.Errorf("endpoint address %q: %w", ip, err)
	}
	if port < 0 || port > 65535 {
		return NetEndPoint{}, fmt.Errorf("endpoint port %d out of range", port)
	}
	return EndPointFrom(netip.AddrPortFrom(addr, uint16(port))), nil
}

// EndPointFrom ...
func EndPointFrom(ap netip.AddrPort) NetEndPoint {
	return NetEndPoint{ap: netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())}
}

// EndPointFromAddr converts a socket address. Unknown address kinds yield
// the zero endpoint.
func EndPointFromAddr(a net.Addr) NetEndPoint {
	switch v := a.(type) {
	case *net.UDPAddr:
		return EndPointFrom(v.AddrPort())
	case *net.TCPAddr:
		return EndPointFrom(v.AddrPort())
	}
	if a == nil {
		return NetEndPoint{}
	}
	ap, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return NetEndPoint{}
	}
	return EndPointFrom(ap)
}

func (e NetEndPoint) Addr() netip.Addr { return e.ap.Addr() }

func (e NetEndPoint) Port() int { return int(e.ap.Port()) }

func (e NetEndPoint) IsValid() bool { return e.ap.IsValid() }

func (e NetEndPoint) AddrPort() netip.AddrPort { return e.ap }

func (e NetEndPoint) UDPAddr() *net.UDPAddr { return net.UDPAddrFromAddrPort(e.ap) }

func (e NetEndPoint) String() string {
	if !e.ap.IsValid() {
		return "invalid"
	}
	return e.ap.String()
}

func (e NetEndPoint) MarshalLogObj(ev *log.LogEvent) {
	ev.Str("ip", e.ap.Addr().String()).Int("port", e.Port())
}
