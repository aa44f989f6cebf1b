package nat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/stun"

	"github.com/lcx/gamenet/log"
	"github.com/lcx/gamenet/metrics"
)

const (
	_defaultSTUNTimeout  = 3 * time.Second
	_defaultCacheTimeout = 5 * time.Minute
	_maxSTUNMessageSize  = 1500
)

// ErrNoSTUNServers ...
var ErrNoSTUNServers = errors.New("nat: no STUN servers")

// STUNError 查询单个服务器失败.
type STUNError struct {
	Server string
	Op     string
	Err    error
}

func (e *STUNError) Error() string {
	return fmt.Sprintf("nat: stun %s: %s: %v", e.Server, e.Op, e.Err)
}

func (e *STUNError) Unwrap() error { return e.Err }

// STUNOption configures a STUNResolver.
type STUNOption func(*STUNResolver)

// WithSTUNTimeout bounds one query.
func WithSTUNTimeout(d time.Duration) STUNOption {
	return func(s *STUNResolver) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCacheDuration keeps a successful answer this long. 0 disables caching.
func WithCacheDuration(d time.Duration) STUNOption {
	return func(s *STUNResolver) {
		s.cacheDuration = d
	}
}

// WithClock ...
func WithClock(c clock.Clock) STUNOption {
	return func(s *STUNResolver) {
		s.clock = c
	}
}

// STUNResolver asks STUN servers for this host's mapped address with a
// binding request, trying servers in order.
type STUNResolver struct {
	servers       []string
	timeout       time.Duration
	cacheDuration time.Duration
	clock         clock.Clock

	mu         sync.Mutex
	cachedAddr netip.Addr
	cachedAt   time.Time
}

// NewSTUNResolver ...
func NewSTUNResolver(servers []string, opts ...STUNOption) *STUNResolver {
	s := &STUNResolver{
		servers:       servers,
		timeout:       _defaultSTUNTimeout,
		cacheDuration: _defaultCacheTimeout,
		clock:         clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *STUNResolver) Resolve(ctx context.Context, _ netip.Addr) (netip.Addr, error) {
	if addr, ok := s.cached(); ok {
		return addr, nil
	}
	if len(s.servers) == 0 {
		return netip.Addr{}, ErrNoSTUNServers
	}

	var lastErr error
	for _, server := range s.servers {
		if err := ctx.Err(); err != nil {
			return netip.Addr{}, err
		}
		addr, err := s.query(ctx, server)
		if err != nil {
			metrics.IncrCounterWithDimGroup("nat", "stun_query_total", 1, metrics.Dimension{"result": "fail"})
			log.Debug().Str("server", server).Err(err).Msg("stun query failed")
			lastErr = err
			continue
		}
		metrics.IncrCounterWithDimGroup("nat", "stun_query_total", 1, metrics.Dimension{"result": "ok"})
		s.store(addr)
		return addr, nil
	}
	return netip.Addr{}, lastErr
}

func (s *STUNResolver) query(ctx context.Context, server string) (netip.Addr, error) {
	raddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return netip.Addr{}, &STUNError{Server: server, Op: "resolve", Err: err}
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return netip.Addr{}, &STUNError{Server: server, Op: "dial", Err: err}
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return netip.Addr{}, &STUNError{Server: server, Op: "build", Err: err}
	}
	if _, err := req.WriteTo(conn); err != nil {
		return netip.Addr{}, &STUNError{Server: server, Op: "send", Err: err}
	}

	buf := make([]byte, _maxSTUNMessageSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return netip.Addr{}, ctx.Err()
			}
			return netip.Addr{}, &STUNError{Server: server, Op: "read", Err: err}
		}
		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := res.Decode(); err != nil {
			return netip.Addr{}, &STUNError{Server: server, Op: "decode", Err: err}
		}
		// 不是本次请求的回包, 继续等
		if res.TransactionID != req.TransactionID {
			continue
		}
		return mappedAddr(server, res)
	}
}

func mappedAddr(server string, res *stun.Message) (netip.Addr, error) {
	var ip net.IP
	var xor stun.XORMappedAddress
	if err := xor.GetFrom(res); err == nil {
		ip = xor.IP
	} else {
		// 老版本服务器只回 MAPPED-ADDRESS
		var mapped stun.MappedAddress
		if err := mapped.GetFrom(res); err != nil {
			return netip.Addr{}, &STUNError{Server: server, Op: "mapped address", Err: err}
		}
		ip = mapped.IP
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}, &STUNError{Server: server, Op: "mapped address", Err: fmt.Errorf("bad ip %v", ip)}
	}
	return addr.Unmap(), nil
}

func (s *STUNResolver) cached() (netip.Addr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cachedAddr.IsValid() || s.cacheDuration <= 0 {
		return netip.Addr{}, false
	}
	if s.clock.Since(s.cachedAt) >= s.cacheDuration {
		return netip.Addr{}, false
	}
	return s.cachedAddr, true
}

func (s *STUNResolver) store(addr netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachedAddr = addr
	s.cachedAt = s.clock.Now()
}
