package nat

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/stun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stunServer answers binding requests with a fixed mapped address.
type stunServer struct {
	conn    net.PacketConn
	mapped  net.IP
	queries atomic.Int32
	silent  bool
}

func startSTUNServer(t *testing.T, mapped string, silent bool) *stunServer {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &stunServer{conn: conn, mapped: net.ParseIP(mapped), silent: silent}
	t.Cleanup(func() { _ = conn.Close() })
	go s.serve()
	return s
}

func (s *stunServer) addr() string { return s.conn.LocalAddr().String() }

func (s *stunServer) serve() {
	buf := make([]byte, 1500)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		req := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := req.Decode(); err != nil {
			continue
		}
		s.queries.Add(1)
		if s.silent {
			continue
		}
		res, err := stun.Build(
			stun.NewTransactionIDSetter(req.TransactionID),
			stun.BindingSuccess,
			&stun.XORMappedAddress{IP: s.mapped, Port: from.(*net.UDPAddr).Port},
			stun.Fingerprint,
		)
		if err != nil {
			continue
		}
		_, _ = s.conn.WriteTo(res.Raw, from)
	}
}

func TestSTUNResolver(t *testing.T) {
	srv := startSTUNServer(t, "203.0.113.9", false)
	r := NewSTUNResolver([]string{srv.addr()}, WithSTUNTimeout(time.Second))

	addr, err := r.Resolve(context.Background(), netip.Addr{})
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("203.0.113.9"), addr)
}

func TestSTUNResolverFallsThroughServers(t *testing.T) {
	dead := startSTUNServer(t, "198.51.100.1", true)
	live := startSTUNServer(t, "203.0.113.10", false)
	r := NewSTUNResolver([]string{dead.addr(), live.addr()}, WithSTUNTimeout(200*time.Millisecond))

	addr, err := r.Resolve(context.Background(), netip.Addr{})
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.10", addr.String())
	assert.Equal(t, int32(1), dead.queries.Load())
}

func TestSTUNResolverCache(t *testing.T) {
	srv := startSTUNServer(t, "203.0.113.11", false)
	mock := clock.NewMock()
	r := NewSTUNResolver([]string{srv.addr()}, WithClock(mock), WithCacheDuration(time.Minute))

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), netip.Addr{})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), srv.queries.Load())

	mock.Add(time.Minute)
	_, err := r.Resolve(context.Background(), netip.Addr{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.queries.Load())
}

func TestSTUNResolverErrors(t *testing.T) {
	_, err := NewSTUNResolver(nil).Resolve(context.Background(), netip.Addr{})
	assert.ErrorIs(t, err, ErrNoSTUNServers)

	silent := startSTUNServer(t, "198.51.100.2", true)
	_, err = NewSTUNResolver([]string{silent.addr()}, WithSTUNTimeout(100*time.Millisecond)).
		Resolve(context.Background(), netip.Addr{})
	var se *STUNError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "read", se.Op)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSTUNResolver([]string{silent.addr()}).Resolve(ctx, netip.Addr{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalAndStaticResolvers(t *testing.T) {
	local := netip.MustParseAddr("::ffff:10.1.2.3")
	addr, err := LocalResolver{}.Resolve(context.Background(), local)
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", addr.String())

	_, err = LocalResolver{}.Resolve(context.Background(), netip.Addr{})
	assert.Error(t, err)

	s, err := NewStaticResolver("192.0.2.4")
	require.NoError(t, err)
	addr, err = s.Resolve(context.Background(), local)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.4", addr.String())

	_, err = NewStaticResolver("nope")
	assert.Error(t, err)
}

func TestChain(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	fail := func(e error) Resolver {
		return ResolverFunc(func(context.Context, netip.Addr) (netip.Addr, error) {
			return netip.Addr{}, e
		})
	}
	static, _ := NewStaticResolver("192.0.2.5")

	addr, err := Chain{fail(errA), static}.Resolve(context.Background(), netip.Addr{})
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.5", addr.String())

	_, err = Chain{fail(errA), fail(errB)}.Resolve(context.Background(), netip.Addr{})
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)

	_, err = Chain{}.Resolve(context.Background(), netip.Addr{})
	assert.ErrorIs(t, err, ErrNoResolver)
}
