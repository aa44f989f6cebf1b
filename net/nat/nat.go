// Package nat finds the address a client is seen from, so the server can
// match its datagrams to the stream it already knows.
package nat

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"go.uber.org/multierr"
)

// ErrNoResolver is returned by an empty Chain.
var ErrNoResolver = errors.New("nat: no resolver")

// Resolver returns the externally visible IP of this host. local is the
// address of the stream socket to the server and may be used as a hint.
type Resolver interface {
	Resolve(ctx context.Context, local netip.Addr) (netip.Addr, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, local netip.Addr) (netip.Addr, error)

func (f ResolverFunc) Resolve(ctx context.Context, local netip.Addr) (netip.Addr, error) {
	return f(ctx, local)
}

// LocalResolver answers with the stream socket's own address. It is right
// on a LAN and on loopback, where no translation happens.
type LocalResolver struct{}

func (LocalResolver) Resolve(_ context.Context, local netip.Addr) (netip.Addr, error) {
	if !local.IsValid() {
		return netip.Addr{}, errors.New("nat: local address unknown")
	}
	return local.Unmap(), nil
}

// StaticResolver always answers with a configured address.
type StaticResolver struct {
	Addr netip.Addr
}

// NewStaticResolver parses ip.
func NewStaticResolver(ip string) (*StaticResolver, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil, fmt.Errorf("nat: static address %q: %w", ip, err)
	}
	return &StaticResolver{Addr: addr.Unmap()}, nil
}

func (s *StaticResolver) Resolve(context.Context, netip.Addr) (netip.Addr, error) {
	return s.Addr, nil
}

// Chain tries each resolver in turn and returns the first answer.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, local netip.Addr) (netip.Addr, error) {
	if len(c) == 0 {
		return netip.Addr{}, ErrNoResolver
	}
	var errs error
	for _, r := range c {
		addr, err := r.Resolve(ctx, local)
		if err == nil {
			return addr, nil
		}
		errs = multierr.Append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return netip.Addr{}, errs
}
