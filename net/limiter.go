package net

import (
	"math"
	"sync/atomic"

	"go.uber.org/ratelimit"
	"golang.org/x/time/rate"

	"github.com/lcx/gamenet/metrics"
)

// RecvLimiter is a token bucket over inbound datagrams. Datagrams past the
// budget are dropped, never queued.
type RecvLimiter struct {
	limiter atomic.Pointer[rate.Limiter]
}

// NewRecvLimiter allows limit datagrams per second with the given burst.
// limit <= 0 means unlimited.
func NewRecvLimiter(limit int, burst int) *RecvLimiter {
	l := &RecvLimiter{}
	l.Reload(limit, burst)
	return l
}

// Allow reports whether one more datagram fits the budget.
func (l *RecvLimiter) Allow() bool {
	return l.limiter.Load().Allow()
}

// Reload swaps the budget at runtime.
func (l *RecvLimiter) Reload(limit int, burst int) {
	r := rate.Limit(limit)
	if limit <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	l.limiter.Store(rate.NewLimiter(r, burst))
}

// Filter drops unreliable deliveries over budget. Reliable deliveries pass.
func (l *RecvLimiter) Filter(d *Delivery, next FilterHandleFunc) error {
	if d.Channel == Unreliable && !l.Allow() {
		dropDatagram("rate_limited")
		return nil
	}
	return next(d)
}

// AcceptLimiter is a leaky bucket paced accept loop.
type AcceptLimiter struct {
	limiter atomic.Pointer[ratelimit.Limiter]
}

// NewAcceptLimiter allows limit accepts per second. limit <= 0 means unlimited.
func NewAcceptLimiter(limit int) *AcceptLimiter {
	l := &AcceptLimiter{}
	l.Reload(limit)
	return l
}

// Take blocks until the next accept is allowed.
func (l *AcceptLimiter) Take() {
	_ = (*l.limiter.Load()).Take()
}

// Reload swaps the rate at runtime.
func (l *AcceptLimiter) Reload(limit int) {
	var limiter ratelimit.Limiter
	if limit <= 0 || limit == math.MaxInt {
		limiter = ratelimit.NewUnlimited()
	} else {
		limiter = ratelimit.New(limit, ratelimit.WithoutSlack)
	}
	l.limiter.Store(&limiter)
	metrics.UpdateGaugeWithGroup("net", "accept_rate_limit", metrics.Value(limit))
}
