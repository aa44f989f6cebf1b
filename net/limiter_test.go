package net

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecvLimiterBurst(t *testing.T) {
	l := NewRecvLimiter(1, 2)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	l.Reload(0, 0)
	for i := 0; i < 1000; i++ {
		assert.True(t, l.Allow())
	}
}

func TestRecvLimiterFilter(t *testing.T) {
	l := NewRecvLimiter(1, 1)
	handled := 0
	next := func(*Delivery) error {
		handled++
		return nil
	}

	udp := &Delivery{Channel: Unreliable}
	assert.NoError(t, l.Filter(udp, next))
	assert.NoError(t, l.Filter(udp, next))
	assert.Equal(t, 1, handled)

	// reliable traffic is never limited
	tcp := &Delivery{Channel: Reliable}
	for i := 0; i < 5; i++ {
		assert.NoError(t, l.Filter(tcp, next))
	}
	assert.Equal(t, 6, handled)
}

func TestAcceptLimiter(t *testing.T) {
	l := NewAcceptLimiter(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		l.Take()
	}
	assert.Less(t, time.Since(start), time.Second)

	l.Reload(10)
	l.Take()
	start = time.Now()
	l.Take()
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
