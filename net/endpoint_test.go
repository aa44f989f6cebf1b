package net

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetEndPoint(t *testing.T) {
	ep, err := NewNetEndPoint("192.168.1.20", 7777)
	require.NoError(t, err)
	assert.True(t, ep.IsValid())
	assert.Equal(t, 7777, ep.Port())
	assert.Equal(t, "192.168.1.20:7777", ep.String())

	mapped := EndPointFrom(netip.MustParseAddrPort("[::ffff:192.168.1.20]:7777"))
	assert.Equal(t, ep, mapped)

	fromAddr := EndPointFromAddr(&net.UDPAddr{IP: net.ParseIP("192.168.1.20"), Port: 7777})
	assert.Equal(t, ep, fromAddr)

	_, err = NewNetEndPoint("not-an-ip", 1)
	assert.Error(t, err)
	_, err = NewNetEndPoint("10.0.0.1", 70000)
	assert.Error(t, err)

	var zero NetEndPoint
	assert.False(t, zero.IsValid())
	assert.Equal(t, "invalid", zero.String())
	assert.False(t, EndPointFromAddr(nil).IsValid())
}
