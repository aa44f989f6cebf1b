package session

import (
	"errors"
	"time"

	"github.com/lcx/gamenet/net"
)

const (
	_serverConfigName = "game_server"
	_clientConfigName = "game_client"
)

// ServerCfg configures a GameServer. Rates are per second, 0 is unlimited.
type ServerCfg struct {
	Host                  string            `mapstructure:"host"`
	Port                  int               `mapstructure:"port"`
	PingCoolDown          float64           `mapstructure:"ping_cool_down"`
	AcceptRate            int               `mapstructure:"accept_rate"`
	UnreliableRecvRate    int               `mapstructure:"unreliable_recv_rate"`
	UnreliableRecvBurst   int               `mapstructure:"unreliable_recv_burst"`
	UnidentifiedCacheSize int               `mapstructure:"unidentified_cache_size"`
	Transport             *net.TransportCfg `mapstructure:"transport"`
}

// DefaultServerCfg ...
func DefaultServerCfg() *ServerCfg {
	return &ServerCfg{
		Host:                  "0.0.0.0",
		PingCoolDown:          DefaultPingCoolDown.Seconds(),
		UnidentifiedCacheSize: 256,
		Transport:             net.DefaultTransportCfg(),
	}
}

// GetName returns the configuration name for ServerCfg
func (c *ServerCfg) GetName() string {
	return _serverConfigName
}

// Validate validates the ServerCfg parameters
func (c *ServerCfg) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.New("port out of range")
	}
	if c.PingCoolDown < 0 {
		return errors.New("ping_cool_down must not be negative")
	}
	if c.AcceptRate < 0 || c.UnreliableRecvRate < 0 || c.UnreliableRecvBurst < 0 {
		return errors.New("rates must not be negative")
	}
	if c.Transport != nil {
		return c.Transport.Validate()
	}
	return nil
}

func (c *ServerCfg) pingCoolDown() time.Duration {
	return seconds(c.PingCoolDown)
}

func (c *ServerCfg) transport() *net.TransportCfg {
	if c.Transport == nil {
		return net.DefaultTransportCfg()
	}
	return c.Transport
}

// ClientCfg configures a GameClient. Timeouts are in seconds.
type ClientCfg struct {
	Host                   string            `mapstructure:"host"`
	Port                   int               `mapstructure:"port"`
	SecondsBetweenRetries  float64           `mapstructure:"seconds_between_retries"`
	MaximumNumberOfRetries int               `mapstructure:"maximum_number_of_retries"`
	ConnectTimeout         float64           `mapstructure:"connect_timeout"`
	ResolveTimeout         float64           `mapstructure:"resolve_timeout"`
	StunServers            []string          `mapstructure:"stun_servers"`
	Transport              *net.TransportCfg `mapstructure:"transport"`
}

// DefaultClientCfg ...
func DefaultClientCfg() *ClientCfg {
	return &ClientCfg{
		Host:                   "127.0.0.1",
		SecondsBetweenRetries:  3,
		MaximumNumberOfRetries: 3,
		ConnectTimeout:         5,
		ResolveTimeout:         3,
		Transport:              net.DefaultTransportCfg(),
	}
}

// GetName returns the configuration name for ClientCfg
func (c *ClientCfg) GetName() string {
	return _clientConfigName
}

// Validate validates the ClientCfg parameters
func (c *ClientCfg) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.New("port out of range")
	}
	if c.SecondsBetweenRetries <= 0 {
		return errors.New("seconds_between_retries must be positive")
	}
	if c.MaximumNumberOfRetries < 0 {
		return errors.New("maximum_number_of_retries must not be negative")
	}
	if c.Transport != nil {
		return c.Transport.Validate()
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func (c *ClientCfg) transport() *net.TransportCfg {
	if c.Transport == nil {
		return net.DefaultTransportCfg()
	}
	return c.Transport
}
