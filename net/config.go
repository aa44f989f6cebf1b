package net

import (
	"errors"
	"time"
)

// TransportCfg tunes both channel kinds. Durations are in seconds.
type TransportCfg struct {
	MaxFrameSize     int    `mapstructure:"max_frame_size"`
	SendQueueSize    int    `mapstructure:"send_queue_size"`
	MaxPendingBytes  int    `mapstructure:"max_pending_bytes"`
	IdleTimeout      uint32 `mapstructure:"idle_timeout"`
	WriteTimeout     uint32 `mapstructure:"write_timeout"`
	ReadBufferSize   int    `mapstructure:"read_buffer_size"`
	SocketBufferSize int    `mapstructure:"socket_buffer_size"`
	MaxDatagramSize  int    `mapstructure:"max_datagram_size"`
}

// DefaultTransportCfg returns a fresh default configuration.
func DefaultTransportCfg() *TransportCfg {
	return &TransportCfg{
		MaxFrameSize:    DefaultMaxFrameSize,
		SendQueueSize:   1024,
		MaxPendingBytes: 4 << 20,
		WriteTimeout:    3,
		ReadBufferSize:  16 << 10,
		MaxDatagramSize: 64 << 10,
	}
}

// GetName returns the configuration name for TransportCfg
func (c *TransportCfg) GetName() string {
	return "transport"
}

// Validate validates the TransportCfg parameters
func (c *TransportCfg) Validate() error {
	if c.MaxFrameSize <= 0 {
		return errors.New("max_frame_size must be positive")
	}
	if c.SendQueueSize <= 0 {
		return errors.New("send_queue_size must be positive")
	}
	if c.MaxPendingBytes < c.MaxFrameSize {
		return errors.New("max_pending_bytes must hold at least one frame")
	}
	if c.ReadBufferSize <= 0 {
		return errors.New("read_buffer_size must be positive")
	}
	if c.MaxDatagramSize < FrameHeadSize {
		return errors.New("max_datagram_size too small")
	}
	return nil
}

func (c *TransportCfg) idleTimeout() time.Duration {
	return time.Duration(c.IdleTimeout) * time.Second
}

func (c *TransportCfg) writeTimeout() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}
