package net

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelClosed is returned by sends on a closing or closed channel.
	ErrChannelClosed = errors.New("net: channel closed")
	// ErrSendQueueFull means the peer is not draining fast enough.
	ErrSendQueueFull = errors.New("net: send queue full")
	// ErrFrameTooLarge is returned for payloads above the configured maximum.
	ErrFrameTooLarge = errors.New("net: frame too large")
	// ErrEndPointNotIdentified is returned for unreliable sends to a player
	// whose datagram endpoint is not yet known.
	ErrEndPointNotIdentified = errors.New("net: unreliable endpoint not identified")
	// ErrNotConnected ...
	ErrNotConnected = errors.New("net: not connected")
)

// TransportError is a socket-level failure. On a reliable channel it always
// ends in a disconnect.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("net: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or undecodable frame. The connection that
// produced it is closed.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "net: protocol: " + e.Reason
	}
	return fmt.Sprintf("net: protocol: %s: %v", e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err is or wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
