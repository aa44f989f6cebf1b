package net

import (
	"fmt"
	"strconv"

	"github.com/lcx/gamenet/codec"
	"github.com/lcx/gamenet/log"
)

// MessageType identifies a message kind on the wire. Types below
// FirstUserMessageType are reserved for the transport and session protocol.
type MessageType int32

// FirstUserMessageType is the lowest type an application may register.
const FirstUserMessageType MessageType = 1000

func (t MessageType) String() string {
	if name, ok := _messageNames.lookup(t); ok {
		return name
	}
	return "msg(" + strconv.Itoa(int(t)) + ")"
}

// TypedMessage is a codable message that knows its own wire type.
type TypedMessage interface {
	codec.Codable
	Type() MessageType
}

// MessageContainer is one received frame: its type and the undecoded
// payload. The type never changes after construction and Parse may be
// called any number of times.
type MessageContainer struct {
	typ     MessageType
	payload []byte
}

// NewMessageContainer ...
func NewMessageContainer(t MessageType, payload []byte) *MessageContainer {
	return &MessageContainer{typ: t, payload: payload}
}

func (c *MessageContainer) Type() MessageType { return c.typ }

// Payload returns the raw bytes. Callers must not modify them.
func (c *MessageContainer) Payload() []byte { return c.payload }

func (c *MessageContainer) Is(t MessageType) bool { return c.typ == t }

// Parse decodes the payload into m. A type mismatch or a decode failure is
// a *ProtocolError.
func (c *MessageContainer) Parse(m TypedMessage) error {
	if m.Type() != c.typ {
		return &ProtocolError{Reason: fmt.Sprintf("parse %s as %s", c.typ, m.Type())}
	}
	if err := codec.Decode(m, c.payload); err != nil {
		return &ProtocolError{Reason: "decode " + c.typ.String(), Err: err}
	}
	return nil
}

func (c *MessageContainer) MarshalLogObj(e *log.LogEvent) {
	e.Str("type", c.typ.String()).Int("size", len(c.payload))
}
