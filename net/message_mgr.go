package net

import (
	"errors"
	"fmt"
	"sync"
)

// MsgProtoInfo describes one registered message type.
type MsgProtoInfo struct {
	Type MessageType
	Name string
	New  func() TypedMessage
}

// MessageManager maps message types to names and factories. The
// package-level instance backs MessageType.String.
type MessageManager struct {
	mu          sync.RWMutex
	propInfoMap map[MessageType]*MsgProtoInfo
}

var _messageNames = NewMessageManager()

// NewMessageManager creates a new instance of MessageManager with initialized storage.
func NewMessageManager() *MessageManager {
	return &MessageManager{
		propInfoMap: make(map[MessageType]*MsgProtoInfo),
	}
}

// RegisterMsgInfo stores pi. Re-registering a type replaces the old entry.
func (m *MessageManager) RegisterMsgInfo(pi *MsgProtoInfo) error {
	if pi == nil || pi.Name == "" {
		return errors.New("message info requires a name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.propInfoMap[pi.Type] = pi
	return nil
}

// GetProtoInfo retrieves the protocol information for a given type.
func (m *MessageManager) GetProtoInfo(t MessageType) (*MsgProtoInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pi, ok := m.propInfoMap[t]
	return pi, ok
}

func (m *MessageManager) lookup(t MessageType) (string, bool) {
	pi, ok := m.GetProtoInfo(t)
	if !ok {
		return "", false
	}
	return pi.Name, true
}

// CreateMsg returns a fresh message of type t.
func (m *MessageManager) CreateMsg(t MessageType) (TypedMessage, error) {
	pi, ok := m.GetProtoInfo(t)
	if !ok || pi.New == nil {
		return nil, fmt.Errorf("message type %d not registered", int32(t))
	}
	return pi.New(), nil
}

// ContainsMsg checks if a message type is registered.
func (m *MessageManager) ContainsMsg(t MessageType) bool {
	_, ok := m.GetProtoInfo(t)
	return ok
}

// RegisterMessage registers an application message type on the package
// manager. Reserved types are rejected.
func RegisterMessage(t MessageType, name string, factory func() TypedMessage) error {
	if t < FirstUserMessageType {
		return fmt.Errorf("message type %d is reserved", int32(t))
	}
	return _messageNames.RegisterMsgInfo(&MsgProtoInfo{Type: t, Name: name, New: factory})
}

// RegisterProtocolMessage is RegisterMessage for the reserved range.
func RegisterProtocolMessage(t MessageType, name string, factory func() TypedMessage) {
	if t >= FirstUserMessageType {
		panic(fmt.Sprintf("message type %d is not in the reserved range", int32(t)))
	}
	_ = _messageNames.RegisterMsgInfo(&MsgProtoInfo{Type: t, Name: name, New: factory})
}

// CreateMessage creates a registered message by type.
func CreateMessage(t MessageType) (TypedMessage, error) {
	return _messageNames.CreateMsg(t)
}
