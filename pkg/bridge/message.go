// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
	"strings"
	"time"
)

// Message is one decoded bridge message
type Message struct {
	msgType   uint8
	payload   map[int]interface{}
	timestamp time.Time
}

// NewMessage creates a message from its type and payload map
func NewMessage(msgType uint8, payload map[int]interface{}) *Message {
	return &Message{
		msgType:   msgType,
		payload:   payload,
		timestamp: time.Now(),
	}
}

// Type returns the message type
func (m *Message) Type() uint8 {
	return m.msgType
}

// Payload returns the decoded payload map (nil for empty payloads)
func (m *Message) Payload() map[int]interface{} {
	return m.payload
}

// Timestamp returns when the message was built or decoded
func (m *Message) Timestamp() time.Time {
	return m.timestamp
}

// UUID returns the characteristic UUID for subscribe, write and notification messages
func (m *Message) UUID() string {
	return strings.ToLower(m.stringField(keyUUID))
}

// Data returns the byte payload for write and notification messages
func (m *Message) Data() []byte {
	return m.bytesField(keyData)
}

// Target returns the requested device of a connect message
func (m *Message) Target() string {
	return m.stringField(keyTarget)
}

// DeviceName returns the device name of a connected message
func (m *Message) DeviceName() string {
	return m.stringField(keyName)
}

// DeviceID returns the device identifier of a connected message
func (m *Message) DeviceID() string {
	return m.stringField(keyID)
}

// ErrorCode returns the code of an error message
func (m *Message) ErrorCode() uint64 {
	switch v := m.payload[keyCode].(type) {
	case uint64:
		return v
	case int64:
		if v >= 0 {
			return uint64(v)
		}
	}
	return ErrCodeUnknown
}

// ErrorText returns the description of an error message
func (m *Message) ErrorText() string {
	return m.stringField(keyText)
}

// Err converts an error message into a Go error (nil for other types)
func (m *Message) Err() error {
	if m.msgType != MsgError {
		return nil
	}
	return &RemoteError{Code: m.ErrorCode(), Text: m.ErrorText()}
}

func (m *Message) stringField(key int) string {
	if s, ok := m.payload[key].(string); ok {
		return s
	}
	return ""
}

func (m *Message) bytesField(key int) []byte {
	switch v := m.payload[key].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return nil
}

// RemoteError is an error reported by the bridge
type RemoteError struct {
	Code uint64
	Text string
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("bridge error %d", e.Code)
	}
	return fmt.Sprintf("bridge error %d: %s", e.Code, e.Text)
}

// NewConnect creates a CONNECT message. An empty target lets the bridge pick
// the first headset it finds.
func NewConnect(target string) *Message {
	return NewMessage(MsgConnect, map[int]interface{}{keyTarget: target})
}

// NewDisconnect creates a DISCONNECT message
func NewDisconnect() *Message {
	return NewMessage(MsgDisconnect, nil)
}

// NewSubscribe creates a SUBSCRIBE message for a characteristic
func NewSubscribe(uuid string) *Message {
	return NewMessage(MsgSubscribe, map[int]interface{}{keyUUID: uuid})
}

// NewUnsubscribe creates an UNSUBSCRIBE message for a characteristic
func NewUnsubscribe(uuid string) *Message {
	return NewMessage(MsgUnsubscribe, map[int]interface{}{keyUUID: uuid})
}

// NewWrite creates a WRITE message (write without response)
func NewWrite(uuid string, data []byte) *Message {
	return NewMessage(MsgWrite, map[int]interface{}{keyUUID: uuid, keyData: data})
}

// NewConnected creates a CONNECTED message
func NewConnected(name, id string) *Message {
	return NewMessage(MsgConnected, map[int]interface{}{keyName: name, keyID: id})
}

// NewDisconnected creates a DISCONNECTED message
func NewDisconnected() *Message {
	return NewMessage(MsgDisconnected, nil)
}

// NewNotification creates a NOTIFICATION message
func NewNotification(uuid string, data []byte) *Message {
	return NewMessage(MsgNotification, map[int]interface{}{keyUUID: uuid, keyData: data})
}

// NewError creates an ERROR message
func NewError(code uint64, text string) *Message {
	return NewMessage(MsgError, map[int]interface{}{keyCode: code, keyText: text})
}
