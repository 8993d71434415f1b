// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
)

// FormatMessage formats a message into a human-readable string
func FormatMessage(m *Message) string {
	timestamp := m.timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%02X)", timestamp, FormatMessageType(m.Type()), m.Type())

	switch m.Type() {
	case MsgConnect:
		target := m.Target()
		if target == "" {
			target = "(any)"
		}
		result += fmt.Sprintf(" target=%s", target)
	case MsgConnected:
		result += fmt.Sprintf(" name=%s id=%s", m.DeviceName(), m.DeviceID())
	case MsgSubscribe, MsgUnsubscribe:
		result += fmt.Sprintf(" uuid=%s", m.UUID())
	case MsgWrite, MsgNotification:
		result += fmt.Sprintf(" uuid=%s len=%d data=% X", m.UUID(), len(m.Data()), m.Data())
	case MsgError:
		result += fmt.Sprintf(" %v", m.Err())
	}

	return result + "\n"
}

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(msgType uint8) string {
	switch msgType {
	case MsgConnect:
		return "CONNECT"
	case MsgDisconnect:
		return "DISCONNECT"
	case MsgSubscribe:
		return "SUBSCRIBE"
	case MsgUnsubscribe:
		return "UNSUBSCRIBE"
	case MsgWrite:
		return "WRITE"
	case MsgConnected:
		return "CONNECTED"
	case MsgDisconnected:
		return "DISCONNECTED"
	case MsgNotification:
		return "NOTIFICATION"
	case MsgError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", msgType)
	}
}
