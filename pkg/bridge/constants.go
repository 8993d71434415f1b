// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge implements the host side of the Musestat BLE bridge protocol.
//
// A bridge (a microcontroller on a serial port, or a Slate-style router behind
// a WebSocket) owns the Bluetooth radio and relays GATT traffic as framed
// messages. Frames use the Fusain byte-stuffed framing with a CRC-16-CCITT
// trailer; message bodies are CBOR arrays of [msg_type, payload_map].
package bridge

// Protocol framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Frame size limits
const (
	MaxPayloadSize = 240
	MaxPacketSize  = 1 + MaxPayloadSize + 2 // length + payload + CRC
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Message types - Host → Bridge 0x10-0x1F
const (
	MsgConnect     = 0x10
	MsgDisconnect  = 0x11
	MsgSubscribe   = 0x12
	MsgUnsubscribe = 0x13
	MsgWrite       = 0x14
)

// Message types - Bridge → Host 0x30-0x3F
const (
	MsgConnected    = 0x30
	MsgDisconnected = 0x31
	MsgNotification = 0x32
)

// Message types - Errors 0xE0-0xEF
const (
	MsgError = 0xE0
)

// Payload keys
const (
	keyUUID   = 0
	keyData   = 1
	keyTarget = 0
	keyName   = 0
	keyID     = 1
	keyCode   = 0
	keyText   = 1
)

// Error codes carried by MsgError
const (
	ErrCodeUnknown        = 0
	ErrCodeNotFound       = 1
	ErrCodeNotConnected   = 2
	ErrCodeNoSuchUUID     = 3
	ErrCodeWriteFailed    = 4
	ErrCodeSubscribeFailed = 5
)

// Decoder states
const (
	stateIdle = iota
	stateLength
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)
