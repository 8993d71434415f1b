// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
)

// Encode encodes a message to wire format, including framing and byte stuffing.
func Encode(m *Message) ([]byte, error) {
	return EncodeFromValues(m.Type(), m.Payload())
}

// EncodeFromValues creates a complete wire-formatted bridge frame.
func EncodeFromValues(msgType uint8, payload map[int]interface{}) ([]byte, error) {
	body, err := encodeCBORBody(msgType, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR payload: %w", err)
	}

	if len(body) > MaxPayloadSize {
		return nil, fmt.Errorf("CBOR payload too large: %d bytes (max %d)", len(body), MaxPayloadSize)
	}

	// length + body is what gets CRC'd and byte-stuffed
	data := make([]byte, 0, 1+len(body)+2)
	data = append(data, uint8(len(body)))
	data = append(data, body...)

	crc := CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc&0xFF))

	stuffed := stuffBytes(data)

	frame := make([]byte, 0, len(stuffed)+2)
	frame = append(frame, StartByte)
	frame = append(frame, stuffed...)
	frame = append(frame, EndByte)

	return frame, nil
}

// MustEncode encodes a message to wire format.
// Panics on encoding error (use Encode for error handling).
func MustEncode(m *Message) []byte {
	data, err := Encode(m)
	if err != nil {
		panic(fmt.Sprintf("bridge: encode error: %v", err))
	}
	return data
}

// stuffBytes escapes START, END and ESC as ESC + (byte XOR EscXor).
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			result = append(result, EscByte, b^EscXor)
		} else {
			result = append(result, b)
		}
	}
	return result
}

// UnstuffBytes removes byte stuffing from escaped data.
// This is the inverse of stuffBytes.
func UnstuffBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false

	for _, b := range data {
		if escapeNext {
			result = append(result, b^EscXor)
			escapeNext = false
		} else if b == EscByte {
			escapeNext = true
		} else {
			result = append(result, b)
		}
	}

	if escapeNext {
		return nil, fmt.Errorf("incomplete escape sequence at end of data")
	}

	return result, nil
}
