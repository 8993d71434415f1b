// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
	"time"
)

// Decoder implements the bridge frame decoder state machine
type Decoder struct {
	state       int
	buffer      []byte
	bufferIndex int
	length      int
	crc         uint16
	escapeNext  bool
	rawBuffer   []byte
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, MaxPacketSize),
		rawBuffer: make([]byte, 0, MaxPacketSize*2),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.bufferIndex = 0
	d.length = 0
	d.crc = 0
	d.escapeNext = false
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the accumulated raw bytes since the last frame
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed message, or nil if the frame is incomplete.
// Returns an error if decoding fails; the decoder resynchronises on the next START.
func (d *Decoder) DecodeByte(b byte) (*Message, error) {
	d.rawBuffer = append(d.rawBuffer, b)

	if d.escapeNext {
		d.escapeNext = false
		return d.consume(b ^ EscXor)
	}

	switch b {
	case EscByte:
		if d.state != stateIdle {
			d.escapeNext = true
		}
		return nil, nil

	case StartByte:
		d.Reset()
		d.rawBuffer = append(d.rawBuffer, b)
		d.state = stateLength
		return nil, nil

	case EndByte:
		return d.finish()
	}

	return d.consume(b)
}

// Decode feeds a buffer through DecodeByte and returns every complete message.
// Decode errors are returned alongside the messages decoded so far.
func (d *Decoder) Decode(data []byte) ([]*Message, []error) {
	var msgs []*Message
	var errs []error
	for _, b := range data {
		msg, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if msg != nil {
			msgs = append(msgs, msg)
		}
	}
	return msgs, errs
}

func (d *Decoder) consume(b byte) (*Message, error) {
	switch d.state {
	case stateIdle:
		// Waiting for START byte
		return nil, nil

	case stateLength:
		if int(b) > MaxPayloadSize {
			d.Reset()
			return nil, fmt.Errorf("invalid length: %d (max %d)", b, MaxPayloadSize)
		}
		if b == 0 {
			d.Reset()
			return nil, fmt.Errorf("invalid length: 0")
		}
		d.length = int(b)
		d.buffer[0] = b
		d.bufferIndex = 1
		d.state = statePayload
		return nil, nil

	case statePayload:
		if d.bufferIndex >= MaxPacketSize {
			d.Reset()
			return nil, fmt.Errorf("buffer overflow: frame exceeds max size")
		}
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		if d.bufferIndex-1 >= d.length {
			d.state = stateCRC1
		}
		return nil, nil

	case stateCRC1:
		d.crc = uint16(b) << 8
		d.state = stateCRC2
		return nil, nil

	case stateCRC2:
		d.crc |= uint16(b)
		d.state = stateEnd
		return nil, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("unexpected byte 0x%02X after CRC", b)
	}
}

func (d *Decoder) finish() (*Message, error) {
	if d.state != stateEnd {
		state := d.state
		d.Reset()
		if state == stateIdle {
			return nil, nil
		}
		return nil, fmt.Errorf("unexpected END byte in state %d", state)
	}

	calculated := CalculateCRC(d.buffer[:d.bufferIndex])
	if d.crc != calculated {
		err := fmt.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", calculated, d.crc)
		d.Reset()
		return nil, err
	}

	msgType, payload, err := ParseCBORMessage(d.buffer[1:d.bufferIndex])
	d.Reset()
	if err != nil {
		return nil, err
	}
	return &Message{msgType: msgType, payload: payload, timestamp: time.Now()}, nil
}
