// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package muse

import (
	"errors"
	"fmt"
)

// ErrCommandTooLong is returned when a command does not fit the length byte
var ErrCommandTooLong = errors.New("command too long")

// commandMarker is the placeholder later replaced by the length byte
const commandMarker = 'X'

// EncodeCommand frames a control command for the control characteristic.
//
// The wire form is the buffer 'X' + cmd + '\n' with the leading marker
// overwritten by the buffer length minus one.
func EncodeCommand(cmd []byte) ([]byte, error) {
	if len(cmd) > MaxCommandLength {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrCommandTooLong, len(cmd), MaxCommandLength)
	}

	buf := make([]byte, 0, len(cmd)+2)
	buf = append(buf, commandMarker)
	buf = append(buf, cmd...)
	buf = append(buf, '\n')

	buf[0] = uint8(len(buf) - 1)
	return buf, nil
}

// MustEncodeCommand is EncodeCommand for commands known to fit.
// Panics on encoding error (use EncodeCommand for error handling).
func MustEncodeCommand(cmd []byte) []byte {
	frame, err := EncodeCommand(cmd)
	if err != nil {
		panic(fmt.Sprintf("muse: encode error: %v", err))
	}
	return frame
}

// DecodeCommand reverses EncodeCommand. Used by the raw log and tests.
func DecodeCommand(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("command frame too short: %d bytes", len(frame))
	}
	if int(frame[0]) != len(frame)-1 {
		return nil, fmt.Errorf("length byte mismatch: header says %d, frame has %d", frame[0], len(frame)-1)
	}
	if frame[len(frame)-1] != '\n' {
		return nil, fmt.Errorf("missing command terminator")
	}
	return append([]byte(nil), frame[1:len(frame)-1]...), nil
}
