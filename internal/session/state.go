// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"fmt"
)

// DeviceInfo identifies a connected headset
type DeviceInfo struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// String returns "name (id)"
func (d DeviceInfo) String() string {
	if d.ID == "" {
		return d.Name
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.ID)
}

// State is the session state: a connection axis and a streaming axis.
//
// State performs no I/O and no locking. Streaming is only ever true while
// connected; every method preserves that.
type State struct {
	connected bool
	device    DeviceInfo
	streaming bool
}

// Connect records a connection to the given device. A fresh connection starts
// stopped; reconnecting while connected keeps the streaming value.
func (s *State) Connect(name, id string) {
	if !s.connected {
		s.streaming = false
	}
	s.connected = true
	s.device = DeviceInfo{Name: name, ID: id}
}

// Disconnect returns to disconnected and stopped in one assignment
func (s *State) Disconnect() {
	*s = State{}
}

// StartStreaming moves to streaming. Only valid while connected and stopped;
// otherwise the state is unchanged and an *InvalidTransitionError is returned.
func (s *State) StartStreaming() error {
	if !s.CanStartStreaming() {
		return &InvalidTransitionError{
			Op:        "start streaming",
			Connected: s.connected,
			Streaming: s.streaming,
		}
	}
	s.streaming = true
	return nil
}

// StopStreaming moves to stopped. Always succeeds.
func (s *State) StopStreaming() {
	s.streaming = false
}

// CanStartStreaming reports whether StartStreaming would succeed
func (s State) CanStartStreaming() bool {
	return s.connected && !s.streaming
}

// CanStopStreaming reports whether there is a stream to stop
func (s State) CanStopStreaming() bool {
	return s.streaming
}

// IsConnected reports the connection axis
func (s State) IsConnected() bool {
	return s.connected
}

// IsStreaming reports the streaming axis
func (s State) IsStreaming() bool {
	return s.streaming
}

// Device returns the connected device, if any
func (s State) Device() (DeviceInfo, bool) {
	return s.device, s.connected
}

// Summary returns a one-line description of the state
func (s State) Summary() string {
	if !s.connected {
		return "Disconnected"
	}
	return fmt.Sprintf("Connected to %s, streaming: %t", s.device, s.streaming)
}
