// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/musestat/pkg/muse"
)

// Stats tracks pump and session counters. Safe for concurrent use: the pump
// writes while the TUI, HTTP API and metrics collectors read.
type Stats struct {
	startTime atomic.Int64

	notifications atomic.Uint64
	unrecognized  atomic.Uint64
	gateDropped   atomic.Uint64
	decodeErrors  atomic.Uint64
	sinkErrors    atomic.Uint64
	transitions   atomic.Uint64
	frames        [len(muse.Families)]atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats with derived rates
type StatsSnapshot struct {
	Elapsed       time.Duration `json:"elapsed"`
	Notifications uint64        `json:"notifications"`
	Unrecognized  uint64        `json:"unrecognized"`
	GateDropped   uint64        `json:"gate_dropped"`
	DecodeErrors  uint64        `json:"decode_errors"`
	SinkErrors    uint64        `json:"sink_errors"`
	Transitions   uint64        `json:"transitions"`
	EEGFrames     uint64        `json:"eeg_frames"`
	PPGFrames     uint64        `json:"ppg_frames"`

	NotificationRate float64 `json:"notification_rate"` // notifications/sec
	EEGFrameRate     float64 `json:"eeg_frame_rate"`    // frames/sec
	PPGFrameRate     float64 `json:"ppg_frame_rate"`    // frames/sec
}

// NewStats creates a new statistics tracker
func NewStats() *Stats {
	s := &Stats{}
	s.startTime.Store(time.Now().UnixNano())
	return s
}

// Notifications returns the number of notifications seen by the pump
func (s *Stats) Notifications() uint64 { return s.notifications.Load() }

// Unrecognized returns the number of notifications dropped for an unmapped channel
func (s *Stats) Unrecognized() uint64 { return s.unrecognized.Load() }

// GateDropped returns the number of notifications dropped while the gate was closed
func (s *Stats) GateDropped() uint64 { return s.gateDropped.Load() }

// DecodeErrors returns the number of payloads that failed to decode
func (s *Stats) DecodeErrors() uint64 { return s.decodeErrors.Load() }

// SinkErrors returns the number of frames the sink rejected
func (s *Stats) SinkErrors() uint64 { return s.sinkErrors.Load() }

// Transitions returns the number of session state changes
func (s *Stats) Transitions() uint64 { return s.transitions.Load() }

// Frames returns the number of frames emitted for a family
func (s *Stats) Frames(family muse.Family) uint64 {
	if !family.Valid() {
		return 0
	}
	return s.frames[family].Load()
}

func (s *Stats) addFrames(family muse.Family, n int) {
	if family.Valid() {
		s.frames[family].Add(uint64(n))
	}
}

// Snapshot copies the counters and calculates rates
func (s *Stats) Snapshot() StatsSnapshot {
	elapsed := time.Since(time.Unix(0, s.startTime.Load()))
	snap := StatsSnapshot{
		Elapsed:       elapsed,
		Notifications: s.Notifications(),
		Unrecognized:  s.Unrecognized(),
		GateDropped:   s.GateDropped(),
		DecodeErrors:  s.DecodeErrors(),
		SinkErrors:    s.SinkErrors(),
		Transitions:   s.Transitions(),
		EEGFrames:     s.Frames(muse.FamilyEEG),
		PPGFrames:     s.Frames(muse.FamilyPPG),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		snap.NotificationRate = float64(snap.Notifications) / secs
		snap.EEGFrameRate = float64(snap.EEGFrames) / secs
		snap.PPGFrameRate = float64(snap.PPGFrames) / secs
	}
	return snap
}

// String returns a formatted statistics summary
func (s *Stats) String() string {
	snap := s.Snapshot()

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", snap.Elapsed.Seconds())
	result += fmt.Sprintf("Notifications:   %8d\n", snap.Notifications)
	result += fmt.Sprintf("EEG Frames:      %8d (%.1f/sec)\n", snap.EEGFrames, snap.EEGFrameRate)
	result += fmt.Sprintf("PPG Frames:      %8d (%.1f/sec)\n", snap.PPGFrames, snap.PPGFrameRate)

	if snap.Unrecognized > 0 {
		result += fmt.Sprintf("Unrecognized:    %8d\n", snap.Unrecognized)
	}
	if snap.GateDropped > 0 {
		result += fmt.Sprintf("Gate Dropped:    %8d\n", snap.GateDropped)
	}
	if snap.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", snap.DecodeErrors)
	}
	if snap.SinkErrors > 0 {
		result += fmt.Sprintf("Sink Errors:     %8d\n", snap.SinkErrors)
	}

	result += fmt.Sprintf("Notify Rate:     %8.1f notif/sec\n", snap.NotificationRate)
	result += "================================\n"

	return result
}

// Reset resets all counters
func (s *Stats) Reset() {
	s.startTime.Store(time.Now().UnixNano())
	s.notifications.Store(0)
	s.unrecognized.Store(0)
	s.gateDropped.Store(0)
	s.decodeErrors.Store(0)
	s.sinkErrors.Store(0)
	s.transitions.Store(0)
	for i := range s.frames {
		s.frames[i].Store(0)
	}
}
