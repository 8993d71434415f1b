// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package muse decodes the telemetry protocol spoken by Muse biosignal headsets.
//
// The headset streams each channel's samples as a separate GATT notification.
// This package frames control commands, decodes notification payloads into
// per-channel chunks, and reassembles chunks into aligned multi-channel frames.
// It performs no I/O.
package muse

// GATT service and characteristic identifiers (lowercase canonical form)
const (
	ServiceUUID = "0000fe8d-0000-1000-8000-00805f9b34fb"
	ControlUUID = "273e0001-4c4d-454d-96be-f03bac821358"
)

// EEG characteristics, in channel order
const (
	EEGTP9UUID  = "273e0003-4c4d-454d-96be-f03bac821358"
	EEGAF7UUID  = "273e0004-4c4d-454d-96be-f03bac821358"
	EEGAF8UUID  = "273e0005-4c4d-454d-96be-f03bac821358"
	EEGTP10UUID = "273e0006-4c4d-454d-96be-f03bac821358"
	EEGAUXUUID  = "273e0007-4c4d-454d-96be-f03bac821358"
)

// PPG characteristics, in channel order
const (
	PPGAmbientUUID  = "273e000f-4c4d-454d-96be-f03bac821358"
	PPGInfraredUUID = "273e0010-4c4d-454d-96be-f03bac821358"
	PPGRedUUID      = "273e0011-4c4d-454d-96be-f03bac821358"
)

// Chunk geometry
const (
	EEGChannelCount = 5
	EEGChunkLength  = 12
	PPGChannelCount = 3
	PPGChunkLength  = 6

	// MaxChannels is the widest family
	MaxChannels = EEGChannelCount
)

// HeaderSize is the per-notification header discarded by the decoders.
const HeaderSize = 2

// MaxCommandLength is the longest command that fits the single length byte.
const MaxCommandLength = 255 - 2

// Nominal sample rates in Hz
const (
	EEGSampleRate = 256.0
	PPGSampleRate = 64.0
)

// Device metadata reported to sinks
const (
	Manufacturer = "Interaxon"
	Model        = "Muse S Gen 2"
)
