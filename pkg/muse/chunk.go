// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package muse

import (
	"errors"
	"fmt"
)

// ErrPayloadTooShort is returned when a notification lacks its header
var ErrPayloadTooShort = errors.New("payload too short")

// ppgSampleSize is the width of one packed PPG sample
const ppgSampleSize = 3

// DecodeEEG decodes an EEG notification into one sample per payload byte.
// The result may be shorter than EEGChunkLength; callers decide completeness.
func DecodeEEG(payload []byte) ([]float32, error) {
	if len(payload) < HeaderSize {
		return nil, fmt.Errorf("EEG %w: %d bytes", ErrPayloadTooShort, len(payload))
	}

	data := payload[HeaderSize:]
	samples := make([]float32, len(data))
	for i, b := range data {
		samples[i] = float32(b)
	}
	return samples, nil
}

// DecodePPG decodes a PPG notification of big-endian 24-bit unsigned samples.
// Trailing bytes that do not form a whole sample are dropped.
func DecodePPG(payload []byte) ([]float32, error) {
	if len(payload) < HeaderSize {
		return nil, fmt.Errorf("PPG %w: %d bytes", ErrPayloadTooShort, len(payload))
	}
	return decodeUnsigned24(payload[HeaderSize:]), nil
}

func decodeUnsigned24(data []byte) []float32 {
	samples := make([]float32, 0, len(data)/ppgSampleSize)
	for i := 0; i+ppgSampleSize <= len(data); i += ppgSampleSize {
		v := uint32(data[i])<<16 | uint32(data[i+1])<<8 | uint32(data[i+2])
		samples = append(samples, float32(v))
	}
	return samples
}

// DecodeChunk dispatches to the decoder for family
func DecodeChunk(family Family, payload []byte) ([]float32, error) {
	switch family {
	case FamilyEEG:
		return DecodeEEG(payload)
	case FamilyPPG:
		return DecodePPG(payload)
	default:
		return nil, fmt.Errorf("no decoder for %s", family)
	}
}
