// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/musestat/pkg/muse"
)

// Record is the wire form of a frame published by the NATS and outlet sinks
type Record struct {
	Family    string    `cbor:"family" json:"family"`
	Seq       uint64    `cbor:"seq" json:"seq"`
	Timestamp int64     `cbor:"ts" json:"ts"` // unix nanoseconds
	Values    []float32 `cbor:"values" json:"values"`
}

// StreamInfo describes a family's stream to consumers
type StreamInfo struct {
	Name         string   `cbor:"name" json:"name"`
	Family       string   `cbor:"family" json:"family"`
	SampleRate   float64  `cbor:"rate" json:"rate"`
	Labels       []string `cbor:"labels" json:"labels"`
	Unit         string   `cbor:"unit" json:"unit"`
	Manufacturer string   `cbor:"manufacturer" json:"manufacturer"`
	Model        string   `cbor:"model" json:"model"`
}

// NewStreamInfo returns the metadata for a family
func NewStreamInfo(family muse.Family) StreamInfo {
	return StreamInfo{
		Name:         family.StreamName(),
		Family:       family.String(),
		SampleRate:   family.SampleRate(),
		Labels:       family.Labels(),
		Unit:         family.Unit(),
		Manufacturer: muse.Manufacturer,
		Model:        muse.Model,
	}
}

// EncodeRecord encodes a frame as a CBOR Record
func EncodeRecord(f muse.Frame, seq uint64, ts time.Time) ([]byte, error) {
	data, err := cbor.Marshal(Record{
		Family:    f.Family.String(),
		Seq:       seq,
		Timestamp: ts.UnixNano(),
		Values:    f.Values,
	})
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

// DecodeRecord decodes a CBOR Record
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}
