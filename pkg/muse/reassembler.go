// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package muse

// Reassembler turns per-channel chunks into aligned frames.
//
// The headset sends one notification per channel in a fixed order each
// cycle. The last channel of a family acts as the commit marker: writing it
// emits ChunkLength frames built from the current slate, then zeroes the
// slate. A Reassembler is not safe for concurrent use.
type Reassembler struct {
	slates [familyCount][][]float32
}

// NewReassembler creates a reassembler with zeroed slates
func NewReassembler() *Reassembler {
	r := &Reassembler{}
	for _, family := range Families {
		slate := make([][]float32, family.Channels())
		for i := range slate {
			slate[i] = make([]float32, family.ChunkLength())
		}
		r.slates[family] = slate
	}
	return r
}

// Write stores chunk in the slot for ch and returns any frames completed by it.
//
// Chunks shorter than the family's chunk length leave the slot untouched.
// Writing the last channel always closes the cycle, even if its own chunk
// was short.
func (r *Reassembler) Write(ch Channel, chunk []float32) []Frame {
	if !ch.Family.Valid() || ch.Index < 0 || ch.Index >= ch.Family.Channels() {
		return nil
	}

	slate := r.slates[ch.Family]
	n := ch.Family.ChunkLength()
	if len(chunk) >= n {
		copy(slate[ch.Index], chunk[:n])
	}

	if !ch.IsLast() {
		return nil
	}

	frames := make([]Frame, n)
	for sample := 0; sample < n; sample++ {
		values := make([]float32, len(slate))
		for channel := range slate {
			values[channel] = slate[channel][sample]
		}
		frames[sample] = Frame{Family: ch.Family, Values: values}
	}
	r.resetFamily(ch.Family)
	return frames
}

// Slate returns a copy of the pending chunks for family, indexed [channel][sample]
func (r *Reassembler) Slate(family Family) [][]float32 {
	if !family.Valid() {
		return nil
	}
	src := r.slates[family]
	out := make([][]float32, len(src))
	for i := range src {
		out[i] = append([]float32(nil), src[i]...)
	}
	return out
}

// Reset zeroes every slate
func (r *Reassembler) Reset() {
	for _, family := range Families {
		r.resetFamily(family)
	}
}

func (r *Reassembler) resetFamily(family Family) {
	for _, slot := range r.slates[family] {
		clear(slot)
	}
}
