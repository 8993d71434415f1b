// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package muse

// Frame is one instant sampled across every channel of a family.
// Values holds one sample per channel in channel order.
type Frame struct {
	Family Family
	Values []float32
}

// Value returns the sample for channel index i, or 0 if out of range
func (f Frame) Value(i int) float32 {
	if i < 0 || i >= len(f.Values) {
		return 0
	}
	return f.Values[i]
}
