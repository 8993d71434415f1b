// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package muse

import (
	"fmt"
	"strings"
)

// Family is a group of channels sharing chunk geometry and a decode rule.
type Family uint8

const (
	FamilyEEG Family = iota
	FamilyPPG

	familyCount = 2
)

// Families lists every family in a stable order
var Families = [familyCount]Family{FamilyEEG, FamilyPPG}

var (
	eegLabels = []string{"EEG_TP9", "EEG_AF7", "EEG_AF8", "EEG_TP10", "EEG_AUX"}
	ppgLabels = []string{"PPG_AMBIENT", "PPG_INFRARED", "PPG_RED"}
)

// String returns the lowercase family name
func (f Family) String() string {
	switch f {
	case FamilyEEG:
		return "eeg"
	case FamilyPPG:
		return "ppg"
	default:
		return fmt.Sprintf("family(%d)", uint8(f))
	}
}

// Valid reports whether f is a known family
func (f Family) Valid() bool {
	return f < familyCount
}

// Channels returns the number of channels in the family
func (f Family) Channels() int {
	switch f {
	case FamilyEEG:
		return EEGChannelCount
	case FamilyPPG:
		return PPGChannelCount
	}
	return 0
}

// ChunkLength returns the number of samples carried by one chunk
func (f Family) ChunkLength() int {
	switch f {
	case FamilyEEG:
		return EEGChunkLength
	case FamilyPPG:
		return PPGChunkLength
	}
	return 0
}

// LastChannel returns the index of the channel that closes a chunk cycle.
func (f Family) LastChannel() int {
	return f.Channels() - 1
}

// SampleRate returns the nominal sample rate in Hz
func (f Family) SampleRate() float64 {
	switch f {
	case FamilyEEG:
		return EEGSampleRate
	case FamilyPPG:
		return PPGSampleRate
	}
	return 0
}

// Labels returns the channel labels in channel order
func (f Family) Labels() []string {
	switch f {
	case FamilyEEG:
		return append([]string(nil), eegLabels...)
	case FamilyPPG:
		return append([]string(nil), ppgLabels...)
	}
	return nil
}

// Unit returns the unit reported for the family's samples
func (f Family) Unit() string {
	if f == FamilyEEG {
		return "microvolt"
	}
	return "N/A"
}

// StreamName returns the display name used by outlets
func (f Family) StreamName() string {
	return fmt.Sprintf("%s %s", Model, strings.ToUpper(f.String()))
}

// ParseFamily parses a family name as returned by String
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eeg":
		return FamilyEEG, nil
	case "ppg":
		return FamilyPPG, nil
	}
	return 0, fmt.Errorf("unknown family: %q", s)
}

// Channel identifies one channel within a family
type Channel struct {
	Family Family
	Index  int
}

// Label returns the channel's label, e.g. EEG_AF7
func (c Channel) Label() string {
	labels := c.Family.Labels()
	if c.Index < 0 || c.Index >= len(labels) {
		return fmt.Sprintf("%s[%d]", c.Family, c.Index)
	}
	return labels[c.Index]
}

// IsLast reports whether the channel closes its family's chunk cycle
func (c Channel) IsLast() bool {
	return c.Index == c.Family.LastChannel()
}

// ChannelMap maps a notification's characteristic identity to its channel.
// The mapping is fixed at construction; unknown identities are not errors.
type ChannelMap struct {
	byID  map[string]Channel
	order []string
}

// NewChannelMap builds a map from family-ordered characteristic identities.
// Every family present must list exactly Channels() identities.
func NewChannelMap(ids map[Family][]string) (*ChannelMap, error) {
	m := &ChannelMap{byID: make(map[string]Channel)}
	for _, family := range Families {
		list, ok := ids[family]
		if !ok {
			continue
		}
		if len(list) != family.Channels() {
			return nil, fmt.Errorf("%s: expected %d channel ids, got %d", family, family.Channels(), len(list))
		}
		for i, id := range list {
			key := normalizeID(id)
			if _, dup := m.byID[key]; dup {
				return nil, fmt.Errorf("duplicate channel id: %s", id)
			}
			m.byID[key] = Channel{Family: family, Index: i}
			m.order = append(m.order, key)
		}
	}
	return m, nil
}

// DefaultChannelMap returns the Muse S characteristic mapping
func DefaultChannelMap() *ChannelMap {
	m, err := NewChannelMap(map[Family][]string{
		FamilyEEG: {EEGTP9UUID, EEGAF7UUID, EEGAF8UUID, EEGTP10UUID, EEGAUXUUID},
		FamilyPPG: {PPGAmbientUUID, PPGInfraredUUID, PPGRedUUID},
	})
	if err != nil {
		panic(fmt.Sprintf("muse: default channel map: %v", err))
	}
	return m
}

// Lookup returns the channel for a characteristic identity
func (m *ChannelMap) Lookup(id string) (Channel, bool) {
	ch, ok := m.byID[normalizeID(id)]
	return ch, ok
}

// IDs returns every mapped identity in family then channel order
func (m *ChannelMap) IDs() []string {
	return append([]string(nil), m.order...)
}

// Len returns the number of mapped channels
func (m *ChannelMap) Len() int {
	return len(m.order)
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
