// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package muse

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Command vocabulary understood by the headset firmware
const (
	CmdHalt     = "h"
	CmdStart    = "s"
	CmdResume   = "d"
	CmdPreset21 = "p21"
	CmdPreset50 = "p50"
)

// CommandSet is a named, versioned start/halt vocabulary.
// The codec frames these bytes; it never interprets them.
type CommandSet struct {
	Name  string
	Start []string
	Halt  string
}

// Built-in command sets
var (
	// PresetP50 enables EEG and PPG (the Muse S default)
	PresetP50 = CommandSet{
		Name:  "p50",
		Start: []string{CmdHalt, CmdPreset50, CmdStart, CmdResume},
		Halt:  CmdHalt,
	}

	// PresetP21 streams EEG only
	PresetP21 = CommandSet{
		Name:  "p21",
		Start: []string{CmdHalt, CmdPreset21, CmdStart, CmdResume},
		Halt:  CmdHalt,
	}
)

var commandSets = map[string]CommandSet{
	PresetP50.Name: PresetP50.Clone(),
	PresetP21.Name: PresetP21.Clone(),
}

// LookupCommandSet returns a copy of the command set registered under name
func LookupCommandSet(name string) (CommandSet, error) {
	set, ok := commandSets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return CommandSet{}, fmt.Errorf("unknown command preset %q (known: %s)", name, strings.Join(CommandSetNames(), ", "))
	}
	return set.Clone(), nil
}

// Clone returns a copy that shares no memory with c
func (c CommandSet) Clone() CommandSet {
	c.Start = slices.Clone(c.Start)
	return c
}

// CommandSetNames returns the registered preset names, sorted
func CommandSetNames() []string {
	names := make([]string, 0, len(commandSets))
	for name := range commandSets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartFrames returns the framed start sequence
func (c CommandSet) StartFrames() ([][]byte, error) {
	frames := make([][]byte, 0, len(c.Start))
	for _, cmd := range c.Start {
		frame, err := EncodeCommand([]byte(cmd))
		if err != nil {
			return nil, fmt.Errorf("preset %s: %w", c.Name, err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// HaltFrame returns the framed halt command
func (c CommandSet) HaltFrame() ([]byte, error) {
	return EncodeCommand([]byte(c.Halt))
}
