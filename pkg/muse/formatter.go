// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package muse

import (
	"fmt"
	"strings"
	"time"
)

// FormatFrame formats a frame into a human-readable line
func FormatFrame(f Frame, ts time.Time) string {
	labels := f.Family.Labels()
	var s strings.Builder
	fmt.Fprintf(&s, "[%s] %s", ts.Format("15:04:05.000"), strings.ToUpper(f.Family.String()))
	for i, v := range f.Values {
		label := fmt.Sprintf("ch%d", i)
		if i < len(labels) {
			label = labels[i]
		}
		fmt.Fprintf(&s, " %s=%.0f", label, v)
	}
	s.WriteString("\n")
	return s.String()
}

// FormatChunk formats one decoded chunk for the raw notification log
func FormatChunk(ch Channel, samples []float32, ts time.Time) string {
	values := make([]string, len(samples))
	for i, v := range samples {
		values[i] = fmt.Sprintf("%.0f", v)
	}
	status := ""
	if len(samples) < ch.Family.ChunkLength() {
		status = fmt.Sprintf(" (short: %d/%d)", len(samples), ch.Family.ChunkLength())
	}
	return fmt.Sprintf("[%s] %-12s n=%-2d [%s]%s\n",
		ts.Format("15:04:05.000"), ch.Label(), len(samples), strings.Join(values, " "), status)
}

// FormatCommand formats a command and its wire framing
func FormatCommand(cmd, frame []byte) string {
	hex := make([]string, len(frame))
	for i, b := range frame {
		hex[i] = fmt.Sprintf("%02X", b)
	}
	return fmt.Sprintf("%-6q -> %s\n", string(cmd), strings.Join(hex, " "))
}
