// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/musestat/pkg/muse"
)

// Writer prints frames as text lines
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	families map[muse.Family]bool
	now      func() time.Time
}

// NewWriter prints frames of the given families to w (all families when none given)
func NewWriter(w io.Writer, families ...muse.Family) *Writer {
	var filter map[muse.Family]bool
	if len(families) > 0 {
		filter = make(map[muse.Family]bool, len(families))
		for _, f := range families {
			filter[f] = true
		}
	}
	return &Writer{w: w, families: filter, now: time.Now}
}

// Accept implements session.Sink
func (s *Writer) Accept(f muse.Frame) error {
	if s.families != nil && !s.families[f.Family] {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, muse.FormatFrame(f, s.now()))
	return err
}
