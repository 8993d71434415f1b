// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"errors"

	"github.com/Thermoquad/musestat/internal/session"
	"github.com/Thermoquad/musestat/pkg/muse"
)

// Multi fans a frame out to every sink, in order
type Multi []session.Sink

// Accept implements session.Sink. Every sink sees the frame; the errors are joined.
func (m Multi) Accept(f muse.Frame) error {
	var errs []error
	for _, s := range m {
		if err := s.Accept(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Func adapts a function to session.Sink
type Func func(muse.Frame) error

// Accept implements session.Sink
func (fn Func) Accept(f muse.Frame) error {
	return fn(f)
}
