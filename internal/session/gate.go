// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import "sync/atomic"

// Gate is the streaming flag shared between the control path (writer) and
// the notification pump (reader). The zero value is closed.
type Gate struct {
	open atomic.Bool
}

// Open lets notifications through
func (g *Gate) Open() {
	g.open.Store(true)
}

// Close makes the pump drop notifications
func (g *Gate) Close() {
	g.open.Store(false)
}

// IsOpen reports whether notifications are let through
func (g *Gate) IsOpen() bool {
	return g.open.Load()
}
