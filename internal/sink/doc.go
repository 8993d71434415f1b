// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sink provides frame consumers for the notification pump.
//
// Every sink implements session.Sink. Accept runs on the pump goroutine, so
// sinks that talk to the network sit behind a Queue, which never blocks and
// drops frames when full. Delivery is best effort throughout.
package sink
