// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/Thermoquad/musestat/pkg/muse"
)

// Notification is one characteristic value change delivered by a transport
type Notification struct {
	ChannelID string
	Payload   []byte
	Received  time.Time
}

// Sink receives reassembled frames. Accept must not block for long: it is
// called on the pump goroutine.
type Sink interface {
	Accept(frame muse.Frame) error
}

// Pump turns notifications into frames. It owns its reassembler; the slate
// is discarded with the pump and never flushed.
type Pump struct {
	channels    *muse.ChannelMap
	gate        *Gate
	sink        Sink
	stats       *Stats
	logger      *slog.Logger
	reassembler *muse.Reassembler
}

// NewPump creates a pump. A nil stats or logger gets a private default.
func NewPump(channels *muse.ChannelMap, gate *Gate, sink Sink, stats *Stats, logger *slog.Logger) *Pump {
	if stats == nil {
		stats = NewStats()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pump{
		channels:    channels,
		gate:        gate,
		sink:        sink,
		stats:       stats,
		logger:      logger,
		reassembler: muse.NewReassembler(),
	}
}

// Run consumes notifications until the source closes (ErrSourceClosed) or
// ctx is cancelled (ctx.Err()). Per-notification failures are counted and
// never end the loop.
func (p *Pump) Run(ctx context.Context, source <-chan Notification) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-source:
			if !ok {
				return ErrSourceClosed
			}
			p.handle(n)
		}
	}
}

func (p *Pump) handle(n Notification) {
	p.stats.notifications.Add(1)

	ch, ok := p.channels.Lookup(n.ChannelID)
	if !ok {
		p.stats.unrecognized.Add(1)
		p.logger.Debug("dropping notification", "channel", n.ChannelID, "error", ErrUnrecognizedChannel)
		return
	}

	// Gate is read before each decode so a stop takes effect within one notification
	if !p.gate.IsOpen() {
		p.stats.gateDropped.Add(1)
		return
	}

	samples, err := muse.DecodeChunk(ch.Family, n.Payload)
	if err != nil {
		p.stats.decodeErrors.Add(1)
		p.logger.Debug("decode failed", "channel", ch.Label(), "len", len(n.Payload), "error", err)
		return
	}

	frames := p.reassembler.Write(ch, samples)
	if len(frames) == 0 {
		return
	}
	p.stats.addFrames(ch.Family, len(frames))
	for _, frame := range frames {
		if err := p.sink.Accept(frame); err != nil {
			p.stats.sinkErrors.Add(1)
			p.logger.Debug("sink rejected frame", "family", frame.Family, "error", err)
		}
	}
}
