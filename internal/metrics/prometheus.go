// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes session counters to Prometheus.
//
// Counters live in session.Stats and the transports; the collectors here are
// func-backed so a scrape always reads the current values.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Thermoquad/musestat/internal/session"
	"github.com/Thermoquad/musestat/pkg/muse"
)

// Namespace prefixes every metric name
const Namespace = "musestat"

// Sources are the values the collectors read
type Sources struct {
	Stats  *session.Stats
	Status func() session.Status

	// Optional counters owned by the transport and sinks
	TransportDropped func() uint64
	SinkDropped      func() uint64
}

// Metrics holds the registered collectors
type Metrics struct {
	Notifications    prometheus.CounterFunc
	Unrecognized     prometheus.CounterFunc
	GateDropped      prometheus.CounterFunc
	DecodeErrors     prometheus.CounterFunc
	SinkErrors       prometheus.CounterFunc
	Transitions      prometheus.CounterFunc
	Frames           map[muse.Family]prometheus.CounterFunc
	Streaming        prometheus.GaugeFunc
	Connected        prometheus.GaugeFunc
	TransportDropped prometheus.CounterFunc
	SinkDropped      prometheus.CounterFunc
}

// Register creates the collectors on reg
func Register(reg prometheus.Registerer, src Sources) *Metrics {
	factory := promauto.With(reg)
	stats := src.Stats

	counter := func(name, help string, fn func() uint64) prometheus.CounterFunc {
		return factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn()) })
	}

	m := &Metrics{
		Notifications: counter("notifications_received_total", "Notifications seen by the pump", stats.Notifications),
		Unrecognized:  counter("notifications_unrecognized_total", "Notifications dropped for an unmapped channel", stats.Unrecognized),
		GateDropped:   counter("notifications_gate_dropped_total", "Notifications dropped while streaming was off", stats.GateDropped),
		DecodeErrors:  counter("decode_errors_total", "Notification payloads that failed to decode", stats.DecodeErrors),
		SinkErrors:    counter("sink_errors_total", "Frames rejected by the sink", stats.SinkErrors),
		Transitions:   counter("session_transitions_total", "Session state changes", stats.Transitions),
		Frames:        make(map[muse.Family]prometheus.CounterFunc, len(muse.Families)),
	}

	for _, family := range muse.Families {
		m.Frames[family] = factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "frames_emitted_total",
			Help:        "Frames emitted by the reassembler",
			ConstLabels: prometheus.Labels{"family": family.String()},
		}, func() float64 { return float64(stats.Frames(family)) })
	}

	if src.Status != nil {
		m.Streaming = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "streaming",
			Help:      "1 while the session is streaming",
		}, func() float64 { return boolToFloat(src.Status().Streaming) })
		m.Connected = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "connected",
			Help:      "1 while a headset is connected",
		}, func() float64 { return boolToFloat(src.Status().Connected) })
	}

	if src.TransportDropped != nil {
		m.TransportDropped = counter("transport_dropped_total", "Notifications dropped on a full transport buffer", src.TransportDropped)
	}
	if src.SinkDropped != nil {
		m.SinkDropped = counter("sink_dropped_total", "Frames dropped on a full sink queue", src.SinkDropped)
	}

	return m
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
