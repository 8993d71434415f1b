// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Thermoquad/musestat/pkg/muse"
)

// DefaultSubjectPrefix is the subject root frames are published under
const DefaultSubjectPrefix = "muse"

// Publisher is the part of *nats.Conn the NATS sink uses
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes CBOR records to <prefix>.<family>, e.g. muse.eeg
type NATS struct {
	pub    Publisher
	prefix string
	seq    [len(muse.Families)]atomic.Uint64
	now    func() time.Time
}

// NewNATS creates a NATS sink. An empty prefix uses DefaultSubjectPrefix.
func NewNATS(pub Publisher, prefix string) *NATS {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATS{pub: pub, prefix: prefix, now: time.Now}
}

// Subject returns the subject a family is published on
func (s *NATS) Subject(family muse.Family) string {
	return s.prefix + "." + family.String()
}

// Accept implements session.Sink
func (s *NATS) Accept(f muse.Frame) error {
	if !f.Family.Valid() {
		return fmt.Errorf("invalid family %d", f.Family)
	}
	seq := s.seq[f.Family].Add(1)
	data, err := EncodeRecord(f, seq, s.now())
	if err != nil {
		return err
	}
	if err := s.pub.Publish(s.Subject(f.Family), data); err != nil {
		return fmt.Errorf("publish %s: %w", s.Subject(f.Family), err)
	}
	return nil
}

// ConnectNATS dials a NATS server with reconnects enabled
func ConnectNATS(url, clientName string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}
