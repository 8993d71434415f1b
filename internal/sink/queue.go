// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Thermoquad/musestat/internal/session"
	"github.com/Thermoquad/musestat/pkg/muse"
)

// Queue errors
var (
	ErrQueueFull   = errors.New("sink queue full")
	ErrQueueClosed = errors.New("sink queue closed")
)

// Queue decouples the pump from a slow sink. Accept never blocks.
type Queue struct {
	next   session.Sink
	logger *slog.Logger
	frames chan muse.Frame
	done   chan struct{}
	// warnLimit bounds overflow warnings while a sink is stalled
	warnLimit *rate.Limiter

	mu     sync.RWMutex
	closed bool

	dropped   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// NewQueue starts a queue of the given capacity in front of next
func NewQueue(next session.Sink, capacity int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		next:      next,
		logger:    logger,
		frames:    make(chan muse.Frame, capacity),
		done:      make(chan struct{}),
		warnLimit: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	go q.run()
	return q
}

// Accept enqueues the frame, or drops it when the queue is full
func (q *Queue) Accept(f muse.Frame) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.frames <- f:
		return nil
	default:
		dropped := q.dropped.Add(1)
		if q.warnLimit.Allow() {
			q.logger.Warn("sink queue full, dropping frames", "dropped", dropped, "capacity", cap(q.frames))
		}
		return ErrQueueFull
	}
}

// Close stops accepting frames and waits until the queued ones are delivered
func (q *Queue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.frames)
	}
	q.mu.Unlock()
	<-q.done
	return nil
}

// Dropped returns the number of frames dropped on overflow
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Delivered returns the number of frames the next sink accepted
func (q *Queue) Delivered() uint64 { return q.delivered.Load() }

// Failed returns the number of frames the next sink rejected
func (q *Queue) Failed() uint64 { return q.failed.Load() }

func (q *Queue) run() {
	defer close(q.done)
	for f := range q.frames {
		if err := q.next.Accept(f); err != nil {
			q.failed.Add(1)
			q.logger.Debug("queued sink rejected frame", "family", f.Family, "error", err)
			continue
		}
		q.delivered.Add(1)
	}
}
