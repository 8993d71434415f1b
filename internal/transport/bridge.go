// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/musestat/internal/session"
	"github.com/Thermoquad/musestat/pkg/bridge"
	"github.com/Thermoquad/musestat/pkg/muse"
)

// ErrClosed is returned by calls made after the link closed
var ErrClosed = errors.New("bridge link closed")

// Default bridge settings
const (
	DefaultReplyTimeout       = 15 * time.Second
	DefaultNotificationBuffer = 256
)

// BridgeOptions configures a Bridge
type BridgeOptions struct {
	ReplyTimeout       time.Duration
	NotificationBuffer int
	Logger             *slog.Logger
	// Trace, when set, sees every decoded message in both directions
	Trace func(msg *bridge.Message, outbound bool)
}

// Bridge is a session.Transport that speaks the bridge protocol over a byte
// stream (a serial port or a WebSocket). One reader goroutine decodes frames;
// notifications are delivered without blocking and dropped when the buffer
// is full.
type Bridge struct {
	link    io.ReadWriteCloser
	opts    BridgeOptions
	logger  *slog.Logger
	writeMu sync.Mutex

	notifications chan session.Notification
	replies       chan *bridge.Message
	lost          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once

	// set while Disconnect waits, so its reply is not taken for a drop
	disconnecting atomic.Bool

	dropped      atomic.Uint64
	decodeErrors atomic.Uint64
}

// NewBridge starts reading from link. Close stops the reader and closes link.
func NewBridge(link io.ReadWriteCloser, opts BridgeOptions) *Bridge {
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = DefaultReplyTimeout
	}
	if opts.NotificationBuffer <= 0 {
		opts.NotificationBuffer = DefaultNotificationBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	b := &Bridge{
		link:          link,
		opts:          opts,
		logger:        opts.Logger,
		notifications: make(chan session.Notification, opts.NotificationBuffer),
		replies:       make(chan *bridge.Message, 8),
		lost:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	go b.readLoop()
	return b
}

// Connect asks the bridge to connect to target (empty for the first headset
// found) and waits for CONNECTED or ERROR.
func (b *Bridge) Connect(ctx context.Context, target string) (session.DeviceInfo, error) {
	b.drainReplies()
	drainLost(b.lost)
	if err := b.send(bridge.NewConnect(target)); err != nil {
		return session.DeviceInfo{}, err
	}
	reply, err := b.await(ctx, bridge.MsgConnected)
	if err != nil {
		return session.DeviceInfo{}, err
	}
	return session.DeviceInfo{Name: reply.DeviceName(), ID: reply.DeviceID()}, nil
}

// Disconnect asks the bridge to drop the headset and waits for DISCONNECTED
func (b *Bridge) Disconnect(ctx context.Context) error {
	b.disconnecting.Store(true)
	defer b.disconnecting.Store(false)

	b.drainReplies()
	if err := b.send(bridge.NewDisconnect()); err != nil {
		return err
	}
	_, err := b.await(ctx, bridge.MsgDisconnected)
	return err
}

// Subscribe enables notifications for a characteristic. Failures are reported
// asynchronously by the bridge and logged.
func (b *Bridge) Subscribe(ctx context.Context, channelID string) error {
	return b.send(bridge.NewSubscribe(channelID))
}

// Unsubscribe disables notifications for a characteristic
func (b *Bridge) Unsubscribe(ctx context.Context, channelID string) error {
	return b.send(bridge.NewUnsubscribe(channelID))
}

// SendControl writes a framed command to the control characteristic
func (b *Bridge) SendControl(ctx context.Context, frame []byte) error {
	return b.send(bridge.NewWrite(muse.ControlUUID, frame))
}

// Notifications returns the notification source, closed when the link closes
func (b *Bridge) Notifications() <-chan session.Notification {
	return b.notifications
}

// HeadsetLost receives when the bridge reports DISCONNECTED without being asked
func (b *Bridge) HeadsetLost() <-chan struct{} {
	return b.lost
}

// Dropped returns the number of notifications dropped on a full buffer
func (b *Bridge) Dropped() uint64 {
	return b.dropped.Load()
}

// DecodeErrors returns the number of malformed frames seen on the link
func (b *Bridge) DecodeErrors() uint64 {
	return b.decodeErrors.Load()
}

// Done is closed once the reader has exited
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Close closes the link and waits for the reader to exit
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.link.Close()
	})
	<-b.done
	return err
}

func (b *Bridge) send(msg *bridge.Message) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	frame, err := bridge.Encode(msg)
	if err != nil {
		return err
	}
	if b.opts.Trace != nil {
		b.opts.Trace(msg, true)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if _, err := b.link.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w", bridge.FormatMessageType(msg.Type()), err)
	}
	return nil
}

// await waits for a reply of the wanted type; an ERROR reply fails the wait
func (b *Bridge) await(ctx context.Context, want uint8) (*bridge.Message, error) {
	timer := time.NewTimer(b.opts.ReplyTimeout)
	defer timer.Stop()

	for {
		select {
		case reply := <-b.replies:
			if reply.Type() == bridge.MsgError {
				return nil, reply.Err()
			}
			if reply.Type() == want {
				return reply, nil
			}
			b.logger.Debug("ignoring reply", "type", bridge.FormatMessageType(reply.Type()))
		case <-timer.C:
			return nil, fmt.Errorf("timed out waiting for %s", bridge.FormatMessageType(want))
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.done:
			return nil, ErrClosed
		}
	}
}

func (b *Bridge) drainReplies() {
	for {
		select {
		case <-b.replies:
		default:
			return
		}
	}
}

func (b *Bridge) readLoop() {
	// done closes first so senders see ErrClosed once the source is closed
	defer close(b.notifications)
	defer close(b.done)

	decoder := bridge.NewDecoder()
	buf := make([]byte, 512)
	for {
		n, err := b.link.Read(buf)
		for _, c := range buf[:n] {
			msg, derr := decoder.DecodeByte(c)
			if derr != nil {
				b.decodeErrors.Add(1)
				b.logger.Debug("bridge frame error", "error", derr)
				continue
			}
			if msg != nil {
				b.dispatch(msg)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				b.logger.Debug("bridge link read ended", "error", err)
			}
			return
		}
	}
}

func (b *Bridge) dispatch(msg *bridge.Message) {
	if b.opts.Trace != nil {
		b.opts.Trace(msg, false)
	}

	switch msg.Type() {
	case bridge.MsgNotification:
		n := session.Notification{
			ChannelID: msg.UUID(),
			Payload:   msg.Data(),
			Received:  msg.Timestamp(),
		}
		select {
		case b.notifications <- n:
		default:
			b.dropped.Add(1)
		}

	case bridge.MsgDisconnected:
		if !b.disconnecting.Load() {
			b.logger.Warn("bridge reported headset disconnected")
			signalLost(b.lost)
			return
		}
		b.reply(msg)

	case bridge.MsgConnected, bridge.MsgError:
		if msg.Type() == bridge.MsgError {
			b.logger.Warn("bridge reported error", "error", msg.Err())
		}
		b.reply(msg)

	default:
		b.logger.Debug("unexpected message from bridge", "type", bridge.FormatMessageType(msg.Type()))
	}
}

func (b *Bridge) reply(msg *bridge.Message) {
	select {
	case b.replies <- msg:
	default:
		b.logger.Debug("reply buffer full", "type", bridge.FormatMessageType(msg.Type()))
	}
}

func signalLost(lost chan struct{}) {
	select {
	case lost <- struct{}{}:
	default:
	}
}

func drainLost(lost chan struct{}) {
	select {
	case <-lost:
	default:
	}
}
