// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Thermoquad/musestat/pkg/muse"
)

// Transport is the link to a headset: a BLE adapter or a bridge
type Transport interface {
	// Connect opens a link to the headset matching target (empty for any)
	Connect(ctx context.Context, target string) (DeviceInfo, error)
	Disconnect(ctx context.Context) error
	Subscribe(ctx context.Context, channelID string) error
	Unsubscribe(ctx context.Context, channelID string) error
	// SendControl writes one framed command to the control characteristic
	SendControl(ctx context.Context, frame []byte) error
	// Notifications returns the notification source, closed when the transport closes
	Notifications() <-chan Notification
}

// HeadsetWatcher is implemented by transports that notice the headset going
// away while the transport itself stays open
type HeadsetWatcher interface {
	// HeadsetLost receives once for each drop the host did not ask for
	HeadsetLost() <-chan struct{}
}

// Status is a snapshot of the session for readers
type Status struct {
	Connected bool       `json:"connected"`
	Device    DeviceInfo `json:"device"`
	Streaming bool       `json:"streaming"`
	SessionID string     `json:"session_id,omitempty"`
	Summary   string     `json:"summary"`
}

// Options configures a Device
type Options struct {
	Channels *muse.ChannelMap // nil means muse.DefaultChannelMap()
	Commands muse.CommandSet  // zero value means muse.PresetP50
	Sink     Sink
	Stats    *Stats       // nil means a fresh Stats
	Logger   *slog.Logger // nil means slog.Default()
}

// Device drives one headset session.
//
// Control operations are serialised by control, held for the whole
// operation including transport I/O. stateMu guards state so Status never
// waits on a slow control operation. The pump only touches the gate.
type Device struct {
	transport Transport
	channels  *muse.ChannelMap
	commands  muse.CommandSet
	sink      Sink
	stats     *Stats
	logger    *slog.Logger
	gate      Gate

	control sync.Mutex

	stateMu   sync.RWMutex
	state     State
	sessionID string

	// guarded by control
	generation  uint64
	link        uint64
	watchCancel context.CancelFunc
	pumpCancel  context.CancelFunc
	pumpDone    chan struct{}
	subscribed  []string
}

// NewDevice creates a disconnected device on top of a transport
func NewDevice(transport Transport, opts Options) *Device {
	if opts.Channels == nil {
		opts.Channels = muse.DefaultChannelMap()
	}
	if opts.Commands.Name == "" {
		opts.Commands = muse.PresetP50.Clone()
	}
	if opts.Stats == nil {
		opts.Stats = NewStats()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sink == nil {
		opts.Sink = discard{}
	}
	return &Device{
		transport: transport,
		channels:  opts.Channels,
		commands:  opts.Commands,
		sink:      opts.Sink,
		stats:     opts.Stats,
		logger:    opts.Logger,
	}
}

// Stats returns the device's counters
func (d *Device) Stats() *Stats {
	return d.stats
}

// Status returns the current state without waiting on control operations
func (d *Device) Status() Status {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	info, _ := d.state.Device()
	return Status{
		Connected: d.state.IsConnected(),
		Device:    info,
		Streaming: d.state.IsStreaming(),
		SessionID: d.sessionID,
		Summary:   d.state.Summary(),
	}
}

// Connect links to the headset matching target (empty for any)
func (d *Device) Connect(ctx context.Context, target string) (DeviceInfo, error) {
	d.control.Lock()
	defer d.control.Unlock()

	info, err := d.transport.Connect(ctx, target)
	if err != nil {
		return DeviceInfo{}, transportError("connect", err)
	}

	d.update(func(s *State) {
		if !s.IsConnected() {
			d.sessionID = uuid.NewString()
		}
		s.Connect(info.Name, info.ID)
	})
	d.watchLocked()
	d.logger.Info("connected", "device", info.Name, "id", info.ID)
	return info, nil
}

// StartStreaming subscribes every mapped channel, starts the pump and sends
// the start command sequence. On failure the state is left as it was.
func (d *Device) StartStreaming(ctx context.Context) error {
	d.control.Lock()
	defer d.control.Unlock()
	return d.startLocked(ctx)
}

// StopStreaming closes the gate, sends halt, stops the pump and drops the
// subscriptions. Stopping while stopped is a no-op.
func (d *Device) StopStreaming(ctx context.Context) error {
	d.control.Lock()
	defer d.control.Unlock()
	return d.stopLocked(ctx)
}

// RestartStreaming stops then starts under one control acquisition. The
// previous pump has exited and its subscriptions are gone before the new
// ones are made.
func (d *Device) RestartStreaming(ctx context.Context) error {
	d.control.Lock()
	defer d.control.Unlock()

	if err := d.stopLocked(ctx); err != nil {
		return err
	}
	return d.startLocked(ctx)
}

// Disconnect stops any stream and closes the link. The state becomes
// disconnected even when the transport reports an error.
func (d *Device) Disconnect(ctx context.Context) error {
	d.control.Lock()
	defer d.control.Unlock()

	if !d.snapshot().IsConnected() {
		return nil
	}

	if d.snapshot().IsStreaming() {
		d.gate.Close()
		if frame, err := d.commands.HaltFrame(); err == nil {
			if err := d.transport.SendControl(ctx, frame); err != nil {
				d.logger.Warn("halt failed during disconnect", "error", err)
			}
		}
		d.teardownLocked(ctx)
	}

	d.unwatchLocked()
	err := d.transport.Disconnect(ctx)
	d.update(func(s *State) {
		s.Disconnect()
		d.sessionID = ""
	})
	if err != nil {
		return transportError("disconnect", err)
	}
	d.logger.Info("disconnected")
	return nil
}

func (d *Device) startLocked(ctx context.Context) error {
	next := d.snapshot()
	if err := next.StartStreaming(); err != nil {
		return err
	}

	frames, err := d.commands.StartFrames()
	if err != nil {
		return err
	}

	for _, id := range d.channels.IDs() {
		if err := d.transport.Subscribe(ctx, id); err != nil {
			d.unsubscribeLocked(ctx)
			return transportError("subscribe", err)
		}
		d.subscribed = append(d.subscribed, id)
	}

	d.drainStaleLocked()
	d.startPumpLocked()
	d.gate.Open()

	for _, frame := range frames {
		if err := d.transport.SendControl(ctx, frame); err != nil {
			d.gate.Close()
			d.teardownLocked(ctx)
			return transportError("send start command", err)
		}
	}

	d.update(func(s *State) { _ = s.StartStreaming() })
	d.logger.Info("streaming started", "preset", d.commands.Name)
	return nil
}

func (d *Device) stopLocked(ctx context.Context) error {
	if !d.snapshot().CanStopStreaming() {
		return nil
	}

	d.gate.Close()

	frame, err := d.commands.HaltFrame()
	if err == nil {
		err = d.transport.SendControl(ctx, frame)
	}
	if err != nil {
		// Still streaming: reopen so the state and the gate agree
		d.gate.Open()
		return transportError("send halt", err)
	}

	d.teardownLocked(ctx)
	d.update(func(s *State) { s.StopStreaming() })
	d.logger.Info("streaming stopped")
	return nil
}

// startPumpLocked runs a fresh pump on the transport's notification source
func (d *Device) startPumpLocked() {
	d.generation++
	gen := d.generation

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.pumpCancel = cancel
	d.pumpDone = done

	pump := NewPump(d.channels, &d.gate, d.sink, d.stats, d.logger)
	source := d.transport.Notifications()

	go func() {
		err := pump.Run(ctx, source)
		close(done)
		if errors.Is(err, ErrSourceClosed) {
			// The control lock may be held by someone waiting on done
			go d.sourceLost(gen)
		}
	}()
}

// drainStaleLocked discards notifications queued while no pump was running
// so a new session never decodes data from the previous one. Only what is
// queued on entry is drained.
func (d *Device) drainStaleLocked() {
	source := d.transport.Notifications()
	for n := len(source); n > 0; n-- {
		select {
		case _, ok := <-source:
			if !ok {
				return
			}
			d.stats.notifications.Add(1)
			d.stats.gateDropped.Add(1)
		default:
			return
		}
	}
}

// watchLocked follows headset drops for the current link when the transport
// reports them
func (d *Device) watchLocked() {
	d.unwatchLocked()
	watcher, ok := d.transport.(HeadsetWatcher)
	if !ok {
		return
	}

	d.link++
	link := d.link
	ctx, cancel := context.WithCancel(context.Background())
	d.watchCancel = cancel
	lost := watcher.HeadsetLost()

	go func() {
		select {
		case <-ctx.Done():
		case <-lost:
			d.headsetLost(link)
		}
	}()
}

func (d *Device) unwatchLocked() {
	if d.watchCancel != nil {
		d.watchCancel()
		d.watchCancel = nil
	}
	d.link++
}

// headsetLost marks the session disconnected after the headset dropped on
// its own. The transport stays open for the next Connect.
func (d *Device) headsetLost(link uint64) {
	d.control.Lock()
	defer d.control.Unlock()

	if link != d.link || !d.snapshot().IsConnected() {
		return
	}

	d.gate.Close()
	if d.pumpCancel != nil {
		d.pumpCancel()
		<-d.pumpDone
		d.pumpCancel = nil
		d.pumpDone = nil
	}
	d.subscribed = nil
	d.generation++
	d.unwatchLocked()
	d.update(func(s *State) {
		s.Disconnect()
		d.sessionID = ""
	})
	d.logger.Warn("headset dropped, session disconnected")
}

// teardownLocked stops the pump, waits for it to exit and drops subscriptions
func (d *Device) teardownLocked(ctx context.Context) {
	if d.pumpCancel != nil {
		d.pumpCancel()
		<-d.pumpDone
		d.pumpCancel = nil
		d.pumpDone = nil
	}
	d.generation++
	d.unsubscribeLocked(ctx)
}

// unsubscribeLocked drops every subscription made, best effort
func (d *Device) unsubscribeLocked(ctx context.Context) {
	for _, id := range d.subscribed {
		if err := d.transport.Unsubscribe(ctx, id); err != nil {
			d.logger.Debug("unsubscribe failed", "channel", id, "error", err)
		}
	}
	d.subscribed = nil
}

// sourceLost marks the session disconnected after the transport closed
// under a running pump, unless a later control operation already moved on.
func (d *Device) sourceLost(gen uint64) {
	d.control.Lock()
	defer d.control.Unlock()

	if gen != d.generation {
		return
	}

	d.gate.Close()
	d.pumpCancel = nil
	d.pumpDone = nil
	d.subscribed = nil
	d.generation++
	d.unwatchLocked()
	d.update(func(s *State) {
		s.Disconnect()
		d.sessionID = ""
	})
	d.logger.Warn("transport closed, session disconnected")
}

func (d *Device) snapshot() State {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state
}

// update applies a change under the state lock and counts real transitions
func (d *Device) update(change func(s *State)) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	before := d.state
	change(&d.state)
	if d.state != before {
		d.stats.transitions.Add(1)
	}
}

type discard struct{}

func (discard) Accept(muse.Frame) error { return nil }
