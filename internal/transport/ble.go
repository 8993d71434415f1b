// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/Thermoquad/musestat/internal/session"
	"github.com/Thermoquad/musestat/pkg/muse"
)

// NamePrefix is matched against advertised names when scanning
const NamePrefix = "Muse"

// ErrNotConnected is returned by calls that need a connected headset
var ErrNotConnected = errors.New("not connected")

var museService = must(bluetooth.ParseUUID(muse.ServiceUUID))

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// BLEOptions configures a BLE transport
type BLEOptions struct {
	ScanTimeout        time.Duration
	NotificationBuffer int
	Logger             *slog.Logger
}

// BLE is a session.Transport on the host Bluetooth adapter
type BLE struct {
	adapter *bluetooth.Adapter
	opts    BLEOptions
	logger  *slog.Logger

	enableOnce sync.Once
	enableErr  error

	mu         sync.Mutex
	chars      map[string]bluetooth.DeviceCharacteristic
	control    *bluetooth.DeviceCharacteristic
	disconnect func() error
	active     map[string]bool

	// address of the connected headset, read by the adapter's connect handler
	address       atomic.Pointer[string]
	disconnecting atomic.Bool
	lost          chan struct{}

	sourceMu      sync.RWMutex
	sourceClosed  bool
	notifications chan session.Notification
	dropped       atomic.Uint64
}

// NewBLE creates a transport on the default adapter
func NewBLE(opts BLEOptions) *BLE {
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 30 * time.Second
	}
	if opts.NotificationBuffer <= 0 {
		opts.NotificationBuffer = DefaultNotificationBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &BLE{
		adapter:       bluetooth.DefaultAdapter,
		opts:          opts,
		logger:        opts.Logger,
		notifications: make(chan session.Notification, opts.NotificationBuffer),
		lost:          make(chan struct{}, 1),
	}
}

// Discovered is an advertising headset seen during a scan
type Discovered struct {
	Name    string
	Address string
	RSSI    int16
}

// Scan lists advertising headsets until ctx is done
func (b *BLE) Scan(ctx context.Context) ([]Discovered, error) {
	if err := b.enable(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	seen := make(map[string]Discovered)
	go func() {
		<-ctx.Done()
		b.adapter.StopScan()
	}()
	err := b.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if !strings.Contains(name, NamePrefix) {
			return
		}
		mu.Lock()
		seen[result.Address.String()] = Discovered{Name: name, Address: result.Address.String(), RSSI: result.RSSI}
		mu.Unlock()
	})
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]Discovered, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	return out, nil
}

// Connect scans for a headset whose name contains "Muse" and whose name or
// address equals target (any when empty), connects and discovers the Muse
// service characteristics.
func (b *BLE) Connect(ctx context.Context, target string) (session.DeviceInfo, error) {
	if err := b.enable(); err != nil {
		return session.DeviceInfo{}, err
	}

	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- b.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if !strings.Contains(name, NamePrefix) {
				return
			}
			if target != "" && !strings.EqualFold(result.Address.String(), target) && name != target {
				return
			}
			adapter.StopScan()
			select {
			case found <- result:
			default:
			}
		})
	}()

	ctx, cancel := context.WithTimeout(ctx, b.opts.ScanTimeout)
	defer cancel()

	var result bluetooth.ScanResult
	select {
	case result = <-found:
	case err := <-scanErr:
		if err == nil {
			err = errors.New("scan ended without a match")
		}
		return session.DeviceInfo{}, fmt.Errorf("scan: %w", err)
	case <-ctx.Done():
		b.adapter.StopScan()
		return session.DeviceInfo{}, fmt.Errorf("no headset found: %w", ctx.Err())
	}

	drainLost(b.lost)
	b.logger.Debug("found headset", "name", result.LocalName(), "address", result.Address.String(), "rssi", result.RSSI)

	dev, err := b.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return session.DeviceInfo{}, fmt.Errorf("connect %s: %w", result.Address.String(), err)
	}

	services, err := dev.DiscoverServices([]bluetooth.UUID{museService})
	if err != nil || len(services) == 0 {
		dev.Disconnect()
		return session.DeviceInfo{}, fmt.Errorf("discover Muse service: %w", errOrMissing(err))
	}
	chars, err := services[0].DiscoverCharacteristics(nil)
	if err != nil {
		dev.Disconnect()
		return session.DeviceInfo{}, fmt.Errorf("discover characteristics: %w", err)
	}

	byID := make(map[string]bluetooth.DeviceCharacteristic, len(chars))
	for _, c := range chars {
		byID[strings.ToLower(c.UUID().String())] = c
	}
	control, ok := byID[muse.ControlUUID]
	if !ok {
		dev.Disconnect()
		return session.DeviceInfo{}, errors.New("control characteristic not found")
	}

	b.mu.Lock()
	b.chars = byID
	b.control = &control
	b.disconnect = dev.Disconnect
	b.active = make(map[string]bool)
	b.mu.Unlock()

	address := result.Address.String()
	b.address.Store(&address)

	return session.DeviceInfo{Name: result.LocalName(), ID: result.Address.String()}, nil
}

// Disconnect disables notifications and drops the connection
func (b *BLE) Disconnect(ctx context.Context) error {
	b.disconnecting.Store(true)
	defer b.disconnecting.Store(false)
	b.address.Store(nil)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disconnect == nil {
		return nil
	}
	for id := range b.active {
		if c, ok := b.chars[id]; ok {
			c.EnableNotifications(nil)
		}
	}
	err := b.disconnect()
	b.chars = nil
	b.control = nil
	b.disconnect = nil
	b.active = nil
	return err
}

// Subscribe enables notifications on a characteristic
func (b *BLE) Subscribe(ctx context.Context, channelID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := strings.ToLower(channelID)
	c, err := b.characteristic(id)
	if err != nil {
		return err
	}
	err = c.EnableNotifications(func(buf []byte) {
		// The buffer is reused by the stack
		b.deliver(session.Notification{
			ChannelID: id,
			Payload:   append([]byte(nil), buf...),
			Received:  time.Now(),
		})
	})
	if err != nil {
		return fmt.Errorf("enable notifications on %s: %w", id, err)
	}
	b.active[id] = true
	return nil
}

// Unsubscribe disables notifications on a characteristic
func (b *BLE) Unsubscribe(ctx context.Context, channelID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := strings.ToLower(channelID)
	c, err := b.characteristic(id)
	if err != nil {
		return err
	}
	delete(b.active, id)
	return c.EnableNotifications(nil)
}

// SendControl writes a framed command without response
func (b *BLE) SendControl(ctx context.Context, frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.control == nil {
		return ErrNotConnected
	}
	_, err := b.control.WriteWithoutResponse(frame)
	return err
}

// Notifications returns the notification source, closed by Close
func (b *BLE) Notifications() <-chan session.Notification {
	return b.notifications
}

// HeadsetLost receives when the connected headset drops without Disconnect
func (b *BLE) HeadsetLost() <-chan struct{} {
	return b.lost
}

// Dropped returns the number of notifications dropped on a full buffer
func (b *BLE) Dropped() uint64 {
	return b.dropped.Load()
}

// Close disconnects and closes the notification source
func (b *BLE) Close() error {
	err := b.Disconnect(context.Background())

	b.sourceMu.Lock()
	defer b.sourceMu.Unlock()
	if !b.sourceClosed {
		b.sourceClosed = true
		close(b.notifications)
	}
	return err
}

func (b *BLE) enable() error {
	b.enableOnce.Do(func() {
		// Must be set before the first Connect
		b.adapter.SetConnectHandler(b.connectionChanged)
		b.enableErr = b.adapter.Enable()
	})
	if b.enableErr != nil {
		return fmt.Errorf("enable bluetooth adapter: %w", b.enableErr)
	}
	return nil
}

// connectionChanged runs on the adapter's goroutine and must not take mu:
// the stack may call it from inside Disconnect.
func (b *BLE) connectionChanged(device bluetooth.Device, connected bool) {
	if connected || b.disconnecting.Load() {
		return
	}
	addr := b.address.Load()
	if addr == nil || !strings.EqualFold(*addr, device.Address.String()) {
		return
	}
	b.address.Store(nil)
	b.logger.Warn("headset disconnected", "address", *addr)
	signalLost(b.lost)
}

func (b *BLE) characteristic(id string) (bluetooth.DeviceCharacteristic, error) {
	if b.chars == nil {
		return bluetooth.DeviceCharacteristic{}, ErrNotConnected
	}
	c, ok := b.chars[id]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("characteristic %s not found", id)
	}
	return c, nil
}

func (b *BLE) deliver(n session.Notification) {
	b.sourceMu.RLock()
	defer b.sourceMu.RUnlock()
	if b.sourceClosed {
		return
	}
	select {
	case b.notifications <- n:
	default:
		b.dropped.Add(1)
	}
}

func errOrMissing(err error) error {
	if err != nil {
		return err
	}
	return errors.New("service not found")
}
