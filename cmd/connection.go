// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/musestat/internal/registry"
	"github.com/Thermoquad/musestat/internal/session"
	"github.com/Thermoquad/musestat/internal/transport"
	"github.com/Thermoquad/musestat/pkg/bridge"
	"github.com/Thermoquad/musestat/pkg/muse"
)

// Transport is an opened headset transport
type Transport interface {
	session.Transport
	io.Closer
	// Dropped counts notifications lost on a full buffer
	Dropped() uint64
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("MUSESTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenTransport opens the BLE adapter or a bridge link based on configuration.
// trace, when set, sees every bridge message (bridge transports only).
func OpenTransport(ctx context.Context, trace func(*bridge.Message, bool)) (Transport, string, error) {
	bridgeOpts := transport.BridgeOptions{
		ReplyTimeout: cfg.Bridge.ReplyTimeout,
		Logger:       logger,
		Trace:        trace,
	}

	switch {
	case cfg.Device.BLE:
		t := transport.NewBLE(transport.BLEOptions{
			ScanTimeout: cfg.Device.ScanTimeout,
			Logger:      logger,
		})
		return t, "Bluetooth: default adapter", nil

	case cfg.Bridge.URL != "":
		password := ""
		if cfg.Bridge.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		link, err := transport.OpenWebSocket(ctx, cfg.Bridge.URL, transport.WebSocketOptions{
			Username:      cfg.Bridge.Username,
			Password:      password,
			SkipSSLVerify: cfg.Bridge.NoSSLVerify,
		})
		if err != nil {
			return nil, "", err
		}
		return transport.NewBridge(link, bridgeOpts), fmt.Sprintf("WebSocket: %s", cfg.Bridge.URL), nil

	case cfg.Serial.Port != "":
		link, err := transport.OpenSerial(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			return nil, "", err
		}
		return transport.NewBridge(link, bridgeOpts), fmt.Sprintf("Serial: %s @ %d baud", cfg.Serial.Port, cfg.Serial.Baud), nil
	}

	return nil, "", errors.New("one of --ble, --port or --url must be specified")
}

// openRegistry opens the known-device store. A failure is logged and the
// commands carry on without one.
func openRegistry() *registry.Registry {
	if cfg.Registry.Path == "" {
		return nil
	}
	reg, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		logger.Warn("device registry unavailable", "path", cfg.Registry.Path, "error", err)
		return nil
	}
	return reg
}

// resolveTarget picks the headset to connect to: the configured one, else the
// last one remembered, else any.
func resolveTarget(reg *registry.Registry) string {
	if cfg.Device.Target != "" {
		return cfg.Device.Target
	}
	if reg == nil {
		return ""
	}
	last, err := reg.Last()
	if err != nil {
		return ""
	}
	logger.Debug("using last device", "device", last.Device())
	return last.ID
}

// remember records a successful connection
func remember(reg *registry.Registry, info session.DeviceInfo) {
	if reg == nil {
		return
	}
	if _, err := reg.Remember(info); err != nil {
		logger.Warn("failed to remember device", "device", info, "error", err)
	}
}

// newDevice wraps a transport in a session using the configured preset
func newDevice(t session.Transport, sink session.Sink, stats *session.Stats) (*session.Device, error) {
	commands, err := muse.LookupCommandSet(cfg.Device.Preset)
	if err != nil {
		return nil, err
	}
	return session.NewDevice(t, session.Options{
		Commands: commands,
		Sink:     sink,
		Stats:    stats,
		Logger:   logger,
	}), nil
}
