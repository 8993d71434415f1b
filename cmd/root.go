// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/musestat/internal/config"
)

var (
	configPath string
	logLevel   string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Headset flags
	useBLE       bool
	deviceTarget string
	presetName   string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "musestat",
	Short: "Muse S headset telemetry decoder",
	Long: `Musestat - A CLI tool for streaming and inspecting Muse S Gen 2 telemetry.

Connects to a headset, starts streaming, and decodes EEG and PPG notifications
into time-aligned frames that can be printed, published to NATS, or served to
WebSocket clients.

Connection modes:
  Bluetooth: --ble [--device MuseS-1A2B]
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Serial and WebSocket modes talk to a bridge that owns the Bluetooth link.
For WebSocket authentication, the password is read from the MUSESTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Settings may also come from a YAML file given with --config; flags win.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port of a bridge")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL of a bridge (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Headset flags
	rootCmd.PersistentFlags().BoolVar(&useBLE, "ble", false, "Use the host Bluetooth adapter")
	rootCmd.PersistentFlags().StringVarP(&deviceTarget, "device", "d", "", "Headset name or address (default: last used, then any)")
	rootCmd.PersistentFlags().StringVar(&presetName, "preset", "p50", "Command preset (p50, p21)")
}

// loadConfig reads the config file and applies explicitly set flags over it
func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		loaded.Logging.Level = logLevel
	}
	if flags.Changed("port") {
		loaded.Serial.Port = portName
	}
	if flags.Changed("baud") {
		loaded.Serial.Baud = baudRate
	}
	if flags.Changed("url") {
		loaded.Bridge.URL = wsURL
	}
	if flags.Changed("username") {
		loaded.Bridge.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		loaded.Bridge.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("ble") {
		loaded.Device.BLE = useBLE
	}
	if flags.Changed("device") {
		loaded.Device.Target = deviceTarget
	}
	if flags.Changed("preset") {
		loaded.Device.Preset = presetName
	}

	if err := loaded.Validate(); err != nil {
		return err
	}

	cfg = loaded
	logger = setupLogging(cfg.Logging)
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
