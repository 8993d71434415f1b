// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/musestat/pkg/bridge"
	"github.com/Thermoquad/musestat/pkg/muse"
)

var rawLogBridge bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display every notification's decoded chunk",
	Long: `Continuously decode and display headset notifications as they arrive.

Each notification is decoded on its own, without reassembly into frames, and
printed with its timestamp, channel label and samples. Short chunks are marked.
With --bridge, every bridge protocol message is printed as well.

Supports Bluetooth, serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rawLogCmd.Flags().BoolVar(&rawLogBridge, "bridge", false, "Also print bridge protocol messages")
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	commands, err := muse.LookupCommandSet(cfg.Device.Preset)
	if err != nil {
		return err
	}
	startFrames, err := commands.StartFrames()
	if err != nil {
		return err
	}
	haltFrame, err := commands.HaltFrame()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var trace func(*bridge.Message, bool)
	if rawLogBridge {
		trace = func(msg *bridge.Message, outbound bool) {
			direction := "<-"
			if outbound {
				direction = "->"
			}
			fmt.Printf("%s %s", direction, bridge.FormatMessage(msg))
		}
	}

	t, connInfo, err := OpenTransport(ctx, trace)
	if err != nil {
		return err
	}
	defer t.Close()

	reg := openRegistry()
	if reg != nil {
		defer reg.Close()
	}

	fmt.Printf("Musestat - Raw Notification Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	info, err := t.Connect(ctx, resolveTarget(reg))
	if err != nil {
		return err
	}
	remember(reg, info)
	fmt.Printf("Connected to %s\n\n", info)

	channels := muse.DefaultChannelMap()
	for _, id := range channels.IDs() {
		if err := t.Subscribe(ctx, id); err != nil {
			return fmt.Errorf("subscribe %s: %w", id, err)
		}
	}
	for _, frame := range startFrames {
		if err := t.SendControl(ctx, frame); err != nil {
			return fmt.Errorf("send start command: %w", err)
		}
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		t.SendControl(shutdownCtx, haltFrame)
		for _, id := range channels.IDs() {
			t.Unsubscribe(shutdownCtx, id)
		}
		t.Disconnect(shutdownCtx)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-t.Notifications():
			if !ok {
				logger.Info("connection closed")
				return nil
			}
			ch, known := channels.Lookup(n.ChannelID)
			if !known {
				fmt.Printf("[%s] UNMAPPED %s len=%d\n", n.Received.Format("15:04:05.000"), n.ChannelID, len(n.Payload))
				continue
			}
			samples, err := muse.DecodeChunk(ch.Family, n.Payload)
			if err != nil {
				fmt.Printf("[ERROR] %s: %v\n", ch.Label(), err)
				continue
			}
			fmt.Print(muse.FormatChunk(ch, samples, n.Received))
		}
	}
}
