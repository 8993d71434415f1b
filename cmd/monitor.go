// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/musestat/internal/session"
	"github.com/Thermoquad/musestat/pkg/muse"
)

var (
	monitorIdle    bool
	monitorLogFile string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for a headset session",
	Long: `Monitor a headset session in an interactive terminal UI.

Shows the session state, frame and notification rates, the latest EEG and PPG
values, pump statistics and an event log.

Keys:
  c   connect (edit the target first, Enter to confirm, Esc to cancel)
  d   disconnect
  s   start or stop streaming
  r   restart streaming
  q   quit

The TUI connects and starts streaming on launch unless --idle is given.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorIdle, "idle", false, "Do not connect on launch")
	monitorCmd.Flags().StringVar(&monitorLogFile, "log-file", "", "Write diagnostics to this file while the TUI runs")
	rootCmd.AddCommand(monitorCmd)
}

// frameForwarder hands frames from the pump to the TUI without blocking it
type frameForwarder struct {
	frames chan muse.Frame
	done   chan struct{}
}

func newFrameForwarder() *frameForwarder {
	return &frameForwarder{
		frames: make(chan muse.Frame, 512),
		done:   make(chan struct{}),
	}
}

// Accept implements session.Sink; frames are dropped while the TUI lags
func (f *frameForwarder) Accept(frame muse.Frame) error {
	select {
	case f.frames <- frame:
	default:
	}
	return nil
}

// run sends batched frames to the TUI at a fixed rate
func (f *frameForwarder) run(p *tea.Program) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			var batch frameBatchMsg
		drainLoop:
			for {
				select {
				case frame := <-f.frames:
					batch.frames = append(batch.frames, frame)
				default:
					break drainLoop
				}
			}
			if len(batch.frames) > 0 {
				p.Send(batch)
			}
		}
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// stderr belongs to the TUI
	if monitorLogFile != "" {
		f, err := os.OpenFile(monitorLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logger = newLogger(f, cfg.Logging)
	} else {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	slog.SetDefault(logger)

	t, connInfo, err := OpenTransport(ctx, nil)
	if err != nil {
		return err
	}
	defer t.Close()

	forwarder := newFrameForwarder()
	dev, err := newDevice(t, forwarder, nil)
	if err != nil {
		return err
	}

	reg := openRegistry()
	if reg != nil {
		defer reg.Close()
	}

	m := initialMonitorModel(monitorConfig{
		dev:              dev,
		connInfo:         connInfo,
		target:           resolveTarget(reg),
		autostart:        !monitorIdle,
		transportDropped: t.Dropped,
		onConnect: func(info session.DeviceInfo) {
			remember(reg, info)
		},
	})

	p := tea.NewProgram(m, tea.WithAltScreen())
	go forwarder.run(p)

	_, runErr := p.Run()
	close(forwarder.done)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if dev.Status().Connected {
		if err := dev.Disconnect(shutdownCtx); err != nil {
			logger.Warn("disconnect failed", "error", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return nil
}
