// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/musestat/internal/session"
	"github.com/Thermoquad/musestat/internal/sink"
	"github.com/Thermoquad/musestat/pkg/muse"
)

var (
	streamFamilies []string
	streamNATS     string
	streamOutlet   string
	streamQuiet    bool
	streamStats    time.Duration
)

// errStreamDone ends the errgroup when streaming stops normally
var errStreamDone = errors.New("stream done")

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream decoded frames until interrupted",
	Long: `Connect to a headset, start streaming, and emit every reassembled frame.

Frames are printed to stdout as text lines unless --quiet is given. They can
also be published to NATS (one subject per family, CBOR records) and served to
WebSocket clients through the frame outlet.

Press Ctrl+C to stop streaming and disconnect.`,
	RunE: runStream,
}

func init() {
	streamCmd.Flags().StringSliceVarP(&streamFamilies, "families", "f", nil, "Families to emit (eeg, ppg)")
	streamCmd.Flags().StringVar(&streamNATS, "nats", "", "NATS server URL to publish frames to")
	streamCmd.Flags().StringVar(&streamOutlet, "outlet", "", "Listen address for the WebSocket frame outlet")
	streamCmd.Flags().BoolVarP(&streamQuiet, "quiet", "q", false, "Do not print frames to stdout")
	streamCmd.Flags().DurationVar(&streamStats, "stats-interval", 0, "Log pump statistics at this interval (0 to disable)")
	rootCmd.AddCommand(streamCmd)
}

func runStream(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("families") {
		cfg.Stream.Families = streamFamilies
	}
	if cmd.Flags().Changed("nats") {
		cfg.NATS.URL = streamNATS
	}
	if cmd.Flags().Changed("outlet") {
		cfg.Stream.Outlet = streamOutlet
	}
	families, err := cfg.Stream.ParsedFamilies()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sinks sink.Multi
	if !streamQuiet {
		sinks = append(sinks, sink.NewWriter(os.Stdout, families...))
	}

	if cfg.NATS.URL != "" {
		nc, err := sink.ConnectNATS(cfg.NATS.URL, cfg.NATS.ClientName, logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		sinks = append(sinks, familyFilter(families, sink.NewNATS(nc, cfg.NATS.SubjectPrefix)))
		logger.Info("publishing frames", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}

	var outletServer *http.Server
	if cfg.Stream.Outlet != "" {
		outlet := sink.NewOutlet(logger)
		defer outlet.Close()
		outletServer = &http.Server{Addr: cfg.Stream.Outlet, Handler: outlet, ReadHeaderTimeout: 10 * time.Second}
		sinks = append(sinks, outlet)
	}

	queue := sink.NewQueue(sinks, cfg.Stream.QueueSize, logger)
	defer queue.Close()

	t, connInfo, err := OpenTransport(ctx, nil)
	if err != nil {
		return err
	}
	defer t.Close()

	dev, err := newDevice(t, queue, nil)
	if err != nil {
		return err
	}

	reg := openRegistry()
	if reg != nil {
		defer reg.Close()
	}

	fmt.Fprintf(os.Stderr, "Musestat - Frame Stream\n")
	fmt.Fprintf(os.Stderr, "Connection: %s\n", connInfo)
	fmt.Fprintf(os.Stderr, "Press Ctrl+C to exit\n\n")

	info, err := dev.Connect(ctx, resolveTarget(reg))
	if err != nil {
		return err
	}
	remember(reg, info)
	logger.Info("connected", "device", info, "session", dev.Status().SessionID)

	if err := dev.StartStreaming(ctx); err != nil {
		dev.Disconnect(context.Background())
		return err
	}
	logger.Info("streaming started", "preset", cfg.Device.Preset)

	g, gctx := errgroup.WithContext(ctx)
	if outletServer != nil {
		g.Go(func() error {
			logger.Info("frame outlet listening", "address", outletServer.Addr)
			if err := outletServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("frame outlet: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return outletServer.Close()
		})
	}
	g.Go(func() error {
		if err := waitForStream(gctx, dev); err != nil {
			return err
		}
		if ctx.Err() != nil {
			// Interrupted; stops the outlet too
			return errStreamDone
		}
		return nil
	})
	runErr := g.Wait()
	if errors.Is(runErr, errStreamDone) {
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if dev.Status().Streaming {
		if err := dev.StopStreaming(shutdownCtx); err != nil {
			logger.Warn("stop streaming failed", "error", err)
		}
	}
	if dev.Status().Connected {
		if err := dev.Disconnect(shutdownCtx); err != nil {
			logger.Warn("disconnect failed", "error", err)
		}
	}

	fmt.Fprint(os.Stderr, "\n"+dev.Stats().String())
	if dropped := queue.Dropped() + t.Dropped(); dropped > 0 {
		fmt.Fprintf(os.Stderr, "Dropped: %d (transport %d, sink queue %d)\n", dropped, t.Dropped(), queue.Dropped())
	}
	return runErr
}

// waitForStream blocks until interrupted or the headset goes away
func waitForStream(ctx context.Context, dev *session.Device) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var statsTicker <-chan time.Time
	if streamStats > 0 {
		st := time.NewTicker(streamStats)
		defer st.Stop()
		statsTicker = st.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !dev.Status().Connected {
				return errors.New("headset disconnected")
			}
		case <-statsTicker:
			snap := dev.Stats().Snapshot()
			logger.Info("pump statistics",
				"notifications", snap.Notifications,
				"eeg_frames", snap.EEGFrames,
				"ppg_frames", snap.PPGFrames,
				"decode_errors", snap.DecodeErrors,
				"sink_errors", snap.SinkErrors)
		}
	}
}

// familyFilter passes only frames of the given families to next
func familyFilter(families []muse.Family, next session.Sink) session.Sink {
	allowed := make(map[muse.Family]bool, len(families))
	for _, f := range families {
		allowed[f] = true
	}
	return sink.Func(func(f muse.Frame) error {
		if !allowed[f.Family] {
			return nil
		}
		return next.Accept(f)
	})
}
