// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/musestat/internal/api"
	"github.com/Thermoquad/musestat/internal/metrics"
	"github.com/Thermoquad/musestat/internal/sink"
)

var (
	serveListen    string
	serveAutostart bool
	serveAccessLog bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session control API, metrics and frame outlet",
	Long: `Run an HTTP server that controls one headset session.

Routes:
  GET  /api/status              session state
  GET  /api/stats               pump statistics
  POST /api/connect             connect, optional body {"target": "..."}
  POST /api/disconnect
  POST /api/streaming/start
  POST /api/streaming/stop
  POST /api/streaming/restart
  GET  /api/devices             remembered headsets
  GET  /metrics                 Prometheus metrics
  GET  /stream?family=eeg,ppg   WebSocket frame outlet (CBOR)

Frames are also published to NATS when nats.url is configured.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address (default from config, 127.0.0.1:8480)")
	serveCmd.Flags().BoolVar(&serveAutostart, "autostart", false, "Connect and start streaming on startup")
	serveCmd.Flags().BoolVar(&serveAccessLog, "access-log", false, "Write an access log to stderr")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveListen != "" {
		cfg.HTTP.Address = serveListen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outlet := sink.NewOutlet(logger)
	defer outlet.Close()
	sinks := sink.Multi{outlet}

	if cfg.NATS.URL != "" {
		nc, err := sink.ConnectNATS(cfg.NATS.URL, cfg.NATS.ClientName, logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		sinks = append(sinks, sink.NewNATS(nc, cfg.NATS.SubjectPrefix))
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

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(promReg, metrics.Sources{
		Stats:            dev.Stats(),
		Status:           dev.Status,
		TransportDropped: t.Dropped,
		SinkDropped: func() uint64 {
			return queue.Dropped() + outlet.Dropped()
		},
	})

	opts := api.Options{
		Gatherer: promReg,
		Outlet:   outlet,
		Logger:   logger,
	}
	reg := openRegistry()
	if reg != nil {
		defer reg.Close()
		opts.Registry = reg
	}
	if serveAccessLog {
		opts.AccessLog = os.Stderr
	}

	logger.Info("transport ready", "connection", connInfo)

	if serveAutostart {
		info, err := dev.Connect(ctx, resolveTarget(reg))
		if err != nil {
			return err
		}
		remember(reg, info)
		if err := dev.StartStreaming(ctx); err != nil {
			return err
		}
		logger.Info("streaming", "device", info)
	}

	server := api.New(dev, opts)
	err = server.ListenAndServe(ctx, cfg.HTTP.Address)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if dev.Status().Connected {
		if derr := dev.Disconnect(shutdownCtx); derr != nil {
			logger.Warn("disconnect failed", "error", derr)
		}
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
