// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package api serves the session control API, the Prometheus metrics and
// the frame outlet over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/musestat/internal/registry"
	"github.com/Thermoquad/musestat/internal/session"
)

// Controller is the session surface the API drives. *session.Device implements it.
type Controller interface {
	Status() session.Status
	Stats() *session.Stats
	Connect(ctx context.Context, target string) (session.DeviceInfo, error)
	Disconnect(ctx context.Context) error
	StartStreaming(ctx context.Context) error
	StopStreaming(ctx context.Context) error
	RestartStreaming(ctx context.Context) error
}

// Registry lists and records known headsets. *registry.Registry implements it.
type Registry interface {
	Remember(device session.DeviceInfo) (registry.Entry, error)
	List() ([]registry.Entry, error)
}

// Options configures a Server
type Options struct {
	Registry  Registry            // optional
	Gatherer  prometheus.Gatherer // optional, enables /metrics
	Outlet    http.Handler        // optional, served at /stream
	AccessLog io.Writer           // optional combined-format access log
	Logger    *slog.Logger
}

// Server routes HTTP requests to a Controller
type Server struct {
	ctrl   Controller
	opts   Options
	logger *slog.Logger
	router *mux.Router
}

// New builds the router
func New(ctrl Controller, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{ctrl: ctrl, opts: opts, logger: opts.Logger}
	s.configureRouter()
	return s
}

// Handler returns the router wrapped with recovery and optional access logging
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(h)
	if s.opts.AccessLog != nil {
		h = handlers.CombinedLoggingHandler(s.opts.AccessLog, h)
	}
	return h
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "address", addr)
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) configureRouter() {
	s.router = mux.NewRouter()
	sub := s.router.PathPrefix("/api").Subrouter()
	sub.HandleFunc("/status", s.handleStatus()).Methods("GET")
	sub.HandleFunc("/stats", s.handleStats()).Methods("GET")
	sub.HandleFunc("/connect", s.handleConnect()).Methods("POST")
	sub.HandleFunc("/disconnect", s.handleOp("disconnect", s.ctrl.Disconnect)).Methods("POST")
	sub.HandleFunc("/streaming/start", s.handleOp("start streaming", s.ctrl.StartStreaming)).Methods("POST")
	sub.HandleFunc("/streaming/stop", s.handleOp("stop streaming", s.ctrl.StopStreaming)).Methods("POST")
	sub.HandleFunc("/streaming/restart", s.handleOp("restart streaming", s.ctrl.RestartStreaming)).Methods("POST")
	sub.HandleFunc("/devices", s.handleDevices()).Methods("GET")

	if s.opts.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	if s.opts.Outlet != nil {
		s.router.Handle("/stream", s.opts.Outlet).Methods("GET")
	}
}

// ConnectRequest is the optional body of POST /api/connect
type ConnectRequest struct {
	Target string `json:"target"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.ctrl.Status())
	}
}

func (s *Server) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.ctrl.Stats().Snapshot())
	}
}

func (s *Server) handleConnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConnectRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}

		info, err := s.ctrl.Connect(r.Context(), req.Target)
		if err != nil {
			s.fail(w, "connect", err)
			return
		}
		if s.opts.Registry != nil {
			if _, err := s.opts.Registry.Remember(info); err != nil {
				s.logger.Warn("failed to remember device", "device", info, "error", err)
			}
		}
		writeJSON(w, http.StatusOK, s.ctrl.Status())
	}
}

func (s *Server) handleOp(name string, op func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.Context()); err != nil {
			s.fail(w, name, err)
			return
		}
		writeJSON(w, http.StatusOK, s.ctrl.Status())
	}
}

func (s *Server) handleDevices() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Registry == nil {
			writeJSON(w, http.StatusOK, []registry.Entry{})
			return
		}
		entries, err := s.opts.Registry.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if entries == nil {
			entries = []registry.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	code := StatusFor(err)
	s.logger.Warn("request failed", "op", op, "status", code, "error", err)
	writeError(w, code, err)
}

// StatusFor maps a session error to an HTTP status code
func StatusFor(err error) int {
	var transportErr *session.TransportError
	switch {
	case errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &transportErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorResponse{Code: code, Error: err.Error()})
}
