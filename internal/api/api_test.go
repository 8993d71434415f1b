// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/musestat/internal/metrics"
	"github.com/Thermoquad/musestat/internal/registry"
	"github.com/Thermoquad/musestat/internal/session"
)

// ============================================================
// Test Doubles
// ============================================================

type fakeTransport struct {
	mu         sync.Mutex
	source     chan session.Notification
	targets    []string
	controlErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{source: make(chan session.Notification)}
}

func (f *fakeTransport) Connect(ctx context.Context, target string) (session.DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	return session.DeviceInfo{Name: "MuseS-1A2B", ID: "00:55:DA:B0:1A:2B"}, nil
}

func (f *fakeTransport) Disconnect(ctx context.Context) error { return nil }
func (f *fakeTransport) Subscribe(ctx context.Context, id string) error { return nil }
func (f *fakeTransport) Unsubscribe(ctx context.Context, id string) error { return nil }
func (f *fakeTransport) Notifications() <-chan session.Notification { return f.source }

func (f *fakeTransport) connectTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.targets...)
}

func (f *fakeTransport) failControl(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controlErr = err
}

func (f *fakeTransport) SendControl(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.controlErr
}

type fixture struct {
	transport *fakeTransport
	device    *session.Device
	registry  *registry.Registry
	server    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	transport := newFakeTransport()
	device := session.NewDevice(transport, session.Options{})

	reg, err := registry.Open(filepath.Join(t.TempDir(), "devices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	promReg := prometheus.NewRegistry()
	metrics.Register(promReg, metrics.Sources{Stats: device.Stats(), Status: device.Status})

	outlet := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "outlet")
	})

	srv := New(device, Options{Registry: reg, Gatherer: promReg, Outlet: outlet})
	server := httptest.NewServer(srv.Handler())
	t.Cleanup(server.Close)

	return &fixture{transport: transport, device: device, registry: reg, server: server}
}

func (f *fixture) post(t *testing.T, path string, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	resp, err := http.Post(f.server.URL+path, "application/json", reader)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeStatus(t *testing.T, data []byte) session.Status {
	t.Helper()
	var status session.Status
	require.NoError(t, json.Unmarshal(data, &status))
	return status
}

// ============================================================
// Lifecycle
// ============================================================

func TestAPI_Lifecycle(t *testing.T) {
	f := newFixture(t)

	resp, data := f.get(t, "/api/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Disconnected", decodeStatus(t, data).Summary)

	resp, data = f.post(t, "/api/connect", `{"target":"MuseS-1A2B"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	status := decodeStatus(t, data)
	assert.True(t, status.Connected)
	assert.NotEmpty(t, status.SessionID)
	assert.Equal(t, []string{"MuseS-1A2B"}, f.transport.connectTargets())

	resp, data = f.post(t, "/api/streaming/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.True(t, decodeStatus(t, data).Streaming)

	resp, data = f.post(t, "/api/streaming/restart", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.True(t, decodeStatus(t, data).Streaming)

	resp, data = f.post(t, "/api/streaming/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.False(t, decodeStatus(t, data).Streaming)

	resp, data = f.post(t, "/api/disconnect", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.False(t, decodeStatus(t, data).Connected)
}

func TestAPI_ConnectWithoutBody(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.post(t, "/api/connect", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{""}, f.transport.connectTargets())
}

func TestAPI_ConnectBadBody(t *testing.T) {
	f := newFixture(t)
	resp, data := f.post(t, "/api/connect", `{"target":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, http.StatusBadRequest, body.Code)
}

// ============================================================
// Errors
// ============================================================

func TestAPI_StartWhileDisconnectedConflicts(t *testing.T) {
	f := newFixture(t)
	resp, data := f.post(t, "/api/streaming/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Contains(t, body.Error, "not connected")
}

func TestAPI_TransportFailureIsBadGateway(t *testing.T) {
	f := newFixture(t)
	f.transport.failControl(errors.New("link down"))

	resp, _ := f.post(t, "/api/connect", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := f.post(t, "/api/streaming/start", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(data), "link down")
	assert.False(t, f.device.Status().Streaming)
}

func TestAPI_WrongMethod(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.get(t, "/api/connect")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&session.InvalidTransitionError{Op: "start streaming"}, http.StatusConflict},
		{&session.TransportError{Op: "connect", Err: errors.New("x")}, http.StatusBadGateway},
		{&session.TransportError{Op: "connect", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

// ============================================================
// Devices / Stats / Metrics / Outlet
// ============================================================

func TestAPI_DevicesRememberedOnConnect(t *testing.T) {
	f := newFixture(t)

	_, data := f.get(t, "/api/devices")
	assert.JSONEq(t, `[]`, string(data))

	f.post(t, "/api/connect", "")
	resp, data := f.get(t, "/api/devices")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []registry.Entry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "00:55:DA:B0:1A:2B", entries[0].ID)
	assert.Equal(t, uint64(1), entries[0].Connections)
}

func TestAPI_Stats(t *testing.T) {
	f := newFixture(t)
	f.post(t, "/api/connect", "")

	resp, data := f.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap session.StatsSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, uint64(1), snap.Transitions)
}

func TestAPI_Metrics(t *testing.T) {
	f := newFixture(t)
	f.post(t, "/api/connect", "")

	resp, data := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "musestat_connected 1")
	assert.Contains(t, string(data), "musestat_session_transitions_total 1")
}

func TestAPI_OutletMounted(t *testing.T) {
	f := newFixture(t)
	resp, data := f.get(t, "/stream")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "outlet", string(data))
}

func TestAPI_AccessLog(t *testing.T) {
	var buf bytes.Buffer
	device := session.NewDevice(newFakeTransport(), session.Options{})
	server := httptest.NewServer(New(device, Options{AccessLog: &buf}).Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Contains(t, buf.String(), `"GET /api/status HTTP/1.1" 200`)
}
