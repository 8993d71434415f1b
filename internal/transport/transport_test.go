// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/musestat/internal/session"
	"github.com/Thermoquad/musestat/pkg/bridge"
	"github.com/Thermoquad/musestat/pkg/muse"
)

// ============================================================
// Fake Bridge
// ============================================================

// fakeBridge answers host requests on the far end of a pipe
type fakeBridge struct {
	conn net.Conn

	mu         sync.Mutex
	subscribed []string
	writes     [][]byte

	connectErr *bridge.Message
}

func newFakeBridge(t *testing.T) (*fakeBridge, net.Conn) {
	t.Helper()
	host, far := net.Pipe()
	fb := &fakeBridge{conn: far}
	go fb.serve()
	t.Cleanup(func() { far.Close() })
	return fb, host
}

func (f *fakeBridge) serve() {
	decoder := bridge.NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := f.conn.Read(buf)
		if err != nil {
			return
		}
		msgs, _ := decoder.Decode(buf[:n])
		for _, msg := range msgs {
			f.handle(msg)
		}
	}
}

func (f *fakeBridge) handle(msg *bridge.Message) {
	switch msg.Type() {
	case bridge.MsgConnect:
		f.mu.Lock()
		reply := f.connectErr
		f.mu.Unlock()
		if reply == nil {
			reply = bridge.NewConnected("MuseS-1A2B", "00:55:DA:B0:1A:2B")
		}
		f.send(reply)
	case bridge.MsgDisconnect:
		f.send(bridge.NewDisconnected())
	case bridge.MsgSubscribe:
		f.mu.Lock()
		f.subscribed = append(f.subscribed, msg.UUID())
		f.mu.Unlock()
	case bridge.MsgWrite:
		f.mu.Lock()
		f.writes = append(f.writes, msg.Data())
		f.mu.Unlock()
	}
}

func (f *fakeBridge) send(msg *bridge.Message) {
	f.conn.Write(bridge.MustEncode(msg))
}

func (f *fakeBridge) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// ============================================================
// Bridge Tests
// ============================================================

func TestBridge_ConnectAndNotify(t *testing.T) {
	fb, host := newFakeBridge(t)
	b := NewBridge(host, BridgeOptions{ReplyTimeout: time.Second})
	defer b.Close()

	ctx := context.Background()
	info, err := b.Connect(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, session.DeviceInfo{Name: "MuseS-1A2B", ID: "00:55:DA:B0:1A:2B"}, info)

	require.NoError(t, b.Subscribe(ctx, muse.EEGTP9UUID))
	require.NoError(t, b.SendControl(ctx, muse.MustEncodeCommand([]byte(muse.CmdHalt))))
	require.Eventually(t, func() bool { return fb.writeCount() == 1 }, time.Second, 5*time.Millisecond)

	fb.mu.Lock()
	assert.Equal(t, []string{muse.EEGTP9UUID}, fb.subscribed)
	assert.Equal(t, []byte{0x02, 'h', '\n'}, fb.writes[0])
	fb.mu.Unlock()

	payload := []byte{0x00, 0x01, 10, 20, 30}
	go fb.send(bridge.NewNotification(strings.ToUpper(muse.EEGTP9UUID), payload))

	select {
	case n := <-b.Notifications():
		assert.Equal(t, muse.EEGTP9UUID, n.ChannelID)
		assert.Equal(t, payload, n.Payload)
	case <-time.After(time.Second):
		t.Fatal("no notification delivered")
	}
}

func TestBridge_ConnectError(t *testing.T) {
	fb, host := newFakeBridge(t)
	fb.connectErr = bridge.NewError(bridge.ErrCodeNotFound, "no headset in range")
	b := NewBridge(host, BridgeOptions{ReplyTimeout: time.Second})
	defer b.Close()

	_, err := b.Connect(context.Background(), "MuseS-9999")
	var remote *bridge.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, uint64(bridge.ErrCodeNotFound), remote.Code)
}

func TestBridge_ConnectTimeout(t *testing.T) {
	host, far := net.Pipe()
	defer far.Close()
	// Swallow writes without replying
	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := far.Read(buf); err != nil {
				return
			}
		}
	}()

	b := NewBridge(host, BridgeOptions{ReplyTimeout: 50 * time.Millisecond})
	defer b.Close()

	_, err := b.Connect(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out waiting for CONNECTED")
}

func TestBridge_Disconnect(t *testing.T) {
	_, host := newFakeBridge(t)
	b := NewBridge(host, BridgeOptions{ReplyTimeout: time.Second})
	defer b.Close()

	ctx := context.Background()
	_, err := b.Connect(ctx, "")
	require.NoError(t, err)
	assert.NoError(t, b.Disconnect(ctx))
}

func TestBridge_LinkCloseClosesSource(t *testing.T) {
	host, far := net.Pipe()
	b := NewBridge(host, BridgeOptions{})

	far.Close()

	select {
	case _, ok := <-b.Notifications():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("source not closed")
	}

	assert.ErrorIs(t, b.Subscribe(context.Background(), "x"), ErrClosed)
	b.Close()
}

func TestBridge_DropsWhenBufferFull(t *testing.T) {
	fb, host := newFakeBridge(t)
	b := NewBridge(host, BridgeOptions{NotificationBuffer: 1})
	defer b.Close()

	for i := 0; i < 3; i++ {
		fb.send(bridge.NewNotification(muse.PPGRedUUID, []byte{0, 0, byte(i)}))
	}
	require.Eventually(t, func() bool { return b.Dropped() == 2 }, time.Second, 5*time.Millisecond)
	n := <-b.Notifications()
	assert.Equal(t, []byte{0, 0, 0}, n.Payload)
}

func TestBridge_TraceSeesBothDirections(t *testing.T) {
	_, host := newFakeBridge(t)

	var mu sync.Mutex
	var in, out int
	b := NewBridge(host, BridgeOptions{
		ReplyTimeout: time.Second,
		Trace: func(msg *bridge.Message, outbound bool) {
			mu.Lock()
			defer mu.Unlock()
			if outbound {
				out++
			} else {
				in++
			}
		},
	})
	defer b.Close()

	_, err := b.Connect(context.Background(), "")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, out)
	assert.Equal(t, 1, in)
}

// ============================================================
// Session Integration
// ============================================================

func TestBridge_DrivesDevice(t *testing.T) {
	fb, host := newFakeBridge(t)
	b := NewBridge(host, BridgeOptions{ReplyTimeout: time.Second})
	defer b.Close()

	var mu sync.Mutex
	var frames []muse.Frame
	sink := sinkFunc(func(f muse.Frame) error {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, f)
		return nil
	})

	dev := session.NewDevice(b, session.Options{Sink: sink})
	ctx := context.Background()
	_, err := dev.Connect(ctx, "")
	require.NoError(t, err)
	require.NoError(t, dev.StartStreaming(ctx))
	require.Eventually(t, func() bool { return fb.writeCount() == len(muse.PresetP50.Start) }, time.Second, 5*time.Millisecond)

	for _, id := range []string{muse.PPGAmbientUUID, muse.PPGInfraredUUID, muse.PPGRedUUID} {
		payload := []byte{0x00, 0x00}
		for i := 0; i < muse.PPGChunkLength; i++ {
			payload = append(payload, 0x00, 0x01, byte(i))
		}
		fb.send(bridge.NewNotification(id, payload))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == muse.PPGChunkLength
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []float32{257, 257, 257}, frames[1].Values)
	mu.Unlock()

	require.NoError(t, dev.Disconnect(ctx))
}

func TestBridge_HeadsetDropDisconnectsDevice(t *testing.T) {
	fb, host := newFakeBridge(t)
	b := NewBridge(host, BridgeOptions{ReplyTimeout: time.Second})
	defer b.Close()

	dev := session.NewDevice(b, session.Options{})
	ctx := context.Background()
	_, err := dev.Connect(ctx, "")
	require.NoError(t, err)
	require.NoError(t, dev.StartStreaming(ctx))

	fb.send(bridge.NewDisconnected())

	require.Eventually(t, func() bool {
		return !dev.Status().Connected
	}, time.Second, 5*time.Millisecond)
	assert.False(t, dev.Status().Streaming)

	// The link is still up, so the headset can come back
	_, err = dev.Connect(ctx, "")
	require.NoError(t, err)
	assert.True(t, dev.Status().Connected)
}

func TestBridge_RequestedDisconnectIsNotADrop(t *testing.T) {
	_, host := newFakeBridge(t)
	b := NewBridge(host, BridgeOptions{ReplyTimeout: time.Second})
	defer b.Close()

	ctx := context.Background()
	_, err := b.Connect(ctx, "")
	require.NoError(t, err)
	require.NoError(t, b.Disconnect(ctx))

	select {
	case <-b.HeadsetLost():
		t.Fatal("requested disconnect reported as a drop")
	case <-time.After(20 * time.Millisecond):
	}
}

type sinkFunc func(muse.Frame) error

func (f sinkFunc) Accept(frame muse.Frame) error { return f(frame) }

// ============================================================
// WebSocket Link Tests
// ============================================================

func TestWebSocketLink_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Basic dXNlcjpzZWNyZXQ=", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(mt, data)
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	link, err := OpenWebSocket(context.Background(), wsURL, WebSocketOptions{Username: "user", Password: "secret"})
	require.NoError(t, err)
	defer link.Close()

	frame := bridge.MustEncode(bridge.NewDisconnected())
	_, err = link.Write(frame)
	require.NoError(t, err)

	// The text greeting is skipped; the echo arrives in small reads
	got := make([]byte, 0, len(frame))
	buf := make([]byte, 3)
	for len(got) < len(frame) {
		n, err := link.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, frame, got)
}

func TestOpenWebSocket_BadScheme(t *testing.T) {
	_, err := OpenWebSocket(context.Background(), "http://localhost:1", WebSocketOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}
