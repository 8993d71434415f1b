// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/musestat/pkg/muse"
)

var (
	eegFrame = muse.Frame{Family: muse.FamilyEEG, Values: []float32{1, 2, 3, 4, 5}}
	ppgFrame = muse.Frame{Family: muse.FamilyPPG, Values: []float32{10, 20, 30}}
)

// ============================================================
// Writer / Multi / Func
// ============================================================

func TestWriter_FormatsFrames(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 6_000_000, time.UTC) }

	require.NoError(t, w.Accept(ppgFrame))
	assert.Equal(t, "[03:04:05.006] PPG PPG_AMBIENT=10 PPG_INFRARED=20 PPG_RED=30\n", buf.String())
}

func TestWriter_FamilyFilter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, muse.FamilyPPG)

	require.NoError(t, w.Accept(eegFrame))
	assert.Empty(t, buf.String())
	require.NoError(t, w.Accept(ppgFrame))
	assert.Contains(t, buf.String(), "PPG_RED=30")
}

func TestMulti_JoinsErrors(t *testing.T) {
	var seen []muse.Family
	first := errors.New("first")
	m := Multi{
		Func(func(f muse.Frame) error { return first }),
		Func(func(f muse.Frame) error { seen = append(seen, f.Family); return nil }),
	}

	err := m.Accept(eegFrame)
	assert.ErrorIs(t, err, first)
	assert.Equal(t, []muse.Family{muse.FamilyEEG}, seen)
	assert.NoError(t, Multi{}.Accept(eegFrame))
}

// ============================================================
// Queue
// ============================================================

func TestQueue_DeliversAndDrainsOnClose(t *testing.T) {
	var mu sync.Mutex
	var got []muse.Frame
	q := NewQueue(Func(func(f muse.Frame) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, f)
		return nil
	}), 16, nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Accept(eegFrame))
	}
	require.NoError(t, q.Close())

	mu.Lock()
	assert.Len(t, got, 10)
	mu.Unlock()
	assert.Equal(t, uint64(10), q.Delivered())
	assert.ErrorIs(t, q.Accept(eegFrame), ErrQueueClosed)
}

func TestQueue_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	q := NewQueue(Func(func(f muse.Frame) error {
		<-release
		return nil
	}), 2, nil)

	// One frame in flight plus two buffered; the rest overflow
	var full int
	for i := 0; i < 10; i++ {
		if errors.Is(q.Accept(eegFrame), ErrQueueFull) {
			full++
		}
	}
	assert.GreaterOrEqual(t, full, 7)
	assert.Equal(t, uint64(full), q.Dropped())

	close(release)
	require.NoError(t, q.Close())
}

func TestQueue_CountsFailures(t *testing.T) {
	q := NewQueue(Func(func(f muse.Frame) error { return errors.New("nope") }), 4, nil)
	require.NoError(t, q.Accept(ppgFrame))
	require.NoError(t, q.Close())
	assert.Equal(t, uint64(1), q.Failed())
}

// ============================================================
// NATS
// ============================================================

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func TestNATS_PublishesRecords(t *testing.T) {
	pub := &fakePublisher{}
	s := NewNATS(pub, "")
	ts := time.Unix(1700000000, 42)
	s.now = func() time.Time { return ts }

	require.NoError(t, s.Accept(eegFrame))
	require.NoError(t, s.Accept(ppgFrame))
	require.NoError(t, s.Accept(eegFrame))

	assert.Equal(t, []string{"muse.eeg", "muse.ppg", "muse.eeg"}, pub.subjects)

	rec, err := DecodeRecord(pub.payloads[2])
	require.NoError(t, err)
	assert.Equal(t, Record{Family: "eeg", Seq: 2, Timestamp: ts.UnixNano(), Values: eegFrame.Values}, rec)
}

func TestNATS_PublishError(t *testing.T) {
	s := NewNATS(&fakePublisher{err: errors.New("no responders")}, "lab.headset")
	err := s.Accept(ppgFrame)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lab.headset.ppg")
}

// ============================================================
// Outlet
// ============================================================

func dialOutlet(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readBinary(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, mt)
	return data
}

func TestOutlet_BroadcastsFilteredFamilies(t *testing.T) {
	outlet := NewOutlet(nil)
	server := httptest.NewServer(outlet)
	defer server.Close()
	defer outlet.Close()

	conn := dialOutlet(t, server, "/?family=ppg")
	require.Eventually(t, func() bool { return outlet.Clients() == 1 }, time.Second, 5*time.Millisecond)

	var info StreamInfo
	require.NoError(t, cbor.Unmarshal(readBinary(t, conn), &info))
	assert.Equal(t, "Muse S Gen 2 PPG", info.Name)
	assert.Equal(t, 64.0, info.SampleRate)
	assert.Equal(t, []string{"PPG_AMBIENT", "PPG_INFRARED", "PPG_RED"}, info.Labels)

	require.NoError(t, outlet.Accept(eegFrame))
	require.NoError(t, outlet.Accept(ppgFrame))

	rec, err := DecodeRecord(readBinary(t, conn))
	require.NoError(t, err)
	assert.Equal(t, "ppg", rec.Family)
	assert.Equal(t, ppgFrame.Values, rec.Values)
}

func TestOutlet_AllFamiliesByDefault(t *testing.T) {
	outlet := NewOutlet(nil)
	server := httptest.NewServer(outlet)
	defer server.Close()
	defer outlet.Close()

	conn := dialOutlet(t, server, "/")
	require.Eventually(t, func() bool { return outlet.Clients() == 1 }, time.Second, 5*time.Millisecond)

	// Two stream infos, then the frame
	readBinary(t, conn)
	readBinary(t, conn)
	require.NoError(t, outlet.Accept(eegFrame))
	rec, err := DecodeRecord(readBinary(t, conn))
	require.NoError(t, err)
	assert.Equal(t, "eeg", rec.Family)
	assert.Equal(t, uint64(1), rec.Seq)
}

func TestOutlet_BadFamily(t *testing.T) {
	outlet := NewOutlet(nil)
	server := httptest.NewServer(outlet)
	defer server.Close()

	resp, err := http.Get(server.URL + "/?family=emg")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOutlet_ClientDisconnectRemoved(t *testing.T) {
	outlet := NewOutlet(nil)
	server := httptest.NewServer(outlet)
	defer server.Close()

	conn := dialOutlet(t, server, "/")
	require.Eventually(t, func() bool { return outlet.Clients() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return outlet.Clients() == 0 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, outlet.Accept(eegFrame))
}
