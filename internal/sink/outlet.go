// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"github.com/Thermoquad/musestat/pkg/muse"
)

const (
	outletClientBuffer = 256
	outletWriteTimeout = 5 * time.Second
)

// Outlet is a WebSocket server that broadcasts CBOR records to every client.
// Clients pick families with ?family=eeg,ppg (all when absent). The first
// message per family is its StreamInfo; every later message is a Record.
// Slow clients lose frames rather than stall the pump.
type Outlet struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*outletClient]struct{}
	closed  bool

	seq     [len(muse.Families)]atomic.Uint64
	dropped atomic.Uint64
}

type outletClient struct {
	conn     *websocket.Conn
	families map[muse.Family]bool
	send     chan []byte
}

// NewOutlet creates an outlet with no clients
func NewOutlet(logger *slog.Logger) *Outlet {
	if logger == nil {
		logger = slog.Default()
	}
	return &Outlet{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*outletClient]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the client
func (o *Outlet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	families, err := parseFamilies(r.URL.Query().Get("family"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		o.logger.Debug("outlet upgrade failed", "error", err)
		return
	}

	client := &outletClient{conn: conn, families: families, send: make(chan []byte, outletClientBuffer)}
	for _, family := range muse.Families {
		if !families[family] {
			continue
		}
		info, err := cbor.Marshal(NewStreamInfo(family))
		if err == nil {
			client.send <- info
		}
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		conn.Close()
		return
	}
	o.clients[client] = struct{}{}
	o.mu.Unlock()

	o.logger.Debug("outlet client connected", "remote", r.RemoteAddr)
	go o.writeLoop(client)
	go o.readLoop(client)
}

// Accept implements session.Sink by broadcasting to subscribed clients
func (o *Outlet) Accept(f muse.Frame) error {
	if !f.Family.Valid() {
		return fmt.Errorf("invalid family %d", f.Family)
	}
	seq := o.seq[f.Family].Add(1)

	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.clients) == 0 {
		return nil
	}

	data, err := EncodeRecord(f, seq, time.Now())
	if err != nil {
		return err
	}
	for client := range o.clients {
		if !client.families[f.Family] {
			continue
		}
		select {
		case client.send <- data:
		default:
			o.dropped.Add(1)
		}
	}
	return nil
}

// Clients returns the number of connected clients
func (o *Outlet) Clients() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.clients)
}

// Dropped returns the number of messages dropped for slow clients
func (o *Outlet) Dropped() uint64 {
	return o.dropped.Load()
}

// Close disconnects every client
func (o *Outlet) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	for client := range o.clients {
		o.removeLocked(client)
	}
	return nil
}

func (o *Outlet) remove(client *outletClient) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removeLocked(client)
}

func (o *Outlet) removeLocked(client *outletClient) {
	if _, ok := o.clients[client]; !ok {
		return
	}
	delete(o.clients, client)
	close(client.send)
}

func (o *Outlet) writeLoop(client *outletClient) {
	defer client.conn.Close()
	for data := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(outletWriteTimeout))
		if err := client.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			o.logger.Debug("outlet write failed", "error", err)
			o.remove(client)
			// Drain so remove's close ends the loop
			for range client.send {
			}
			return
		}
	}
	client.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readLoop discards client messages and notices disconnects
func (o *Outlet) readLoop(client *outletClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			o.remove(client)
			return
		}
	}
}

func parseFamilies(query string) (map[muse.Family]bool, error) {
	families := make(map[muse.Family]bool)
	if strings.TrimSpace(query) == "" {
		for _, f := range muse.Families {
			families[f] = true
		}
		return families, nil
	}
	for _, name := range strings.Split(query, ",") {
		f, err := muse.ParseFamily(name)
		if err != nil {
			return nil, err
		}
		families[f] = true
	}
	return families, nil
}
