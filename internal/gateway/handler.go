// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package gateway exposes shell tabs to remote clients over
// authenticated WebSocket connections.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"github.com/termdock/termdock/internal/stream"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultHeartbeatTimeout  = 30 * time.Second
	DefaultScrollbackBytes   = 256 * 1024

	initPollInterval = 100 * time.Millisecond
	initPollTimeout  = 10 * time.Second
)

// HandlerConfig tunes one gateway handler. Zero values pick the
// package defaults.
type HandlerConfig struct {
	FilterMode        stream.FilterMode
	ScrollbackBytes   int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	AllowedOrigins    []string
}

// tabStream is the per-tab remote view: one stateful display filter
// shared by every subscriber plus the replay buffer for late joiners.
type tabStream struct {
	filter  *stream.Filter
	history bytes.Buffer
}

// Handler owns the WebSocket client set and fans filtered tab output
// out to subscribers.
type Handler struct {
	auth  *AuthService
	tabs  TabProvider
	sizes *SizeCache
	cfg   HandlerConfig
	log   pslog.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	streams map[string]*tabStream

	stop      chan struct{}
	stopOnce  sync.Once
	sweepDone chan struct{}
}

// NewHandler wires a handler to its auth service and tab provider.
// Run must be called for heartbeat sweeping to take effect.
func NewHandler(auth *AuthService, tabs TabProvider, sizes *SizeCache, cfg HandlerConfig, logger pslog.Logger) *Handler {
	if cfg.ScrollbackBytes <= 0 {
		cfg.ScrollbackBytes = DefaultScrollbackBytes
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	h := &Handler{
		auth:      auth,
		tabs:      tabs,
		sizes:     sizes,
		cfg:       cfg,
		log:       logger,
		clients:   make(map[string]*client),
		streams:   make(map[string]*tabStream),
		stop:      make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin validates the Origin header against the configured
// allow list. No list configured means reject all (fail secure).
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	if len(h.cfg.AllowedOrigins) == 0 {
		return false
	}
	for _, a := range h.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == origin || a == "*" {
			return true
		}
		// Wildcard port matching, e.g. "http://localhost:*".
		if strings.HasSuffix(a, ":*") {
			prefix := strings.TrimSuffix(a, "*")
			if strings.HasPrefix(origin, prefix) {
				remainder := strings.TrimPrefix(origin, prefix)
				if len(remainder) > 0 && isNumeric(remainder) {
					return true
				}
			}
		}
	}
	return false
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// HandleWS upgrades the request and admits the client if its token
// checks out. Authentication failures are reported over the socket so
// the browser can show a reason, then the socket is closed.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	tabID := r.URL.Query().Get("tab")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	connID := uuid.NewString()
	if !h.auth.TryAuthenticate(connID, token) {
		h.log.Info("client rejected", "conn", connID)
		msg, _ := json.Marshal(errorMessage{Type: "error", Message: "authentication failed"})
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, msg)
		conn.Close()
		return
	}

	c := newClient(connID, conn, h, tabID)

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.log.Info("client connected", "conn", c.id, "tab", tabID)

	go c.writePump()
	go c.readPump()

	c.enqueue(tabsMessage{Type: "tabs", Tabs: h.tabs.Tabs()})
	if tabID != "" {
		h.replayScrollback(c, tabID)
	}
}

// Run sweeps for dead clients until Close. Blocks; run it on its own
// goroutine.
func (h *Handler) Run() {
	defer close(h.sweepDone)
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-h.stop:
			return
		}
	}
}

func (h *Handler) sweep() {
	cutoff := time.Now().Add(-h.cfg.HeartbeatTimeout)
	h.mu.Lock()
	var stale []*client
	for _, c := range h.clients {
		if c.lastSeen().Before(cutoff) {
			stale = append(stale, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stale {
		h.log.Info("client timed out", "conn", c.id)
		c.conn.Close()
		h.dropConnection(c)
	}
}

// Close stops the sweep loop and disconnects every client.
func (h *Handler) Close() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	<-h.sweepDone

	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
		h.dropConnection(c)
	}
}

// dropConnection removes a client from the set, deauthenticates it
// and restores the tab's local geometry if it was the last remote
// viewer. Safe to call more than once per client.
func (h *Handler) dropConnection(c *client) {
	h.mu.Lock()
	_, present := h.clients[c.id]
	delete(h.clients, c.id)
	tabID := c.subscribedTab()
	lastViewer := present && tabID != "" && !h.tabSubscribedLocked(tabID)
	h.mu.Unlock()

	if !present {
		return
	}

	h.auth.RemoveConnection(c.id)
	c.closeSend()
	h.log.Info("client disconnected", "conn", c.id)

	if lastViewer {
		if g, ok := h.sizes.Get(tabID); ok {
			h.tabs.ResizeTab(tabID, g.Cols, g.Rows)
		}
	}
}

// tabSubscribedLocked reports whether any connected client is viewing
// tabID. Caller holds h.mu.
func (h *Handler) tabSubscribedLocked(tabID string) bool {
	for _, c := range h.clients {
		if c.subscribedTab() == tabID {
			return true
		}
	}
	return false
}

// BroadcastOutput runs one coalesced frame through the tab's display
// filter, appends it to the replay buffer and fans it out to the
// tab's subscribers. Called from the coalescer flush path.
func (h *Handler) BroadcastOutput(tabID string, data []byte) {
	h.mu.Lock()
	ts := h.streams[tabID]
	if ts == nil {
		ts = &tabStream{filter: stream.NewFilter(h.cfg.FilterMode)}
		h.streams[tabID] = ts
	}
	filtered := ts.filter.Apply(string(data))
	if len(filtered) > 0 {
		ts.history.WriteString(filtered)
		if over := ts.history.Len() - h.cfg.ScrollbackBytes; over > 0 {
			ts.history.Next(over)
		}
	}
	var targets []*client
	for _, c := range h.clients {
		if c.subscribedTab() == tabID {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	if len(filtered) == 0 || len(targets) == 0 {
		return
	}
	msg := outputMessage{Type: "output", TabID: tabID, Data: filtered}
	for _, c := range targets {
		c.enqueue(msg)
	}
}

// DropTab discards the filter state and scrollback of a closed tab.
func (h *Handler) DropTab(tabID string) {
	h.mu.Lock()
	delete(h.streams, tabID)
	h.mu.Unlock()
	h.sizes.Forget(tabID)
}

// LocalResize records the local UI's geometry for a tab and applies
// it. The snapshot is what gets restored once the last remote viewer
// of the tab goes away.
func (h *Handler) LocalResize(tabID string, cols, rows uint16) {
	h.sizes.Put(tabID, Geometry{Cols: cols, Rows: rows})
	h.tabs.ResizeTab(tabID, cols, rows)
}

// replayScrollback sends the accumulated filtered history of a tab to
// one client as a single output message.
func (h *Handler) replayScrollback(c *client, tabID string) {
	h.mu.Lock()
	var history []byte
	if ts := h.streams[tabID]; ts != nil && ts.history.Len() > 0 {
		history = append(history, ts.history.Bytes()...)
	}
	h.mu.Unlock()

	if len(history) > 0 {
		c.enqueue(outputMessage{Type: "output", TabID: tabID, Data: string(history)})
	}
}

// handleMessage dispatches one parsed inbound message. Unknown types
// are dropped without a reply.
func (h *Handler) handleMessage(c *client, msg clientMessage) {
	switch msg.Type {
	case "input":
		if tab := c.subscribedTab(); tab != "" {
			h.tabs.SendInput(tab, []byte(msg.Data))
		}

	case "resize":
		tab := msg.TabID
		if tab == "" {
			tab = c.subscribedTab()
		}
		if tab != "" && msg.Cols > 0 && msg.Rows > 0 {
			h.tabs.ResizeTab(tab, msg.Cols, msg.Rows)
		}

	case "switch_tab":
		h.switchTab(c, msg.TabID)

	case "get_tabs":
		c.enqueue(tabsMessage{Type: "tabs", Tabs: h.tabs.Tabs()})

	case "ping":
		c.enqueue(pongMessage{Type: "pong"})

	case "init_tab":
		h.initTab(c, msg.TabID)
	}
}

func (h *Handler) switchTab(c *client, tabID string) {
	if tabID == "" {
		c.enqueue(errorMessage{Type: "error", Message: "switch_tab requires a tab id"})
		return
	}
	known := false
	for _, t := range h.tabs.Tabs() {
		if t.ID == tabID {
			known = true
			break
		}
	}
	if !known {
		c.enqueue(errorMessage{Type: "error", Message: "unknown tab " + tabID})
		return
	}
	c.setTab(tabID)
	c.enqueue(tabSwitchedMessage{Type: "tab_switched", TabID: tabID})
	h.replayScrollback(c, tabID)
	if !h.tabs.TabReady(tabID) {
		h.initTab(c, tabID)
	}
}

// initTab reports a tab's readiness and, when the tab is cold, starts
// it and polls until the shell is up or the deadline passes.
func (h *Handler) initTab(c *client, tabID string) {
	if tabID == "" {
		c.enqueue(errorMessage{Type: "error", Message: "init_tab requires a tab id"})
		return
	}
	if h.tabs.TabReady(tabID) {
		c.enqueue(tabStatusMessage{Type: "tab_status", TabID: tabID, Status: TabStatusReady})
		return
	}
	c.enqueue(tabStatusMessage{Type: "tab_status", TabID: tabID, Status: TabStatusInitializing})

	go func() {
		if err := h.tabs.InitTab(tabID); err != nil {
			h.log.Warn("tab init failed", "tab", tabID, "err", err)
			c.enqueue(tabStatusMessage{Type: "tab_status", TabID: tabID, Status: TabStatusFailed})
			return
		}
		deadline := time.Now().Add(initPollTimeout)
		for time.Now().Before(deadline) {
			if h.tabs.TabReady(tabID) {
				c.enqueue(tabStatusMessage{Type: "tab_status", TabID: tabID, Status: TabStatusReady})
				return
			}
			select {
			case <-h.stop:
				return
			case <-time.After(initPollInterval):
			}
		}
		c.enqueue(tabStatusMessage{Type: "tab_status", TabID: tabID, Status: TabStatusFailed})
	}()
}

// ClientCount reports the number of connected clients.
func (h *Handler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
