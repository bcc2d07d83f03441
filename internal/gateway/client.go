// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// client is one authenticated WebSocket connection and its
// subscription state.
type client struct {
	id   string
	conn *websocket.Conn
	h    *Handler

	send      chan []byte
	closeOnce sync.Once

	mu         sync.Mutex
	closed     bool
	tabID      string
	lastActive time.Time
}

func newClient(id string, conn *websocket.Conn, h *Handler, tabID string) *client {
	return &client{
		id:         id,
		conn:       conn,
		h:          h,
		send:       make(chan []byte, sendBufferSize),
		tabID:      tabID,
		lastActive: time.Now(),
	}
}

// touch refreshes the heartbeat stamp. Any inbound message counts as
// liveness, not only explicit pings.
func (c *client) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *client) lastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

func (c *client) subscribedTab() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tabID
}

func (c *client) setTab(tabID string) {
	c.mu.Lock()
	c.tabID = tabID
	c.mu.Unlock()
}

// enqueue marshals v onto the send channel without blocking; a client
// that cannot drain its buffer loses frames rather than stalling the
// broadcaster or its peers. The send happens under c.mu so a
// concurrent closeSend cannot close the channel underneath it:
// broadcast snapshots and the tab-init poll hold client pointers
// beyond the client's registration, and a late frame must be dropped,
// not panic the process.
func (c *client) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.h.log.Warn("marshal outbound message", "err", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// closeSend signals writePump to send a close frame and exit. Late
// enqueues after this become no-ops.
func (c *client) closeSend() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

// readPump processes inbound messages until the connection dies.
func (c *client) readPump() {
	defer c.h.dropConnection(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed messages never terminate the connection and
			// never produce an error reply.
			continue
		}
		c.h.handleMessage(c, msg)
	}
}

// writePump flushes the send channel to the socket and keeps the
// transport alive with ping frames.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
