// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package stream is the output pipeline between PTY read loops and
// renderers: a coalescing buffer that merges high-frequency writes into
// time-boxed frames, a display filter for constrained renderers, and a
// completion detector scanning the live byte stream.
package stream

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"
)

// DefaultFlushInterval bounds how long appended bytes wait before the
// next outbound frame.
const DefaultFlushInterval = 50 * time.Millisecond

// Sink receives at most one coalesced frame per tab per flush interval,
// in append order.
type Sink func(tabID string, data []byte)

type tabBuffer struct {
	mu  sync.Mutex // guards buf
	buf bytes.Buffer

	// sendMu serializes flush-and-send for this tab. Flushes may run
	// concurrently across tabs but never overlap for one tab, which is
	// what keeps frames in production order at the consumer.
	sendMu sync.Mutex
}

// Coalescer converts a high-frequency byte stream into periodic ordered
// frames. Append never blocks on the downstream sink.
type Coalescer struct {
	interval time.Duration
	sink     Sink
	log      pslog.Logger

	mu   sync.Mutex
	tabs map[string]*tabBuffer

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}
}

// NewCoalescer creates a coalescer flushing into sink every interval.
// Call Run (usually on its own goroutine) to start the flush timer.
func NewCoalescer(interval time.Duration, sink Sink, logger pslog.Logger) *Coalescer {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Coalescer{
		interval: interval,
		sink:     sink,
		log:      logger,
		tabs:     make(map[string]*tabBuffer),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

func (c *Coalescer) tab(tabID string) *tabBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	tb, ok := c.tabs[tabID]
	if !ok {
		tb = &tabBuffer{}
		c.tabs[tabID] = tb
	}
	return tb
}

// Append accumulates bytes for a tab. O(1) amortized; safe from any
// goroutine.
func (c *Coalescer) Append(tabID string, data []byte) {
	if len(data) == 0 {
		return
	}
	tb := c.tab(tabID)
	tb.mu.Lock()
	tb.buf.Write(data)
	tb.mu.Unlock()
}

// Run drives the periodic flush until Close is called.
func (c *Coalescer) Run() {
	c.started.Store(true)
	defer close(c.loopDone)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flushAll(false)
		case <-c.stop:
			return
		}
	}
}

func (c *Coalescer) flushAll(wait bool) {
	c.mu.Lock()
	pairs := make([]struct {
		id string
		tb *tabBuffer
	}, 0, len(c.tabs))
	for id, tb := range c.tabs {
		pairs = append(pairs, struct {
			id string
			tb *tabBuffer
		}{id, tb})
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pairs {
		wg.Add(1)
		go func(id string, tb *tabBuffer) {
			defer wg.Done()
			c.flushTab(id, tb)
		}(p.id, p.tb)
	}
	if wait {
		wg.Wait()
	}
}

// flushTab drains a tab's accumulator into the sink. The send lock is
// taken before the buffer is drained so overlapping flushes queue
// behind each other instead of interleaving frames.
func (c *Coalescer) flushTab(tabID string, tb *tabBuffer) {
	tb.sendMu.Lock()
	defer tb.sendMu.Unlock()

	tb.mu.Lock()
	if tb.buf.Len() == 0 {
		tb.mu.Unlock()
		return
	}
	frame := make([]byte, tb.buf.Len())
	copy(frame, tb.buf.Bytes())
	tb.buf.Reset()
	tb.mu.Unlock()

	c.sink(tabID, frame)
}

// Flush forces an immediate synchronous flush of one tab. Used on tab
// teardown so no tail output is lost.
func (c *Coalescer) Flush(tabID string) {
	c.mu.Lock()
	tb, ok := c.tabs[tabID]
	c.mu.Unlock()
	if ok {
		c.flushTab(tabID, tb)
	}
}

// Remove flushes and forgets a tab.
func (c *Coalescer) Remove(tabID string) {
	c.Flush(tabID)
	c.mu.Lock()
	delete(c.tabs, tabID)
	c.mu.Unlock()
}

// Close stops the flush timer and forces a final flush of every tab.
// Idempotent.
func (c *Coalescer) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		if c.started.Load() {
			<-c.loopDone
		}
		c.flushAll(true)
	})
}
