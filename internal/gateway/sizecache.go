// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package gateway

import "sync"

// Geometry is a terminal viewport size.
type Geometry struct {
	Cols uint16
	Rows uint16
}

// SizeCache remembers each tab's last known local terminal geometry.
// Written whenever the local renderer resizes; read when the last
// remote subscriber leaves a tab so the local size can be reinstated
// (remote viewers may have forced a smaller viewport).
type SizeCache struct {
	mu    sync.RWMutex
	sizes map[string]Geometry
}

// NewSizeCache creates an empty cache.
func NewSizeCache() *SizeCache {
	return &SizeCache{sizes: make(map[string]Geometry)}
}

// Put records the local geometry for a tab.
func (c *SizeCache) Put(tabID string, g Geometry) {
	c.mu.Lock()
	c.sizes[tabID] = g
	c.mu.Unlock()
}

// Get returns the last known local geometry for a tab.
func (c *SizeCache) Get(tabID string) (Geometry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.sizes[tabID]
	return g, ok
}

// Forget drops a tab's entry.
func (c *SizeCache) Forget(tabID string) {
	c.mu.Lock()
	delete(c.sizes, tabID)
	c.mu.Unlock()
}
