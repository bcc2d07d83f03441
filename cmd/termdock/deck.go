// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package main

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/pslog"

	"github.com/termdock/termdock/internal/config"
	"github.com/termdock/termdock/internal/gateway"
	"github.com/termdock/termdock/internal/stream"
	"github.com/termdock/termdock/internal/term"
)

var errTabNotFound = errors.New("tab not found")

// deck wires the declared tabs to live shell sessions and the output
// pipeline. It is the gateway's TabProvider: the gateway never touches
// sessions or detectors directly.
type deck struct {
	manager   *term.Manager
	coal      *stream.Coalescer
	detectCfg stream.DetectorConfig
	log       pslog.Logger

	mu        sync.Mutex
	tabs      []config.TabConfig
	detectors map[string]*stream.Detector
}

func newDeck(manager *term.Manager, coal *stream.Coalescer, detectCfg stream.DetectorConfig, tabs []config.TabConfig, logger pslog.Logger) *deck {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &deck{
		manager:   manager,
		coal:      coal,
		detectCfg: detectCfg,
		log:       logger,
		tabs:      tabs,
		detectors: make(map[string]*stream.Detector),
	}
}

// Tabs returns the declared tab roster in config order.
func (d *deck) Tabs() []gateway.TabInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]gateway.TabInfo, 0, len(d.tabs))
	for _, t := range d.tabs {
		name := t.Name
		if name == "" {
			name = t.ID
		}
		out = append(out, gateway.TabInfo{ID: t.ID, Name: name})
	}
	return out
}

// TabReady reports whether the tab's shell is running.
func (d *deck) TabReady(tabID string) bool {
	return d.manager.Running(tabID)
}

// InitTab starts the tab's shell session. Re-initializing a running
// tab is a no-op; a tab whose shell has exited gets a fresh session.
func (d *deck) InitTab(tabID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tab, ok := d.findTab(tabID)
	if !ok {
		return errTabNotFound
	}

	if s, err := d.manager.Get(tabID); err == nil {
		if s.Running() {
			return nil
		}
		// Dead shell: tear down the old session before respawning.
		d.manager.Stop(tabID)
	}

	det := d.detectors[tabID]
	if det == nil {
		det = stream.NewDetector(tabID, d.detectCfg, d.onCompletion, d.log)
		d.detectors[tabID] = det
	} else {
		det.Reset()
	}

	onOutput := func(_ string, data []byte) {
		det.Feed(data)
		d.coal.Append(tabID, data)
	}
	if _, err := d.manager.Start(tabID, tab.Command, tab.Dir, onOutput); err != nil {
		return err
	}
	return nil
}

// SendInput forwards raw bytes to the tab's PTY.
func (d *deck) SendInput(tabID string, data []byte) {
	d.manager.SendInput(tabID, data)
}

// ResizeTab changes the tab's PTY viewport.
func (d *deck) ResizeTab(tabID string, cols, rows uint16) {
	d.manager.Resize(tabID, cols, rows)
}

// StartAutoTabs initializes every tab marked auto_start.
func (d *deck) StartAutoTabs() {
	d.mu.Lock()
	tabs := append([]config.TabConfig(nil), d.tabs...)
	d.mu.Unlock()

	for _, t := range tabs {
		if !t.AutoStart {
			continue
		}
		if err := d.InitTab(t.ID); err != nil {
			d.log.Warn("auto-start failed", "tab", t.ID, "err", err)
		}
	}
}

// Shutdown stops every session and detector.
func (d *deck) Shutdown() {
	d.mu.Lock()
	detectors := d.detectors
	d.detectors = make(map[string]*stream.Detector)
	d.mu.Unlock()

	d.manager.Shutdown()
	for _, det := range detectors {
		det.Close()
	}
}

// onCompletion is the notification seam for completion events. Events
// surface in the structured log; idle firings are informational only.
func (d *deck) onCompletion(ev stream.CompletionEvent) {
	if ev.Idle {
		d.log.Debug("tab idle", "tab", ev.TabID)
		return
	}
	d.log.Info("task completed", "tab", ev.TabID, "exit", ev.ExitCode, "rule", ev.Rule)
}

// findTab looks up a tab by id. Caller holds d.mu.
func (d *deck) findTab(tabID string) (config.TabConfig, bool) {
	for _, t := range d.tabs {
		if t.ID == tabID {
			return t, true
		}
	}
	return config.TabConfig{}, false
}
