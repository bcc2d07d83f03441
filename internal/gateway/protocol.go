// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package gateway

// TabInfo is one entry in the tab roster.
type TabInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Tab initialization statuses reported through tab_status messages.
const (
	TabStatusInitializing = "initializing"
	TabStatusReady        = "ready"
	TabStatusFailed       = "failed"
)

// TabProvider is the orchestrator seam: the gateway talks to sessions
// and the local renderer exclusively through it.
type TabProvider interface {
	// Tabs returns the current roster.
	Tabs() []TabInfo
	// TabReady reports whether a tab has a running session.
	TabReady(tabID string) bool
	// InitTab asks for an unopened tab to be brought up. Readiness is
	// observed by polling TabReady, not by InitTab returning.
	InitTab(tabID string) error
	// SendInput injects remote input into a tab's session.
	SendInput(tabID string, data []byte)
	// ResizeTab resizes a tab's session viewport.
	ResizeTab(tabID string, cols, rows uint16)
}

// clientMessage is every inbound protocol message. Unknown types and
// unparseable payloads are dropped silently.
type clientMessage struct {
	Type  string `json:"type"`
	Data  string `json:"data,omitempty"`
	Cols  uint16 `json:"cols,omitempty"`
	Rows  uint16 `json:"rows,omitempty"`
	TabID string `json:"tabId,omitempty"`
}

// Outbound message shapes, one struct per type so the wire format
// stays explicit.

type tabsMessage struct {
	Type string    `json:"type"`
	Tabs []TabInfo `json:"tabs"`
}

type outputMessage struct {
	Type  string `json:"type"`
	TabID string `json:"tabId"`
	Data  string `json:"data"`
}

type tabSwitchedMessage struct {
	Type  string `json:"type"`
	TabID string `json:"tabId"`
}

type tabStatusMessage struct {
	Type   string `json:"type"`
	TabID  string `json:"tabId"`
	Status string `json:"status"`
}

type pongMessage struct {
	Type string `json:"type"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
