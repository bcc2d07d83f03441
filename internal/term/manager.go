// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package term manages shell sessions behind OS pseudo-terminals.
//
// A Session owns exactly one PTY and the shell process attached to it.
// The child runs as a session leader in its own process group, so
// teardown kills the whole process tree atomically. Output flows out
// through a per-session callback invoked from the read loop; input and
// resize flow in through the Manager keyed by session id.
package term

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"pkt.systems/pslog"

	"github.com/termdock/termdock/internal/id"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// Default PTY geometry for new sessions.
const (
	DefaultCols uint16 = 80
	DefaultRows uint16 = 24
)

// Manager handles session lifecycle. All access to sessions goes
// through the manager and a session id; Session values are never
// shared by value.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      pslog.Logger
}

// NewManager creates a session manager.
func NewManager(logger pslog.Logger) *Manager {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Manager{
		sessions: make(map[string]*Session),
		log:      logger,
	}
}

// resolveDir picks a usable working directory: the requested one, the
// user's home, then the process's own cwd.
func resolveDir(dir string) string {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return dir
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if st, err := os.Stat(home); err == nil && st.IsDir() {
			return home
		}
	}
	cwd, _ := os.Getwd()
	return cwd
}

// Start spawns shellCommand (default shell when empty) on a fresh
// 80x24 PTY in workingDirectory and begins pumping output into
// onOutput. An empty sessionID gets a generated one; the caller reads
// it back from the returned session. Spawn failure is fatal for this
// session only.
func (m *Manager) Start(sessionID, shellCommand, workingDirectory string, onOutput OutputFunc) (*Session, error) {
	if sessionID == "" {
		generated, err := id.New()
		if err != nil {
			return nil, fmt.Errorf("generate session id: %w", err)
		}
		sessionID = generated
	}

	m.mu.Lock()
	if _, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return nil, ErrSessionExists
	}
	m.mu.Unlock()

	dir := resolveDir(workingDirectory)
	if dir != workingDirectory && workingDirectory != "" {
		m.log.Warn("working directory unavailable, falling back", "requested", workingDirectory, "using", dir)
	}

	env := map[string]string{
		"HISTCONTROL": "ignorespace",
	}

	p, err := NewPTY(sessionID, shellCommand, dir, DefaultCols, DefaultRows, env)
	if err != nil {
		return nil, fmt.Errorf("spawn session %s: %w", sessionID, err)
	}

	s := &Session{
		ID:       sessionID,
		Dir:      dir,
		pty:      p,
		onOutput: onOutput,
		log:      m.log.With("session", sessionID),
		loopDone: make(chan struct{}),
	}
	s.state.Store(int32(StateRunning))

	m.mu.Lock()
	m.sessions[sessionID] = s
	m.mu.Unlock()

	go s.readLoop()
	go s.injectEnv()

	m.log.Info("session started", "session", sessionID, "dir", dir)
	return s, nil
}

// Get retrieves a session by id.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Running reports whether the session exists and accepts input.
func (m *Manager) Running(sessionID string) bool {
	s, err := m.Get(sessionID)
	return err == nil && s.Running()
}

// SendInput writes raw bytes to a session's PTY. No-op if unknown.
func (m *Manager) SendInput(sessionID string, data []byte) {
	if s, err := m.Get(sessionID); err == nil {
		s.SendInput(data)
	}
}

// Resize changes a session's PTY viewport. No-op if unknown.
func (m *Manager) Resize(sessionID string, cols, rows uint16) {
	if s, err := m.Get(sessionID); err == nil {
		s.Resize(cols, rows)
	}
}

// Stop tears down a session and removes it from the table. Idempotent;
// stopping an unknown session is a no-op.
func (m *Manager) Stop(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if ok {
		s.Stop()
		m.log.Info("session stopped", "session", sessionID)
	}
}

// List returns the ids of all live sessions.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}
