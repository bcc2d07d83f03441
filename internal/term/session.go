// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package term

import (
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"
)

// State tracks a session's lifecycle.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
)

// OutputFunc receives raw PTY output for a session. Invoked from the
// session's read loop; must not block for long.
type OutputFunc func(sessionID string, data []byte)

// envInjectDelay is how long after spawn the environment bootstrap is
// written. The shell needs a moment to reach its prompt; too early and
// the exported variables are eaten by startup files.
const envInjectDelay = 300 * time.Millisecond

// Session owns one PTY and its shell process.
type Session struct {
	ID  string
	Dir string

	pty      *PTY
	onOutput OutputFunc
	log      pslog.Logger

	state    atomic.Int32
	loopDone chan struct{}
	stopOnce sync.Once
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Running reports whether the session accepts input and resize.
func (s *Session) Running() bool {
	return s.State() == StateRunning
}

// readLoop pumps PTY output into the registered callback. Exits without
// error on end-of-stream (shell exited or PTY closed during Stop).
func (s *Session) readLoop() {
	defer func() {
		s.state.Store(int32(StateStopped))
		close(s.loopDone)
	}()

	buf := make([]byte, 32*1024)
	for {
		n, err := s.pty.Read(buf)
		if n > 0 && s.onOutput != nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.onOutput(s.ID, data)
		}
		if err != nil {
			return
		}
	}
}

// injectEnv writes the session's identity into the shell environment so
// tooling running inside the tab can self-identify. Echo is suppressed
// and the command is prefixed with a space to stay out of shell history
// (sessions run with HISTCONTROL=ignorespace). Best effort.
func (s *Session) injectEnv() {
	time.Sleep(envInjectDelay)
	if !s.Running() {
		return
	}
	cmd := " export TERMDOCK_TAB_ID='" + s.ID + "' TERMDOCK_TAB_CWD='" + s.Dir + "'\n"
	if _, err := s.pty.WriteSilent([]byte(cmd)); err != nil {
		s.log.Debug("env bootstrap skipped", "err", err)
	}
}

// SendInput writes raw bytes to the PTY input side. No-op unless running.
func (s *Session) SendInput(data []byte) {
	if !s.Running() {
		return
	}
	if _, err := s.pty.Write(data); err != nil {
		s.log.Debug("session input dropped", "err", err)
	}
}

// Resize changes the PTY viewport. No-op unless running.
func (s *Session) Resize(cols, rows uint16) {
	if !s.Running() {
		return
	}
	if err := s.pty.Resize(cols, rows); err != nil {
		s.log.Debug("session resize dropped", "err", err)
	}
}

// Stop tears the session down: the PTY close kills the process group
// (descendants included) and unblocks the read loop, which is awaited
// before returning. Idempotent.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.state.Store(int32(StateStopping))
		s.pty.Close()
		select {
		case <-s.loopDone:
		case <-time.After(2 * time.Second):
			// An in-flight PTY read that does not fail promptly is
			// tolerated; the loop exits on its next read failure.
			s.log.Warn("read loop did not exit before stop deadline")
		}
	})
}
