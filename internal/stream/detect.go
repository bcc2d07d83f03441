// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package stream

import (
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
)

// DefaultIdleWindow is the silence window after which an idle
// completion fires, when idle detection is enabled.
const DefaultIdleWindow = 5 * time.Second

// sentinelPattern matches the cooperative completion marker
// [[DONE:<tabId>:<exitCode>]] on a line by itself.
var sentinelPattern = regexp.MustCompile(`^\[\[DONE:([^:\[\]]+):(-?\d+)\]\]$`)

// CompletionEvent reports that a tab's task is judged finished.
type CompletionEvent struct {
	TabID    string
	ExitCode int
	// Idle marks an idle-timeout firing rather than a sentinel or
	// heuristic match.
	Idle bool
	// Rule names what fired: "sentinel", "idle", or a predicate name.
	Rule string
}

// DetectorConfig tunes the optional detection rules. The sentinel rule
// is always active.
type DetectorConfig struct {
	// Heuristics enables pattern matching when non-nil.
	Heuristics *PatternSet
	// IdleWindow enables idle detection when positive.
	IdleWindow time.Duration
}

// Detector scans one session's live output for completion signals. It
// buffers partial lines across chunks and only ever matches complete,
// escape-stripped lines. Feed is called from the owning session's read
// loop; the idle watcher runs on its own goroutine.
type Detector struct {
	tabID string
	cfg   DetectorConfig
	emit  func(CompletionEvent)
	log   pslog.Logger

	mu           sync.Mutex
	partial      []byte
	seenOutput   bool
	idleFired    bool
	lastActivity time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewDetector creates a detector for the given tab. emit is invoked
// inline from Feed (sentinel/heuristic) or from the idle watcher.
func NewDetector(tabID string, cfg DetectorConfig, emit func(CompletionEvent), logger pslog.Logger) *Detector {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	d := &Detector{
		tabID: tabID,
		cfg:   cfg,
		emit:  emit,
		log:   logger.With("tab", tabID),
		stop:  make(chan struct{}),
	}
	if cfg.IdleWindow > 0 {
		go d.idleLoop()
	}
	return d
}

// Feed consumes an arbitrary-length output chunk.
func (d *Detector) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	d.mu.Lock()
	d.seenOutput = true
	d.lastActivity = time.Now()
	// Fresh output re-arms the idle one-shot for the next episode.
	d.idleFired = false

	d.partial = append(d.partial, chunk...)
	var complete [][]byte
	for {
		idx := bytes.IndexByte(d.partial, '\n')
		if idx < 0 {
			break
		}
		line := make([]byte, idx)
		copy(line, d.partial[:idx])
		d.partial = d.partial[idx+1:]
		complete = append(complete, line)
	}
	d.mu.Unlock()

	for _, line := range complete {
		d.scanLine(string(line))
	}
}

func (d *Detector) scanLine(line string) {
	line = strings.TrimSuffix(line, "\r")
	line = StripEscapes(line)

	// Sentinel first: authoritative, carries the real exit code.
	if m := sentinelPattern.FindStringSubmatch(line); m != nil {
		if m[1] != d.tabID {
			// Multiplexed terminals can interleave another tab's
			// sentinel; not ours to report.
			return
		}
		code, err := strconv.Atoi(m[2])
		if err != nil {
			return
		}
		d.log.Debug("completion sentinel", "exit", code)
		d.emit(CompletionEvent{TabID: d.tabID, ExitCode: code, Rule: "sentinel"})
		return
	}

	if d.cfg.Heuristics != nil && line != "" {
		if name, ok := d.cfg.Heuristics.Match(line); ok {
			d.log.Debug("completion heuristic", "rule", name)
			d.emit(CompletionEvent{TabID: d.tabID, ExitCode: 0, Rule: name})
		}
	}
}

// idleLoop fires an idle-flagged completion after a full window of
// silence, at most once per idle episode.
func (d *Detector) idleLoop() {
	tick := d.cfg.IdleWindow / 5
	if tick < 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		fire := d.seenOutput && !d.idleFired &&
			time.Since(d.lastActivity) >= d.cfg.IdleWindow
		if fire {
			d.idleFired = true
		}
		d.mu.Unlock()

		if fire {
			d.log.Debug("completion idle", "window", d.cfg.IdleWindow)
			d.emit(CompletionEvent{TabID: d.tabID, ExitCode: 0, Idle: true, Rule: "idle"})
		}
	}
}

// Reset clears the partial-line buffer and idle state without
// destroying the detector.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.partial = nil
	d.seenOutput = false
	d.idleFired = false
	d.lastActivity = time.Time{}
	d.mu.Unlock()
}

// Close stops the idle watcher. Idempotent.
func (d *Detector) Close() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
}
