// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package debug provides in-process diagnostics: periodic heap and
// goroutine reporting plus on-demand goroutine stack dumps.
package debug

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"pkt.systems/pslog"
)

// MonitorConfig tunes the monitor. Zero values select the defaults.
type MonitorConfig struct {
	// Interval between stat reports.
	Interval time.Duration
	// WarnHeapBytes escalates the report to a warning.
	WarnHeapBytes uint64
}

// Monitor logs process memory and goroutine stats on a fixed cadence.
type Monitor struct {
	interval time.Duration
	warnHeap uint64
	log      pslog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	prevNumGC uint32
	prevAlloc uint64
}

func NewMonitor(cfg MonitorConfig, logger pslog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.WarnHeapBytes == 0 {
		cfg.WarnHeapBytes = 512 * 1024 * 1024
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Monitor{
		interval: cfg.Interval,
		warnHeap: cfg.WarnHeapBytes,
		log:      logger.With("component", "monitor"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic reporting.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
	m.log.Debug("memory monitor started", "interval", m.interval.String())
}

// Stop halts the monitor and emits a final report.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	m.report("startup")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			m.report("shutdown")
			return
		case <-ticker.C:
			m.report("periodic")
		}
	}
}

func (m *Monitor) report(reason string) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	gcRuns := ms.NumGC - m.prevNumGC
	allocDelta := int64(ms.TotalAlloc - m.prevAlloc)
	m.prevNumGC = ms.NumGC
	m.prevAlloc = ms.TotalAlloc

	fields := []any{
		"reason", reason,
		"heap_mb", fmt.Sprintf("%.1f", float64(ms.HeapAlloc)/(1024*1024)),
		"sys_mb", fmt.Sprintf("%.1f", float64(ms.Sys)/(1024*1024)),
		"goroutines", runtime.NumGoroutine(),
		"gc_runs", gcRuns,
		"alloc_delta_mb", fmt.Sprintf("%.1f", float64(allocDelta)/(1024*1024)),
		"heap_objects", ms.HeapObjects,
	}
	if ms.HeapAlloc >= m.warnHeap {
		m.log.Warn("memory stats", fields...)
	} else {
		m.log.Debug("memory stats", fields...)
	}
}

// DumpGoroutineStacks writes every goroutine stack to stderr. Wired to
// SIGQUIT for debugging hangs.
func (m *Monitor) DumpGoroutineStacks() {
	m.report("dump")

	buf := make([]byte, 1024*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE DUMP ===\n%s\n=== END GOROUTINE DUMP ===\n", buf[:n])
			break
		}
		buf = make([]byte, len(buf)*2)
		if len(buf) > 64*1024*1024 {
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE DUMP (truncated) ===\n%s\n=== END GOROUTINE DUMP ===\n", buf)
			break
		}
	}
	m.log.Info("goroutine dump complete", "count", runtime.NumGoroutine())
}

// WriteHeapProfile writes a heap profile for go tool pprof.
func WriteHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create heap profile: %w", err)
	}
	defer f.Close()

	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("write heap profile: %w", err)
	}
	return nil
}
