package debug

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/pslog"
)

// logCapture is a goroutine-safe writer for asserting on log output.
type logCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *logCapture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func captureLogger() (*logCapture, pslog.Logger) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.DebugLevel,
	})
	return capture, logger
}

func TestMonitorReportsOnStartup(t *testing.T) {
	capture, logger := captureLogger()

	m := NewMonitor(MonitorConfig{Interval: time.Hour}, logger)
	m.Start()
	time.Sleep(50 * time.Millisecond)
	m.Stop()

	out := capture.String()
	if !strings.Contains(out, "startup") {
		t.Errorf("expected startup report, got: %s", out)
	}
	if !strings.Contains(out, "heap_mb") || !strings.Contains(out, "goroutines") {
		t.Errorf("expected heap and goroutine fields, got: %s", out)
	}
	if !strings.Contains(out, "shutdown") {
		t.Errorf("expected shutdown report on Stop, got: %s", out)
	}
}

func TestMonitorPeriodicReports(t *testing.T) {
	capture, logger := captureLogger()

	m := NewMonitor(MonitorConfig{Interval: 30 * time.Millisecond}, logger)
	m.Start()
	time.Sleep(120 * time.Millisecond)
	m.Stop()

	if !strings.Contains(capture.String(), "periodic") {
		t.Errorf("expected periodic reports, got: %s", capture.String())
	}
}

func TestMonitorStopIdempotent(t *testing.T) {
	_, logger := captureLogger()
	m := NewMonitor(MonitorConfig{Interval: time.Hour}, logger)
	m.Start()
	m.Stop()
	m.Stop()
}

func TestDumpGoroutineStacks(t *testing.T) {
	_, logger := captureLogger()

	oldStderr := os.Stderr
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stderr = w

	m := NewMonitor(MonitorConfig{Interval: time.Hour}, logger)
	m.DumpGoroutineStacks()

	w.Close()
	os.Stderr = oldStderr

	var stderrBuf bytes.Buffer
	stderrBuf.ReadFrom(r)
	if !strings.Contains(stderrBuf.String(), "GOROUTINE DUMP") {
		t.Errorf("expected goroutine dump on stderr, got: %s", stderrBuf.String())
	}
}

func TestWriteHeapProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.pprof")
	if err := WriteHeapProfile(path); err != nil {
		t.Fatalf("write heap profile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat profile: %v", err)
	}
	if info.Size() == 0 {
		t.Error("heap profile is empty")
	}
}
