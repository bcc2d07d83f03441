package term

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"
)

// collector accumulates output callback data for assertions.
type collector struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *collector) write(_ string, data []byte) {
	c.mu.Lock()
	c.buf.Write(data)
	c.mu.Unlock()
}

func (c *collector) contains(sub string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Contains(c.buf.Bytes(), []byte(sub))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestManagerStartAndOutput(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	c := &collector{}
	s, err := m.Start("t1", "/bin/sh", "", c.write)
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	if !s.Running() {
		t.Error("expected session in running state")
	}

	m.SendInput("t1", []byte("echo hello_term\n"))
	waitFor(t, 3*time.Second, func() bool { return c.contains("hello_term") })
}

func TestManagerDuplicateID(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	if _, err := m.Start("dup", "/bin/sh", "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Start("dup", "/bin/sh", "", nil); err == nil {
		t.Error("expected error starting duplicate session")
	}
}

func TestManagerWorkingDirFallback(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	c := &collector{}
	s, err := m.Start("wd", "/bin/sh", "/definitely/not/a/dir", c.write)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Dir == "/definitely/not/a/dir" {
		t.Errorf("expected fallback working directory, got %s", s.Dir)
	}
	if _, err := os.Stat(s.Dir); err != nil {
		t.Errorf("fallback dir does not exist: %v", err)
	}
}

func TestManagerSpawnFailure(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	if _, err := m.Start("bad", "/no/such/shell", "", nil); err == nil {
		t.Error("expected spawn error for missing shell binary")
	}
	// Failure must be session-local: the manager still starts others.
	if _, err := m.Start("ok", "/bin/sh", "", nil); err != nil {
		t.Errorf("manager unusable after spawn failure: %v", err)
	}
}

func TestManagerBlankCommandUsesDefaultShell(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	// A whitespace-only command has no fields to exec; it must fall
	// back to the default shell like the empty string does.
	c := &collector{}
	s, err := m.Start("blank", "   ", "", c.write)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Running() {
		t.Error("expected session in running state")
	}

	m.SendInput("blank", []byte("echo blank_cmd\n"))
	waitFor(t, 3*time.Second, func() bool { return c.contains("blank_cmd") })
}

func TestManagerStopIdempotent(t *testing.T) {
	m := NewManager(nil)

	s, err := m.Start("stop", "/bin/sh", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.Stop("stop")
	m.Stop("stop") // second call must be a no-op
	m.Stop("never-existed")

	if s.State() != StateStopped {
		t.Errorf("expected stopped state, got %d", s.State())
	}

	// Input/resize against a stopped session are no-ops, not errors.
	s.SendInput([]byte("echo nope\n"))
	s.Resize(120, 40)
}

func TestSessionProcessKilledOnStop(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	c := &collector{}
	_, err := m.Start("tree", "/bin/sh", "", c.write)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.SendInput("tree", []byte("echo spawned_$$\n"))
	waitFor(t, 3*time.Second, func() bool { return c.contains("spawned_") })

	c.mu.Lock()
	out := c.buf.String()
	c.mu.Unlock()
	var pid int
	for _, line := range bytes.Split([]byte(out), []byte("\n")) {
		if n, _ := fmt.Sscanf(string(line), "spawned_%d", &pid); n == 1 {
			break
		}
	}
	if pid == 0 {
		t.Skip("could not parse child pid from shell output")
	}

	m.Stop("tree")

	waitFor(t, 3*time.Second, func() bool {
		// Signal 0 probes existence; ESRCH once the group kill landed.
		err := sigZero(pid)
		return err != nil
	})
}

func TestSessionEnvInjection(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	c := &collector{}
	_, err := m.Start("env-tab", "/bin/sh", "", c.write)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Give the best-effort bootstrap time to land, then read it back.
	time.Sleep(envInjectDelay + 200*time.Millisecond)
	m.SendInput("env-tab", []byte("echo id=$TERMDOCK_TAB_ID\n"))
	waitFor(t, 3*time.Second, func() bool { return c.contains("id=env-tab") })
}

func TestManagerGeneratesSessionID(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	c := &collector{}
	s, err := m.Start("", "/bin/sh", "", c.write)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.ID) != 32 {
		t.Errorf("expected generated 32-char id, got %q", s.ID)
	}
	if !m.Running(s.ID) {
		t.Error("generated session not registered under its id")
	}
}
