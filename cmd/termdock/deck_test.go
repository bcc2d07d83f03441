package main

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/termdock/termdock/internal/config"
	"github.com/termdock/termdock/internal/stream"
	"github.com/termdock/termdock/internal/term"
)

type frameLog struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (f *frameLog) sink(tabID string, data []byte) {
	f.mu.Lock()
	f.buf.Write(data)
	f.mu.Unlock()
}

func (f *frameLog) contains(s string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return bytes.Contains(f.buf.Bytes(), []byte(s))
}

func newTestDeck(t *testing.T, tabs ...config.TabConfig) (*deck, *frameLog) {
	t.Helper()
	frames := &frameLog{}
	coal := stream.NewCoalescer(10*time.Millisecond, frames.sink, nil)
	go coal.Run()

	d := newDeck(term.NewManager(nil), coal, stream.DetectorConfig{}, tabs, nil)
	t.Cleanup(func() {
		d.Shutdown()
		coal.Close()
	})
	return d, frames
}

func TestDeckTabsRoster(t *testing.T) {
	d, _ := newTestDeck(t,
		config.TabConfig{ID: "work", Name: "Work"},
		config.TabConfig{ID: "scratch"},
	)

	tabs := d.Tabs()
	if len(tabs) != 2 {
		t.Fatalf("expected 2 tabs, got %d", len(tabs))
	}
	if tabs[0].ID != "work" || tabs[0].Name != "Work" {
		t.Errorf("unexpected first tab: %+v", tabs[0])
	}
	// A tab without a display name falls back to its id.
	if tabs[1].Name != "scratch" {
		t.Errorf("expected name fallback, got %q", tabs[1].Name)
	}
}

func TestDeckInitTabUnknown(t *testing.T) {
	d, _ := newTestDeck(t, config.TabConfig{ID: "work"})
	if err := d.InitTab("ghost"); !errors.Is(err, errTabNotFound) {
		t.Fatalf("expected errTabNotFound, got %v", err)
	}
}

func TestDeckInitTabStartsShellAndStreams(t *testing.T) {
	d, frames := newTestDeck(t, config.TabConfig{ID: "work", Command: "/bin/sh"})

	if d.TabReady("work") {
		t.Fatal("tab ready before init")
	}
	if err := d.InitTab("work"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if !d.TabReady("work") {
		t.Fatal("tab not ready after init")
	}
	// Re-init of a running tab is a no-op.
	if err := d.InitTab("work"); err != nil {
		t.Fatalf("re-init: %v", err)
	}

	d.SendInput("work", []byte("echo deck_streams\n"))
	deadline := time.Now().Add(5 * time.Second)
	for !frames.contains("deck_streams") {
		if time.Now().After(deadline) {
			t.Fatal("output never reached the coalescer sink")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDeckInitTabRespawnsDeadShell(t *testing.T) {
	d, _ := newTestDeck(t, config.TabConfig{ID: "work", Command: "/bin/sh"})

	if err := d.InitTab("work"); err != nil {
		t.Fatalf("init: %v", err)
	}
	d.SendInput("work", []byte("exit\n"))

	deadline := time.Now().Add(5 * time.Second)
	for d.TabReady("work") {
		if time.Now().After(deadline) {
			t.Fatal("shell never exited")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := d.InitTab("work"); err != nil {
		t.Fatalf("re-init after exit: %v", err)
	}
	if !d.TabReady("work") {
		t.Fatal("tab not ready after respawn")
	}
}

func TestDeckStartAutoTabs(t *testing.T) {
	d, _ := newTestDeck(t,
		config.TabConfig{ID: "auto", Command: "/bin/sh", AutoStart: true},
		config.TabConfig{ID: "lazy", Command: "/bin/sh"},
	)

	d.StartAutoTabs()
	if !d.TabReady("auto") {
		t.Error("auto_start tab not running")
	}
	if d.TabReady("lazy") {
		t.Error("lazy tab started without init")
	}
}
