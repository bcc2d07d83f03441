package stream

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"
)

type frameSink struct {
	mu     sync.Mutex
	byTab  map[string][]byte
	frames int
}

func newFrameSink() *frameSink {
	return &frameSink{byTab: make(map[string][]byte)}
}

func (s *frameSink) sink(tabID string, data []byte) {
	s.mu.Lock()
	s.byTab[tabID] = append(s.byTab[tabID], data...)
	s.frames++
	s.mu.Unlock()
}

func (s *frameSink) tab(tabID string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.byTab[tabID]...)
}

func TestCoalescerPreservesOrder(t *testing.T) {
	sink := newFrameSink()
	c := NewCoalescer(5*time.Millisecond, sink.sink, nil)
	go c.Run()

	var want bytes.Buffer
	for i := 0; i < 500; i++ {
		chunk := []byte(fmt.Sprintf("chunk-%d;", i))
		want.Write(chunk)
		c.Append("t1", chunk)
		if i%50 == 0 {
			time.Sleep(time.Millisecond) // let flushes interleave with appends
		}
	}

	c.Close()

	if got := sink.tab("t1"); !bytes.Equal(got, want.Bytes()) {
		t.Errorf("flushed bytes differ from appended bytes:\n got %d bytes\nwant %d bytes", len(got), want.Len())
	}
}

func TestCoalescerCoalesces(t *testing.T) {
	sink := newFrameSink()
	c := NewCoalescer(50*time.Millisecond, sink.sink, nil)
	go c.Run()
	defer c.Close()

	// Many rapid appends within one interval should produce one frame.
	for i := 0; i < 100; i++ {
		c.Append("t1", []byte("x"))
	}
	time.Sleep(120 * time.Millisecond)

	sink.mu.Lock()
	frames := sink.frames
	sink.mu.Unlock()
	if frames == 0 || frames > 3 {
		t.Errorf("expected 1-3 frames for 100 rapid appends, got %d", frames)
	}
	if got := sink.tab("t1"); len(got) != 100 {
		t.Errorf("expected 100 bytes delivered, got %d", len(got))
	}
}

func TestCoalescerPerTabIsolation(t *testing.T) {
	sink := newFrameSink()
	c := NewCoalescer(5*time.Millisecond, sink.sink, nil)
	go c.Run()

	c.Append("a", []byte("aaa"))
	c.Append("b", []byte("bbb"))
	c.Close()

	if got := string(sink.tab("a")); got != "aaa" {
		t.Errorf("tab a: got %q", got)
	}
	if got := string(sink.tab("b")); got != "bbb" {
		t.Errorf("tab b: got %q", got)
	}
}

func TestCoalescerFinalFlushOnClose(t *testing.T) {
	sink := newFrameSink()
	// Long interval: the timer will not fire before Close.
	c := NewCoalescer(time.Hour, sink.sink, nil)
	go c.Run()

	c.Append("t1", []byte("tail output"))
	c.Close()

	if got := string(sink.tab("t1")); got != "tail output" {
		t.Errorf("tail output lost on close: got %q", got)
	}
}

func TestCoalescerRemoveFlushesFirst(t *testing.T) {
	sink := newFrameSink()
	c := NewCoalescer(time.Hour, sink.sink, nil)
	go c.Run()
	defer c.Close()

	c.Append("t1", []byte("last words"))
	c.Remove("t1")

	if got := string(sink.tab("t1")); got != "last words" {
		t.Errorf("expected forced flush on remove, got %q", got)
	}
}

func TestCoalescerConcurrentAppend(t *testing.T) {
	sink := newFrameSink()
	c := NewCoalescer(5*time.Millisecond, sink.sink, nil)
	go c.Run()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			tab := fmt.Sprintf("tab-%d", g)
			for i := 0; i < 200; i++ {
				c.Append(tab, []byte{byte('a' + g)})
			}
		}(g)
	}
	wg.Wait()
	c.Close()

	for g := 0; g < 8; g++ {
		tab := fmt.Sprintf("tab-%d", g)
		got := sink.tab(tab)
		if len(got) != 200 {
			t.Errorf("%s: expected 200 bytes, got %d", tab, len(got))
		}
		for _, b := range got {
			if b != byte('a'+g) {
				t.Errorf("%s: cross-tab contamination: %q", tab, b)
				break
			}
		}
	}
}
