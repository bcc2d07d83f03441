package id

import "testing"

func TestNew(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a) != 32 {
		t.Errorf("expected 32 chars, got %d (%q)", len(a), a)
	}
	b, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Error("consecutive ids collided")
	}
}
