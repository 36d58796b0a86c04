package engine

import (
	"strings"
	"testing"
)

func TestArenaAllocAndReset(t *testing.T) {
	a := NewArena("test", 64, 0) // 16 floats
	s, err := a.Alloc(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 10 {
		t.Fatalf("len = %d", len(s))
	}
	if _, err := a.Alloc(10); err == nil {
		t.Fatal("expected exhaustion")
	}
	a.Reset()
	if _, err := a.Alloc(16); err != nil {
		t.Fatalf("full alloc after reset: %v", err)
	}
}

func TestArenaZeroesMemory(t *testing.T) {
	a := NewArena("test", 64, 0)
	s, _ := a.Alloc(4)
	s[0] = 42
	a.Reset()
	s2, _ := a.Alloc(4)
	if s2[0] != 0 {
		t.Errorf("reused memory not zeroed: %f", s2[0])
	}
}

func TestArenaHighWater(t *testing.T) {
	a := NewArena("test", 1024, 0)
	a.Alloc(8)
	a.Alloc(8)
	a.Reset()
	a.Alloc(4)
	if got := a.HighWaterBytes(); got != 64 {
		t.Errorf("high water = %d bytes, want 64", got)
	}
}

func TestArenaEnsureBytes(t *testing.T) {
	a := NewArena("test", 64, 0)
	if err := a.EnsureBytes(32); err != nil {
		t.Fatalf("shrink request should be a no-op: %v", err)
	}
	if a.CapBytes() != 64 {
		t.Errorf("cap changed on no-op: %d", a.CapBytes())
	}
	if err := a.EnsureBytes(256); err != nil {
		t.Fatal(err)
	}
	if a.CapBytes() != 256 {
		t.Errorf("cap = %d, want 256", a.CapBytes())
	}
}

func TestArenaEnsureBytesRespectsLimit(t *testing.T) {
	a := NewArena("test", 64, 128)
	err := a.EnsureBytes(256)
	if err == nil {
		t.Fatal("expected limit error")
	}
	if !strings.Contains(err.Error(), "limit") {
		t.Errorf("error %q does not mention limit", err)
	}
}
