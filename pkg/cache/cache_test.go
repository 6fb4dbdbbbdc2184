package cache

import (
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c := New[int](4, time.Minute)
	c.Set("a", 1)

	got, ok := c.Get("a")
	if !ok || got != 1 {
		t.Fatalf("expected 1, got %d ok=%v", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected miss")
	}
}

func TestCache_CapacityEvictsLRU(t *testing.T) {
	c := New[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	// Touch "a" so "b" becomes least recently used.
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected hit")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a retained")
	}
	if c.Len() != 2 {
		t.Fatalf("expected len 2, got %d", c.Len())
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New[string](4, time.Minute)
	now := time.Now()
	c.clock = func() time.Time { return now }

	c.Set("k", "v")
	now = now.Add(2 * time.Minute)

	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected expiry")
	}
}

func TestCache_OverwriteRefreshes(t *testing.T) {
	c := New[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("a", 2)

	got, _ := c.Get("a")
	if got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if c.Len() != 1 {
		t.Fatalf("expected len 1, got %d", c.Len())
	}
}
