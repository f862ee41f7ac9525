package pipeline

import (
	"fmt"
	"testing"
	"time"
)

func newTestCache(ttl time.Duration, limit int) (*SuggestionCache, *time.Time) {
	c := NewSuggestionCache(ttl, limit)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c.nowFn = func() time.Time { return now }
	return c, &now
}

func TestSuggestionCache_HitAndMiss(t *testing.T) {
	c, _ := newTestCache(0, 0)

	if _, ok := c.Get("deal-1", 1); ok {
		t.Error("hit on empty cache")
	}
	c.Put("deal-1", 1, []string{"counter at $900"}, SuggestionSourceFallback)
	entry, ok := c.Get("deal-1", 1)
	if !ok {
		t.Fatal("miss after Put")
	}
	if entry.Source != SuggestionSourceFallback || len(entry.Suggestions) != 1 {
		t.Errorf("entry = %+v", entry)
	}
	if _, ok := c.Get("deal-1", 2); ok {
		t.Error("hit for a different round")
	}
}

func TestSuggestionCache_TTLExpiry(t *testing.T) {
	c, now := newTestCache(5*time.Minute, 100)
	c.Put("deal-1", 1, []string{"a"}, SuggestionSourceLLM)

	*now = now.Add(4 * time.Minute)
	if _, ok := c.Get("deal-1", 1); !ok {
		t.Error("entry expired before TTL")
	}

	*now = now.Add(2 * time.Minute)
	if _, ok := c.Get("deal-1", 1); ok {
		t.Error("stale entry returned past TTL")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 after TTL eviction", c.Len())
	}
}

func TestSuggestionCache_BoundedWithFIFOEviction(t *testing.T) {
	c, _ := newTestCache(time.Hour, 100)
	for i := 0; i < 150; i++ {
		c.Put(fmt.Sprintf("deal-%d", i), 1, []string{"s"}, SuggestionSourceFallback)
	}
	if c.Len() != 100 {
		t.Fatalf("Len = %d, want capped at 100", c.Len())
	}
	// The earliest insertions are gone, the latest remain.
	if _, ok := c.Get("deal-0", 1); ok {
		t.Error("oldest entry survived overflow")
	}
	if _, ok := c.Get("deal-149", 1); !ok {
		t.Error("newest entry evicted")
	}
}

func TestSuggestionCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(time.Hour, 100)
	c.Put("deal-1", 1, []string{"a"}, SuggestionSourceFallback)
	c.Put("deal-1", 2, []string{"b"}, SuggestionSourceFallback)
	c.Put("deal-2", 1, []string{"c"}, SuggestionSourceFallback)

	c.Invalidate("deal-1")
	if _, ok := c.Get("deal-1", 1); ok {
		t.Error("deal-1 round 1 survived invalidation")
	}
	if _, ok := c.Get("deal-1", 2); ok {
		t.Error("deal-1 round 2 survived invalidation")
	}
	if _, ok := c.Get("deal-2", 1); !ok {
		t.Error("deal-2 wrongly invalidated")
	}
}

func TestSuggestionCache_PutReplacesEntry(t *testing.T) {
	c, _ := newTestCache(time.Hour, 100)
	c.Put("deal-1", 1, []string{"old"}, SuggestionSourceFallback)
	c.Put("deal-1", 1, []string{"new"}, SuggestionSourceLLM)
	entry, ok := c.Get("deal-1", 1)
	if !ok || entry.Suggestions[0] != "new" || entry.Source != SuggestionSourceLLM {
		t.Errorf("entry = %+v, want replaced", entry)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestSuggestionCache_DoComputesOnce(t *testing.T) {
	c, _ := newTestCache(time.Hour, 100)
	calls := 0
	for i := 0; i < 3; i++ {
		c.Do("deal-1", 1, func() ([]string, string) {
			calls++
			return []string{"s"}, SuggestionSourceFallback
		})
	}
	if calls != 1 {
		t.Errorf("compute ran %d times, want 1 (cache short-circuits)", calls)
	}
}
