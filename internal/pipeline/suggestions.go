package pipeline

import (
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Suggestion sources.
const (
	SuggestionSourceLLM      = "llm"
	SuggestionSourceFallback = "fallback"
)

const (
	defaultSuggestionTTL   = 5 * time.Minute
	defaultSuggestionLimit = 100
)

// suggestionKey identifies one cached set of precomputed suggestions.
type suggestionKey struct {
	DealID string
	Round  int
}

// SuggestionEntry holds precomputed reply suggestions for one round.
type SuggestionEntry struct {
	Suggestions []string  `json:"suggestions"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"` // llm | fallback
}

// SuggestionCache is a bounded, TTL-limited, process-local cache of
// precomputed suggestions keyed by (deal, round). On overflow the least
// recently inserted entry is evicted. A singleflight.Group collapses
// concurrent precomputes for the same key.
type SuggestionCache struct {
	mu      sync.Mutex
	entries map[suggestionKey]*SuggestionEntry
	order   []suggestionKey // insertion order, oldest first
	ttl     time.Duration
	limit   int
	group   singleflight.Group
	nowFn   func() time.Time
}

// NewSuggestionCache creates an empty cache. Zero ttl/limit select the
// defaults (5 minutes, 100 entries).
func NewSuggestionCache(ttl time.Duration, limit int) *SuggestionCache {
	if ttl <= 0 {
		ttl = defaultSuggestionTTL
	}
	if limit <= 0 {
		limit = defaultSuggestionLimit
	}
	return &SuggestionCache{
		entries: make(map[suggestionKey]*SuggestionEntry),
		ttl:     ttl,
		limit:   limit,
		nowFn:   time.Now,
	}
}

// Get returns the cached entry for (deal, round). Entries past the TTL
// are evicted and reported as a miss; no stale entry is ever returned.
func (c *SuggestionCache) Get(dealID string, round int) (*SuggestionEntry, bool) {
	key := suggestionKey{dealID, round}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.nowFn().Sub(e.Timestamp) > c.ttl {
		c.removeLocked(key)
		return nil, false
	}
	return e, true
}

// Put stores an entry, evicting the least recently inserted entry when
// the cache is full.
func (c *SuggestionCache) Put(dealID string, round int, suggestions []string, source string) {
	key := suggestionKey{dealID, round}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.removeLocked(key)
	}
	for len(c.entries) >= c.limit && len(c.order) > 0 {
		c.removeLocked(c.order[0])
	}
	c.entries[key] = &SuggestionEntry{
		Suggestions: suggestions,
		Timestamp:   c.nowFn(),
		Source:      source,
	}
	c.order = append(c.order, key)
}

// Invalidate drops every cached round for a deal. Called after each
// completed round: the deal state the suggestions were computed from is
// gone.
func (c *SuggestionCache) Invalidate(dealID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.DealID == dealID {
			c.removeLocked(key)
		}
	}
}

// Len returns the current entry count.
func (c *SuggestionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Do collapses concurrent computes for the same key into one call.
func (c *SuggestionCache) Do(dealID string, round int, fn func() ([]string, string)) {
	key := suggestionKey{dealID, round}
	c.group.Do(keyString(key), func() (any, error) {
		if _, hit := c.Get(dealID, round); hit {
			return nil, nil
		}
		suggestions, source := fn()
		if len(suggestions) > 0 {
			c.Put(dealID, round, suggestions, source)
		}
		return nil, nil
	})
}

func (c *SuggestionCache) removeLocked(key suggestionKey) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func keyString(k suggestionKey) string {
	return k.DealID + "#" + strconv.Itoa(k.Round)
}
