package pipeline

import (
	"hash/fnv"
	"sync"
)

// lockStripes is sized well above any realistic per-process concurrent
// deal count so distinct deals rarely share a stripe.
const lockStripes = 64

// dealLocks serializes per-deal operations with a striped mutex table.
// Two deals on the same stripe serialize needlessly but correctly.
type dealLocks struct {
	stripes [lockStripes]sync.Mutex
}

// lock acquires the stripe for a deal and returns its unlock func.
func (l *dealLocks) lock(dealID string) func() {
	h := fnv.New32a()
	h.Write([]byte(dealID))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
