package signals

import (
	"sync"
	"time"
)

// Timing compares a request with the previous one from the same client.
type Timing struct {
	HasPrevious bool    `json:"has_previous"`
	IntervalMS  float64 `json:"interval_ms,omitempty"`
	// Precision is the largest of 1000, 500, 100, 50, 10 dividing the
	// interval in whole milliseconds; scripted clients often hit round values.
	Precision int `json:"precision,omitempty"`
}

// Tracker remembers when each client was last seen.
type Tracker interface {
	Swap(key string, t time.Time) (prev time.Time, ok bool)
}

// MemoryTracker is an in-process Tracker holding at most max clients. When
// full, entries older than ttl are dropped, then the map is reset.
type MemoryTracker struct {
	mu   sync.Mutex
	last map[string]time.Time
	max  int
	ttl  time.Duration
}

func NewMemoryTracker(max int, ttl time.Duration) *MemoryTracker {
	if max <= 0 {
		max = 100_000
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryTracker{last: make(map[string]time.Time), max: max, ttl: ttl}
}

func (m *MemoryTracker) Swap(key string, t time.Time) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.last[key]
	if ok && t.Sub(prev) > m.ttl {
		ok = false
	}
	if !ok && len(m.last) >= m.max {
		m.prune(t)
	}
	m.last[key] = t
	return prev, ok
}

func (m *MemoryTracker) prune(now time.Time) {
	for k, seen := range m.last {
		if now.Sub(seen) > m.ttl {
			delete(m.last, k)
		}
	}
	if len(m.last) >= m.max {
		clear(m.last)
	}
}

// Len returns the number of tracked clients.
func (m *MemoryTracker) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.last)
}

func interval(tr Tracker, key string, now time.Time) Timing {
	prev, ok := tr.Swap(key, now)
	if !ok {
		return Timing{}
	}
	d := now.Sub(prev)
	out := Timing{HasPrevious: true, IntervalMS: float64(d.Microseconds()) / 1000}
	if ms := d.Milliseconds(); ms > 0 {
		for _, p := range []int64{1000, 500, 100, 50, 10} {
			if ms%p == 0 {
				out.Precision = int(p)
				break
			}
		}
	}
	return out
}
