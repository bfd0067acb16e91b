package guard

import (
	"context"
	"sync"
	"time"
)

// MemoryCounters is an in-process CounterStore. Suitable for tests and
// single-instance deployments; use RedisCounters when multiple
// processes must share limits.
type MemoryCounters struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int64
	resetAt time.Time
}

// NewMemoryCounters creates an empty in-memory counter store.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{windows: make(map[string]*window)}
}

// Incr implements CounterStore.
func (m *MemoryCounters) Incr(_ context.Context, key string, windowLen time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	w, ok := m.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(windowLen)}
		m.windows[key] = w
	}
	w.count++
	return w.count, nil
}

// Reset clears all counters. Test helper.
func (m *MemoryCounters) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows = make(map[string]*window)
}
