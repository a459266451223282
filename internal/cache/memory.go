package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"rollbook/internal/clock"
)

// Memory is a process-local cache.
type Memory struct {
	ttl   time.Duration
	clock clock.Clock

	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	value    []byte
	storedAt time.Time
}

func NewMemory(ttl time.Duration, clk clock.Clock) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Memory{ttl: ttl, clock: clk, entries: make(map[string]entry)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || !m.valid(e) {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{value: v, storedAt: m.clock.Now()}
	return nil
}

func (m *Memory) Invalidate(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]entry)
	return nil
}

// Stats counts valid entries only.
func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.clock.Now()
	var st Stats
	for _, e := range m.entries {
		if !m.valid(e) {
			continue
		}
		st.Entries++
		if age := now.Sub(e.storedAt); age > st.OldestAge {
			st.OldestAge = age
		}
	}
	return st, nil
}

func (m *Memory) valid(e entry) bool {
	return m.clock.Now().Sub(e.storedAt) < m.ttl
}
