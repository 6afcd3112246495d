package kv

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store for tests and single-node runs. The Now
// field can be overridden so sliding windows follow a test clock.
type Memory struct {
	mu  sync.Mutex
	Now func() time.Time

	values   map[string]memValue
	counters map[string]memCounter
	windows  map[string][]time.Time
	sorted   map[string][]scoredMember
}

type memValue struct {
	data    []byte
	expires time.Time // zero means no expiry
}

type memCounter struct {
	val     int64
	expires time.Time
}

type scoredMember struct {
	score  float64
	member string
}

// NewMemory creates an empty in-memory store on the wall clock.
func NewMemory() *Memory {
	return &Memory{
		Now:      time.Now,
		values:   make(map[string]memValue),
		counters: make(map[string]memCounter),
		windows:  make(map[string][]time.Time),
		sorted:   make(map[string][]scoredMember),
	}
}

func (m *Memory) expired(deadline time.Time) bool {
	return !deadline.IsZero() && m.Now().After(deadline)
}

func (m *Memory) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.values[key]; ok && !m.expired(v.expires) {
		return false, nil
	}
	var deadline time.Time
	if ttl > 0 {
		deadline = m.Now().Add(ttl)
	}
	m.values[key] = memValue{data: append([]byte(nil), value...), expires: deadline}
	return true, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok || m.expired(v.expires) {
		delete(m.values, key)
		return nil, false, nil
	}
	return append([]byte(nil), v.data...), true, nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[key]
	if !ok || m.expired(c.expires) {
		c = memCounter{}
		if ttl > 0 {
			c.expires = m.Now().Add(ttl)
		}
	}
	c.val++
	m.counters[key] = c
	return c.val, nil
}

func (m *Memory) SlidingWindowAdd(_ context.Context, key string, window time.Duration, limit int) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	kept := m.trimWindow(key, now, window)
	if len(kept) >= limit {
		return false, int64(len(kept)), nil
	}
	kept = append(kept, now)
	m.windows[key] = kept
	return true, int64(len(kept)), nil
}

func (m *Memory) SlidingWindowCount(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.trimWindow(key, m.Now(), window)
	m.windows[key] = kept
	return int64(len(kept)), nil
}

func (m *Memory) trimWindow(key string, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	var kept []time.Time
	for _, ts := range m.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

func (m *Memory) SortedAppend(_ context.Context, key string, score float64, member string, maxLen int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := append(m.sorted[key], scoredMember{score: score, member: member})
	sort.SliceStable(set, func(i, j int) bool { return set[i].score < set[j].score })
	if maxLen > 0 && len(set) > maxLen {
		set = set[len(set)-maxLen:]
	}
	m.sorted[key] = set
	return nil
}

func (m *Memory) SortedRange(_ context.Context, key string, n int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.sorted[key]
	if n > 0 && len(set) > n {
		set = set[len(set)-n:]
	}
	out := make([]string, len(set))
	for i, sm := range set {
		out[i] = sm.member
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
