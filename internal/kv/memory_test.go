package kv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetNXClaim(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "claim", []byte("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.SetNX(ctx, "claim", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	val, found, err := m.Get(ctx, "claim")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("a"), val)
}

func TestMemoryTTLExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	m := NewMemory()
	m.Now = func() time.Time { return now }
	ctx := context.Background()

	_, err := m.SetNX(ctx, "k", []byte("v"), time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	// expired key can be re-claimed
	ok, err := m.SetNX(ctx, "k", []byte("v2"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemorySlidingWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	m := NewMemory()
	m.Now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, _, err := m.SlidingWindowAdd(ctx, "w", time.Second, 5)
		require.NoError(t, err)
		assert.True(t, allowed)
		now = now.Add(100 * time.Millisecond)
	}

	allowed, count, err := m.SlidingWindowAdd(ctx, "w", time.Second, 5)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.EqualValues(t, 5, count)

	// slide past the first event
	now = now.Add(600 * time.Millisecond)
	allowed, _, err = m.SlidingWindowAdd(ctx, "w", time.Second, 5)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestMemorySlidingWindowSameInstant(t *testing.T) {
	// admissions on the same instant must each count against the ceiling
	now := time.Unix(1000, 0)
	m := NewMemory()
	m.Now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, count, err := m.SlidingWindowAdd(ctx, "w", time.Second, 3)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.EqualValues(t, i+1, count)
	}

	allowed, count, err := m.SlidingWindowAdd(ctx, "w", time.Second, 3)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.EqualValues(t, 3, count)
}

func TestMemorySortedBounded(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, m.SortedAppend(ctx, "p", float64(i), string(rune('a'+i)), 4))
	}
	members, err := m.SortedRange(ctx, "p", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"g", "h", "i", "j"}, members)

	members, err = m.SortedRange(ctx, "p", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"i", "j"}, members)
}

func TestMemoryConcurrentSetNXSingleWinner(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.SetNX(ctx, "nonce", []byte("x"), 0)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
