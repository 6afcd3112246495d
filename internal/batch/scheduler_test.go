package batch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/fairbatch/pkg/models"
)

func newTestScheduler(t *testing.T, cfg SchedulerConfig) (*Scheduler, *FakeClock, *[]int64) {
	t.Helper()
	clock := NewFakeClock(time.Unix(1_000_000, 0))
	var mu sync.Mutex
	processed := &[]int64{}
	s := NewScheduler(cfg, clock, func(w *Window) {
		mu.Lock()
		*processed = append(*processed, w.ID)
		mu.Unlock()
	}, zap.NewNop().Sugar())
	return s, clock, processed
}

func TestSchedulerProcessesWindowOnce(t *testing.T) {
	cfg := SchedulerConfig{WindowDuration: time.Second, Retention: time.Hour}
	s, clock, processed := newTestScheduler(t, cfg)

	o := mkOrder("ETH-USDC", models.SideBuy, 100, clock.Now())
	id, err := s.Append(o)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	require.Len(t, *processed, 1)
	assert.Equal(t, id, (*processed)[0])

	w, ok := s.Window(id)
	require.True(t, ok)
	assert.True(t, w.Processed())
}

func TestWindowClaimExactlyOnceUnderConcurrency(t *testing.T) {
	w := NewWindow(1, time.Unix(0, 0))
	var wg sync.WaitGroup
	var mu sync.Mutex
	claims := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.ClaimProcessing() {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claims)
}

func TestLateRevealGoesToNextWindow(t *testing.T) {
	cfg := SchedulerConfig{WindowDuration: time.Second, Retention: time.Hour}
	s, clock, _ := newTestScheduler(t, cfg)

	first := mkOrder("ETH-USDC", models.SideBuy, 100, clock.Now())
	firstID, err := s.Append(first)
	require.NoError(t, err)

	// close the first window out from under the next reveal
	w, ok := s.Window(firstID)
	require.True(t, ok)
	require.True(t, w.ClaimProcessing())

	late := mkOrder("ETH-USDC", models.SideSell, 99, clock.Now())
	lateID, err := s.Append(late)
	require.NoError(t, err)
	assert.Greater(t, lateID, firstID, "late reveal must land in a later window")
	assert.Equal(t, 1, w.Size(), "closed window must not grow")
}

func TestSchedulerFIFOAcrossWindows(t *testing.T) {
	cfg := SchedulerConfig{WindowDuration: time.Second, Retention: time.Hour}
	s, clock, processed := newTestScheduler(t, cfg)

	firstID, err := s.Append(mkOrder("ETH-USDC", models.SideBuy, 100, clock.Now()))
	require.NoError(t, err)
	clock.Advance(time.Second)
	secondID, err := s.Append(mkOrder("ETH-USDC", models.SideSell, 99, clock.Now()))
	require.NoError(t, err)
	clock.Advance(2 * time.Second)

	require.Len(t, *processed, 2)
	assert.Equal(t, []int64{firstID, secondID}, *processed)
	assert.Greater(t, secondID, firstID)
}

func TestSchedulerEvictsAfterRetention(t *testing.T) {
	cfg := SchedulerConfig{WindowDuration: time.Second, Retention: time.Minute}
	s, clock, _ := newTestScheduler(t, cfg)

	id, err := s.Append(mkOrder("ETH-USDC", models.SideBuy, 100, clock.Now()))
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	_, ok := s.Window(id)
	require.True(t, ok, "window is retained for validation after processing")

	clock.Advance(2 * time.Minute)
	_, ok = s.Window(id)
	assert.False(t, ok, "window is evicted after the retention period")
}
