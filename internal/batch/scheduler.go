package batch

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/fairbatch/pkg/models"
)

// SchedulerConfig holds window timing settings.
type SchedulerConfig struct {
	WindowDuration time.Duration `mapstructure:"window_duration" yaml:"window_duration"`
	Retention      time.Duration `mapstructure:"retention" yaml:"retention"`
}

// DefaultSchedulerConfig returns one-second windows retained for an hour
// of validation and audit before eviction.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		WindowDuration: time.Second,
		Retention:      time.Hour,
	}
}

// ProcessFunc runs the full pipeline over a claimed window.
type ProcessFunc func(*Window)

// Scheduler owns the arena of live windows keyed by window id. Each
// window gets a single timer; the processing claim on the window itself
// guarantees at-most-once firing even if a timer callback races a late
// reveal that observed window expiry.
type Scheduler struct {
	cfg     SchedulerConfig
	clock   Clock
	process ProcessFunc
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	windows map[int64]*Window
}

// NewScheduler creates a scheduler; process is invoked exactly once per
// window, empty windows included.
func NewScheduler(cfg SchedulerConfig, clock Clock, process ProcessFunc, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		clock:   clock,
		process: process,
		logger:  logger,
		windows: make(map[int64]*Window),
	}
}

// Append routes a revealed order into the current window, creating it
// lazily and scheduling its single processing callback on first use. A
// reveal racing the window's timer at the boundary is routed into the
// next window, never retroactively into a closed one.
func (s *Scheduler) Append(order *models.Order) (int64, error) {
	now := s.clock.Now()
	id := WindowID(now, s.cfg.WindowDuration)
	for {
		w := s.window(id, now)
		if err := w.Append(order); err == nil {
			return id, nil
		}
		// Window already left open; try its successor.
		id++
	}
}

// Window returns a live (not yet evicted) window by id.
func (s *Scheduler) Window(id int64) (*Window, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	return w, ok
}

func (s *Scheduler) window(id int64, now time.Time) *Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[id]; ok {
		return w
	}
	w := NewWindow(id, now)
	s.windows[id] = w

	delay := WindowEnd(id, s.cfg.WindowDuration).Sub(now)
	if delay < 0 {
		delay = 0
	}
	s.clock.AfterFunc(delay, func() { s.fire(w) })
	return w
}

func (s *Scheduler) fire(w *Window) {
	if !w.ClaimProcessing() {
		return
	}
	s.logger.Debugw("window closing", "window_id", w.ID, "orders", w.Size())
	s.process(w)
	s.clock.AfterFunc(s.cfg.Retention, func() { s.evict(w.ID) })
}

func (s *Scheduler) evict(id int64) {
	s.mu.Lock()
	w, ok := s.windows[id]
	if ok {
		delete(s.windows, id)
	}
	s.mu.Unlock()
	if ok {
		w.SetState(StateEvicted)
		s.logger.Debugw("window evicted", "window_id", id)
	}
}

// Stop stops accepting scheduling work. Live windows stay readable until
// their retention timers would have evicted them; pending timers on a
// real clock fire harmlessly against already-claimed windows.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.windows {
		// claim so late timers cannot start processing after Stop
		w.ClaimProcessing()
	}
}
