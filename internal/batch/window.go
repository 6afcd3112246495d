// Package batch implements the batch-auction pipeline: fixed-duration
// windows with an exactly-once processing claim, deterministic fair
// ordering, uniform clearing prices and sharded transactional execution.
package batch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/fairbatch/pkg/models"
)

// State is a window's position in its lifecycle. Transitions are strictly
// sequential and driven by a single timer per window.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateSorted
	StateFiltered
	StatePriced
	StateExecuted
	StateCommitted
	StateFailed
	StateEvicted
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateSorted:
		return "sorted"
	case StateFiltered:
		return "filtered"
	case StatePriced:
		return "priced"
	case StateExecuted:
		return "executed"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return "evicted"
	}
}

// WindowID is the deterministic window identifier for an instant:
// floor(unix nanoseconds / window duration). FIFO across windows follows
// from id ordering.
func WindowID(t time.Time, duration time.Duration) int64 {
	return t.UnixNano() / int64(duration)
}

// WindowEnd returns the instant a window stops accepting orders.
func WindowEnd(id int64, duration time.Duration) time.Time {
	return time.Unix(0, (id+1)*int64(duration))
}

// Window accumulates revealed orders until its timer fires. The order
// list is append-only while open and immutable once processing starts;
// after that it is safe for unsynchronized concurrent reads.
type Window struct {
	ID       int64
	OpenedAt time.Time

	mu     sync.Mutex
	orders []*models.Order

	processed atomic.Bool
	state     atomic.Int32

	// Populated by the processing pipeline; read-only afterwards.
	ClearingPrices map[string]decimal.Decimal
	Trades         []models.Trade
	Root           common.Hash
}

// NewWindow creates an open window.
func NewWindow(id int64, openedAt time.Time) *Window {
	w := &Window{ID: id, OpenedAt: openedAt}
	w.state.Store(int32(StateOpen))
	return w
}

// Append adds a revealed order. Orders arriving after the window left the
// open state are rejected with ErrWindowClosed; the scheduler routes them
// to the next window, never retroactively into this one.
func (w *Window) Append(order *models.Order) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.State() != StateOpen {
		return models.ErrWindowClosed
	}
	w.orders = append(w.orders, order)
	return nil
}

// Orders returns a copy of the accumulated order list.
func (w *Window) Orders() []*models.Order {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*models.Order, len(w.orders))
	copy(out, w.orders)
	return out
}

// Size returns the number of accumulated orders.
func (w *Window) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.orders)
}

// ClaimProcessing atomically claims the single processing pass. Exactly
// one caller wins even when the timer and a late observer race; the
// winner also moves the window to closing, after which Append fails.
func (w *Window) ClaimProcessing() bool {
	if !w.processed.CompareAndSwap(false, true) {
		return false
	}
	// Take the append lock so no reveal is mid-flight when the state
	// flips; after this the order list is frozen.
	w.mu.Lock()
	w.state.Store(int32(StateClosing))
	w.mu.Unlock()
	return true
}

// State returns the current lifecycle state.
func (w *Window) State() State {
	return State(w.state.Load())
}

// SetState advances the lifecycle. Callers only move forward; the state
// machine has no backwards transitions.
func (w *Window) SetState(s State) {
	w.state.Store(int32(s))
}

// Processed reports whether the processing pass has been claimed.
func (w *Window) Processed() bool {
	return w.processed.Load()
}
