package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aidin1998/fairbatch/pkg/models"
)

// PairState is the per-pair bookkeeping mutated by execution.
type PairState struct {
	LastPrice  decimal.Decimal
	BaseVolume decimal.Decimal
	TradeCount int64
}

// Executor partitions a priced batch by trading pair and executes shards
// concurrently, sequentially within a shard. Shard mutations are staged
// and committed only when every shard in the window succeeds; any shard
// failure rolls the whole window back.
type Executor struct {
	mu     sync.RWMutex
	states map[string]PairState

	totalOrders int64
	totalVolume decimal.Decimal

	logger *zap.SugaredLogger
}

// NewExecutor creates an executor with empty pair state.
func NewExecutor(logger *zap.SugaredLogger) *Executor {
	return &Executor{
		states: make(map[string]PairState),
		logger: logger,
	}
}

type shardResult struct {
	pair   string
	trades []models.Trade
	state  PairState
}

// Execute runs every pair shard of a window. Orders are borrowed
// read-only; results are returned, never written back into the window's
// list. On any shard failure nothing is committed and the error wraps
// models.ErrWindowFailed.
func (e *Executor) Execute(ctx context.Context, windowID int64, byPair map[string][]*models.Order, prices map[string]decimal.Decimal, executedAt time.Time) ([]models.Trade, error) {
	staged := make([]shardResult, 0, len(byPair))
	var stagedMu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for pair, orders := range byPair {
		g.Go(func() error {
			res, err := e.executeShard(ctx, windowID, pair, orders, prices[pair], executedAt)
			if err != nil {
				return fmt.Errorf("shard %s: %w", pair, err)
			}
			stagedMu.Lock()
			staged = append(staged, res)
			stagedMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Errorw("window execution failed, rolling back",
			"window_id", windowID,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", models.ErrWindowFailed, err)
	}

	// All shards succeeded; commit staged state and collect trades in the
	// shard's sequential order.
	e.mu.Lock()
	var trades []models.Trade
	for _, res := range staged {
		e.states[res.pair] = res.state
		e.totalOrders += int64(len(res.trades))
		for _, tr := range res.trades {
			e.totalVolume = e.totalVolume.Add(tr.Quantity.Mul(tr.Price))
		}
		trades = append(trades, res.trades...)
	}
	e.mu.Unlock()
	return trades, nil
}

// executeShard applies one pair's orders sequentially against a staged
// copy of the pair state, preserving the fair-sort ordering.
func (e *Executor) executeShard(ctx context.Context, windowID int64, pair string, orders []*models.Order, price decimal.Decimal, executedAt time.Time) (shardResult, error) {
	e.mu.RLock()
	state := e.states[pair]
	e.mu.RUnlock()

	res := shardResult{pair: pair}
	for _, o := range orders {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}
		if !o.Quantity.IsPositive() {
			return res, fmt.Errorf("order %s has non-positive quantity %s", o.ID, o.Quantity)
		}
		if !price.IsPositive() {
			return res, fmt.Errorf("no positive clearing price for pair")
		}
		res.trades = append(res.trades, models.Trade{
			ID:         uuid.New(),
			OrderID:    o.ID,
			Identity:   o.Identity,
			Pair:       pair,
			Side:       o.Side,
			Quantity:   o.Quantity,
			Price:      price,
			WindowID:   windowID,
			ExecutedAt: executedAt,
		})
		state.LastPrice = price
		state.BaseVolume = state.BaseVolume.Add(o.Quantity)
		state.TradeCount++
	}
	res.state = state
	return res, nil
}

// PairState returns the committed state for a pair.
func (e *Executor) PairState(pair string) (PairState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.states[pair]
	return s, ok
}

// Totals returns the committed order count and notional volume across all
// pairs, consumed by the cross-system validator's snapshots.
func (e *Executor) Totals() (int64, decimal.Decimal) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalOrders, e.totalVolume
}
