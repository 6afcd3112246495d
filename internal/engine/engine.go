// Package engine wires the intake, batching, detection and validation
// components behind one explicit handle. Callers commit, reveal and read
// execution results; findings and discrepancy reports flow to the event
// sink, never through the result channel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/fairbatch/internal/batch"
	"github.com/Aidin1998/fairbatch/internal/commitment"
	"github.com/Aidin1998/fairbatch/internal/events"
	"github.com/Aidin1998/fairbatch/internal/kv"
	"github.com/Aidin1998/fairbatch/internal/manipulation"
	"github.com/Aidin1998/fairbatch/internal/ratelimit"
	"github.com/Aidin1998/fairbatch/internal/validation"
	"github.com/Aidin1998/fairbatch/pkg/merkle"
	"github.com/Aidin1998/fairbatch/pkg/metrics"
	"github.com/Aidin1998/fairbatch/pkg/models"
)

// Config collects the engine's own knobs plus the per-component configs
// it passes down during wiring.
type Config struct {
	MinRevealDelay    time.Duration
	MaxRevealDelay    time.Duration
	CommitmentTTL     time.Duration
	MinOrderValue     decimal.Decimal
	MaxPriceImpactBps int64
	ResultBuffer      int

	RateLimit  ratelimit.Config
	Scheduler  batch.SchedulerConfig
	Detection  manipulation.DetectionConfig
	Validation validation.Config
}

// DefaultConfig returns production engine settings.
func DefaultConfig() Config {
	return Config{
		MinRevealDelay:    500 * time.Millisecond,
		MaxRevealDelay:    30 * time.Second,
		CommitmentTTL:     time.Minute,
		MinOrderValue:     decimal.NewFromInt(10),
		MaxPriceImpactBps: 500,
		ResultBuffer:      64,

		RateLimit:  ratelimit.DefaultConfig(),
		Scheduler:  batch.DefaultSchedulerConfig(),
		Detection:  manipulation.DefaultDetectionConfig(),
		Validation: validation.DefaultConfig(),
	}
}

// WindowResult is one processed window's outcome.
type WindowResult struct {
	WindowID int64
	Prices   map[string]decimal.Decimal
	Trades   []models.Trade
	Root     common.Hash
	Blocked  int
}

// proofRecord retains a window's leaves so inclusion proofs can be built
// for the validator after execution.
type proofRecord struct {
	root   common.Hash
	leaves [][]byte
	index  map[uuid.UUID]int
}

// Engine is the explicit handle over the intake and execution core.
type Engine struct {
	cfg    Config
	clock  batch.Clock
	sink   events.Sink
	logger *zap.SugaredLogger

	commitments *commitment.Store
	nonces      *commitment.NonceGuard
	limiter     *ratelimit.Limiter
	scheduler   *batch.Scheduler
	detector    *manipulation.Detector
	history     *manipulation.History
	executor    *batch.Executor
	validator   *validation.Validator

	results chan WindowResult

	mu       sync.Mutex
	pending  map[int64][][]byte // active (unprocessed) window leaves
	proofs   map[int64]*proofRecord
	proofIDs []int64 // fifo for pruning
	balances map[common.Address]decimal.Decimal

	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New wires an engine over the shared kv store, external ledger authority,
// event sink and clock.
func New(cfg Config, store kv.Store, ledger validation.LedgerClient, sink events.Sink, clock batch.Clock, logger *zap.SugaredLogger) *Engine {
	e := &Engine{
		cfg:      cfg,
		clock:    clock,
		sink:     sink,
		logger:   logger,
		results:  make(chan WindowResult, cfg.ResultBuffer),
		pending:  make(map[int64][][]byte),
		proofs:   make(map[int64]*proofRecord),
		balances: make(map[common.Address]decimal.Decimal),
	}
	e.commitments = commitment.NewStore(store, cfg.CommitmentTTL, clock.Now, logger)
	e.nonces = commitment.NewNonceGuard(store, 24*time.Hour)
	e.limiter = ratelimit.New(store, cfg.RateLimit, logger)
	e.history = manipulation.NewHistory(store, cfg.Detection)
	e.detector = manipulation.NewDetector(cfg.Detection, e.history, logger)
	e.executor = batch.NewExecutor(logger)
	e.scheduler = batch.NewScheduler(cfg.Scheduler, clock, e.processWindow, logger)
	e.validator = validation.NewValidator(cfg.Validation, ledger, e, sink, logger)
	return e
}

// Start launches the background validation loop. The batch scheduler is
// timer-driven and needs no goroutine of its own.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine already started")
	}
	e.runCtx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.validator.Run(e.runCtx)
	}()
	e.started = true
	e.logger.Infow("engine started",
		"window_duration", e.cfg.Scheduler.WindowDuration,
		"min_reveal_delay", e.cfg.MinRevealDelay,
		"max_reveal_delay", e.cfg.MaxRevealDelay)
	return nil
}

// Stop claims all live windows so no further processing starts, then waits
// for background work to drain or the context to expire.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	e.scheduler.Stop()
	cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Infow("engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine stop: %w", ctx.Err())
	}
}

// Results is the typed channel of processed-window outcomes.
func (e *Engine) Results() <-chan WindowResult {
	return e.results
}

// Validator exposes the cross-system validator for post-execution checks.
func (e *Engine) Validator() *validation.Validator {
	return e.validator
}

// Commit registers a commitment hash for an identity. The identity must
// not be rate limited or blocked, and the signature must verify over the
// hash for the claimed identity; nothing about the order itself is
// learned at this stage. Gating the commit phase keeps a spammer from
// filling the commitment store without ever reaching reveal.
func (e *Engine) Commit(ctx context.Context, identity common.Address, hash common.Hash, sig []byte) (uuid.UUID, error) {
	if err := e.limiter.Allow(ctx, identity, e.tierFor(ctx, identity)); err != nil {
		metrics.Rejections.WithLabelValues(rejectionReason(err)).Inc()
		return uuid.Nil, err
	}
	id, err := e.commitments.Create(ctx, identity, hash, sig)
	if err != nil {
		metrics.Rejections.WithLabelValues(rejectionReason(err)).Inc()
		return uuid.Nil, err
	}
	return id, nil
}

// Reveal discloses the order behind a commitment and routes it into the
// current batch window. Every precondition is checked before any state is
// consumed; the reveal claim itself is atomic, so concurrent reveals of
// one commitment admit at most one order.
func (e *Engine) Reveal(ctx context.Context, commitmentID uuid.UUID, order *models.Order, sig []byte) (*models.Order, error) {
	stored, err := e.commitments.Lookup(ctx, commitmentID)
	if err != nil {
		metrics.Rejections.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	recomputed := commitment.Digest(order, sig)
	if !commitment.MatchesStored(stored, recomputed) {
		e.escalateMismatch(ctx, stored, order)
		metrics.Rejections.WithLabelValues("commitment_mismatch").Inc()
		return nil, models.ErrCommitmentMismatch
	}
	if order.Identity != stored.Identity {
		metrics.Rejections.WithLabelValues("invalid_signature").Inc()
		return nil, models.ErrInvalidSignature
	}

	now := e.clock.Now()
	elapsed := now.Sub(stored.CreatedAt)
	if elapsed < e.cfg.MinRevealDelay {
		metrics.Rejections.WithLabelValues("reveal_too_soon").Inc()
		return nil, models.ErrRevealTooSoon
	}
	if elapsed > e.cfg.MaxRevealDelay {
		metrics.Rejections.WithLabelValues("reveal_expired").Inc()
		return nil, models.ErrRevealExpired
	}

	if order.Type == models.OrderTypeLimit && order.Value().LessThan(e.cfg.MinOrderValue) {
		metrics.Rejections.WithLabelValues("below_minimum_value").Inc()
		return nil, models.ErrBelowMinimumValue
	}

	if err := e.limiter.Allow(ctx, order.Identity, e.tierFor(ctx, order.Identity)); err != nil {
		metrics.Rejections.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	if err := e.commitments.ClaimReveal(ctx, commitmentID); err != nil {
		metrics.Rejections.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}
	if err := e.nonces.Consume(ctx, order.Identity, order.Nonce); err != nil {
		metrics.Rejections.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	order.ID = uuid.New()
	order.RevealedAt = now
	order.Signature = sig

	windowID, err := e.scheduler.Append(order)
	if err != nil {
		return nil, fmt.Errorf("append to window: %w", err)
	}
	e.trackLeaf(windowID, order)

	if err := e.history.RecordOrder(ctx, order); err != nil {
		e.logger.Warnw("failed to record order history", "order_id", order.ID, "error", err)
	}

	metrics.OrdersAdmitted.WithLabelValues(string(order.Side)).Inc()
	metrics.RevealLatency.Observe(elapsed.Seconds())
	e.logger.Debugw("order revealed",
		"order_id", order.ID, "identity", order.Identity.Hex(),
		"pair", order.Pair, "window_id", windowID)
	return order, nil
}

// tierFor classifies the identity from its trailing activity. Unknown or
// unreadable history falls back to the retail tier.
func (e *Engine) tierFor(ctx context.Context, identity common.Address) ratelimit.Tier {
	count, err := e.history.OrderCount(ctx, identity)
	if err != nil {
		return ratelimit.TierRetail
	}
	return ratelimit.ClassifyTier(ratelimit.TradingStats{TradeCount: count})
}

func (e *Engine) escalateMismatch(ctx context.Context, stored *models.Commitment, order *models.Order) {
	finding := &models.ManipulationFinding{
		Kind:        models.FindingCommitmentMismatch,
		Pair:        order.Pair,
		Identity:    stored.Identity,
		Confidence:  decimal.NewFromInt(100),
		Severity:    "critical",
		Disposition: models.DispositionBlock,
		Evidence: []models.Evidence{{
			Type:        "commitment",
			Description: "revealed order hash differs from committed hash",
			Value:       stored.Hash.Hex(),
			Timestamp:   e.clock.Now(),
		}},
		DetectedAt: e.clock.Now(),
	}
	if err := e.sink.PublishFinding(ctx, finding); err != nil {
		e.logger.Warnw("failed to publish mismatch finding",
			"commitment_id", stored.ID, "error", err)
	}
	e.logger.Warnw("commitment mismatch on reveal",
		"commitment_id", stored.ID, "identity", stored.Identity.Hex())
}

func (e *Engine) trackLeaf(windowID int64, order *models.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[windowID] = append(e.pending[windowID], order.SigningBytes())
}

// processWindow runs the full pipeline over a claimed window: fair sort,
// manipulation filtering, uniform pricing, eligibility, sharded execution,
// integrity digest. It is invoked exactly once per window by the scheduler.
func (e *Engine) processWindow(w *batch.Window) {
	e.mu.Lock()
	ctx := e.runCtx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		e.mu.Lock()
		delete(e.pending, w.ID)
		e.mu.Unlock()
	}()

	orders := w.Orders()
	if len(orders) == 0 {
		w.SetState(batch.StateCommitted)
		metrics.WindowsProcessed.WithLabelValues("empty").Inc()
		return
	}

	sorted := batch.SortOrders(orders)
	w.SetState(batch.StateSorted)

	clean, findings, err := e.detector.FilterBatch(ctx, sorted)
	if err != nil {
		e.logger.Errorw("batch filtering failed", "window_id", w.ID, "error", err)
		w.SetState(batch.StateFailed)
		metrics.WindowsProcessed.WithLabelValues("failed").Inc()
		return
	}
	blocked := 0
	for _, finding := range findings {
		if finding.Blocks() {
			blocked++
			metrics.BlockedAttacks.WithLabelValues(string(finding.Kind)).Inc()
		}
		if err := e.sink.PublishFinding(ctx, finding); err != nil {
			e.logger.Warnw("failed to publish finding",
				"kind", finding.Kind, "window_id", w.ID, "error", err)
		}
	}
	w.SetState(batch.StateFiltered)

	prices := batch.ClearingPrices(clean)
	w.ClearingPrices = prices
	w.SetState(batch.StatePriced)

	eligible := make([]*models.Order, 0, len(clean))
	for _, o := range clean {
		if batch.Eligible(o, prices[o.Pair], e.cfg.MaxPriceImpactBps) {
			eligible = append(eligible, o)
		}
	}

	now := e.clock.Now()
	trades, err := e.executor.Execute(ctx, w.ID, batch.GroupByPair(eligible), prices, now)
	if err != nil {
		e.logger.Errorw("window execution rolled back", "window_id", w.ID, "error", err)
		w.SetState(batch.StateFailed)
		metrics.WindowsProcessed.WithLabelValues("failed").Inc()
		return
	}
	w.Trades = trades
	w.SetState(batch.StateExecuted)

	root := e.recordProofs(w.ID, eligible)
	w.Root = root
	e.applyTrades(trades)
	e.recordCleanPrices(ctx, prices, now)
	w.SetState(batch.StateCommitted)
	metrics.WindowsProcessed.WithLabelValues("committed").Inc()

	result := WindowResult{
		WindowID: w.ID,
		Prices:   prices,
		Trades:   trades,
		Root:     root,
		Blocked:  blocked,
	}
	select {
	case e.results <- result:
	default:
		e.logger.Warnw("result channel full, dropping window result", "window_id", w.ID)
	}
}

// recordProofs builds and retains the window's integrity digest material.
const proofRetention = 1024

func (e *Engine) recordProofs(windowID int64, orders []*models.Order) common.Hash {
	if len(orders) == 0 {
		return common.Hash{}
	}
	leaves := make([][]byte, len(orders))
	index := make(map[uuid.UUID]int, len(orders))
	for i, o := range orders {
		leaves[i] = o.SigningBytes()
		index[o.ID] = i
	}
	root, err := merkle.Root(leaves)
	if err != nil {
		e.logger.Errorw("failed to build window digest", "window_id", windowID, "error", err)
		return common.Hash{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.proofs[windowID] = &proofRecord{root: root, leaves: leaves, index: index}
	e.proofIDs = append(e.proofIDs, windowID)
	for len(e.proofIDs) > proofRetention {
		delete(e.proofs, e.proofIDs[0])
		e.proofIDs = e.proofIDs[1:]
	}
	return root
}

// Proof builds the inclusion proof for an executed order.
func (e *Engine) Proof(windowID int64, orderID uuid.UUID) (common.Hash, *merkle.Proof, error) {
	e.mu.Lock()
	rec, ok := e.proofs[windowID]
	e.mu.Unlock()
	if !ok {
		return common.Hash{}, nil, fmt.Errorf("no digest retained for window %d", windowID)
	}
	idx, ok := rec.index[orderID]
	if !ok {
		return common.Hash{}, nil, fmt.Errorf("order %s not executed in window %d", orderID, windowID)
	}
	proof, err := merkle.BuildProof(rec.leaves, idx)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("build inclusion proof: %w", err)
	}
	return rec.root, proof, nil
}

// applyTrades folds executed fills into the internal quote-balance book.
func (e *Engine) applyTrades(trades []models.Trade) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range trades {
		notional := t.Quantity.Mul(t.Price)
		bal := e.balances[t.Identity]
		if t.Side == models.SideBuy {
			bal = bal.Sub(notional)
		} else {
			bal = bal.Add(notional)
		}
		e.balances[t.Identity] = bal
	}
}

// recordCleanPrices appends the window's clearing prices to the trailing
// per-pair samples used by the anomaly detector.
func (e *Engine) recordCleanPrices(ctx context.Context, prices map[string]decimal.Decimal, ts time.Time) {
	for pair, price := range prices {
		if price.IsZero() {
			continue
		}
		if err := e.history.RecordPrice(ctx, pair, price, ts); err != nil {
			e.logger.Warnw("failed to record clearing price", "pair", pair, "error", err)
		}
	}
}

// SetBalance seeds the internal balance book for an identity.
func (e *Engine) SetBalance(identity common.Address, balance decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[identity] = balance
}

// Balance implements validation.InternalState.
func (e *Engine) Balance(identity common.Address) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bal, ok := e.balances[identity]
	return bal, ok
}

// OrderTotals implements validation.InternalState.
func (e *Engine) OrderTotals() (int64, decimal.Decimal) {
	return e.executor.Totals()
}

// ActiveLeaves implements validation.InternalState. Leaves are ordered by
// window id so the snapshot digest is deterministic.
func (e *Engine) ActiveLeaves() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]int64, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var leaves [][]byte
	for _, id := range ids {
		leaves = append(leaves, e.pending[id]...)
	}
	return leaves
}

// rejectionReason maps a typed rejection onto its metrics label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, models.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, models.ErrIdentityBlocked):
		return "identity_blocked"
	case errors.Is(err, models.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, models.ErrBelowMinimumValue):
		return "below_minimum_value"
	case errors.Is(err, models.ErrUnknownCommitment):
		return "unknown_commitment"
	case errors.Is(err, models.ErrAlreadyRevealed):
		return "already_revealed"
	case errors.Is(err, models.ErrRevealTooSoon):
		return "reveal_too_soon"
	case errors.Is(err, models.ErrRevealExpired):
		return "reveal_expired"
	case errors.Is(err, models.ErrNonceReplay):
		return "nonce_replay"
	default:
		return "internal"
	}
}
