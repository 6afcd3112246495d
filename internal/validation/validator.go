package validation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/fairbatch/internal/events"
	"github.com/Aidin1998/fairbatch/pkg/merkle"
	"github.com/Aidin1998/fairbatch/pkg/metrics"
	"github.com/Aidin1998/fairbatch/pkg/models"
)

// InternalState is the validator's view of the venue's own bookkeeping.
// The execution engine implements it.
type InternalState interface {
	// Balance returns the internally tracked quote balance for an identity.
	Balance(identity common.Address) (decimal.Decimal, bool)
	// OrderTotals returns lifetime executed trade count and base volume.
	OrderTotals() (int64, decimal.Decimal)
	// ActiveLeaves returns the canonical bytes of orders currently held in
	// open windows, in deterministic order, for the snapshot digest.
	ActiveLeaves() [][]byte
}

// Config holds the cross-system validation tolerances. Divergence below
// tolerance is noise from eventual consistency, not an incident.
type Config struct {
	BalanceTolerance  decimal.Decimal `mapstructure:"balance_tolerance" yaml:"balance_tolerance"`    // relative, 0.01 = 1%
	PriceDeviationMax decimal.Decimal `mapstructure:"price_deviation_max" yaml:"price_deviation_max"` // relative to mid, 0.5 = 50%
	VolumeTolerance   decimal.Decimal `mapstructure:"volume_tolerance" yaml:"volume_tolerance"`
	StalenessBound    time.Duration   `mapstructure:"staleness_bound" yaml:"staleness_bound"`
	AuthorityTimeout  time.Duration   `mapstructure:"authority_timeout" yaml:"authority_timeout"`
	SnapshotInterval  time.Duration   `mapstructure:"snapshot_interval" yaml:"snapshot_interval"`
	VolumeCheckEvery  time.Duration   `mapstructure:"volume_check_every" yaml:"volume_check_every"`
}

// DefaultConfig returns the production tolerances.
func DefaultConfig() Config {
	return Config{
		BalanceTolerance:  decimal.NewFromFloat(0.01),
		PriceDeviationMax: decimal.NewFromFloat(0.5),
		VolumeTolerance:   decimal.NewFromFloat(0.05),
		StalenessBound:    24 * time.Hour,
		AuthorityTimeout:  2 * time.Second,
		SnapshotInterval:  time.Minute,
		VolumeCheckEvery:  30 * time.Second,
	}
}

// Validator reconciles executed orders and aggregate state against the
// external ledger authority. Authority timeouts degrade checks to
// inconclusive instead of blocking the execution path.
type Validator struct {
	cfg    Config
	ledger LedgerClient
	state  InternalState
	sink   events.Sink
	logger *zap.SugaredLogger

	mu       sync.Mutex
	snapshot *models.SystemSnapshot
}

// NewValidator creates a cross-system validator.
func NewValidator(cfg Config, ledger LedgerClient, state InternalState, sink events.Sink, logger *zap.SugaredLogger) *Validator {
	return &Validator{
		cfg:    cfg,
		ledger: ledger,
		state:  state,
		sink:   sink,
		logger: logger,
	}
}

// ValidateOrderExecution checks a single executed order against the external
// ledger: inclusion proof (dual verification), structural integrity, balance
// divergence and price sanity. A failed check makes the result invalid; an
// unreachable authority makes the affected checks inconclusive and the
// result fails open.
func (v *Validator) ValidateOrderExecution(ctx context.Context, order *models.Order, root common.Hash, proof *merkle.Proof) (*models.ValidationResult, error) {
	if order == nil || proof == nil {
		return nil, fmt.Errorf("validate execution: nil order or proof")
	}
	res := &models.ValidationResult{
		Valid:       true,
		Checks:      make(map[string]bool),
		ValidatedAt: time.Now().UTC(),
	}

	v.checkStructure(order, proof, res)
	v.checkInclusion(ctx, order, root, proof, res)
	v.checkBalance(ctx, order, res)
	v.checkPrice(ctx, order, res)

	for _, report := range res.Discrepancies {
		metrics.Discrepancies.WithLabelValues(string(report.Category)).Inc()
		if err := v.sink.PublishDiscrepancy(ctx, &report); err != nil {
			v.logger.Warnw("failed to publish discrepancy", "category", report.Category, "error", err)
		}
	}
	return res, nil
}

func (v *Validator) checkStructure(order *models.Order, proof *merkle.Proof, res *models.ValidationResult) {
	ok := order.Pair != "" &&
		(order.Side == models.SideBuy || order.Side == models.SideSell) &&
		order.Quantity.IsPositive() &&
		!order.Price.IsNegative() &&
		order.Identity != (common.Address{})
	if ok && proof.Leaf != merkle.HashLeaf(order.SigningBytes()) {
		ok = false
		res.Reason = "proof leaf does not match order"
	}
	if ok && time.Since(order.RevealedAt) > v.cfg.StalenessBound {
		ok = false
		res.Reason = "order exceeds staleness bound"
	}
	res.Checks["structure"] = ok
	if !ok {
		res.Valid = false
		if res.Reason == "" {
			res.Reason = "structural integrity failure"
		}
	}
}

func (v *Validator) checkInclusion(ctx context.Context, order *models.Order, root common.Hash, proof *merkle.Proof, res *models.ValidationResult) {
	local := merkle.Verify(root, proof)
	if !local {
		res.Checks["inclusion"] = false
		res.Valid = false
		res.Reason = "inclusion proof failed local verification"
		return
	}

	actx, cancel := context.WithTimeout(ctx, v.cfg.AuthorityTimeout)
	defer cancel()
	external, err := v.ledger.VerifyInclusionProof(actx, root, proof)
	if err != nil {
		v.logger.Warnw("authority unreachable, inclusion check degraded",
			"order_id", order.ID, "error", err)
		res.Inconclusive = true
		res.Checks["inclusion"] = true // local verification stands alone
		return
	}
	res.Checks["inclusion"] = external
	if !external {
		// Local verification passed but the authority disagrees: the two
		// systems hold different digests for the same window.
		res.Valid = false
		res.Reason = "authority rejected inclusion proof"
		res.Discrepancies = append(res.Discrepancies, models.DiscrepancyReport{
			Category:   models.DiscrepancyOrder,
			Severity:   "critical",
			Identity:   order.Identity,
			Pair:       order.Pair,
			ObservedAt: time.Now().UTC(),
		})
	}
}

func (v *Validator) checkBalance(ctx context.Context, order *models.Order, res *models.ValidationResult) {
	internal, tracked := v.state.Balance(order.Identity)
	if !tracked {
		res.Checks["balance"] = true
		return
	}

	actx, cancel := context.WithTimeout(ctx, v.cfg.AuthorityTimeout)
	defer cancel()
	external, err := v.ledger.GetBalance(actx, order.Identity)
	if err != nil {
		v.logger.Warnw("authority unreachable, balance check degraded",
			"identity", order.Identity.Hex(), "error", err)
		res.Inconclusive = true
		res.Checks["balance"] = true
		return
	}

	diff := relativeDiff(internal, external)
	ok := diff.LessThanOrEqual(v.cfg.BalanceTolerance)
	res.Checks["balance"] = ok
	if !ok {
		res.Valid = false
		res.Reason = "balance divergence above tolerance"
		res.Discrepancies = append(res.Discrepancies, models.DiscrepancyReport{
			Category:     models.DiscrepancyBalance,
			Severity:     discrepancySeverity(diff),
			Identity:     order.Identity,
			Internal:     internal,
			External:     external,
			RelativeDiff: diff,
			ObservedAt:   time.Now().UTC(),
		})
	}
}

func (v *Validator) checkPrice(ctx context.Context, order *models.Order, res *models.ValidationResult) {
	if order.Type == models.OrderTypeMarket || order.Price.IsZero() {
		res.Checks["price"] = true
		return
	}

	actx, cancel := context.WithTimeout(ctx, v.cfg.AuthorityTimeout)
	defer cancel()
	bid, ask, err := v.ledger.GetBestBidAsk(actx, order.Pair)
	if err != nil {
		v.logger.Warnw("authority unreachable, price check degraded",
			"pair", order.Pair, "error", err)
		res.Inconclusive = true
		res.Checks["price"] = true
		return
	}
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	if !mid.IsPositive() {
		res.Checks["price"] = true
		return
	}

	deviation := order.Price.Sub(mid).Abs().Div(mid)
	ok := deviation.LessThanOrEqual(v.cfg.PriceDeviationMax)
	res.Checks["price"] = ok
	if !ok {
		res.Valid = false
		res.Reason = "price deviates beyond sane bounds"
		res.Discrepancies = append(res.Discrepancies, models.DiscrepancyReport{
			Category:     models.DiscrepancyPrice,
			Severity:     "high",
			Identity:     order.Identity,
			Pair:         order.Pair,
			Internal:     order.Price,
			External:     mid,
			RelativeDiff: deviation,
			ObservedAt:   time.Now().UTC(),
		})
	}
}

// CreateSystemSnapshot captures internal order count, aggregate volume and
// an integrity digest over active orders. The snapshot is cached for the
// configured interval; concurrent callers share one capture.
func (v *Validator) CreateSystemSnapshot(ctx context.Context) (*models.SystemSnapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.snapshot != nil && time.Since(v.snapshot.TakenAt) < v.cfg.SnapshotInterval {
		return v.snapshot, nil
	}

	count, volume := v.state.OrderTotals()
	snap := &models.SystemSnapshot{
		OrderCount: count,
		Volume:     volume,
		TakenAt:    time.Now().UTC(),
	}
	leaves := v.state.ActiveLeaves()
	if len(leaves) > 0 {
		digest, err := merkle.Root(leaves)
		if err != nil {
			return nil, fmt.Errorf("snapshot digest: %w", err)
		}
		snap.Digest = digest
	}
	v.snapshot = snap
	return snap, nil
}

// Run periodically compares aggregate internal volume against the external
// ledger snapshot and reports divergence above tolerance. It blocks until
// the context is cancelled.
func (v *Validator) Run(ctx context.Context) {
	ticker := time.NewTicker(v.cfg.VolumeCheckEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.compareVolumes(ctx)
		}
	}
}

func (v *Validator) compareVolumes(ctx context.Context) {
	actx, cancel := context.WithTimeout(ctx, v.cfg.AuthorityTimeout)
	defer cancel()
	external, err := v.ledger.GetSnapshot(actx)
	if err != nil {
		v.logger.Warnw("authority unreachable, volume comparison skipped", "error", err)
		return
	}
	_, internal := v.state.OrderTotals()

	diff := relativeDiff(internal, external.Volume)
	if diff.LessThanOrEqual(v.cfg.VolumeTolerance) {
		return
	}
	report := models.DiscrepancyReport{
		Category:     models.DiscrepancyVolume,
		Severity:     discrepancySeverity(diff),
		Internal:     internal,
		External:     external.Volume,
		RelativeDiff: diff,
		ObservedAt:   time.Now().UTC(),
	}
	metrics.Discrepancies.WithLabelValues(string(report.Category)).Inc()
	v.logger.Warnw("aggregate volume divergence",
		"internal", internal, "external", external.Volume, "relative_diff", diff)
	if err := v.sink.PublishDiscrepancy(ctx, &report); err != nil {
		v.logger.Warnw("failed to publish discrepancy", "category", report.Category, "error", err)
	}
}

// relativeDiff returns |a-b| divided by the larger magnitude of the two,
// zero when both are zero.
func relativeDiff(a, b decimal.Decimal) decimal.Decimal {
	base := a.Abs()
	if b.Abs().GreaterThan(base) {
		base = b.Abs()
	}
	if base.IsZero() {
		return decimal.Zero
	}
	return a.Sub(b).Abs().Div(base)
}

func discrepancySeverity(diff decimal.Decimal) string {
	switch {
	case diff.GreaterThan(decimal.NewFromFloat(0.10)):
		return "critical"
	case diff.GreaterThan(decimal.NewFromFloat(0.05)):
		return "high"
	default:
		return "medium"
	}
}
