package manipulation

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Aidin1998/fairbatch/pkg/models"
)

// Detector runs the full suite over a batch. TP/SL disambiguation runs
// first and can short-circuit sandwich and sniper classification; the
// remaining checks run independently and their results are unioned.
type Detector struct {
	cfg     DetectionConfig
	history *History
	logger  *zap.SugaredLogger

	tpsl     *TPSLClassifier
	sandwich *SandwichDetector
	sniper   *SniperDetector
	frontrun *FrontRunDetector
	backrun  *BackRunDetector
	highfreq *HighFrequencyDetector
	anomaly  *PriceAnomalyDetector
}

// NewDetector wires the detector suite over the shared history.
func NewDetector(cfg DetectionConfig, history *History, logger *zap.SugaredLogger) *Detector {
	return &Detector{
		cfg:      cfg,
		history:  history,
		logger:   logger,
		tpsl:     NewTPSLClassifier(cfg, logger),
		sandwich: NewSandwichDetector(cfg, logger),
		sniper:   NewSniperDetector(cfg, logger),
		frontrun: NewFrontRunDetector(cfg, logger),
		backrun:  NewBackRunDetector(cfg, logger),
		highfreq: NewHighFrequencyDetector(cfg, logger),
		anomaly:  NewPriceAnomalyDetector(cfg, logger),
	}
}

// FilterBatch inspects a batch and returns the surviving orders plus
// every finding. Orders implicated in a block-disposition finding are
// removed and never re-queued; monitor findings leave their orders in
// the batch.
func (d *Detector) FilterBatch(ctx context.Context, orders []*models.Order) ([]*models.Order, []*models.ManipulationFinding, error) {
	linked := d.tpsl.Link(orders)

	byPair := make(map[string][]*models.Order)
	for _, o := range orders {
		byPair[o.Pair] = append(byPair[o.Pair], o)
	}

	var findings []*models.ManipulationFinding
	for pair, group := range byPair {
		sample, err := d.history.RecentPrices(ctx, pair, d.cfg.PriceHistoryLength)
		if err != nil {
			return nil, nil, err
		}

		earliest := group[0].RevealedAt
		for _, o := range group[1:] {
			if o.RevealedAt.Before(earliest) {
				earliest = o.RevealedAt
			}
		}
		familiar := func(identity common.Address) bool {
			known, err := d.history.FamiliarBefore(ctx, identity, pair, earliest)
			if err != nil {
				d.logger.Warnw("familiarity lookup failed", "pair", pair, "error", err)
				return false
			}
			return known
		}
		orderCount := func(identity common.Address) int64 {
			count, err := d.history.OrderCount(ctx, identity)
			if err != nil {
				d.logger.Warnw("order count lookup failed", "identity", identity.Hex(), "error", err)
				return 0
			}
			return count
		}

		findings = append(findings, d.sandwich.Detect(pair, group, sample, linked)...)
		findings = append(findings, d.sniper.Detect(pair, group, linked, familiar)...)
		findings = append(findings, d.frontrun.Detect(pair, group)...)
		findings = append(findings, d.backrun.Detect(pair, group)...)
		findings = append(findings, d.highfreq.Detect(pair, group, orderCount)...)

		anomalies, cleanPriced := d.anomaly.Detect(pair, group, sample)
		findings = append(findings, anomalies...)
		for _, o := range cleanPriced {
			if o.Price.IsZero() {
				continue
			}
			if err := d.history.RecordPrice(ctx, pair, o.Price, o.RevealedAt); err != nil {
				return nil, nil, err
			}
		}
	}

	blocked := make(map[uuid.UUID]bool)
	for _, f := range findings {
		if !f.Blocks() {
			continue
		}
		for _, id := range f.Orders {
			blocked[id] = true
		}
	}
	clean := make([]*models.Order, 0, len(orders))
	for _, o := range orders {
		if blocked[o.ID] {
			continue
		}
		clean = append(clean, o)
	}

	if len(findings) > 0 {
		d.logger.Infow("batch filtered",
			"orders", len(orders),
			"findings", len(findings),
			"blocked", len(blocked),
		)
	}
	return clean, findings, nil
}
