package manipulation

import (
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/fairbatch/pkg/models"
)

// =======================
// SNIPER DETECTOR
// =======================

// SniperDetector flags rapid buy-then-sell round trips with aggressive
// profit targets. Sniping is legitimate speed trading, so the
// disposition stays monitor; TP/SL-linked pairs score zero.
type SniperDetector struct {
	cfg    DetectionConfig
	logger *zap.SugaredLogger
}

// NewSniperDetector creates a sniper detector.
func NewSniperDetector(cfg DetectionConfig, logger *zap.SugaredLogger) *SniperDetector {
	return &SniperDetector{cfg: cfg, logger: logger}
}

// Detect scans one pair's orders. familiar reports whether the identity
// traded the pair before this window.
func (d *SniperDetector) Detect(pair string, orders []*models.Order, linked map[uuid.UUID]bool, familiar func(common.Address) bool) []*models.ManipulationFinding {
	byIdentity := make(map[common.Address][]*models.Order)
	for _, o := range orders {
		byIdentity[o.Identity] = append(byIdentity[o.Identity], o)
	}

	var findings []*models.ManipulationFinding
	for identity, group := range byIdentity {
		if len(group) < 2 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].RevealedAt.Before(group[j].RevealedAt)
		})
		for i := 0; i+1 < len(group); i++ {
			entry, exit := group[i], group[i+1]
			if entry.Side != models.SideBuy || exit.Side != models.SideSell {
				continue
			}
			if linked[entry.ID] || linked[exit.ID] {
				// recognized TP/SL semantics zero the confidence
				continue
			}
			confidence, evidence := d.score(entry, exit, familiar(identity))
			if d.cfg.disposition(confidence) == models.DispositionAllow {
				continue
			}
			findings = append(findings, &models.ManipulationFinding{
				Kind:       models.FindingSniper,
				Pair:       pair,
				Identity:   identity,
				Confidence: confidence,
				Severity:   models.SeverityFromConfidence(confidence),
				// sniping is monitored, never blocked
				Disposition: models.DispositionMonitor,
				Orders:      []uuid.UUID{entry.ID, exit.ID},
				Evidence:    evidence,
				DetectedAt:  time.Now(),
			})
		}
	}
	return findings
}

func (d *SniperDetector) score(entry, exit *models.Order, familiar bool) (decimal.Decimal, []models.Evidence) {
	score := decimal.Zero
	var evidence []models.Evidence
	add := func(points int64, typ, desc, value string) {
		score = score.Add(decimal.NewFromInt(points))
		evidence = append(evidence, models.Evidence{Type: typ, Description: desc, Value: value, Timestamp: time.Now()})
	}

	gap := exit.RevealedAt.Sub(entry.RevealedAt)
	if gap >= 0 && gap <= d.cfg.SniperGap {
		add(30, "timing", "rapid buy-to-sell round trip", gap.String())
	}
	if !entry.Price.IsZero() && !exit.Price.IsZero() {
		profit := exit.Price.Sub(entry.Price).Div(entry.Price)
		if profit.GreaterThan(d.cfg.SniperProfitTarget) {
			add(30, "price", "profit target above sniper threshold", profit.String())
		}
	}
	if entry.Type == models.OrderTypeMarket {
		add(20, "pattern", "market-order entry", "")
	}
	if !familiar {
		add(20, "pattern", "identity has no history on this pair", "")
	}
	return decimal.Min(score, decimal.NewFromInt(100)), evidence
}

// =======================
// FRONT-RUN DETECTOR
// =======================

// FrontRunDetector flags a near-simultaneous same-side order from a
// different identity placed marginally ahead in price priority.
type FrontRunDetector struct {
	cfg    DetectionConfig
	logger *zap.SugaredLogger
}

// NewFrontRunDetector creates a front-run detector.
func NewFrontRunDetector(cfg DetectionConfig, logger *zap.SugaredLogger) *FrontRunDetector {
	return &FrontRunDetector{cfg: cfg, logger: logger}
}

// Detect scans one pair's orders in reveal order.
func (d *FrontRunDetector) Detect(pair string, orders []*models.Order) []*models.ManipulationFinding {
	byTime := make([]*models.Order, len(orders))
	copy(byTime, orders)
	sort.SliceStable(byTime, func(i, j int) bool {
		return byTime[i].RevealedAt.Before(byTime[j].RevealedAt)
	})

	var findings []*models.ManipulationFinding
	for i := 0; i+1 < len(byTime); i++ {
		runner, subject := byTime[i], byTime[i+1]
		if runner.Identity == subject.Identity || runner.Side != subject.Side {
			continue
		}
		if subject.RevealedAt.Sub(runner.RevealedAt) > d.cfg.FrontRunGap {
			continue
		}
		if !d.marginallyBetter(runner, subject) {
			continue
		}
		confidence := decimal.NewFromInt(70)
		findings = append(findings, &models.ManipulationFinding{
			Kind:        models.FindingFrontRun,
			Pair:        pair,
			Identity:    runner.Identity,
			Confidence:  confidence,
			Severity:    models.SeverityFromConfidence(confidence),
			Disposition: d.cfg.disposition(confidence),
			Orders:      []uuid.UUID{runner.ID},
			Evidence: []models.Evidence{{
				Type:        "pattern",
				Description: "same-side order marginally ahead of subject",
				Value:       runner.Price.String() + " vs " + subject.Price.String(),
				Timestamp:   time.Now(),
			}},
			DetectedAt: time.Now(),
		})
	}
	return findings
}

// marginallyBetter reports whether runner outbids subject by less than
// the configured margin: a front-runner pays just enough to rank first.
func (d *FrontRunDetector) marginallyBetter(runner, subject *models.Order) bool {
	if runner.Price.IsZero() || subject.Price.IsZero() {
		return false
	}
	var edge decimal.Decimal
	if runner.Side == models.SideBuy {
		edge = runner.Price.Sub(subject.Price).Div(subject.Price)
	} else {
		edge = subject.Price.Sub(runner.Price).Div(subject.Price)
	}
	return edge.IsPositive() && edge.LessThan(d.cfg.FrontRunPriceMargin)
}

// =======================
// BACK-RUN DETECTOR
// =======================

// BackRunDetector flags bursts of same-identity orders on one pair
// inside a sub-second window.
type BackRunDetector struct {
	cfg    DetectionConfig
	logger *zap.SugaredLogger
}

// NewBackRunDetector creates a back-run detector.
func NewBackRunDetector(cfg DetectionConfig, logger *zap.SugaredLogger) *BackRunDetector {
	return &BackRunDetector{cfg: cfg, logger: logger}
}

// Detect scans one pair's orders.
func (d *BackRunDetector) Detect(pair string, orders []*models.Order) []*models.ManipulationFinding {
	byIdentity := make(map[common.Address][]*models.Order)
	for _, o := range orders {
		byIdentity[o.Identity] = append(byIdentity[o.Identity], o)
	}

	var findings []*models.ManipulationFinding
	for identity, group := range byIdentity {
		if len(group) <= d.cfg.BackRunBurst {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].RevealedAt.Before(group[j].RevealedAt)
		})
		// longest burst inside the back-run window
		best := 0
		for i := range group {
			j := i
			for j+1 < len(group) && group[j+1].RevealedAt.Sub(group[i].RevealedAt) <= d.cfg.BackRunWindow {
				j++
			}
			if j-i+1 > best {
				best = j - i + 1
			}
		}
		if best <= d.cfg.BackRunBurst {
			continue
		}
		confidence := decimal.NewFromInt(80)
		ids := make([]uuid.UUID, len(group))
		for i, o := range group {
			ids[i] = o.ID
		}
		findings = append(findings, &models.ManipulationFinding{
			Kind:        models.FindingBackRun,
			Pair:        pair,
			Identity:    identity,
			Confidence:  confidence,
			Severity:    models.SeverityFromConfidence(confidence),
			Disposition: d.cfg.disposition(confidence),
			Orders:      ids,
			Evidence: []models.Evidence{{
				Type:        "timing",
				Description: "order burst inside back-run window",
				Value:       decimal.NewFromInt(int64(best)).String(),
				Timestamp:   time.Now(),
			}},
			DetectedAt: time.Now(),
		})
	}
	return findings
}

// =======================
// HIGH-FREQUENCY ABUSE DETECTOR
// =======================

// HighFrequencyDetector flags identities whose trailing-minute order
// count exceeds the configured ceiling.
type HighFrequencyDetector struct {
	cfg    DetectionConfig
	logger *zap.SugaredLogger
}

// NewHighFrequencyDetector creates a high-frequency abuse detector.
func NewHighFrequencyDetector(cfg DetectionConfig, logger *zap.SugaredLogger) *HighFrequencyDetector {
	return &HighFrequencyDetector{cfg: cfg, logger: logger}
}

// Detect checks each distinct identity in the batch against its trailing
// order count.
func (d *HighFrequencyDetector) Detect(pair string, orders []*models.Order, orderCount func(common.Address) int64) []*models.ManipulationFinding {
	seen := make(map[common.Address][]uuid.UUID)
	for _, o := range orders {
		seen[o.Identity] = append(seen[o.Identity], o.ID)
	}

	var findings []*models.ManipulationFinding
	for identity, ids := range seen {
		count := orderCount(identity)
		if count <= int64(d.cfg.HighFrequencyCeiling) {
			continue
		}
		confidence := decimal.NewFromInt(85)
		findings = append(findings, &models.ManipulationFinding{
			Kind:        models.FindingHighFrequency,
			Pair:        pair,
			Identity:    identity,
			Confidence:  confidence,
			Severity:    models.SeverityFromConfidence(confidence),
			Disposition: d.cfg.disposition(confidence),
			Orders:      ids,
			Evidence: []models.Evidence{{
				Type:        "rate",
				Description: "trailing order count above high-frequency ceiling",
				Value:       decimal.NewFromInt(count).String(),
				Timestamp:   time.Now(),
			}},
			DetectedAt: time.Now(),
		})
	}
	return findings
}
