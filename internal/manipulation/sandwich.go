package manipulation

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/fairbatch/pkg/models"
)

// SandwichDetector detects an identity bracketing a third party's order
// with opposite-direction orders while the pair's rolling price history
// shows a V-shaped excursion.
type SandwichDetector struct {
	cfg    DetectionConfig
	logger *zap.SugaredLogger
}

// NewSandwichDetector creates a sandwich detector.
func NewSandwichDetector(cfg DetectionConfig, logger *zap.SugaredLogger) *SandwichDetector {
	return &SandwichDetector{cfg: cfg, logger: logger}
}

// Detect scans one pair's batch orders. prices is the pair's trailing
// sample, oldest first; linked orders are exempt per TP/SL
// disambiguation and contribute zero confidence.
func (d *SandwichDetector) Detect(pair string, orders []*models.Order, prices []decimal.Decimal, linked map[uuid.UUID]bool) []*models.ManipulationFinding {
	if len(orders) < 3 {
		return nil
	}
	byTime := make([]*models.Order, len(orders))
	copy(byTime, orders)
	sort.SliceStable(byTime, func(i, j int) bool {
		return byTime[i].RevealedAt.Before(byTime[j].RevealedAt)
	})

	excursion, depth := d.priceExcursion(prices)

	var findings []*models.ManipulationFinding
	for i := 0; i+2 < len(byTime); i++ {
		front, victim, back := byTime[i], byTime[i+1], byTime[i+2]
		if front.Identity != back.Identity || victim.Identity == front.Identity {
			continue
		}
		if front.Side == back.Side {
			continue
		}
		if linked[front.ID] || linked[back.ID] {
			// linked risk-management orders are exempt
			continue
		}

		confidence, evidence := d.score(front, victim, back, excursion, depth)
		disposition := d.cfg.disposition(confidence)
		if disposition == models.DispositionAllow {
			continue
		}
		findings = append(findings, &models.ManipulationFinding{
			Kind:        models.FindingSandwich,
			Pair:        pair,
			Identity:    front.Identity,
			Confidence:  confidence,
			Severity:    models.SeverityFromConfidence(confidence),
			Disposition: disposition,
			Orders:      []uuid.UUID{front.ID, back.ID},
			Evidence:    evidence,
			DetectedAt:  time.Now(),
		})
	}
	return findings
}

func (d *SandwichDetector) score(front, victim, back *models.Order, excursion bool, depth decimal.Decimal) (decimal.Decimal, []models.Evidence) {
	score := decimal.Zero
	var evidence []models.Evidence
	add := func(points int64, typ, desc, value string) {
		score = score.Add(decimal.NewFromInt(points))
		evidence = append(evidence, models.Evidence{
			Type:        typ,
			Description: desc,
			Value:       value,
			Timestamp:   time.Now(),
		})
	}

	if excursion {
		add(25, "price", "V-shaped price excursion in rolling history", depth.String())
		if depth.GreaterThanOrEqual(d.cfg.ImpactMinRatio) && depth.LessThanOrEqual(d.cfg.ImpactMaxRatio) {
			add(15, "price", "excursion depth inside manipulation impact band", depth.String())
		}
	}
	if front.Side == models.SideBuy && back.Side == models.SideSell {
		add(15, "pattern", "buy-then-sell bracketing order", "")
	}
	if front.RevealedAt.Before(victim.RevealedAt) && victim.RevealedAt.Before(back.RevealedAt) {
		add(15, "timing", "bracketing orders straddle the victim order", "")
	}
	if sizeSimilarity(front.Quantity, back.Quantity).GreaterThan(d.cfg.SizeSimilarityRatio) {
		add(20, "size", "near-equal bracketing order sizes", sizeSimilarity(front.Quantity, back.Quantity).String())
	}
	if back.RevealedAt.Sub(front.RevealedAt) <= d.cfg.AutomationGap {
		add(10, "timing", "sub-second round trip indicates automated submission", back.RevealedAt.Sub(front.RevealedAt).String())
	}

	return decimal.Min(score, decimal.NewFromInt(100)), evidence
}

// priceExcursion checks the last three observations for a strict local
// extremum in the middle with near-equal outer prices.
func (d *SandwichDetector) priceExcursion(prices []decimal.Decimal) (bool, decimal.Decimal) {
	if len(prices) < 3 {
		return false, decimal.Zero
	}
	p0, p1, p2 := prices[len(prices)-3], prices[len(prices)-2], prices[len(prices)-1]
	if p0.IsZero() {
		return false, decimal.Zero
	}
	vShape := p1.LessThan(p0) && p1.LessThan(p2)
	invVShape := p1.GreaterThan(p0) && p1.GreaterThan(p2)
	if !vShape && !invVShape {
		return false, decimal.Zero
	}
	outerDiff := p0.Sub(p2).Abs().Div(p0)
	if outerDiff.GreaterThanOrEqual(d.cfg.ExcursionTolerance) {
		return false, decimal.Zero
	}
	depth := p1.Sub(p0).Abs().Div(p0)
	return true, depth
}

func sizeSimilarity(a, b decimal.Decimal) decimal.Decimal {
	if a.IsZero() || b.IsZero() {
		return decimal.Zero
	}
	if a.GreaterThan(b) {
		return b.Div(a)
	}
	return a.Div(b)
}
