package manipulation

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/fairbatch/pkg/models"
)

// PriceAnomalyDetector flags order prices whose z-score against the
// pair's trailing sample exceeds the configured threshold. Flagged
// prices are not appended to the sample; clean ones are.
type PriceAnomalyDetector struct {
	cfg    DetectionConfig
	logger *zap.SugaredLogger
}

// NewPriceAnomalyDetector creates a price anomaly detector.
func NewPriceAnomalyDetector(cfg DetectionConfig, logger *zap.SugaredLogger) *PriceAnomalyDetector {
	return &PriceAnomalyDetector{cfg: cfg, logger: logger}
}

// Detect checks each order price against the trailing sample and returns
// the findings plus the prices that should be appended to the sample.
func (d *PriceAnomalyDetector) Detect(pair string, orders []*models.Order, sample []decimal.Decimal) ([]*models.ManipulationFinding, []*models.Order) {
	mean, stddev, ok := sampleStats(sample, d.cfg.MinSampleSize)

	var findings []*models.ManipulationFinding
	var clean []*models.Order
	for _, o := range orders {
		if o.Price.IsZero() {
			clean = append(clean, o)
			continue
		}
		if !ok || stddev == 0 {
			clean = append(clean, o)
			continue
		}
		price, _ := o.Price.Float64()
		z := math.Abs(price-mean) / stddev
		if z <= d.cfg.ZScoreThreshold {
			clean = append(clean, o)
			continue
		}
		confidence := decimal.NewFromInt(80)
		findings = append(findings, &models.ManipulationFinding{
			Kind:        models.FindingPriceManipulation,
			Pair:        pair,
			Identity:    o.Identity,
			Confidence:  confidence,
			Severity:    models.SeverityFromConfidence(confidence),
			Disposition: d.cfg.disposition(confidence),
			Orders:      []uuid.UUID{o.ID},
			Evidence: []models.Evidence{{
				Type:        "price",
				Description: "price z-score above threshold versus trailing sample",
				Value:       decimal.NewFromFloat(z).Round(3).String(),
				Timestamp:   time.Now(),
			}},
			DetectedAt: time.Now(),
		})
	}
	return findings, clean
}

// sampleStats computes mean and standard deviation of the trailing
// sample; ok is false below the minimum sample size.
func sampleStats(sample []decimal.Decimal, minSize int) (mean, stddev float64, ok bool) {
	if len(sample) < minSize {
		return 0, 0, false
	}
	var sum float64
	for _, p := range sample {
		f, _ := p.Float64()
		sum += f
	}
	mean = sum / float64(len(sample))

	var variance float64
	for _, p := range sample {
		f, _ := p.Float64()
		variance += (f - mean) * (f - mean)
	}
	variance /= float64(len(sample))
	return mean, math.Sqrt(variance), true
}
