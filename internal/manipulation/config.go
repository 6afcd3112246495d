// Package manipulation implements the batch-time detection heuristics:
// sandwich patterns, sniping, front- and back-running, high-frequency
// abuse and statistical price manipulation, with take-profit/stop-loss
// disambiguation so linked risk-management orders are not misclassified.
package manipulation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/fairbatch/pkg/models"
)

// DetectionConfig holds every detector threshold. The numeric defaults
// describe the shape of each rule; operators are expected to tune them
// against real market data.
type DetectionConfig struct {
	// Disposition thresholds on the 0-100 confidence scale.
	BlockThreshold   decimal.Decimal `mapstructure:"block_threshold" yaml:"block_threshold"`
	MonitorThreshold decimal.Decimal `mapstructure:"monitor_threshold" yaml:"monitor_threshold"`

	// Sandwich pattern.
	ExcursionTolerance  decimal.Decimal `mapstructure:"excursion_tolerance" yaml:"excursion_tolerance"`
	SizeSimilarityRatio decimal.Decimal `mapstructure:"size_similarity_ratio" yaml:"size_similarity_ratio"`
	ImpactMinRatio      decimal.Decimal `mapstructure:"impact_min_ratio" yaml:"impact_min_ratio"`
	ImpactMaxRatio      decimal.Decimal `mapstructure:"impact_max_ratio" yaml:"impact_max_ratio"`
	AutomationGap       time.Duration   `mapstructure:"automation_gap" yaml:"automation_gap"`

	// TP/SL disambiguation bands (ratios relative to the entry price).
	TakeProfitMin decimal.Decimal `mapstructure:"take_profit_min" yaml:"take_profit_min"`
	TakeProfitMax decimal.Decimal `mapstructure:"take_profit_max" yaml:"take_profit_max"`
	StopLossMin   decimal.Decimal `mapstructure:"stop_loss_min" yaml:"stop_loss_min"`
	StopLossMax   decimal.Decimal `mapstructure:"stop_loss_max" yaml:"stop_loss_max"`
	LinkGap       time.Duration   `mapstructure:"link_gap" yaml:"link_gap"`

	// Sniper pattern.
	SniperGap          time.Duration   `mapstructure:"sniper_gap" yaml:"sniper_gap"`
	SniperProfitTarget decimal.Decimal `mapstructure:"sniper_profit_target" yaml:"sniper_profit_target"`

	// Front-run.
	FrontRunGap         time.Duration   `mapstructure:"front_run_gap" yaml:"front_run_gap"`
	FrontRunPriceMargin decimal.Decimal `mapstructure:"front_run_price_margin" yaml:"front_run_price_margin"`

	// Back-run.
	BackRunBurst  int           `mapstructure:"back_run_burst" yaml:"back_run_burst"`
	BackRunWindow time.Duration `mapstructure:"back_run_window" yaml:"back_run_window"`

	// High-frequency abuse.
	HighFrequencyCeiling int           `mapstructure:"high_frequency_ceiling" yaml:"high_frequency_ceiling"`
	HighFrequencyWindow  time.Duration `mapstructure:"high_frequency_window" yaml:"high_frequency_window"`

	// Price anomaly (z-score over the trailing sample).
	PriceHistoryLength int     `mapstructure:"price_history_length" yaml:"price_history_length"`
	MinSampleSize      int     `mapstructure:"min_sample_size" yaml:"min_sample_size"`
	ZScoreThreshold    float64 `mapstructure:"z_score_threshold" yaml:"z_score_threshold"`
}

// DefaultDetectionConfig returns the documented rule shapes.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		BlockThreshold:   decimal.NewFromInt(75),
		MonitorThreshold: decimal.NewFromInt(40),

		ExcursionTolerance:  decimal.NewFromFloat(0.02),
		SizeSimilarityRatio: decimal.NewFromFloat(0.9),
		ImpactMinRatio:      decimal.NewFromFloat(0.001),
		ImpactMaxRatio:      decimal.NewFromFloat(0.05),
		AutomationGap:       time.Second,

		TakeProfitMin: decimal.NewFromFloat(0.01),
		TakeProfitMax: decimal.NewFromFloat(0.10),
		StopLossMin:   decimal.NewFromFloat(0.01),
		StopLossMax:   decimal.NewFromFloat(0.05),
		LinkGap:       10 * time.Second,

		SniperGap:          5 * time.Second,
		SniperProfitTarget: decimal.NewFromFloat(0.20),

		FrontRunGap:         5 * time.Second,
		FrontRunPriceMargin: decimal.NewFromFloat(0.005),

		BackRunBurst:  3,
		BackRunWindow: time.Second,

		HighFrequencyCeiling: 50,
		HighFrequencyWindow:  time.Minute,

		PriceHistoryLength: 100,
		MinSampleSize:      10,
		ZScoreThreshold:    3,
	}
}

// disposition maps a confidence score onto the block/monitor/allow scale.
func (c DetectionConfig) disposition(confidence decimal.Decimal) models.Disposition {
	switch {
	case confidence.GreaterThan(c.BlockThreshold):
		return models.DispositionBlock
	case confidence.GreaterThanOrEqual(c.MonitorThreshold):
		return models.DispositionMonitor
	default:
		return models.DispositionAllow
	}
}
