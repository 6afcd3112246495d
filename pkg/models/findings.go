package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FindingKind classifies a manipulation finding.
type FindingKind string

const (
	FindingSandwich           FindingKind = "sandwich"
	FindingSniper             FindingKind = "sniper"
	FindingFrontRun           FindingKind = "front_run"
	FindingBackRun            FindingKind = "back_run"
	FindingHighFrequency      FindingKind = "high_frequency"
	FindingPriceManipulation  FindingKind = "price_manipulation"
	FindingCommitmentMismatch FindingKind = "commitment_mismatch"
)

// Disposition determines downstream handling of a flagged order.
type Disposition string

const (
	DispositionBlock   Disposition = "block"
	DispositionMonitor Disposition = "monitor"
	DispositionAllow   Disposition = "allow"
)

// Evidence is a single supporting observation attached to a finding.
type Evidence struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Value       string    `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
}

// ManipulationFinding is produced once per detector pass over a batch and
// emitted to the security event sink; it is never persisted as mutable
// state inside the core.
type ManipulationFinding struct {
	Kind        FindingKind     `json:"kind"`
	Pair        string          `json:"pair"`
	Identity    common.Address  `json:"identity"`
	Confidence  decimal.Decimal `json:"confidence"`
	Severity    string          `json:"severity"`
	Disposition Disposition     `json:"disposition"`
	Orders      []uuid.UUID     `json:"orders"`
	Evidence    []Evidence      `json:"evidence"`
	DetectedAt  time.Time       `json:"detected_at"`
}

// Blocks reports whether the finding removes its orders from the batch.
func (f *ManipulationFinding) Blocks() bool {
	return f.Disposition == DispositionBlock
}

// SeverityFromConfidence maps a 0-100 confidence score to a severity
// label. Thresholds follow the convention used across the detector suite.
func SeverityFromConfidence(confidence decimal.Decimal) string {
	switch {
	case confidence.GreaterThan(decimal.NewFromInt(90)):
		return "critical"
	case confidence.GreaterThan(decimal.NewFromInt(75)):
		return "high"
	case confidence.GreaterThan(decimal.NewFromInt(60)):
		return "medium"
	default:
		return "low"
	}
}
