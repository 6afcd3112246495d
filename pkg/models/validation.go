package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// LedgerSnapshot is a point-in-time view of the external ledger. Snapshots
// are immutable once created; a newer snapshot supersedes, never mutates.
type LedgerSnapshot struct {
	Height     uint64          `json:"height"`
	Digest     common.Hash     `json:"digest"`
	OrderCount int64           `json:"order_count"`
	Volume     decimal.Decimal `json:"volume"`
	TakenAt    time.Time       `json:"taken_at"`
}

// SystemSnapshot is the internal counterpart captured by the validator.
type SystemSnapshot struct {
	OrderCount int64           `json:"order_count"`
	Volume     decimal.Decimal `json:"volume"`
	Digest     common.Hash     `json:"digest"`
	TakenAt    time.Time       `json:"taken_at"`
}

// DiscrepancyCategory classifies what diverged between the internal
// bookkeeping and the external ledger.
type DiscrepancyCategory string

const (
	DiscrepancyBalance DiscrepancyCategory = "balance"
	DiscrepancyOrder   DiscrepancyCategory = "order"
	DiscrepancyPrice   DiscrepancyCategory = "price"
	DiscrepancyVolume  DiscrepancyCategory = "volume"
)

// DiscrepancyReport records a divergence above tolerance. Reports are
// append-only and terminal once emitted.
type DiscrepancyReport struct {
	Category     DiscrepancyCategory `json:"category"`
	Severity     string              `json:"severity"`
	Identity     common.Address      `json:"identity,omitempty"`
	Pair         string              `json:"pair,omitempty"`
	Internal     decimal.Decimal     `json:"internal"`
	External     decimal.Decimal     `json:"external"`
	RelativeDiff decimal.Decimal     `json:"relative_diff"`
	ObservedAt   time.Time           `json:"observed_at"`
}

// ValidationResult is the outcome of validating a single order execution
// against the external ledger.
type ValidationResult struct {
	Valid         bool                `json:"valid"`
	Inconclusive  bool                `json:"inconclusive"` // external authority timed out
	Checks        map[string]bool     `json:"checks"`
	Discrepancies []DiscrepancyReport `json:"discrepancies,omitempty"`
	Reason        string              `json:"reason,omitempty"`
	ValidatedAt   time.Time           `json:"validated_at"`
}
