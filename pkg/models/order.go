// Package models defines the shared data model for the fair-batch intake
// and execution core: orders, commitments, batch results, manipulation
// findings and cross-system reports.
package models

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of a trading intent.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType distinguishes market and limit intents.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Order is a revealed trading intent. (Identity, Nonce) is globally unique
// and consumed at most once; the nonce guard enforces this at reveal time.
type Order struct {
	ID         uuid.UUID       `json:"id"`
	Identity   common.Address  `json:"identity"`
	Pair       string          `json:"pair"`
	Side       Side            `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Type       OrderType       `json:"type"`
	Nonce      uint64          `json:"nonce"`
	LinkID     string          `json:"link_id,omitempty"` // explicit TP/SL pairing reference
	Signature  []byte          `json:"signature"`
	RevealedAt time.Time       `json:"revealed_at"`
}

// SigningBytes returns the canonical byte encoding the client signs and
// the commitment digest is computed over. Server-assigned fields (ID,
// RevealedAt) are excluded so the encoding is reproducible client-side.
func (o *Order) SigningBytes() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d|%s",
		o.Identity.Hex(), o.Pair, o.Side, o.Type,
		o.Quantity.String(), o.Price.String(), o.Nonce, o.LinkID))
}

// Value returns the notional value of the order (quantity * price).
func (o *Order) Value() decimal.Decimal {
	return o.Quantity.Mul(o.Price)
}

// Trade is an executed fill. Every trade in a window executes at that
// window's single uniform clearing price for its pair.
type Trade struct {
	ID         uuid.UUID       `json:"id"`
	OrderID    uuid.UUID       `json:"order_id"`
	Identity   common.Address  `json:"identity"`
	Pair       string          `json:"pair"`
	Side       Side            `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	WindowID   int64           `json:"window_id"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// Commitment binds an order's content to a client signature ahead of
// reveal. The reveal state lives in the commitment store's atomic claim,
// not here; any re-verification after reveal must use the stored Hash,
// never a recomputed one, so tampering between commit and reveal is
// detectable.
type Commitment struct {
	ID        uuid.UUID      `json:"id"`
	Identity  common.Address `json:"identity"`
	Hash      common.Hash    `json:"hash"`
	Signature []byte         `json:"signature"`
	CreatedAt time.Time      `json:"created_at"`
}
