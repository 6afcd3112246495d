package manipulation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/fairbatch/internal/kv"
	"github.com/Aidin1998/fairbatch/pkg/models"
)

const (
	priceHistKeyPrefix = "fb:mh:price:"
	orderRateKeyPrefix = "fb:mh:orders:"
	firstSeenKeyPrefix = "fb:mh:seen:"
)

// History is the short rolling state the detectors read: trailing price
// samples per pair, per-identity order rates and pair familiarity. It
// lives in the shared kv store so every worker observes the same view.
type History struct {
	kv  kv.Store
	cfg DetectionConfig
}

// NewHistory creates a history view over the shared kv store.
func NewHistory(store kv.Store, cfg DetectionConfig) *History {
	return &History{kv: store, cfg: cfg}
}

// RecordOrder tracks an admitted order for rate and familiarity checks.
// Called once per reveal, before batch processing.
func (h *History) RecordOrder(ctx context.Context, order *models.Order) error {
	// The sliding window here only counts; the admission decision was the
	// rate limiter's. A huge limit keeps the add unconditional.
	if _, _, err := h.kv.SlidingWindowAdd(ctx, orderRateKeyPrefix+order.Identity.Hex(), h.cfg.HighFrequencyWindow, 1<<30); err != nil {
		return fmt.Errorf("record order rate: %w", err)
	}
	seenKey := firstSeenKeyPrefix + order.Identity.Hex() + ":" + order.Pair
	ts := strconv.FormatInt(order.RevealedAt.UnixNano(), 10)
	if _, err := h.kv.SetNX(ctx, seenKey, []byte(ts), 0); err != nil {
		return fmt.Errorf("record pair familiarity: %w", err)
	}
	return nil
}

// OrderCount returns how many orders the identity revealed in the
// trailing high-frequency window.
func (h *History) OrderCount(ctx context.Context, identity common.Address) (int64, error) {
	return h.kv.SlidingWindowCount(ctx, orderRateKeyPrefix+identity.Hex(), h.cfg.HighFrequencyWindow)
}

// FamiliarBefore reports whether the identity traded the pair before t.
// An identity whose first contact with a pair is the current window is
// trading it cold.
func (h *History) FamiliarBefore(ctx context.Context, identity common.Address, pair string, t time.Time) (bool, error) {
	val, found, err := h.kv.Get(ctx, firstSeenKeyPrefix+identity.Hex()+":"+pair)
	if err != nil || !found {
		return false, err
	}
	firstSeen, err := strconv.ParseInt(string(val), 10, 64)
	if err != nil {
		return false, fmt.Errorf("decode first-seen timestamp: %w", err)
	}
	return time.Unix(0, firstSeen).Before(t), nil
}

// RecordPrice appends a non-flagged price observation to the pair's
// bounded trailing sample. Flagged prices are never appended, so a
// manipulated print cannot drag the baseline toward itself.
func (h *History) RecordPrice(ctx context.Context, pair string, price decimal.Decimal, ts time.Time) error {
	member := fmt.Sprintf("%d|%s", ts.UnixNano(), price.String())
	return h.kv.SortedAppend(ctx, priceHistKeyPrefix+pair, float64(ts.UnixNano()), member, h.cfg.PriceHistoryLength)
}

// RecentPrices returns up to n trailing prices for the pair, oldest
// first.
func (h *History) RecentPrices(ctx context.Context, pair string, n int) ([]decimal.Decimal, error) {
	members, err := h.kv.SortedRange(ctx, priceHistKeyPrefix+pair, n)
	if err != nil {
		return nil, err
	}
	prices := make([]decimal.Decimal, 0, len(members))
	for _, m := range members {
		parts := strings.SplitN(m, "|", 2)
		if len(parts) != 2 {
			continue
		}
		p, err := decimal.NewFromString(parts[1])
		if err != nil {
			continue
		}
		prices = append(prices, p)
	}
	return prices, nil
}
