// Package ratelimit provides sliding-window admission control per
// identity, with tier-specific ceilings and escalation to a temporary
// network-level block after repeated violations.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/fairbatch/internal/kv"
	"github.com/Aidin1998/fairbatch/pkg/models"
)

// Tier classifies an identity by its trailing trading statistics.
type Tier string

const (
	TierRetail      Tier = "retail"
	TierPro         Tier = "pro"
	TierMarketMaker Tier = "market_maker"
	TierVIP         Tier = "vip"
)

// Config holds limiter settings. Ceilings are requests per Window.
type Config struct {
	Window             time.Duration `mapstructure:"window" yaml:"window"`
	RetailCeiling      int           `mapstructure:"retail_ceiling" yaml:"retail_ceiling"`
	ProCeiling         int           `mapstructure:"pro_ceiling" yaml:"pro_ceiling"`
	MarketMakerCeiling int           `mapstructure:"market_maker_ceiling" yaml:"market_maker_ceiling"`
	VIPCeiling         int           `mapstructure:"vip_ceiling" yaml:"vip_ceiling"`
	ViolationThreshold int           `mapstructure:"violation_threshold" yaml:"violation_threshold"`
	ViolationWindow    time.Duration `mapstructure:"violation_window" yaml:"violation_window"`
	BlockDuration      time.Duration `mapstructure:"block_duration" yaml:"block_duration"`
}

// DefaultConfig returns ceilings tuned for the intake hot path.
func DefaultConfig() Config {
	return Config{
		Window:             time.Second,
		RetailCeiling:      10,
		ProCeiling:         50,
		MarketMakerCeiling: 200,
		VIPCeiling:         100,
		ViolationThreshold: 5,
		ViolationWindow:    time.Minute,
		BlockDuration:      5 * time.Minute,
	}
}

// Ceiling returns the per-window ceiling for a tier.
func (c Config) Ceiling(tier Tier) int {
	switch tier {
	case TierPro:
		return c.ProCeiling
	case TierMarketMaker:
		return c.MarketMakerCeiling
	case TierVIP:
		return c.VIPCeiling
	default:
		return c.RetailCeiling
	}
}

// TradingStats are the trailing statistics tier classification reads.
type TradingStats struct {
	Volume         decimal.Decimal
	AvgHoldingTime time.Duration
	TradeCount     int64
}

// ClassifyTier maps trailing trading statistics onto a limiter tier.
// Market makers trade often and hold briefly; VIPs move large volume;
// pros clear a volume floor; everyone else is retail.
func ClassifyTier(stats TradingStats) Tier {
	switch {
	case stats.TradeCount > 1000 && stats.AvgHoldingTime < time.Minute:
		return TierMarketMaker
	case stats.Volume.GreaterThan(decimal.NewFromInt(10_000_000)):
		return TierVIP
	case stats.Volume.GreaterThan(decimal.NewFromInt(100_000)) || stats.TradeCount > 100:
		return TierPro
	default:
		return TierRetail
	}
}

// Limiter is the shared admission gate. Counting happens in the kv store
// so concurrent reveals across workers see one consistent window.
type Limiter struct {
	kv     kv.Store
	cfg    Config
	logger *zap.SugaredLogger
}

// New creates a limiter on the shared kv store.
func New(store kv.Store, cfg Config, logger *zap.SugaredLogger) *Limiter {
	return &Limiter{kv: store, cfg: cfg, logger: logger}
}

// Allow admits one request for the identity or returns ErrRateLimited /
// ErrIdentityBlocked. A rejection counts as a violation; crossing the
// violation threshold blocks the identity for BlockDuration.
func (l *Limiter) Allow(ctx context.Context, identity common.Address, tier Tier) error {
	blockKey := "fb:rl:block:" + identity.Hex()
	if _, blocked, err := l.kv.Get(ctx, blockKey); err != nil {
		return fmt.Errorf("check block: %w", err)
	} else if blocked {
		return models.ErrIdentityBlocked
	}

	allowed, count, err := l.kv.SlidingWindowAdd(ctx, "fb:rl:"+identity.Hex(), l.cfg.Window, l.cfg.Ceiling(tier))
	if err != nil {
		return fmt.Errorf("sliding window: %w", err)
	}
	if allowed {
		return nil
	}

	violations, err := l.kv.Incr(ctx, "fb:rl:viol:"+identity.Hex(), l.cfg.ViolationWindow)
	if err != nil {
		return fmt.Errorf("count violation: %w", err)
	}
	if violations >= int64(l.cfg.ViolationThreshold) {
		if _, err := l.kv.SetNX(ctx, blockKey, []byte("1"), l.cfg.BlockDuration); err != nil {
			return fmt.Errorf("apply block: %w", err)
		}
		l.logger.Warnw("identity blocked after repeated rate violations",
			"identity", identity.Hex(),
			"tier", string(tier),
			"violations", violations,
			"block_duration", l.cfg.BlockDuration,
		)
	} else {
		l.logger.Debugw("rate limit rejection",
			"identity", identity.Hex(),
			"tier", string(tier),
			"window_count", count,
		)
	}
	return models.ErrRateLimited
}
