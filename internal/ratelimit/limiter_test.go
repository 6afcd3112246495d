package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/fairbatch/internal/kv"
	"github.com/Aidin1998/fairbatch/pkg/models"
)

var identity = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func newTestLimiter(cfg Config) (*Limiter, *kv.Memory, *time.Time) {
	now := time.Unix(10_000, 0)
	mem := kv.NewMemory()
	mem.Now = func() time.Time { return now }
	return New(mem, cfg, zap.NewNop().Sugar()), mem, &now
}

func TestCeilingEnforced(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetailCeiling = 10
	limiter, _, now := newTestLimiter(cfg)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, limiter.Allow(ctx, identity, TierRetail), "request %d", i+1)
		*now = now.Add(50 * time.Millisecond)
	}
	// 11th request inside the same rolling second
	assert.ErrorIs(t, limiter.Allow(ctx, identity, TierRetail), models.ErrRateLimited)

	// once the window slides past the first request, admission resumes
	*now = now.Add(600 * time.Millisecond)
	assert.NoError(t, limiter.Allow(ctx, identity, TierRetail))
}

func TestTierCeilingsDiffer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetailCeiling = 2
	cfg.ProCeiling = 4
	limiter, _, _ := newTestLimiter(cfg)
	ctx := context.Background()

	retail := common.HexToAddress("0x01")
	pro := common.HexToAddress("0x02")

	require.NoError(t, limiter.Allow(ctx, retail, TierRetail))
	require.NoError(t, limiter.Allow(ctx, retail, TierRetail))
	assert.ErrorIs(t, limiter.Allow(ctx, retail, TierRetail), models.ErrRateLimited)

	for i := 0; i < 4; i++ {
		require.NoError(t, limiter.Allow(ctx, pro, TierPro))
	}
	assert.ErrorIs(t, limiter.Allow(ctx, pro, TierPro), models.ErrRateLimited)
}

func TestViolationEscalationBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetailCeiling = 1
	cfg.ViolationThreshold = 3
	cfg.BlockDuration = time.Minute
	limiter, _, now := newTestLimiter(cfg)
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, identity, TierRetail))
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, limiter.Allow(ctx, identity, TierRetail), models.ErrRateLimited)
	}
	// third violation crossed the threshold; identity is now blocked
	assert.ErrorIs(t, limiter.Allow(ctx, identity, TierRetail), models.ErrIdentityBlocked)

	// block expires after BlockDuration
	*now = now.Add(2 * time.Minute)
	assert.NoError(t, limiter.Allow(ctx, identity, TierRetail))
}

func TestClassifyTier(t *testing.T) {
	assert.Equal(t, TierRetail, ClassifyTier(TradingStats{}))
	assert.Equal(t, TierPro, ClassifyTier(TradingStats{
		Volume: decimal.NewFromInt(500_000), TradeCount: 20, AvgHoldingTime: time.Hour,
	}))
	assert.Equal(t, TierVIP, ClassifyTier(TradingStats{
		Volume: decimal.NewFromInt(50_000_000), TradeCount: 50, AvgHoldingTime: time.Hour,
	}))
	assert.Equal(t, TierMarketMaker, ClassifyTier(TradingStats{
		Volume: decimal.NewFromInt(1_000_000), TradeCount: 5_000, AvgHoldingTime: 10 * time.Second,
	}))
}
