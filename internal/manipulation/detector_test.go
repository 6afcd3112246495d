package manipulation

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/fairbatch/internal/kv"
	"github.com/Aidin1998/fairbatch/pkg/models"
)

var (
	attacker = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	victim   = common.HexToAddress("0x0000000000000000000000000000000000000b02")
)

func order(identity common.Address, side models.Side, price float64, qty float64, revealedAt time.Time) *models.Order {
	return &models.Order{
		ID:         uuid.New(),
		Identity:   identity,
		Pair:       "ETH-USDC",
		Side:       side,
		Quantity:   decimal.NewFromFloat(qty),
		Price:      decimal.NewFromFloat(price),
		Type:       models.OrderTypeLimit,
		RevealedAt: revealedAt,
	}
}

func newSuite(t *testing.T) (*Detector, *History, *kv.Memory) {
	t.Helper()
	mem := kv.NewMemory()
	cfg := DefaultDetectionConfig()
	history := NewHistory(mem, cfg)
	return NewDetector(cfg, history, zap.NewNop().Sugar()), history, mem
}

func recordPrices(t *testing.T, h *History, pair string, prices ...float64) {
	t.Helper()
	base := time.Unix(900, 0)
	for i, p := range prices {
		require.NoError(t, h.RecordPrice(context.Background(), pair, decimal.NewFromFloat(p), base.Add(time.Duration(i)*time.Second)))
	}
}

func sandwichBatch(base time.Time) (*models.Order, *models.Order, *models.Order) {
	front := order(attacker, models.SideBuy, 100, 10, base)
	mid := order(victim, models.SideBuy, 100, 5, base.Add(200*time.Millisecond))
	back := order(attacker, models.SideSell, 100, 10, base.Add(400*time.Millisecond))
	return front, mid, back
}

func TestSandwichDetectedAndBlocked(t *testing.T) {
	d, history, _ := newSuite(t)
	recordPrices(t, history, "ETH-USDC", 110, 100, 109)

	front, mid, back := sandwichBatch(time.Unix(1000, 0))
	clean, findings, err := d.FilterBatch(context.Background(), []*models.Order{front, mid, back})
	require.NoError(t, err)

	var sandwich *models.ManipulationFinding
	for _, f := range findings {
		if f.Kind == models.FindingSandwich {
			sandwich = f
		}
	}
	require.NotNil(t, sandwich, "sandwich finding expected")
	assert.True(t, sandwich.Confidence.GreaterThan(d.cfg.BlockThreshold),
		"confidence %s must exceed block threshold", sandwich.Confidence)
	assert.Equal(t, models.DispositionBlock, sandwich.Disposition)
	assert.Equal(t, attacker, sandwich.Identity)

	// bracketing orders removed, victim survives
	require.Len(t, clean, 1)
	assert.Equal(t, mid.ID, clean[0].ID)
}

func TestSandwichExemptWhenExplicitlyLinked(t *testing.T) {
	d, history, _ := newSuite(t)
	recordPrices(t, history, "ETH-USDC", 110, 100, 109)

	front, mid, back := sandwichBatch(time.Unix(1000, 0))
	front.LinkID = "bracket-7"
	back.LinkID = "bracket-7"

	clean, findings, err := d.FilterBatch(context.Background(), []*models.Order{front, mid, back})
	require.NoError(t, err)
	for _, f := range findings {
		assert.NotEqual(t, models.FindingSandwich, f.Kind,
			"linked TP/SL orders must not be classified as a sandwich")
	}
	assert.Len(t, clean, 3)
}

func TestTPSLImplicitLink(t *testing.T) {
	cfg := DefaultDetectionConfig()
	c := NewTPSLClassifier(cfg, zap.NewNop().Sugar())
	base := time.Unix(1000, 0)

	entry := order(attacker, models.SideBuy, 100, 1, base)
	takeProfit := order(attacker, models.SideSell, 105, 1, base.Add(2*time.Second)) // +5%, inside TP band
	linked := c.Link([]*models.Order{entry, takeProfit})
	assert.True(t, linked[entry.ID])
	assert.True(t, linked[takeProfit.ID])

	// +15% is outside both bands
	farExit := order(attacker, models.SideSell, 115, 1, base.Add(2*time.Second))
	linked = c.Link([]*models.Order{entry, farExit})
	assert.Empty(t, linked)

	// stop-loss: -3% inside SL band
	stop := order(attacker, models.SideSell, 97, 1, base.Add(2*time.Second))
	linked = c.Link([]*models.Order{entry, stop})
	assert.True(t, linked[entry.ID])
	assert.True(t, linked[stop.ID])
}

func TestPriceAnomalyZScore(t *testing.T) {
	d, history, _ := newSuite(t)
	// alternating 98/102 yields mean 100, stddev 2
	recordPrices(t, history, "ETH-USDC", 98, 102, 98, 102, 98, 102, 98, 102, 98, 102, 98, 102)

	outlier := order(victim, models.SideBuy, 107, 1, time.Unix(1000, 0)) // z = 3.5
	normal := order(victim, models.SideBuy, 102, 1, time.Unix(1000, 1)) // z = 1

	clean, findings, err := d.FilterBatch(context.Background(), []*models.Order{outlier, normal})
	require.NoError(t, err)

	var anomaly *models.ManipulationFinding
	for _, f := range findings {
		if f.Kind == models.FindingPriceManipulation {
			anomaly = f
		}
	}
	require.NotNil(t, anomaly)
	assert.Equal(t, []uuid.UUID{outlier.ID}, anomaly.Orders)
	assert.Equal(t, models.DispositionBlock, anomaly.Disposition)

	require.Len(t, clean, 1)
	assert.Equal(t, normal.ID, clean[0].ID)

	// clean price appended to the sample, flagged price not
	sample, err := history.RecentPrices(context.Background(), "ETH-USDC", 100)
	require.NoError(t, err)
	last := sample[len(sample)-1]
	assert.True(t, last.Equal(decimal.NewFromInt(102)))
	for _, p := range sample {
		assert.False(t, p.Equal(decimal.NewFromInt(107)), "flagged price must not enter the sample")
	}
}

func TestBackRunBurst(t *testing.T) {
	d, _, _ := newSuite(t)
	base := time.Unix(1000, 0)

	var orders []*models.Order
	for i := 0; i < 5; i++ {
		orders = append(orders, order(attacker, models.SideBuy, 100, 1, base.Add(time.Duration(i)*100*time.Millisecond)))
	}
	_, findings, err := d.FilterBatch(context.Background(), orders)
	require.NoError(t, err)

	found := false
	for _, f := range findings {
		if f.Kind == models.FindingBackRun {
			found = true
			assert.Equal(t, attacker, f.Identity)
		}
	}
	assert.True(t, found, "burst of 5 orders inside 1s must be flagged")
}

func TestBackRunSpreadOutNotFlagged(t *testing.T) {
	d, _, _ := newSuite(t)
	base := time.Unix(1000, 0)

	var orders []*models.Order
	for i := 0; i < 5; i++ {
		orders = append(orders, order(attacker, models.SideBuy, 100, 1, base.Add(time.Duration(i)*2*time.Second)))
	}
	_, findings, err := d.FilterBatch(context.Background(), orders)
	require.NoError(t, err)
	for _, f := range findings {
		assert.NotEqual(t, models.FindingBackRun, f.Kind)
	}
}

func TestHighFrequencyAbuse(t *testing.T) {
	d, history, _ := newSuite(t)
	ctx := context.Background()

	// 60 recorded reveals inside the trailing minute
	for i := 0; i < 60; i++ {
		o := order(attacker, models.SideBuy, 100, 1, time.Now())
		require.NoError(t, history.RecordOrder(ctx, o))
	}

	subject := order(attacker, models.SideBuy, 100, 1, time.Now())
	clean, findings, err := d.FilterBatch(ctx, []*models.Order{subject})
	require.NoError(t, err)

	found := false
	for _, f := range findings {
		if f.Kind == models.FindingHighFrequency {
			found = true
			assert.Equal(t, models.DispositionBlock, f.Disposition)
		}
	}
	assert.True(t, found)
	assert.Empty(t, clean)
}

func TestFrontRunMarginallyBetter(t *testing.T) {
	d, _, _ := newSuite(t)
	base := time.Unix(1000, 0)

	runner := order(attacker, models.SideBuy, 100.2, 1, base)            // 0.2% better
	subject := order(victim, models.SideBuy, 100, 1, base.Add(time.Second))

	_, findings, err := d.FilterBatch(context.Background(), []*models.Order{runner, subject})
	require.NoError(t, err)

	found := false
	for _, f := range findings {
		if f.Kind == models.FindingFrontRun {
			found = true
			assert.Equal(t, attacker, f.Identity)
			assert.Equal(t, models.DispositionMonitor, f.Disposition)
		}
	}
	assert.True(t, found)

	// a much better price is not front-running, just a better order
	aggressive := order(attacker, models.SideBuy, 103, 1, base)
	_, findings, err = d.FilterBatch(context.Background(), []*models.Order{aggressive, subject})
	require.NoError(t, err)
	for _, f := range findings {
		assert.NotEqual(t, models.FindingFrontRun, f.Kind)
	}
}

func TestSniperMonitoredNotBlocked(t *testing.T) {
	d, _, _ := newSuite(t)
	base := time.Unix(1000, 0)

	entry := order(attacker, models.SideBuy, 100, 1, base)
	entry.Type = models.OrderTypeMarket
	exit := order(attacker, models.SideSell, 125, 1, base.Add(2*time.Second)) // +25% in 2s

	clean, findings, err := d.FilterBatch(context.Background(), []*models.Order{entry, exit})
	require.NoError(t, err)

	var sniper *models.ManipulationFinding
	for _, f := range findings {
		if f.Kind == models.FindingSniper {
			sniper = f
		}
	}
	require.NotNil(t, sniper)
	assert.Equal(t, models.DispositionMonitor, sniper.Disposition,
		"sniping is legitimate speed trading and must only be monitored")
	assert.Len(t, clean, 2, "monitored orders stay in the batch")
}
