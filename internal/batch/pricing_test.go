package batch

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Aidin1998/fairbatch/pkg/models"
)

func qtyOrder(side models.Side, price, qty int64) *models.Order {
	o := mkOrder("ETH-USDC", side, price, time.Unix(100, 0))
	o.Quantity = decimal.NewFromInt(qty)
	return o
}

func TestUniformPriceCrossing(t *testing.T) {
	orders := []*models.Order{
		qtyOrder(models.SideBuy, 105, 1),
		qtyOrder(models.SideBuy, 103, 2),
		qtyOrder(models.SideSell, 100, 1),
		qtyOrder(models.SideSell, 104, 3),
	}
	// sweep: 105 -> buy 1 vs sell 4; 104 -> buy 1 vs sell 4;
	// 103 -> buy 3 vs sell 1: first crossing
	price := UniformPrice(orders)
	assert.True(t, price.Equal(decimal.NewFromInt(103)), "got %s", price)
}

func TestUniformPriceTwoSidedSimple(t *testing.T) {
	orders := []*models.Order{
		qtyOrder(models.SideBuy, 105, 1),
		qtyOrder(models.SideSell, 95, 1),
	}
	price := UniformPrice(orders)
	assert.True(t, price.GreaterThanOrEqual(decimal.NewFromInt(95)))
	assert.True(t, price.LessThanOrEqual(decimal.NewFromInt(105)))
}

func TestUniformPriceOneSidedFallsBackToMean(t *testing.T) {
	orders := []*models.Order{
		qtyOrder(models.SideBuy, 100, 1),
		qtyOrder(models.SideBuy, 110, 1),
	}
	price := UniformPrice(orders)
	assert.True(t, price.Equal(decimal.NewFromInt(105)), "got %s", price)
}

func TestUniformPriceEmpty(t *testing.T) {
	assert.True(t, UniformPrice(nil).IsZero())
}

func TestClearingPricesPerPair(t *testing.T) {
	eth := qtyOrder(models.SideBuy, 100, 1)
	sol := mkOrder("SOL-USDC", models.SideSell, 20, time.Unix(100, 0))

	prices := ClearingPrices([]*models.Order{eth, sol})
	assert.True(t, prices["ETH-USDC"].Equal(decimal.NewFromInt(100)))
	assert.True(t, prices["SOL-USDC"].Equal(decimal.NewFromInt(20)))
}

func TestEligibleLimitCompatibility(t *testing.T) {
	uniform := decimal.NewFromInt(100)

	assert.True(t, Eligible(qtyOrder(models.SideBuy, 105, 1), uniform, 1000))
	assert.False(t, Eligible(qtyOrder(models.SideBuy, 99, 1), uniform, 1000),
		"buy limit below uniform price must not execute")
	assert.True(t, Eligible(qtyOrder(models.SideSell, 95, 1), uniform, 1000))
	assert.False(t, Eligible(qtyOrder(models.SideSell, 101, 1), uniform, 1000),
		"sell limit above uniform price must not execute")
}

func TestEligibleImpactCap(t *testing.T) {
	uniform := decimal.NewFromInt(100)

	// buy limit 120 vs uniform 100: impact ~1667 bps against its own limit
	wide := qtyOrder(models.SideBuy, 120, 1)
	assert.False(t, Eligible(wide, uniform, 500))
	assert.True(t, Eligible(wide, uniform, 2000))
}

func TestEligibleMarketOrder(t *testing.T) {
	o := qtyOrder(models.SideBuy, 0, 1)
	o.Type = models.OrderTypeMarket
	assert.True(t, Eligible(o, decimal.NewFromInt(100), 1))
}
