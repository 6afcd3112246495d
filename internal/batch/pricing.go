package batch

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/fairbatch/pkg/models"
)

// UniformPrice computes the single clearing price for one pair's orders
// with the crossing-volume method: sweep candidate prices from highest to
// lowest, accumulate cumulative buy volume at-or-above and cumulative
// sell volume at-or-below each candidate, and pick the first price where
// buy volume meets or exceeds sell volume. Market orders contribute
// volume at every candidate. When one side is absent the arithmetic mean
// of the present limit prices is used instead.
func UniformPrice(orders []*models.Order) decimal.Decimal {
	var buys, sells []*models.Order
	for _, o := range orders {
		if o.Side == models.SideBuy {
			buys = append(buys, o)
		} else {
			sells = append(sells, o)
		}
	}
	if len(buys) == 0 || len(sells) == 0 {
		return meanPrice(orders)
	}

	candidates := candidatePrices(orders)
	if len(candidates) == 0 {
		return meanPrice(orders)
	}

	for _, p := range candidates {
		buyVol := sideVolume(buys, func(o *models.Order) bool {
			return o.Type == models.OrderTypeMarket || o.Price.GreaterThanOrEqual(p)
		})
		sellVol := sideVolume(sells, func(o *models.Order) bool {
			return o.Type == models.OrderTypeMarket || o.Price.LessThanOrEqual(p)
		})
		if buyVol.GreaterThanOrEqual(sellVol) {
			return p
		}
	}
	return candidates[len(candidates)-1]
}

// ClearingPrices computes the uniform price per pair for a batch.
func ClearingPrices(orders []*models.Order) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal)
	for pair, group := range GroupByPair(orders) {
		prices[pair] = UniformPrice(group)
	}
	return prices
}

// Eligible reports whether an order may execute at the uniform price: its
// own limit must be compatible and the price impact relative to its limit
// must stay within maxImpactBps. An ineligible order is rejected, not
// treated as malicious. Market orders carry no limit and always qualify.
func Eligible(o *models.Order, uniform decimal.Decimal, maxImpactBps int64) bool {
	if o.Type == models.OrderTypeMarket || o.Price.IsZero() {
		return true
	}
	if o.Side == models.SideBuy && o.Price.LessThan(uniform) {
		return false
	}
	if o.Side == models.SideSell && o.Price.GreaterThan(uniform) {
		return false
	}
	impactBps := uniform.Sub(o.Price).Abs().
		Div(o.Price).
		Mul(decimal.NewFromInt(10_000))
	return impactBps.LessThanOrEqual(decimal.NewFromInt(maxImpactBps))
}

func candidatePrices(orders []*models.Order) []decimal.Decimal {
	seen := make(map[string]struct{})
	var prices []decimal.Decimal
	for _, o := range orders {
		if o.Type == models.OrderTypeMarket || o.Price.IsZero() {
			continue
		}
		key := o.Price.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		prices = append(prices, o.Price)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].GreaterThan(prices[j]) })
	return prices
}

func sideVolume(orders []*models.Order, include func(*models.Order) bool) decimal.Decimal {
	vol := decimal.Zero
	for _, o := range orders {
		if include(o) {
			vol = vol.Add(o.Quantity)
		}
	}
	return vol
}

func meanPrice(orders []*models.Order) decimal.Decimal {
	sum := decimal.Zero
	n := 0
	for _, o := range orders {
		if o.Price.IsZero() {
			continue
		}
		sum = sum.Add(o.Price)
		n++
	}
	if n == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}
