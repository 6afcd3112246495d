package batch

import (
	"sort"
	"strings"

	"github.com/Aidin1998/fairbatch/pkg/models"
)

// SortOrders orders a batch deterministically for fair execution: grouped
// by pair, buys ahead of sells, price priority within a side (buys by
// descending limit, sells by ascending limit), ties broken by earliest
// reveal time and finally by order id so the permutation is total. The
// sort is stable: identical input always yields the identical output.
func SortOrders(orders []*models.Order) []*models.Order {
	out := make([]*models.Order, len(orders))
	copy(out, orders)
	sort.SliceStable(out, func(i, j int) bool {
		return Less(out[i], out[j])
	})
	return out
}

// Less is the fair-ordering comparator.
func Less(a, b *models.Order) bool {
	if a.Pair != b.Pair {
		return a.Pair < b.Pair
	}
	if a.Side != b.Side {
		return a.Side == models.SideBuy
	}
	if !a.Price.Equal(b.Price) {
		if a.Side == models.SideBuy {
			return a.Price.GreaterThan(b.Price)
		}
		return a.Price.LessThan(b.Price)
	}
	if !a.RevealedAt.Equal(b.RevealedAt) {
		return a.RevealedAt.Before(b.RevealedAt)
	}
	return strings.Compare(a.ID.String(), b.ID.String()) < 0
}

// GroupByPair partitions a sorted batch by trading pair, preserving the
// in-pair ordering. Pair groups are the executor's shard keys.
func GroupByPair(orders []*models.Order) map[string][]*models.Order {
	groups := make(map[string][]*models.Order)
	for _, o := range orders {
		groups[o.Pair] = append(groups[o.Pair], o)
	}
	return groups
}
