package manipulation

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/fairbatch/pkg/models"
)

// TPSLClassifier recognizes linked take-profit/stop-loss order pairs so
// legitimate risk management is exempted from sandwich and sniper
// classification. It runs before every other detector and can
// short-circuit them for the orders it links.
type TPSLClassifier struct {
	cfg    DetectionConfig
	logger *zap.SugaredLogger
}

// NewTPSLClassifier creates the disambiguation pass.
func NewTPSLClassifier(cfg DetectionConfig, logger *zap.SugaredLogger) *TPSLClassifier {
	return &TPSLClassifier{cfg: cfg, logger: logger}
}

// Link returns the set of order ids classified as linked risk-management
// orders. Two paths link a pair: an explicit shared link reference, or an
// implicit match (same identity and pair, opposite sides, a short reveal
// gap, and an exit price inside the take-profit or stop-loss band
// relative to the entry).
func (c *TPSLClassifier) Link(orders []*models.Order) map[uuid.UUID]bool {
	linked := make(map[uuid.UUID]bool)

	// Explicit references: every group of 2+ orders sharing a link id.
	byRef := make(map[string][]*models.Order)
	for _, o := range orders {
		if o.LinkID != "" {
			byRef[o.LinkID] = append(byRef[o.LinkID], o)
		}
	}
	for ref, group := range byRef {
		if len(group) < 2 {
			continue
		}
		for _, o := range group {
			linked[o.ID] = true
		}
		c.logger.Debugw("explicit tp/sl link", "link_id", ref, "orders", len(group))
	}

	// Implicit matches per identity and pair.
	type key struct {
		identity string
		pair     string
	}
	grouped := make(map[key][]*models.Order)
	for _, o := range orders {
		k := key{o.Identity.Hex(), o.Pair}
		grouped[k] = append(grouped[k], o)
	}
	for _, group := range grouped {
		for i, entry := range group {
			for _, exit := range group[i+1:] {
				if c.implicitPair(entry, exit) {
					linked[entry.ID] = true
					linked[exit.ID] = true
				}
			}
		}
	}
	return linked
}

func (c *TPSLClassifier) implicitPair(entry, exit *models.Order) bool {
	if entry.Side == exit.Side {
		return false
	}
	gap := exit.RevealedAt.Sub(entry.RevealedAt)
	if gap < 0 {
		entry, exit = exit, entry
		gap = -gap
	}
	if gap > c.cfg.LinkGap {
		return false
	}
	if entry.Price.IsZero() || exit.Price.IsZero() {
		return false
	}
	move := exit.Price.Sub(entry.Price).Div(entry.Price)
	if entry.Side == models.SideSell {
		// short entry: profit and loss bands mirror
		move = move.Neg()
	}
	return c.inTakeProfitBand(move) || c.inStopLossBand(move)
}

func (c *TPSLClassifier) inTakeProfitBand(move decimal.Decimal) bool {
	return move.GreaterThanOrEqual(c.cfg.TakeProfitMin) && move.LessThanOrEqual(c.cfg.TakeProfitMax)
}

func (c *TPSLClassifier) inStopLossBand(move decimal.Decimal) bool {
	loss := move.Neg()
	return loss.GreaterThanOrEqual(c.cfg.StopLossMin) && loss.LessThanOrEqual(c.cfg.StopLossMax)
}
