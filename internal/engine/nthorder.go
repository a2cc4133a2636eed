package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/orchardlane/pricing/internal/domain"
	"github.com/orchardlane/pricing/internal/repository"
)

// filterByOrderPosition drops candidates gated on the customer's order
// position (exact nth order, or one of the first N) and candidates limited
// to an origin channel the line did not come through.
func (e *Engine) filterByOrderPosition(ctx context.Context, cache *batchCache, candidates []domain.Rule, lc *domain.OrderLineContext) ([]domain.Rule, error) {
	out := candidates[:0]
	for _, r := range candidates {
		if r.LimitToOrigin != "" && r.LimitToOrigin != domain.OriginAll && !originMatches(r.LimitToOrigin, lc.Origin) {
			continue
		}
		if r.NthOrderOnly == 0 && r.FirstNOrders == 0 {
			out = append(out, r)
			continue
		}
		if lc.Customer == "" {
			// Position gates are meaningless without a customer.
			continue
		}

		position, err := e.orderPosition(ctx, cache, lc)
		if err != nil {
			return nil, err
		}
		if r.NthOrderOnly > 0 && position != r.NthOrderOnly {
			continue
		}
		if r.FirstNOrders > 0 && position > r.FirstNOrders {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func originMatches(required, actual string) bool {
	if actual == "" {
		// Lines without an origin tag are one-off purchases.
		actual = domain.OriginALaCarte
	}
	return required == actual
}

// orderPosition computes the 1-based position of the order under evaluation
// within the customer's qualifying order history, sorted by delivery date
// ascending. If the order has not been persisted yet it is inserted at its
// own delivery date's sorted position.
func (e *Engine) orderPosition(ctx context.Context, cache *batchCache, lc *domain.OrderLineContext) (int, error) {
	orders, err := cache.qualifyingOrders(ctx, lc.Customer)
	if err != nil {
		return 0, fmt.Errorf("order history for %s: %w", lc.Customer, err)
	}

	if lc.OrderID != "" {
		for i, o := range orders {
			if o.ID == lc.OrderID {
				return i + 1, nil
			}
		}
	}

	// Order not yet persisted: count the orders delivered before it, then
	// take the next slot.
	inserted := append([]repository.OrderRef{}, orders...)
	inserted = append(inserted, repository.OrderRef{ID: lc.OrderID, DeliveryDate: lc.TransactionDate})
	sort.SliceStable(inserted, func(i, j int) bool {
		return inserted[i].DeliveryDate.Before(inserted[j].DeliveryDate)
	})
	for i, o := range inserted {
		if o.ID == lc.OrderID && o.DeliveryDate.Equal(lc.TransactionDate) {
			return i + 1, nil
		}
	}
	return len(inserted), nil
}
