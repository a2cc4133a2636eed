package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orchardlane/pricing/internal/domain"
	"github.com/orchardlane/pricing/internal/repository"
)

// filterByThreshold drops candidates whose min/max quantity or amount
// bounds the line does not meet. When the gate empties the candidate set it
// may return a near-miss suggestion for the closest rule that configured a
// threshold percentage.
func (e *Engine) filterByThreshold(ctx context.Context, cache *batchCache, candidates []domain.Rule, lc *domain.OrderLineContext) ([]domain.Rule, string, error) {
	if len(candidates) == 0 {
		return candidates, "", nil
	}

	kept := make([]domain.Rule, 0, len(candidates))
	var rejected []rejectedRule

	for i := range candidates {
		r := &candidates[i]
		if r.UOM != "" && r.ApplyOn != domain.ApplyOnItemCode {
			// A UOM bound without an item target has nothing to convert
			// against. Authoring validation rejects this; a stored rule that
			// still carries it is skipped, not fatal.
			e.logger.Warn("pricing rule has a UOM without an item target, skipped",
				slog.String("rule_id", r.ID),
				slog.String("apply_on", r.ApplyOn),
			)
			continue
		}

		qty, amount, err := e.thresholdBaseline(ctx, cache, r, lc)
		if err != nil {
			return nil, "", err
		}

		if within, gap := passesBounds(qty, r.MinQty, r.MaxQty); !within {
			rejected = append(rejected, rejectedRule{rule: r, gapQty: gap})
			continue
		}
		if within, gap := passesBounds(amount, r.MinAmount, r.MaxAmount); !within {
			rejected = append(rejected, rejectedRule{rule: r, gapAmount: gap})
			continue
		}
		kept = append(kept, *r)
	}

	if len(kept) > 0 {
		return kept, "", nil
	}
	return kept, nearMissSuggestion(rejected), nil
}

type rejectedRule struct {
	rule      *domain.Rule
	gapQty    float64
	gapAmount float64
}

// thresholdBaseline computes the quantity and amount the rule's bounds are
// compared against: the line's own totals, the customer's cumulative totals
// over the rule's validity window, or the batch-wide totals for
// mixed-conditions rules. Quantity is expressed in the rule's UOM when one
// is set.
func (e *Engine) thresholdBaseline(ctx context.Context, cache *batchCache, r *domain.Rule, lc *domain.OrderLineContext) (float64, float64, error) {
	qty := lc.EffectiveStockQty()
	amount := lc.Amount()

	switch {
	case r.IsCumulative:
		from, upto := lc.TransactionDate, lc.TransactionDate
		if r.ValidFrom != nil {
			from = *r.ValidFrom
		}
		if r.ValidUpto != nil {
			upto = *r.ValidUpto
		}
		pastQty, pastAmount, err := e.history.CumulativeTotals(ctx, repository.CumulativeQuery{
			Customer: lc.Customer,
			ApplyOn:  r.ApplyOn,
			Values:   r.TargetValues(),
			From:     from,
			Upto:     upto,
		})
		if err != nil {
			return 0, 0, fmt.Errorf("cumulative totals for rule %s: %w", r.ID, err)
		}
		qty += pastQty
		amount += pastAmount

	case r.MixedConditions:
		// All of the rule's targets must be met together, so the bounds
		// compare against the order-wide totals for those targets.
		values, err := e.mixedTargetValues(ctx, cache, r)
		if err != nil {
			return 0, 0, err
		}
		if batchQty, batchAmount, ok := cache.batchTotals(r.ApplyOn, values); ok {
			qty = batchQty
			amount = batchAmount
		}
	}

	if r.UOM != "" && r.UOM != lc.StockUOM {
		factor, err := cache.conversionFactor(ctx, lc.ItemCode, r.UOM)
		if err != nil {
			return 0, 0, fmt.Errorf("conversion factor %s/%s: %w", lc.ItemCode, r.UOM, err)
		}
		if factor > 0 {
			qty = qty / factor
		}
	}

	return qty, amount, nil
}

// mixedTargetValues expands item-group targets through their descendant
// groups, so lines filed under a child group count toward a parent group's
// order-wide totals. Other dimensions match on the literal values.
func (e *Engine) mixedTargetValues(ctx context.Context, cache *batchCache, r *domain.Rule) ([]string, error) {
	values := r.TargetValues()
	if r.ApplyOn != domain.ApplyOnItemGroup {
		return values, nil
	}
	seen := make(map[string]struct{}, len(values))
	expanded := make([]string, 0, len(values))
	for _, v := range values {
		closure, err := cache.treeDescendants(ctx, repository.TreeItemGroup, v)
		if err != nil {
			return nil, fmt.Errorf("item group descendants for %s: %w", v, err)
		}
		for _, node := range closure {
			if _, ok := seen[node]; ok {
				continue
			}
			seen[node] = struct{}{}
			expanded = append(expanded, node)
		}
	}
	return expanded, nil
}

// passesBounds checks value against [min, max] where zero bounds are open.
// When the value falls outside, gap is the signed distance to the violated
// bound as a fraction of that bound, for near-miss scoring.
func passesBounds(value, min, max float64) (bool, float64) {
	if min > 0 && value < min {
		return false, (min - value) / min * 100
	}
	if max > 0 && value > max {
		return false, (value - max) / max * 100
	}
	return true, 0
}

// nearMissSuggestion builds an informational message for the first rejected
// rule whose shortfall sits inside its configured threshold percentage.
func nearMissSuggestion(rejected []rejectedRule) string {
	for _, rej := range rejected {
		r := rej.rule
		if r.ThresholdPercentage <= 0 {
			continue
		}
		if rej.gapQty > 0 && rej.gapQty <= r.ThresholdPercentage {
			return fmt.Sprintf("you are within %.0f%% of qualifying for %q, add %.2f%% more quantity to apply it", r.ThresholdPercentage, r.Title, rej.gapQty)
		}
		if rej.gapAmount > 0 && rej.gapAmount <= r.ThresholdPercentage {
			return fmt.Sprintf("you are within %.0f%% of qualifying for %q, add %.2f%% more amount to apply it", r.ThresholdPercentage, r.Title, rej.gapAmount)
		}
	}
	return ""
}
