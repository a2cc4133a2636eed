package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/orchardlane/pricing/internal/domain"
)

// apply folds one winning rule into the result. Price-mode rules adjust
// rate and discount fields; product-mode rules append free-item generation
// records and never touch price fields.
func (e *Engine) apply(ctx context.Context, cache *batchCache, r *domain.Rule, result *domain.ResolutionResult, lc *domain.OrderLineContext) error {
	result.Applied(r.ID)

	switch r.PriceOrProduct {
	case domain.DiscountModePrice:
		e.applyPriceDiscount(r, result, lc)
		return nil
	case domain.DiscountModeProduct:
		return e.applyFreeItem(ctx, cache, r, result, lc)
	}
	// Authoring validation guarantees the mode; reaching here means a rule
	// bypassed it.
	panic(fmt.Sprintf("pricing rule %s has invalid price_or_product %q", r.ID, r.PriceOrProduct))
}

func (e *Engine) applyPriceDiscount(r *domain.Rule, result *domain.ResolutionResult, lc *domain.OrderLineContext) {
	switch r.RateOrDiscount {
	case domain.RateKindRate:
		// A rate override only applies in its own currency, scaled to the
		// line's transacted UOM.
		if r.Currency == "" || r.Currency == lc.Currency {
			factor := lc.ConversionFactor
			if factor <= 0 {
				factor = 1
			}
			rate := r.Rate * factor
			result.PriceListRate = &rate
		}

	case domain.RateKindDiscountPercentage:
		if r.ApplyDiscountOnRate && result.DiscountPercentage > 0 {
			// Discount on the already discounted rate compounds rather
			// than sums: 10% then 20% is 28%, not 30%.
			result.DiscountPercentage += (100 - result.DiscountPercentage) * r.DiscountPercentage / 100
		} else {
			result.DiscountPercentage += r.DiscountPercentage
		}

	case domain.RateKindDiscountAmount:
		result.DiscountAmount += r.DiscountAmount
	}

	if r.MarginType != "" {
		if r.ApplyMultiple && result.MarginType == r.MarginType {
			result.MarginRateOrAmount += r.MarginRateOrAmount
		} else {
			result.MarginType = r.MarginType
			result.MarginRateOrAmount = r.MarginRateOrAmount
		}
	}
}

func (e *Engine) applyFreeItem(ctx context.Context, cache *batchCache, r *domain.Rule, result *domain.ResolutionResult, lc *domain.OrderLineContext) error {
	itemCode := r.FreeItem
	if itemCode == "" {
		if !r.SameItem {
			panic(fmt.Sprintf("pricing rule %s has no free item and no self-reference", r.ID))
		}
		itemCode = lc.ItemCode
	}

	qty := r.FreeQty
	if qty <= 0 {
		qty = 1
	}
	if r.IsRecursive {
		transacted := lc.Qty - r.ApplyRecursionOver
		if transacted <= 0 {
			return nil
		}
		qty = transacted * r.FreeQty / r.RecurseFor
		if r.RoundFreeQty {
			qty = math.Floor(qty)
		}
		if qty <= 0 {
			return nil
		}
	}

	uom := r.FreeItemUOM
	if uom == "" {
		info, err := cache.item(ctx, itemCode)
		if err != nil {
			return fmt.Errorf("resolve free item %s: %w", itemCode, err)
		}
		uom = info.StockUOM
	}

	result.FreeItems = append(result.FreeItems, domain.FreeItemLine{
		RuleID:     r.ID,
		ItemCode:   itemCode,
		Qty:        qty,
		Rate:       r.FreeItemRate,
		UOM:        uom,
		IsFreeItem: true,
	})
	return nil
}
