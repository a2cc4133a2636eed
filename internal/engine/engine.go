// Package engine implements pricing rule resolution: selecting, filtering,
// prioritizing, and applying discount rules against order lines. The engine
// performs no I/O of its own beyond the source interfaces it is handed and
// holds no mutable state between evaluations, so a single Engine is safe
// for concurrent use.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orchardlane/pricing/internal/domain"
	"github.com/orchardlane/pricing/internal/repository"
)

// RuleSource is the slice of the rule repository the engine reads from.
type RuleSource interface {
	FindCandidates(ctx context.Context, q repository.CandidateQuery) ([]domain.Rule, error)
}

// CouponSource resolves coupon codes and multi-coupon groups, read-only.
type CouponSource interface {
	GetByCodes(ctx context.Context, codes []string) ([]domain.Coupon, error)
	GetMultiByName(ctx context.Context, name string) (*domain.MultiCoupon, error)
}

// ItemSource resolves catalog metadata and UOM conversion factors.
type ItemSource interface {
	GetItem(ctx context.Context, code string) (*repository.ItemInfo, error)
	ConversionFactor(ctx context.Context, itemCode, uom string) (float64, error)
}

// HierarchySource resolves tree closures for hierarchical dimensions.
type HierarchySource interface {
	Ancestors(ctx context.Context, tree, node string) ([]string, error)
	Descendants(ctx context.Context, tree, node string) ([]string, error)
}

// HistorySource supplies order history for the position and cumulative
// gates.
type HistorySource interface {
	QualifyingOrders(ctx context.Context, customer string) ([]repository.OrderRef, error)
	CumulativeTotals(ctx context.Context, q repository.CumulativeQuery) (float64, float64, error)
}

// Engine resolves pricing rules for order lines.
type Engine struct {
	rules   RuleSource
	coupons CouponSource
	items   ItemSource
	trees   HierarchySource
	history HistorySource
	cond    *conditionEvaluator
	logger  *slog.Logger
}

// New creates a resolution engine over the given sources.
func New(rules RuleSource, coupons CouponSource, items ItemSource, trees HierarchySource, history HistorySource, logger *slog.Logger) *Engine {
	return &Engine{
		rules:   rules,
		coupons: coupons,
		items:   items,
		trees:   trees,
		history: history,
		cond:    newConditionEvaluator(logger),
		logger:  logger,
	}
}

// Evaluate resolves pricing rules for a single order line. Repository
// lookups are memoized only for the duration of this call; use
// EvaluateBatch to share the cache across the lines of one order.
func (e *Engine) Evaluate(ctx context.Context, lc *domain.OrderLineContext, mode string) (*domain.ResolutionResult, error) {
	return e.evaluate(ctx, newBatchCache(e.items, e.trees, e.history), lc, mode)
}

// EvaluateBatch resolves pricing rules for every line of one order,
// preserving line order. Hierarchy closures, conversion factors, and order
// history are resolved once per batch.
func (e *Engine) EvaluateBatch(ctx context.Context, lines []*domain.OrderLineContext, mode string) ([]*domain.ResolutionResult, error) {
	cache := newBatchCache(e.items, e.trees, e.history)

	// Pre-pass: resolve catalog metadata and fold per-dimension totals so
	// mixed-conditions thresholds can see the whole order.
	for i, lc := range lines {
		if err := lc.Validate(); err != nil {
			return nil, fmt.Errorf("line %d (%s): %w", i, lc.ItemCode, err)
		}
		if !lc.IgnorePricingRules && mode != domain.ModeRemove {
			if err := e.enrichContext(ctx, cache, lc); err != nil {
				return nil, fmt.Errorf("line %d (%s): %w", i, lc.ItemCode, err)
			}
		}
		cache.addLineTotals(domain.ApplyOnItemCode, lc.ItemCode, lc.EffectiveStockQty(), lc.Amount())
		cache.addLineTotals(domain.ApplyOnItemGroup, lc.ItemGroup, lc.EffectiveStockQty(), lc.Amount())
		cache.addLineTotals(domain.ApplyOnBrand, lc.Brand, lc.EffectiveStockQty(), lc.Amount())
	}

	results := make([]*domain.ResolutionResult, 0, len(lines))
	for i, lc := range lines {
		res, err := e.evaluate(ctx, cache, lc, mode)
		if err != nil {
			return nil, fmt.Errorf("line %d (%s): %w", i, lc.ItemCode, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) evaluate(ctx context.Context, cache *batchCache, lc *domain.OrderLineContext, mode string) (*domain.ResolutionResult, error) {
	if !domain.ValidMode(mode) {
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidRule, mode)
	}
	if err := lc.Validate(); err != nil {
		return nil, err
	}

	result := &domain.ResolutionResult{}

	if mode == domain.ModeRemove || lc.IgnorePricingRules {
		e.remove(lc, result)
		return result, nil
	}

	if err := e.enrichContext(ctx, cache, lc); err != nil {
		return nil, err
	}

	candidates, err := e.collectCandidates(ctx, cache, lc)
	if err != nil {
		return nil, err
	}

	candidates = e.filterByCondition(candidates, lc)

	candidates, err = e.filterByCoupon(ctx, candidates, lc)
	if err != nil {
		return nil, err
	}

	candidates, err = e.filterByOrderPosition(ctx, cache, candidates, lc)
	if err != nil {
		return nil, err
	}

	candidates, suggestion, err := e.filterByThreshold(ctx, cache, candidates, lc)
	if err != nil {
		return nil, err
	}
	result.Suggestion = suggestion

	if len(candidates) == 0 {
		// Previously applied rules that no longer qualify come off the
		// line. This is what makes coupon withdrawal converge in one pass.
		e.remove(lc, result)
		return result, nil
	}

	winners, err := e.resolvePriority(candidates, lc)
	if err != nil {
		return nil, err
	}

	// Rules applied earlier that did not survive this pass are removed
	// before the survivors are applied.
	e.removeStale(lc, winners, result)

	if mode == domain.ModeValidate {
		for _, r := range winners {
			result.Applied(r.ID)
		}
		return result, nil
	}

	for i := range winners {
		if err := e.apply(ctx, cache, &winners[i], result, lc); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// remove transitions every previously applied rule on the line to removed,
// resetting price adjustments and marking generated free lines for the
// caller to reconcile away.
func (e *Engine) remove(lc *domain.OrderLineContext, result *domain.ResolutionResult) {
	result.RemovedRuleIDs = append(result.RemovedRuleIDs, lc.AppliedRuleIDs...)
	result.ClearDiscounts()
	result.HasPricingRule = false
	result.AppliedRuleIDs = nil
	if len(result.RemovedRuleIDs) > 0 {
		e.logger.Debug("pricing rules removed",
			slog.String("item_code", lc.ItemCode),
			slog.Any("rule_ids", result.RemovedRuleIDs),
		)
	}
}

// removeStale flags previously applied rules that are absent from the
// winning set.
func (e *Engine) removeStale(lc *domain.OrderLineContext, winners []domain.Rule, result *domain.ResolutionResult) {
	winning := make(map[string]struct{}, len(winners))
	for _, r := range winners {
		winning[r.ID] = struct{}{}
	}
	for _, id := range lc.AppliedRuleIDs {
		if _, ok := winning[id]; !ok {
			result.RemovedRuleIDs = append(result.RemovedRuleIDs, id)
		}
	}
}

// enrichContext fills catalog-derived fields the caller left blank.
func (e *Engine) enrichContext(ctx context.Context, cache *batchCache, lc *domain.OrderLineContext) error {
	if lc.ItemGroup != "" && lc.Brand != "" && lc.StockUOM != "" {
		return nil
	}
	info, err := cache.item(ctx, lc.ItemCode)
	if err != nil {
		return fmt.Errorf("resolve item %s: %w", lc.ItemCode, err)
	}
	if lc.ItemGroup == "" {
		lc.ItemGroup = info.ItemGroup
	}
	if lc.Brand == "" {
		lc.Brand = info.Brand
	}
	if lc.StockUOM == "" {
		lc.StockUOM = info.StockUOM
	}
	return nil
}
