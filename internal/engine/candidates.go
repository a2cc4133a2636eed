package engine

import (
	"context"
	"fmt"

	"github.com/orchardlane/pricing/internal/domain"
	"github.com/orchardlane/pricing/internal/repository"
)

// dimensionOrder is the scan order across apply-on dimensions. It is load
// bearing: the scan stops at the first dimension that yields candidates
// unless all of them opt into multi-apply or the first declares a
// priority, so an item-code rule shadows an item-group rule by
// construction.
var dimensionOrder = []string{
	domain.ApplyOnItemCode,
	domain.ApplyOnItemGroup,
	domain.ApplyOnBrand,
}

// collectCandidates runs the dimension scan and returns every rule that
// could apply to the line before condition and threshold filtering.
func (e *Engine) collectCandidates(ctx context.Context, cache *batchCache, lc *domain.OrderLineContext) ([]domain.Rule, error) {
	base, err := e.buildBaseQuery(ctx, cache, lc)
	if err != nil {
		return nil, err
	}

	var candidates []domain.Rule
	for _, dim := range dimensionOrder {
		values, err := e.dimensionValues(ctx, cache, lc, dim)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			continue
		}

		q := base
		q.ApplyOn = dim
		q.Values = values

		rules, err := e.rules.FindCandidates(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("find candidates on %s: %w", dim, err)
		}
		candidates = append(candidates, rules...)

		if len(candidates) > 0 && !scanContinues(candidates) {
			break
		}
	}

	return candidates, nil
}

// scanContinues reports whether later dimensions still need to be scanned
// after this one produced candidates: yes when the first hit declares an
// explicit priority to compete on, or when every collected rule stacks
// with others. A single non-stacking rule ends the scan.
func scanContinues(found []domain.Rule) bool {
	if found[0].HasExplicitPriority() {
		return true
	}
	for _, r := range found {
		if !r.ApplyMultiple {
			return false
		}
	}
	return true
}

// dimensionValues returns the lookup values for one dimension, including
// hierarchy closure for item groups.
func (e *Engine) dimensionValues(ctx context.Context, cache *batchCache, lc *domain.OrderLineContext, dim string) ([]string, error) {
	switch dim {
	case domain.ApplyOnItemCode:
		return []string{lc.ItemCode}, nil
	case domain.ApplyOnItemGroup:
		if lc.ItemGroup == "" {
			return nil, nil
		}
		return cache.treeAncestors(ctx, repository.TreeItemGroup, lc.ItemGroup)
	case domain.ApplyOnBrand:
		if lc.Brand == "" {
			return nil, nil
		}
		return []string{lc.Brand}, nil
	}
	return nil, nil
}

// buildBaseQuery assembles the dimension-independent parts of the candidate
// query, expanding hierarchy closures for party trees and the warehouse.
func (e *Engine) buildBaseQuery(ctx context.Context, cache *batchCache, lc *domain.OrderLineContext) (repository.CandidateQuery, error) {
	q := repository.CandidateQuery{
		Direction:       lc.Direction,
		TransactionDate: lc.TransactionDate,
		PriceDate:       lc.EffectivePriceDate(),
		Company:         lc.Company,
		Customer:        lc.Customer,
		Supplier:        lc.Supplier,
		SalesPartner:    lc.SalesPartner,
		Campaign:        lc.Campaign,
		PriceList:       lc.PriceList,
	}

	var err error
	if lc.CustomerGroup != "" {
		if q.CustomerGroup, err = cache.treeAncestors(ctx, repository.TreeCustomerGroup, lc.CustomerGroup); err != nil {
			return q, fmt.Errorf("customer group closure: %w", err)
		}
	}
	if lc.Territory != "" {
		if q.Territory, err = cache.treeAncestors(ctx, repository.TreeTerritory, lc.Territory); err != nil {
			return q, fmt.Errorf("territory closure: %w", err)
		}
	}
	if lc.SupplierGroup != "" {
		if q.SupplierGroup, err = cache.treeAncestors(ctx, repository.TreeSupplierGroup, lc.SupplierGroup); err != nil {
			return q, fmt.Errorf("supplier group closure: %w", err)
		}
	}
	if lc.Warehouse != "" {
		// A rule scoped to a parent warehouse covers every warehouse
		// beneath it.
		if q.Warehouses, err = cache.treeAncestors(ctx, repository.TreeWarehouse, lc.Warehouse); err != nil {
			return q, fmt.Errorf("warehouse closure: %w", err)
		}
	}

	return q, nil
}
