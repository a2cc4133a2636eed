package engine

import (
	"context"

	"github.com/orchardlane/pricing/internal/repository"
)

// batchCache memoizes the repository lookups that repeat across the lines
// of one order: hierarchy closures, catalog metadata, conversion factors,
// and order history. It is scoped to a single evaluation batch and is not
// safe for concurrent use; each batch gets its own.
type batchCache struct {
	items   ItemSource
	trees   HierarchySource
	history HistorySource

	itemInfo    map[string]*repository.ItemInfo
	ancestors   map[string][]string
	descendants map[string][]string
	factors     map[string]float64
	orders      map[string][]repository.OrderRef
	totals      map[string]lineTotal
}

// lineTotal accumulates quantity and amount across the lines of one batch,
// keyed per dimension value, for mixed-conditions threshold checks.
type lineTotal struct {
	qty    float64
	amount float64
}

func newBatchCache(items ItemSource, trees HierarchySource, history HistorySource) *batchCache {
	return &batchCache{
		items:       items,
		trees:       trees,
		history:     history,
		itemInfo:    make(map[string]*repository.ItemInfo),
		ancestors:   make(map[string][]string),
		descendants: make(map[string][]string),
		factors:     make(map[string]float64),
		orders:      make(map[string][]repository.OrderRef),
		totals:      make(map[string]lineTotal),
	}
}

func totalKey(dim, value string) string {
	return dim + "\x00" + value
}

// addLineTotals folds one line into the per-dimension batch totals.
func (c *batchCache) addLineTotals(dim, value string, qty, amount float64) {
	if value == "" {
		return
	}
	key := totalKey(dim, value)
	t := c.totals[key]
	t.qty += qty
	t.amount += amount
	c.totals[key] = t
}

// batchTotals sums the batch-wide quantity and amount over the given
// dimension values. ok is false when no line in the batch touched any of
// them.
func (c *batchCache) batchTotals(dim string, values []string) (float64, float64, bool) {
	var qty, amount float64
	found := false
	for _, v := range values {
		if t, ok := c.totals[totalKey(dim, v)]; ok {
			qty += t.qty
			amount += t.amount
			found = true
		}
	}
	return qty, amount, found
}

func (c *batchCache) item(ctx context.Context, code string) (*repository.ItemInfo, error) {
	if info, ok := c.itemInfo[code]; ok {
		return info, nil
	}
	info, err := c.items.GetItem(ctx, code)
	if err != nil {
		return nil, err
	}
	c.itemInfo[code] = info
	return info, nil
}

func (c *batchCache) treeAncestors(ctx context.Context, tree, node string) ([]string, error) {
	key := tree + "\x00" + node
	if closure, ok := c.ancestors[key]; ok {
		return closure, nil
	}
	closure, err := c.trees.Ancestors(ctx, tree, node)
	if err != nil {
		return nil, err
	}
	c.ancestors[key] = closure
	return closure, nil
}

func (c *batchCache) treeDescendants(ctx context.Context, tree, node string) ([]string, error) {
	key := tree + "\x00" + node
	if closure, ok := c.descendants[key]; ok {
		return closure, nil
	}
	closure, err := c.trees.Descendants(ctx, tree, node)
	if err != nil {
		return nil, err
	}
	c.descendants[key] = closure
	return closure, nil
}

func (c *batchCache) conversionFactor(ctx context.Context, itemCode, uom string) (float64, error) {
	key := itemCode + "\x00" + uom
	if factor, ok := c.factors[key]; ok {
		return factor, nil
	}
	factor, err := c.items.ConversionFactor(ctx, itemCode, uom)
	if err != nil {
		return 0, err
	}
	c.factors[key] = factor
	return factor, nil
}

func (c *batchCache) qualifyingOrders(ctx context.Context, customer string) ([]repository.OrderRef, error) {
	if orders, ok := c.orders[customer]; ok {
		return orders, nil
	}
	orders, err := c.history.QualifyingOrders(ctx, customer)
	if err != nil {
		return nil, err
	}
	c.orders[customer] = orders
	return orders, nil
}
