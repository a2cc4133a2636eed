package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/orchardlane/pricing/internal/domain"
)

// ConflictError signals that more than one exclusive rule survived every
// narrowing step. Operators resolve it by assigning distinct priorities.
type ConflictError struct {
	RuleIDs []string
	Titles  []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("pricing rules %s conflict, assign distinct priorities to resolve", strings.Join(e.Titles, ", "))
}

func (e *ConflictError) Unwrap() error {
	return domain.ErrRuleConflict
}

// resolvePriority selects the winning rule set. When every survivor stacks,
// all of them win in priority order. Otherwise the set is narrowed to a
// single winner; in preview contexts an ambiguous narrowing takes the first
// survivor, elsewhere it is a conflict.
func (e *Engine) resolvePriority(candidates []domain.Rule, lc *domain.OrderLineContext) ([]domain.Rule, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	if allApplyMultiple(candidates) {
		ordered := append([]domain.Rule{}, candidates...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].EffectivePriority() < ordered[j].EffectivePriority()
		})
		return ordered, nil
	}

	survivors := candidates
	if len(survivors) > 1 && lc.Currency != "" {
		if filtered := matchingCurrency(survivors, lc.Currency); len(filtered) > 0 {
			survivors = filtered
		}
	}
	if len(survivors) > 1 {
		survivors = maxPriority(survivors)
	}
	if len(survivors) > 1 && lc.PriceList != "" {
		survivors = narrowByPriceList(survivors, lc.PriceList)
	}

	if len(survivors) == 1 {
		return survivors[:1], nil
	}

	if lc.Preview {
		return survivors[:1], nil
	}

	conflict := &ConflictError{}
	for _, r := range survivors {
		conflict.RuleIDs = append(conflict.RuleIDs, r.ID)
		conflict.Titles = append(conflict.Titles, r.Title)
	}
	return nil, conflict
}

func allApplyMultiple(rules []domain.Rule) bool {
	for _, r := range rules {
		if !r.ApplyMultiple {
			return false
		}
	}
	return true
}

func matchingCurrency(rules []domain.Rule, currency string) []domain.Rule {
	var out []domain.Rule
	for _, r := range rules {
		if r.Currency == currency {
			out = append(out, r)
		}
	}
	return out
}

func maxPriority(rules []domain.Rule) []domain.Rule {
	best := 0
	for _, r := range rules {
		if p := r.EffectivePriority(); p > best {
			best = p
		}
	}
	var out []domain.Rule
	for _, r := range rules {
		if r.EffectivePriority() == best {
			out = append(out, r)
		}
	}
	return out
}

// narrowByPriceList keeps only rules scoped to the order's price list when
// the survivors are all percent-off rules and more than one of them carries
// a price-list scope. Other shapes pass through untouched.
func narrowByPriceList(rules []domain.Rule, priceList string) []domain.Rule {
	scoped := 0
	for _, r := range rules {
		if r.RateOrDiscount != domain.RateKindDiscountPercentage {
			return rules
		}
		if r.PriceList != "" {
			scoped++
		}
	}
	if scoped < 2 {
		return rules
	}
	var out []domain.Rule
	for _, r := range rules {
		if r.PriceList == priceList {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return rules
	}
	return out
}
