package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/orchardlane/pricing/internal/domain"
	apperrors "github.com/orchardlane/pricing/pkg/errors"
)

// filterByCoupon drops coupon-based candidates that are not enabled by the
// line's coupon set. It runs on every pass, including re-evaluation of
// lines that already carry the rule's effects, so withdrawing a coupon
// removes the rule instead of leaving it stuck on the order.
func (e *Engine) filterByCoupon(ctx context.Context, candidates []domain.Rule, lc *domain.OrderLineContext) ([]domain.Rule, error) {
	needsGate := false
	for _, r := range candidates {
		if r.CouponBased {
			needsGate = true
			break
		}
	}
	if !needsGate {
		return candidates, nil
	}

	enabled, err := e.enabledRuleIDs(ctx, lc)
	if err != nil {
		return nil, err
	}

	out := candidates[:0]
	for _, r := range candidates {
		if !r.CouponBased {
			out = append(out, r)
			continue
		}
		if _, ok := enabled[r.ID]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// enabledRuleIDs expands the line's coupon set through multi-coupon groups
// and returns the set of rule IDs those coupons unlock on the transaction
// date.
func (e *Engine) enabledRuleIDs(ctx context.Context, lc *domain.OrderLineContext) (map[string]struct{}, error) {
	codes, err := e.expandCouponCodes(ctx, lc.CouponCodes)
	if err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		return map[string]struct{}{}, nil
	}

	coupons, err := e.coupons.GetByCodes(ctx, codes)
	if err != nil {
		return nil, fmt.Errorf("resolve coupons: %w", err)
	}

	enabled := make(map[string]struct{}, len(coupons))
	for i := range coupons {
		c := &coupons[i]
		if err := c.CheckRedeemable(lc.TransactionDate); err != nil {
			e.logger.Debug("coupon not redeemable, skipped",
				slog.String("coupon_code", c.Code),
				slog.String("error", err.Error()),
			)
			continue
		}
		if c.Customer != "" && c.Customer != lc.Customer {
			continue
		}
		for _, id := range c.RuleIDs {
			enabled[id] = struct{}{}
		}
	}
	return enabled, nil
}

// expandCouponCodes normalizes the given codes and replaces multi-coupon
// group names with their member codes.
func (e *Engine) expandCouponCodes(ctx context.Context, raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	var codes []string
	add := func(code string) {
		if _, ok := seen[code]; ok {
			return
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	for _, r := range raw {
		code := domain.NormalizeCode(r)
		if code == "" {
			continue
		}
		group, err := e.coupons.GetMultiByName(ctx, code)
		switch {
		case err == nil:
			for _, member := range group.Codes {
				add(member)
			}
		case errors.Is(err, apperrors.ErrNotFound):
			add(code)
		default:
			return nil, fmt.Errorf("expand coupon %s: %w", code, err)
		}
	}
	return codes, nil
}
