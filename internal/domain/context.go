package domain

import (
	"fmt"
	"time"
)

// Evaluation mode constants.
const (
	ModeApply    = "apply"
	ModeValidate = "validate"
	ModeRemove   = "remove"
)

// ValidMode reports whether the given evaluation mode is known.
func ValidMode(v string) bool {
	switch v {
	case ModeApply, ModeValidate, ModeRemove:
		return true
	}
	return false
}

// OrderLineContext carries everything the resolution pipeline needs to
// price one order line. It is built fresh per evaluation and discarded
// after the caller consumes the result.
type OrderLineContext struct {
	ItemCode  string `json:"item_code"`
	ItemGroup string `json:"item_group,omitempty"`
	Brand     string `json:"brand,omitempty"`

	Qty              float64 `json:"qty"`
	StockQty         float64 `json:"stock_qty,omitempty"`
	UOM              string  `json:"uom,omitempty"`
	StockUOM         string  `json:"stock_uom,omitempty"`
	ConversionFactor float64 `json:"conversion_factor,omitempty"`

	PriceListRate float64 `json:"price_list_rate"`
	Rate          float64 `json:"rate,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	PriceList     string  `json:"price_list,omitempty"`

	Direction     string `json:"direction"`
	Company       string `json:"company,omitempty"`
	Warehouse     string `json:"warehouse,omitempty"`
	Customer      string `json:"customer,omitempty"`
	CustomerGroup string `json:"customer_group,omitempty"`
	Territory     string `json:"territory,omitempty"`
	Supplier      string `json:"supplier,omitempty"`
	SupplierGroup string `json:"supplier_group,omitempty"`
	SalesPartner  string `json:"sales_partner,omitempty"`
	Campaign      string `json:"campaign,omitempty"`

	TransactionDate time.Time  `json:"transaction_date"`
	PriceDate       *time.Time `json:"price_date,omitempty"`

	// OrderID references the parent document when one exists. Evaluations
	// outside a concrete order (catalog previews) leave it blank.
	OrderID string `json:"order_id,omitempty"`

	// Origin records how the line entered the order, for rules limited to
	// a channel. Blank is treated as a-la-carte.
	Origin string `json:"origin,omitempty"`

	// CouponAware marks contexts built from documents that carry coupons.
	// Such contexts must supply CouponCodes, even when the list is empty,
	// so the coupon gate can tell "no coupons" from "coupons unknown".
	CouponAware bool     `json:"coupon_aware,omitempty"`
	CouponCodes []string `json:"coupon_codes,omitempty"`

	// AppliedRuleIDs lists rules a previous evaluation attached to this
	// line, consulted by validate and remove passes.
	AppliedRuleIDs []string `json:"applied_rule_ids,omitempty"`

	// Preview marks shopping-cart style evaluations where an ambiguous
	// winner is tolerated instead of surfaced as a conflict.
	Preview bool `json:"preview,omitempty"`

	// IgnorePricingRules forces the removal path regardless of candidates.
	IgnorePricingRules bool `json:"ignore_pricing_rules,omitempty"`
}

// EffectiveStockQty returns the quantity in stock units, deriving it from
// qty and conversion factor when the caller did not supply it.
func (c *OrderLineContext) EffectiveStockQty() float64 {
	if c.StockQty > 0 {
		return c.StockQty
	}
	factor := c.ConversionFactor
	if factor <= 0 {
		factor = 1
	}
	return c.Qty * factor
}

// EffectivePriceDate returns the date used for price-window checks,
// falling back to the transaction date.
func (c *OrderLineContext) EffectivePriceDate() time.Time {
	if c.PriceDate != nil {
		return *c.PriceDate
	}
	return c.TransactionDate
}

// Amount returns the line amount used for min/max amount gating.
func (c *OrderLineContext) Amount() float64 {
	return c.Qty * c.PriceListRate
}

// Validate rejects contexts missing mandatory field combinations before
// they enter the pipeline.
func (c *OrderLineContext) Validate() error {
	if c.ItemCode == "" {
		return fmt.Errorf("%w: item_code is required", ErrInvalidRule)
	}
	if c.Direction != DirectionSelling && c.Direction != DirectionBuying {
		return fmt.Errorf("%w: direction must be selling or buying", ErrInvalidRule)
	}
	if c.Qty < 0 {
		return fmt.Errorf("%w: qty cannot be negative", ErrInvalidRule)
	}
	if c.TransactionDate.IsZero() {
		return fmt.Errorf("%w: transaction_date is required", ErrInvalidRule)
	}
	if c.CouponAware && c.CouponCodes == nil {
		return fmt.Errorf("%w: coupon-aware contexts must supply a coupon list, even if empty", ErrInvalidRule)
	}
	return nil
}
