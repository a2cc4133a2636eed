package domain

import (
	"fmt"
	"regexp"
	"time"
)

// Apply-on dimension constants. A rule targets exactly one dimension.
const (
	ApplyOnItemCode    = "item_code"
	ApplyOnItemGroup   = "item_group"
	ApplyOnBrand       = "brand"
	ApplyOnTransaction = "transaction"
)

// Transaction direction constants.
const (
	DirectionSelling = "selling"
	DirectionBuying  = "buying"
)

// Price-or-product discount mode constants.
const (
	DiscountModePrice   = "price"
	DiscountModeProduct = "product"
)

// Rate-or-discount kind constants for price-mode rules.
const (
	RateKindRate               = "rate"
	RateKindDiscountPercentage = "discount_percentage"
	RateKindDiscountAmount     = "discount_amount"
)

// Margin type constants.
const (
	MarginTypePercentage = "percentage"
	MarginTypeAmount     = "amount"
)

// Origin restriction constants. A rule may be limited to lines that entered
// the order through a particular channel.
const (
	OriginAll          = "all"
	OriginSubscription = "subscription"
	OriginALaCarte     = "a_la_carte"
)

// ValidApplyOn reports whether the given apply-on dimension is known.
func ValidApplyOn(v string) bool {
	switch v {
	case ApplyOnItemCode, ApplyOnItemGroup, ApplyOnBrand, ApplyOnTransaction:
		return true
	}
	return false
}

// ValidRateKind reports whether the given rate-or-discount kind is known.
func ValidRateKind(v string) bool {
	switch v {
	case RateKindRate, RateKindDiscountPercentage, RateKindDiscountAmount:
		return true
	}
	return false
}

// Rule is a pricing rule: the immutable unit of discount/promotion
// configuration the engine selects from. Rules are read-only during an
// evaluation pass; the engine never mutates them.
type Rule struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Disabled  bool      `json:"disabled"`
	Selling   bool      `json:"selling"`
	Buying    bool      `json:"buying"`
	Company   string    `json:"company,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Targeting. ApplyOn selects the dimension; the matching list holds the
	// dimension values the rule covers. Item-group targets include all
	// descendant groups via hierarchy closure at lookup time.
	ApplyOn    string   `json:"apply_on"`
	Items      []string `json:"items,omitempty"`
	ItemGroups []string `json:"item_groups,omitempty"`
	Brands     []string `json:"brands,omitempty"`

	// ApplyRuleOnOther lets a rule whose primary dimension is, say, brand
	// still match through a secondary dimension. Empty when unused.
	ApplyRuleOnOther string `json:"apply_rule_on_other,omitempty"`
	OtherItemCode    string `json:"other_item_code,omitempty"`
	OtherItemGroup   string `json:"other_item_group,omitempty"`
	OtherBrand       string `json:"other_brand,omitempty"`

	// Party scoping. Blank fields match anything.
	Customer      string `json:"customer,omitempty"`
	CustomerGroup string `json:"customer_group,omitempty"`
	Territory     string `json:"territory,omitempty"`
	Supplier      string `json:"supplier,omitempty"`
	SupplierGroup string `json:"supplier_group,omitempty"`
	SalesPartner  string `json:"sales_partner,omitempty"`
	Campaign      string `json:"campaign,omitempty"`

	// Scoping.
	PriceList string `json:"price_list,omitempty"`
	Warehouse string `json:"warehouse,omitempty"`
	Currency  string `json:"currency,omitempty"`

	// Thresholds. Quantities are compared in stock units after UOM
	// conversion; zero means unbounded.
	MinQty    float64 `json:"min_qty"`
	MaxQty    float64 `json:"max_qty"`
	MinAmount float64 `json:"min_amount"`
	MaxAmount float64 `json:"max_amount"`
	UOM       string  `json:"uom,omitempty"`

	// ThresholdPercentage enables near-miss suggestions: if the line falls
	// short of (or exceeds) a bound by no more than this percentage, the
	// engine surfaces an informational message instead of applying.
	ThresholdPercentage float64 `json:"threshold_percentage,omitempty"`

	// Validity windows. The transaction date must fall inside
	// [ValidFrom, ValidUpto]; the price date inside the price window.
	// Nil bounds are open.
	ValidFrom      *time.Time `json:"valid_from,omitempty"`
	ValidUpto      *time.Time `json:"valid_upto,omitempty"`
	PriceValidFrom *time.Time `json:"price_valid_from,omitempty"`
	PriceValidUpto *time.Time `json:"price_valid_upto,omitempty"`

	// Priority orders surviving candidates. Zero means unset and is treated
	// as 1 everywhere.
	Priority int `json:"priority,omitempty"`

	// Discount shape.
	PriceOrProduct      string  `json:"price_or_product"`
	RateOrDiscount      string  `json:"rate_or_discount,omitempty"`
	Rate                float64 `json:"rate,omitempty"`
	DiscountPercentage  float64 `json:"discount_percentage,omitempty"`
	DiscountAmount      float64 `json:"discount_amount,omitempty"`
	ApplyDiscountOnRate bool    `json:"apply_discount_on_rate,omitempty"`
	MarginType          string  `json:"margin_type,omitempty"`
	MarginRateOrAmount  float64 `json:"margin_rate_or_amount,omitempty"`

	// Product-mode (free item) fields.
	FreeItem           string  `json:"free_item,omitempty"`
	SameItem           bool    `json:"same_item,omitempty"`
	FreeQty            float64 `json:"free_qty,omitempty"`
	FreeItemRate       float64 `json:"free_item_rate,omitempty"`
	FreeItemUOM        string  `json:"free_item_uom,omitempty"`
	RoundFreeQty       bool    `json:"round_free_qty,omitempty"`
	IsRecursive        bool    `json:"is_recursive,omitempty"`
	RecurseFor         float64 `json:"recurse_for,omitempty"`
	ApplyRecursionOver float64 `json:"apply_recursion_over,omitempty"`

	// Behavior flags.
	CouponBased         bool   `json:"coupon_based,omitempty"`
	ApplyMultiple       bool   `json:"apply_multiple,omitempty"`
	IsCumulative        bool   `json:"is_cumulative,omitempty"`
	MixedConditions     bool   `json:"mixed_conditions,omitempty"`
	ValidateAppliedRule bool   `json:"validate_applied_rule,omitempty"`
	Condition           string `json:"condition,omitempty"`

	// Order-position gating.
	NthOrderOnly  int    `json:"nth_order_only,omitempty"`
	FirstNOrders  int    `json:"first_n_orders,omitempty"`
	LimitToOrigin string `json:"limit_to_origin,omitempty"`
}

// assignmentRe catches a single "=" used where a comparison was intended,
// e.g. `customer_group = 'Wholesale'`. Conditions are boolean expressions;
// assignment is always an authoring mistake.
var assignmentRe = regexp.MustCompile(`[\w.:_]+\s*=[^=]\s*[\w.@'"]+`)

// EffectivePriority returns the rule's priority, defaulting unset (zero)
// to 1.
func (r *Rule) EffectivePriority() int {
	if r.Priority == 0 {
		return 1
	}
	return r.Priority
}

// HasExplicitPriority reports whether a priority was declared on the rule.
func (r *Rule) HasExplicitPriority() bool {
	return r.Priority > 0
}

// TargetValues returns the list of dimension values the rule covers for its
// primary apply-on dimension.
func (r *Rule) TargetValues() []string {
	switch r.ApplyOn {
	case ApplyOnItemCode:
		return r.Items
	case ApplyOnItemGroup:
		return r.ItemGroups
	case ApplyOnBrand:
		return r.Brands
	}
	return nil
}

// OtherTargetValue returns the secondary dimension value configured through
// ApplyRuleOnOther, or "" when the escape hatch is unused.
func (r *Rule) OtherTargetValue() string {
	switch r.ApplyRuleOnOther {
	case ApplyOnItemCode:
		return r.OtherItemCode
	case ApplyOnItemGroup:
		return r.OtherItemGroup
	case ApplyOnBrand:
		return r.OtherBrand
	}
	return ""
}

// AppliesToDirection reports whether the rule is enabled for the given
// transaction direction.
func (r *Rule) AppliesToDirection(direction string) bool {
	switch direction {
	case DirectionSelling:
		return r.Selling
	case DirectionBuying:
		return r.Buying
	}
	return false
}

// InValidityWindow reports whether the transaction date falls inside the
// rule's validity window. Nil bounds are open.
func (r *Rule) InValidityWindow(txDate time.Time) bool {
	return inWindow(txDate, r.ValidFrom, r.ValidUpto)
}

// InPriceWindow reports whether the price date falls inside the rule's
// price validity window.
func (r *Rule) InPriceWindow(priceDate time.Time) bool {
	return inWindow(priceDate, r.PriceValidFrom, r.PriceValidUpto)
}

func inWindow(d time.Time, from, upto *time.Time) bool {
	if from != nil && d.Before(*from) {
		return false
	}
	if upto != nil && d.After(*upto) {
		return false
	}
	return true
}

// Validate runs the authoring-time validation battery. A rule that fails
// here must never reach the evaluation pipeline; structurally invalid rules
// discovered mid-evaluation are programmer errors.
func (r *Rule) Validate() error {
	if r.Title == "" {
		return fmt.Errorf("%w: rule title is required", ErrInvalidRule)
	}
	if !ValidApplyOn(r.ApplyOn) {
		return fmt.Errorf("%w: unknown apply_on %q", ErrInvalidRule, r.ApplyOn)
	}
	if err := r.validateTargets(); err != nil {
		return err
	}
	if !r.Selling && !r.Buying {
		return fmt.Errorf("%w: at least one of selling or buying must be set", ErrInvalidRule)
	}
	if r.Buying && !r.Selling && (r.Customer != "" || r.CustomerGroup != "" || r.Territory != "" || r.SalesPartner != "" || r.Campaign != "") {
		return fmt.Errorf("%w: selling must be set when a customer-side party is configured", ErrInvalidRule)
	}
	if r.Selling && !r.Buying && (r.Supplier != "" || r.SupplierGroup != "") {
		return fmt.Errorf("%w: buying must be set when a supplier-side party is configured", ErrInvalidRule)
	}
	if r.MinQty > 0 && r.MaxQty > 0 && r.MinQty > r.MaxQty {
		return fmt.Errorf("%w: min qty cannot exceed max qty", ErrInvalidRule)
	}
	if r.MinAmount > 0 && r.MaxAmount > 0 && r.MinAmount > r.MaxAmount {
		return fmt.Errorf("%w: min amount cannot exceed max amount", ErrInvalidRule)
	}
	if err := r.validateDiscount(); err != nil {
		return err
	}
	if err := r.validateDates(); err != nil {
		return err
	}
	if r.UOM != "" && r.ApplyOn != ApplyOnItemCode {
		return fmt.Errorf("%w: a UOM can only be set on item-code rules", ErrInvalidRule)
	}
	if r.Condition != "" && assignmentRe.MatchString(r.Condition) {
		return fmt.Errorf("%w: condition contains an assignment, use == for comparison", ErrInvalidRule)
	}
	if r.NthOrderOnly > 0 && r.FirstNOrders > 0 {
		return fmt.Errorf("%w: nth_order_only and first_n_orders cannot both be set", ErrInvalidRule)
	}
	if r.LimitToOrigin != "" && r.LimitToOrigin != OriginAll &&
		r.LimitToOrigin != OriginSubscription && r.LimitToOrigin != OriginALaCarte {
		return fmt.Errorf("%w: unknown limit_to_origin %q", ErrInvalidRule, r.LimitToOrigin)
	}
	return nil
}

func (r *Rule) validateTargets() error {
	switch r.ApplyOn {
	case ApplyOnItemCode:
		if len(r.Items) == 0 {
			return fmt.Errorf("%w: item-code rules require at least one item", ErrInvalidRule)
		}
		if hasDuplicates(r.Items) {
			return fmt.Errorf("%w: duplicate item in targets", ErrInvalidRule)
		}
	case ApplyOnItemGroup:
		if len(r.ItemGroups) == 0 {
			return fmt.Errorf("%w: item-group rules require at least one item group", ErrInvalidRule)
		}
		if hasDuplicates(r.ItemGroups) {
			return fmt.Errorf("%w: duplicate item group in targets", ErrInvalidRule)
		}
	case ApplyOnBrand:
		if len(r.Brands) == 0 {
			return fmt.Errorf("%w: brand rules require at least one brand", ErrInvalidRule)
		}
		if hasDuplicates(r.Brands) {
			return fmt.Errorf("%w: duplicate brand in targets", ErrInvalidRule)
		}
	}
	if r.ApplyRuleOnOther != "" {
		if !ValidApplyOn(r.ApplyRuleOnOther) || r.ApplyRuleOnOther == ApplyOnTransaction {
			return fmt.Errorf("%w: unknown apply_rule_on_other %q", ErrInvalidRule, r.ApplyRuleOnOther)
		}
		if r.OtherTargetValue() == "" {
			return fmt.Errorf("%w: apply_rule_on_other requires the matching other_%s value", ErrInvalidRule, r.ApplyRuleOnOther)
		}
	}
	return nil
}

func (r *Rule) validateDiscount() error {
	switch r.PriceOrProduct {
	case DiscountModePrice:
		if !ValidRateKind(r.RateOrDiscount) {
			return fmt.Errorf("%w: price rules require a rate_or_discount kind", ErrInvalidRule)
		}
		if r.Rate < 0 {
			return fmt.Errorf("%w: rate cannot be negative", ErrInvalidRule)
		}
		if r.ApplyDiscountOnRate && r.Priority <= 1 {
			return fmt.Errorf("%w: apply_discount_on_rate requires a priority greater than 1", ErrInvalidRule)
		}
	case DiscountModeProduct:
		// A product rule with no free item implies the transacted item is
		// its own freebie, except under mixed conditions where there is no
		// single transacted item to fall back on.
		if r.FreeItem == "" && !r.SameItem {
			if r.MixedConditions {
				return fmt.Errorf("%w: product rules with mixed conditions require a free item", ErrInvalidRule)
			}
			r.SameItem = true
		}
		if r.RecurseFor < 0 || r.ApplyRecursionOver < 0 {
			return fmt.Errorf("%w: recursion fields cannot be negative", ErrInvalidRule)
		}
		if r.IsRecursive && r.RecurseFor <= 0 {
			return fmt.Errorf("%w: recursive rules require recurse_for", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown price_or_product %q", ErrInvalidRule, r.PriceOrProduct)
	}
	return nil
}

func (r *Rule) validateDates() error {
	if r.IsCumulative && (r.ValidFrom == nil || r.ValidUpto == nil) {
		return fmt.Errorf("%w: cumulative rules require both validity dates", ErrInvalidRule)
	}
	if r.ValidFrom != nil && r.ValidUpto != nil && r.ValidFrom.After(*r.ValidUpto) {
		return fmt.Errorf("%w: valid_from must not be after valid_upto", ErrInvalidRule)
	}
	if r.PriceValidFrom != nil && r.PriceValidUpto != nil && r.PriceValidFrom.After(*r.PriceValidUpto) {
		return fmt.Errorf("%w: price_valid_from must not be after price_valid_upto", ErrInvalidRule)
	}
	return nil
}

func hasDuplicates(values []string) bool {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			return true
		}
		seen[v] = struct{}{}
	}
	return false
}
