package domain

// FreeItemLine describes a line the caller should add to the order to
// fulfil a product-mode rule. The engine never inserts lines itself.
type FreeItemLine struct {
	RuleID       string  `json:"rule_id"`
	ItemCode     string  `json:"item_code"`
	Qty          float64 `json:"qty"`
	Rate         float64 `json:"rate"`
	UOM          string  `json:"uom,omitempty"`
	IsFreeItem   bool    `json:"is_free_item"`
	// PendingDelete marks a previously generated free line that the caller
	// must reconcile away after the owning rule was removed.
	PendingDelete bool `json:"pending_delete,omitempty"`
}

// ResolutionResult accumulates the price adjustment produced by one
// evaluation pass over a single order line.
type ResolutionResult struct {
	LineID string `json:"line_id,omitempty"`

	HasPricingRule bool     `json:"has_pricing_rule"`
	AppliedRuleIDs []string `json:"applied_rule_ids,omitempty"`

	// PriceListRate is a full rate override, set only by rate-kind rules.
	// Nil means the caller's rate stands.
	PriceListRate *float64 `json:"price_list_rate,omitempty"`

	DiscountPercentage float64 `json:"discount_percentage"`
	DiscountAmount     float64 `json:"discount_amount"`

	MarginType         string  `json:"margin_type,omitempty"`
	MarginRateOrAmount float64 `json:"margin_rate_or_amount,omitempty"`

	FreeItems []FreeItemLine `json:"free_items,omitempty"`

	// RemovedRuleIDs lists rules this pass cleared from the line.
	RemovedRuleIDs []string `json:"removed_rule_ids,omitempty"`

	// Suggestion carries a near-miss message ("buy 2 more to qualify")
	// when a threshold rule almost applied.
	Suggestion string `json:"suggestion,omitempty"`
}

// Applied records a winning rule on the result.
func (r *ResolutionResult) Applied(ruleID string) {
	r.HasPricingRule = true
	r.AppliedRuleIDs = append(r.AppliedRuleIDs, ruleID)
}

// ClearDiscounts resets every price adjustment field, used by the removal
// path. Free items are marked for deletion rather than dropped so the
// caller can reconcile order lines.
func (r *ResolutionResult) ClearDiscounts() {
	r.PriceListRate = nil
	r.DiscountPercentage = 0
	r.DiscountAmount = 0
	r.MarginType = ""
	r.MarginRateOrAmount = 0
	for i := range r.FreeItems {
		r.FreeItems[i].PendingDelete = true
	}
}
