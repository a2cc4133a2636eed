package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCoupon() *Coupon {
	return &Coupon{
		Name:    "Summer Promo",
		Type:    CouponTypePromotional,
		RuleIDs: []string{"rule-1"},
	}
}

// ============================================================================
// Code Normalization Tests
// ============================================================================

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SUMMER10", NormalizeCode("  summer 10 "))
	assert.Equal(t, "ABC", NormalizeCode("abc"))
	assert.Equal(t, "", NormalizeCode("   "))
}

func TestGenerateGiftCardCode(t *testing.T) {
	code := GenerateGiftCardCode()
	assert.Len(t, code, 10)
	assert.Equal(t, NormalizeCode(code), code)
	assert.NotEqual(t, code, GenerateGiftCardCode())
}

// ============================================================================
// Coupon Validate Tests
// ============================================================================

func TestCouponValidate_PromotionalDerivesCodeFromName(t *testing.T) {
	c := validCoupon()
	require.NoError(t, c.Validate())
	assert.Equal(t, "SUMMERPROMO", c.Code)
}

func TestCouponValidate_GiftCardGeneratesCode(t *testing.T) {
	c := validCoupon()
	c.Type = CouponTypeGiftCard
	require.NoError(t, c.Validate())
	assert.Len(t, c.Code, 10)
}

func TestCouponValidate_ExplicitCodeNormalized(t *testing.T) {
	c := validCoupon()
	c.Code = " save 20 "
	require.NoError(t, c.Validate())
	assert.Equal(t, "SAVE20", c.Code)
}

func TestCouponValidate_MissingName(t *testing.T) {
	c := validCoupon()
	c.Name = ""
	assert.ErrorIs(t, c.Validate(), ErrInvalidCoupon)
}

func TestCouponValidate_UnknownType(t *testing.T) {
	c := validCoupon()
	c.Type = "loyalty"
	assert.ErrorIs(t, c.Validate(), ErrInvalidCoupon)
}

func TestCouponValidate_NoLinkedRulesAllowed(t *testing.T) {
	c := validCoupon()
	c.RuleIDs = nil
	assert.NoError(t, c.Validate())
}

func TestCouponValidate_DuplicateLinkedRule(t *testing.T) {
	c := validCoupon()
	c.RuleIDs = []string{"rule-1", "rule-2", "rule-1"}
	assert.ErrorIs(t, c.Validate(), ErrInvalidCoupon)
}

func TestCouponValidate_EmptyLinkedRuleID(t *testing.T) {
	c := validCoupon()
	c.RuleIDs = []string{""}
	assert.ErrorIs(t, c.Validate(), ErrInvalidCoupon)
}

func TestCouponValidate_NegativeMaximumUse(t *testing.T) {
	c := validCoupon()
	c.MaximumUse = -1
	assert.ErrorIs(t, c.Validate(), ErrInvalidCoupon)
}

func TestCouponValidate_DatesOutOfOrder(t *testing.T) {
	c := validCoupon()
	c.ValidFrom = datePtr("2026-06-30")
	c.ValidUpto = datePtr("2026-01-01")
	assert.ErrorIs(t, c.Validate(), ErrInvalidCoupon)
}

// ============================================================================
// Redeemability Tests
// ============================================================================

func TestCheckRedeemable_WithinWindowAndCap(t *testing.T) {
	c := &Coupon{
		Code:       "SAVE10",
		ValidFrom:  datePtr("2026-01-01"),
		ValidUpto:  datePtr("2026-12-31"),
		MaximumUse: 5,
		Used:       4,
	}
	assert.NoError(t, c.CheckRedeemable(*datePtr("2026-06-15")))
}

func TestCheckRedeemable_BeforeWindow(t *testing.T) {
	c := &Coupon{Code: "SAVE10", ValidFrom: datePtr("2026-06-01")}
	assert.ErrorIs(t, c.CheckRedeemable(*datePtr("2026-05-31")), ErrCouponNotStarted)
}

func TestCheckRedeemable_AfterWindow(t *testing.T) {
	c := &Coupon{Code: "SAVE10", ValidUpto: datePtr("2026-05-31")}
	assert.ErrorIs(t, c.CheckRedeemable(*datePtr("2026-06-01")), ErrCouponExpired)
}

func TestCheckRedeemable_CapExhausted(t *testing.T) {
	c := &Coupon{Code: "SAVE10", MaximumUse: 3, Used: 3}
	assert.ErrorIs(t, c.CheckRedeemable(*datePtr("2026-06-01")), ErrCouponExhausted)
}

func TestCheckRedeemable_ZeroCapMeansUnlimited(t *testing.T) {
	c := &Coupon{Code: "SAVE10", MaximumUse: 0, Used: 10000}
	assert.NoError(t, c.CheckRedeemable(*datePtr("2026-06-01")))
}

// ============================================================================
// Multi-Coupon Tests
// ============================================================================

func TestMultiCouponValidate_RequiresTwoMembers(t *testing.T) {
	m := &MultiCoupon{Name: "Bundle", Codes: []string{"A"}}
	assert.ErrorIs(t, m.Validate(), ErrInvalidCoupon)
}

func TestMultiCouponValidate_NormalizesAndRejectsDuplicates(t *testing.T) {
	m := &MultiCoupon{Name: "Bundle", Codes: []string{"save 10", "SAVE20"}}
	require.NoError(t, m.Validate())
	assert.Equal(t, []string{"SAVE10", "SAVE20"}, m.Codes)

	m = &MultiCoupon{Name: "Bundle", Codes: []string{"save10", "SAVE10"}}
	assert.ErrorIs(t, m.Validate(), ErrInvalidCoupon)
}
