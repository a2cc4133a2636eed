package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Coupon type constants.
const (
	CouponTypePromotional = "promotional"
	CouponTypeGiftCard    = "gift_card"
)

// Coupon ties a redeemable code to zero or more coupon-based pricing
// rules. MaximumUse of zero means unlimited redemptions.
type Coupon struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Code        string     `json:"code"`
	Type        string     `json:"type"`
	RuleIDs     []string   `json:"rule_ids,omitempty"`
	Customer    string     `json:"customer,omitempty"`
	ValidFrom   *time.Time `json:"valid_from,omitempty"`
	ValidUpto   *time.Time `json:"valid_upto,omitempty"`
	MaximumUse  int        `json:"maximum_use"`
	Used        int        `json:"used"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// MultiCoupon groups coupon codes so that an order can redeem the whole
// group through a single code. Groups require at least two members.
type MultiCoupon struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Codes     []string  `json:"codes"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeCode canonicalizes a coupon code for storage and lookup: spaces
// trimmed, interior whitespace removed, uppercased.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.Join(strings.Fields(code), ""))
}

// GenerateGiftCardCode returns a fresh random gift card code.
func GenerateGiftCardCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// Validate checks the coupon's authoring-time invariants and fills in the
// code for promotional coupons that left it blank.
func (c *Coupon) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: coupon name is required", ErrInvalidCoupon)
	}
	switch c.Type {
	case CouponTypePromotional:
		if c.Code == "" {
			c.Code = NormalizeCode(c.Name)
		}
	case CouponTypeGiftCard:
		if c.Code == "" {
			c.Code = GenerateGiftCardCode()
		}
	default:
		return fmt.Errorf("%w: unknown coupon type %q", ErrInvalidCoupon, c.Type)
	}
	c.Code = NormalizeCode(c.Code)
	linked := make(map[string]struct{}, len(c.RuleIDs))
	for _, id := range c.RuleIDs {
		if id == "" {
			return fmt.Errorf("%w: linked rule id cannot be empty", ErrInvalidCoupon)
		}
		if _, ok := linked[id]; ok {
			return fmt.Errorf("%w: duplicate linked rule %s", ErrInvalidCoupon, id)
		}
		linked[id] = struct{}{}
	}
	if c.MaximumUse < 0 {
		return fmt.Errorf("%w: maximum_use cannot be negative", ErrInvalidCoupon)
	}
	if c.ValidFrom != nil && c.ValidUpto != nil && c.ValidFrom.After(*c.ValidUpto) {
		return fmt.Errorf("%w: valid_from must not be after valid_upto", ErrInvalidCoupon)
	}
	return nil
}

// CheckRedeemable reports whether the coupon can be redeemed on the given
// date, returning the specific domain error when it cannot.
func (c *Coupon) CheckRedeemable(on time.Time) error {
	if c.ValidFrom != nil && on.Before(*c.ValidFrom) {
		return fmt.Errorf("%w: coupon %s is valid from %s", ErrCouponNotStarted, c.Code, c.ValidFrom.Format("2006-01-02"))
	}
	if c.ValidUpto != nil && on.After(*c.ValidUpto) {
		return fmt.Errorf("%w: coupon %s expired on %s", ErrCouponExpired, c.Code, c.ValidUpto.Format("2006-01-02"))
	}
	if c.MaximumUse > 0 && c.Used >= c.MaximumUse {
		return fmt.Errorf("%w: coupon %s", ErrCouponExhausted, c.Code)
	}
	return nil
}

// Validate checks the group's authoring-time invariants.
func (m *MultiCoupon) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: multi-coupon name is required", ErrInvalidCoupon)
	}
	if len(m.Codes) < 2 {
		return fmt.Errorf("%w: a multi-coupon needs at least two member codes", ErrInvalidCoupon)
	}
	seen := make(map[string]struct{}, len(m.Codes))
	for i, code := range m.Codes {
		m.Codes[i] = NormalizeCode(code)
		if _, ok := seen[m.Codes[i]]; ok {
			return fmt.Errorf("%w: duplicate member code %s", ErrInvalidCoupon, m.Codes[i])
		}
		seen[m.Codes[i]] = struct{}{}
	}
	return nil
}
