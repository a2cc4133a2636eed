package domain

import "errors"

// Domain sentinel errors. Handlers translate these into HTTP status codes
// through pkg/errors.
var (
	ErrInvalidRule      = errors.New("invalid pricing rule")
	ErrInvalidCoupon    = errors.New("invalid coupon")
	ErrRuleConflict     = errors.New("multiple pricing rules conflict")
	ErrCouponExhausted  = errors.New("coupon usage cap exhausted")
	ErrCouponExpired    = errors.New("coupon expired")
	ErrCouponNotStarted = errors.New("coupon not yet valid")
)
