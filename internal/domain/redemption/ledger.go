// Package redemption defines the coupon redemption ledger: the one
// contended, atomically-guarded write path of the engine. Everything the
// validator checks beforehand is advisory; only the ledger enforces usage
// limits under concurrent checkouts.
package redemption

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Redemption errors. The caller treats all three as "discount no longer
// applies, re-price the order", never as fatal.
var (
	// ErrLimitExceeded is returned when the limitation guard no longer
	// holds at write time.
	ErrLimitExceeded = errors.New("discount usage limit exceeded")
	// ErrCouponAlreadyUsed is returned when losing the race for a
	// single-use coupon.
	ErrCouponAlreadyUsed = errors.New("coupon already used")
	// ErrNotFound is returned for an unknown discount or coupon code.
	ErrNotFound = errors.New("discount or coupon not found")
)

// RedeemRequest identifies one redemption attempt.
type RedeemRequest struct {
	DiscountID int64
	// CouponCode is empty for discounts that do not require a coupon.
	CouponCode string
	CustomerID string
	OrderID    string
}

// Reservation confirms a recorded redemption.
type Reservation struct {
	UsageID    int64
	DiscountID int64
	CouponCode string
	OrderID    string
	CreatedAt  time.Time
}

// Ledger records redemptions atomically. TryRedeem re-checks the
// limitation rule against the current usage count and, for coupon-bearing
// discounts, conditionally transitions the coupon's Used flag as one
// atomic unit, succeeding only if every guard still holds at write time.
//
// TryRedeem is idempotent per order: a second call for an order that
// already holds a non-canceled usage row for the discount is a no-op
// success. Redemptions for the same discount serialize on the atomic
// guard; different discounts are independent.
type Ledger interface {
	TryRedeem(ctx context.Context, req RedeemRequest) (*Reservation, error)
	// Cancel marks all of the order's usage rows canceled and releases
	// single-use coupons, making them redeemable again.
	Cancel(ctx context.Context, orderID string) error
}
