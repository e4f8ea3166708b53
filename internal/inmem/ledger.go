package inmem

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/redemption"
)

// TryRedeem records one redemption as an atomic unit under the store
// mutex: idempotency check, coupon guard, fresh limitation recount, and
// the usage insert all happen while no other redemption can interleave.
func (s *Store) TryRedeem(_ context.Context, req redemption.RedeemRequest) (*redemption.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.discounts[req.DiscountID]
	if !ok {
		return nil, errors.Wrapf(redemption.ErrNotFound, "discount %d", req.DiscountID)
	}

	// Retrying a redemption for an order that already holds a live usage
	// row is a no-op success, never a double charge.
	for _, u := range s.usages {
		if u.OrderID == req.OrderID && u.DiscountID == req.DiscountID && !u.Canceled {
			return &redemption.Reservation{
				UsageID:    u.ID,
				DiscountID: u.DiscountID,
				CouponCode: u.CouponCode,
				OrderID:    u.OrderID,
				CreatedAt:  u.CreatedAt,
			}, nil
		}
	}

	var coupon *discount.Coupon
	if d.RequiresCoupon {
		id, ok := s.byCode[normalizeCode(req.CouponCode)]
		if !ok {
			return nil, errors.Wrapf(redemption.ErrNotFound, "coupon %q", req.CouponCode)
		}
		coupon = s.coupons[id]
		if coupon.DiscountID != d.ID {
			return nil, errors.Wrapf(redemption.ErrNotFound, "coupon %q does not belong to discount %d", req.CouponCode, d.ID)
		}
		if d.SingleUseCoupons() && coupon.Used {
			return nil, errors.Wrapf(redemption.ErrCouponAlreadyUsed, "coupon %q", req.CouponCode)
		}
	}

	// Fresh recount at write time; the validator's earlier check was
	// advisory only.
	switch d.Limitation {
	case discount.LimitationNTimes:
		if s.usageCountLocked(d.ID, "", false) >= d.LimitationTimes {
			return nil, errors.Wrapf(redemption.ErrLimitExceeded, "discount %d", d.ID)
		}
	case discount.LimitationNTimesPerCustomer:
		if s.usageCountLocked(d.ID, req.CustomerID, false) >= d.LimitationTimes {
			return nil, errors.Wrapf(redemption.ErrLimitExceeded, "discount %d for customer %s", d.ID, req.CustomerID)
		}
	}

	if coupon != nil && d.SingleUseCoupons() {
		coupon.Used = true
	}

	u := discount.UsageRecord{
		DiscountID: d.ID,
		OrderID:    req.OrderID,
		CustomerID: req.CustomerID,
		CouponCode: req.CouponCode,
	}
	s.appendUsageLocked(&u)

	return &redemption.Reservation{
		UsageID:    u.ID,
		DiscountID: u.DiscountID,
		CouponCode: u.CouponCode,
		OrderID:    u.OrderID,
		CreatedAt:  u.CreatedAt,
	}, nil
}

// Cancel marks the order's usage rows canceled and releases single-use
// coupons for reuse. Rows are kept for audit, never deleted.
func (s *Store) Cancel(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.usages {
		u := &s.usages[i]
		if u.OrderID != orderID || u.Canceled {
			continue
		}
		u.Canceled = true

		if u.CouponCode == "" {
			continue
		}
		if d, ok := s.discounts[u.DiscountID]; ok && d.SingleUseCoupons() {
			if id, ok := s.byCode[normalizeCode(u.CouponCode)]; ok {
				s.coupons[id].Used = false
			}
		}
	}
	return nil
}
