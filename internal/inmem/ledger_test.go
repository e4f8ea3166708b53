package inmem

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/redemption"
)

func singleUseDiscount(t *testing.T, s *Store, code string) *discount.Discount {
	t.Helper()
	d := newDiscount("single use")
	d.RequiresCoupon = true
	d.Limitation = discount.LimitationNTimes
	d.LimitationTimes = 1
	mustInsert(t, s, d)
	require.NoError(t, s.InsertCoupon(context.Background(), &discount.Coupon{DiscountID: d.ID, Code: code}))
	return d
}

func TestTryRedeem_Success(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	d := singleUseDiscount(t, s, "ONCE")

	res, err := s.TryRedeem(ctx, redemption.RedeemRequest{
		DiscountID: d.ID, CouponCode: "ONCE", CustomerID: "cust-1", OrderID: "order-1",
	})

	require.NoError(t, err)
	assert.Positive(t, res.UsageID)
	assert.Equal(t, d.ID, res.DiscountID)

	c, err := s.CouponByCode(ctx, "ONCE")
	require.NoError(t, err)
	assert.True(t, c.Used)
}

func TestTryRedeem_SecondCustomerLoses(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	d := singleUseDiscount(t, s, "ONCE")

	_, err := s.TryRedeem(ctx, redemption.RedeemRequest{
		DiscountID: d.ID, CouponCode: "ONCE", CustomerID: "cust-1", OrderID: "order-1",
	})
	require.NoError(t, err)

	_, err = s.TryRedeem(ctx, redemption.RedeemRequest{
		DiscountID: d.ID, CouponCode: "ONCE", CustomerID: "cust-2", OrderID: "order-2",
	})

	assert.ErrorIs(t, err, redemption.ErrCouponAlreadyUsed)
}

func TestTryRedeem_IdempotentPerOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	d := singleUseDiscount(t, s, "ONCE")
	req := redemption.RedeemRequest{
		DiscountID: d.ID, CouponCode: "ONCE", CustomerID: "cust-1", OrderID: "order-1",
	}

	first, err := s.TryRedeem(ctx, req)
	require.NoError(t, err)

	// A retry for the same order is a no-op success on the same row.
	second, err := s.TryRedeem(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.UsageID, second.UsageID)

	count, err := s.UsageCount(ctx, d.ID, "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTryRedeem_UnknownDiscountAndCoupon(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	d := singleUseDiscount(t, s, "ONCE")

	_, err := s.TryRedeem(ctx, redemption.RedeemRequest{DiscountID: 999, OrderID: "o"})
	assert.ErrorIs(t, err, redemption.ErrNotFound)

	_, err = s.TryRedeem(ctx, redemption.RedeemRequest{
		DiscountID: d.ID, CouponCode: "WRONG", OrderID: "o",
	})
	assert.ErrorIs(t, err, redemption.ErrNotFound)
}

func TestTryRedeem_CouponOfAnotherDiscount(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	d1 := singleUseDiscount(t, s, "MINE")
	singleUseDiscount(t, s, "THEIRS")

	_, err := s.TryRedeem(ctx, redemption.RedeemRequest{
		DiscountID: d1.ID, CouponCode: "THEIRS", OrderID: "o",
	})

	assert.ErrorIs(t, err, redemption.ErrNotFound)
}

func TestTryRedeem_GlobalLimit(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	d := newDiscount("three times")
	d.Limitation = discount.LimitationNTimes
	d.LimitationTimes = 3
	mustInsert(t, s, d)

	for i := range 3 {
		_, err := s.TryRedeem(ctx, redemption.RedeemRequest{
			DiscountID: d.ID, OrderID: fmt.Sprintf("order-%d", i),
		})
		require.NoError(t, err)
	}

	_, err := s.TryRedeem(ctx, redemption.RedeemRequest{DiscountID: d.ID, OrderID: "order-4"})

	assert.ErrorIs(t, err, redemption.ErrLimitExceeded)
}

func TestTryRedeem_PerCustomerLimit(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	d := newDiscount("once per customer")
	d.Limitation = discount.LimitationNTimesPerCustomer
	d.LimitationTimes = 1
	mustInsert(t, s, d)

	_, err := s.TryRedeem(ctx, redemption.RedeemRequest{
		DiscountID: d.ID, CustomerID: "cust-1", OrderID: "order-1",
	})
	require.NoError(t, err)

	_, err = s.TryRedeem(ctx, redemption.RedeemRequest{
		DiscountID: d.ID, CustomerID: "cust-1", OrderID: "order-2",
	})
	assert.ErrorIs(t, err, redemption.ErrLimitExceeded)

	// A different customer is unaffected.
	_, err = s.TryRedeem(ctx, redemption.RedeemRequest{
		DiscountID: d.ID, CustomerID: "cust-2", OrderID: "order-3",
	})
	assert.NoError(t, err)
}

func TestCancel_ReleasesSingleUseCoupon(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	d := singleUseDiscount(t, s, "ONCE")

	_, err := s.TryRedeem(ctx, redemption.RedeemRequest{
		DiscountID: d.ID, CouponCode: "ONCE", CustomerID: "cust-1", OrderID: "order-1",
	})
	require.NoError(t, err)

	require.NoError(t, s.Cancel(ctx, "order-1"))

	c, err := s.CouponByCode(ctx, "ONCE")
	require.NoError(t, err)
	assert.False(t, c.Used, "canceled redemption must release the coupon")

	// The code is redeemable again by someone else.
	_, err = s.TryRedeem(ctx, redemption.RedeemRequest{
		DiscountID: d.ID, CouponCode: "ONCE", CustomerID: "cust-2", OrderID: "order-2",
	})
	assert.NoError(t, err)
}

func TestCancel_UnknownOrderIsNoop(t *testing.T) {
	s := NewStore()

	assert.NoError(t, s.Cancel(context.Background(), "ghost-order"))
}

func TestTryRedeem_ConcurrentSingleUse(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	d := singleUseDiscount(t, s, "RACE")

	const workers = 16
	var wins atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for i := range workers {
		g.Go(func() error {
			_, err := s.TryRedeem(gctx, redemption.RedeemRequest{
				DiscountID: d.ID,
				CouponCode: "RACE",
				CustomerID: fmt.Sprintf("cust-%d", i),
				OrderID:    fmt.Sprintf("order-%d", i),
			})
			switch {
			case err == nil:
				wins.Add(1)
				return nil
			case errors.Is(err, redemption.ErrCouponAlreadyUsed),
				errors.Is(err, redemption.ErrLimitExceeded):
				return nil
			default:
				return err
			}
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(1), wins.Load(), "exactly one concurrent redemption may win")

	count, err := s.UsageCount(ctx, d.ID, "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTryRedeem_ConcurrentNeverExceedsLimit(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	d := newDiscount("five total")
	d.Limitation = discount.LimitationNTimes
	d.LimitationTimes = 5
	mustInsert(t, s, d)

	const workers = 32
	var wins atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for i := range workers {
		g.Go(func() error {
			_, err := s.TryRedeem(gctx, redemption.RedeemRequest{
				DiscountID: d.ID,
				CustomerID: fmt.Sprintf("cust-%d", i),
				OrderID:    fmt.Sprintf("order-%d", i),
			})
			if err == nil {
				wins.Add(1)
				return nil
			}
			if errors.Is(err, redemption.ErrLimitExceeded) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(5), wins.Load())

	count, err := s.UsageCount(ctx, d.ID, "", false)
	require.NoError(t, err)
	assert.Equal(t, 5, count, "usage history must never exceed the limit")
}
