package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/redemption"
)

const (
	lockDiscountSQL = `SELECT requires_coupon, limitation, limitation_times
		FROM discounts WHERE id = $1 FOR UPDATE`

	liveUsageForOrderSQL = `SELECT id, coupon_code, created_at FROM discount_usage
		WHERE order_id = $1 AND discount_id = $2 AND NOT canceled LIMIT 1`

	markCouponUsedSQL = `UPDATE discount_coupons SET used = TRUE
		WHERE discount_id = $1 AND UPPER(code) = UPPER($2) AND NOT used`

	couponBelongsSQL = `SELECT EXISTS (SELECT 1 FROM discount_coupons
		WHERE discount_id = $1 AND UPPER(code) = UPPER($2))`

	recountUsageSQL = `SELECT COUNT(*) FROM discount_usage
		WHERE discount_id = $1 AND ($2 = '' OR customer_id = $2) AND NOT canceled`

	recordUsageSQL = `INSERT INTO discount_usage (discount_id, order_id, customer_id, coupon_code)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`

	cancelUsagesSQL = `UPDATE discount_usage SET canceled = TRUE
		WHERE order_id = $1 AND NOT canceled
		RETURNING discount_id, coupon_code`

	releaseCouponSQL = `UPDATE discount_coupons c SET used = FALSE
		FROM discounts d
		WHERE c.discount_id = d.id AND d.id = $1 AND UPPER(c.code) = UPPER($2)
		AND d.requires_coupon AND d.limitation = $3 AND d.limitation_times = 1`
)

var _ redemption.Ledger = (*Ledger)(nil)

// Ledger implements redemption.Ledger on PostgreSQL. Each redemption is
// one transaction that locks the discount row, so attempts for the same
// discount serialize while different discounts proceed independently.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger returns a Ledger that uses the given pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// TryRedeem re-checks the limitation guard against a fresh usage count,
// transitions the coupon Used flag for single-use coupons, and records
// the usage row, all inside one transaction. A repeat call for an order
// that already holds a live usage row is a no-op success.
func (l *Ledger) TryRedeem(ctx context.Context, req redemption.RedeemRequest) (*redemption.Reservation, error) {
	var res *redemption.Reservation
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		var err error
		res, err = l.redeemInTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (l *Ledger) redeemInTx(ctx context.Context, tx pgx.Tx, req redemption.RedeemRequest) (*redemption.Reservation, error) {
	var (
		requiresCoupon  bool
		limitation      string
		limitationTimes int
	)
	err := tx.QueryRow(ctx, lockDiscountSQL, req.DiscountID).
		Scan(&requiresCoupon, &limitation, &limitationTimes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(redemption.ErrNotFound, "discount %d", req.DiscountID)
		}
		return nil, fmt.Errorf("locking discount %d: %w", req.DiscountID, err)
	}

	// Idempotency per order: retrying after a transient failure must not
	// double-charge the limit.
	reservation := &redemption.Reservation{DiscountID: req.DiscountID, OrderID: req.OrderID}
	err = tx.QueryRow(ctx, liveUsageForOrderSQL, req.OrderID, req.DiscountID).
		Scan(&reservation.UsageID, &reservation.CouponCode, &reservation.CreatedAt)
	if err == nil {
		return reservation, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("checking usage for order %q: %w", req.OrderID, err)
	}

	singleUse := requiresCoupon &&
		limitation == string(discount.LimitationNTimes) && limitationTimes == 1

	if requiresCoupon {
		if err := l.claimCoupon(ctx, tx, req, singleUse); err != nil {
			return nil, err
		}
	}

	switch discount.Limitation(limitation) {
	case discount.LimitationNTimes:
		if err := l.recount(ctx, tx, req.DiscountID, "", limitationTimes); err != nil {
			return nil, err
		}
	case discount.LimitationNTimesPerCustomer:
		if err := l.recount(ctx, tx, req.DiscountID, req.CustomerID, limitationTimes); err != nil {
			return nil, err
		}
	}

	reservation.CouponCode = req.CouponCode
	err = tx.QueryRow(ctx, recordUsageSQL,
		req.DiscountID, req.OrderID, req.CustomerID, req.CouponCode,
	).Scan(&reservation.UsageID, &reservation.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("recording usage for discount %d: %w", req.DiscountID, err)
	}
	return reservation, nil
}

// claimCoupon verifies the coupon belongs to the discount and, for
// single-use coupons, performs the conditional Used transition. Losing
// the flag race surfaces as ErrCouponAlreadyUsed.
func (l *Ledger) claimCoupon(ctx context.Context, tx pgx.Tx, req redemption.RedeemRequest, singleUse bool) error {
	if !singleUse {
		var belongs bool
		err := tx.QueryRow(ctx, couponBelongsSQL, req.DiscountID, req.CouponCode).Scan(&belongs)
		if err != nil {
			return fmt.Errorf("checking coupon %q: %w", req.CouponCode, err)
		}
		if !belongs {
			return errors.Wrapf(redemption.ErrNotFound, "coupon %q", req.CouponCode)
		}
		return nil
	}

	tag, err := tx.Exec(ctx, markCouponUsedSQL, req.DiscountID, req.CouponCode)
	if err != nil {
		return fmt.Errorf("claiming coupon %q: %w", req.CouponCode, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, couponBelongsSQL, req.DiscountID, req.CouponCode).Scan(&exists); err != nil {
		return fmt.Errorf("checking coupon %q: %w", req.CouponCode, err)
	}
	if exists {
		return errors.Wrapf(redemption.ErrCouponAlreadyUsed, "coupon %q", req.CouponCode)
	}
	return errors.Wrapf(redemption.ErrNotFound, "coupon %q", req.CouponCode)
}

func (l *Ledger) recount(ctx context.Context, tx pgx.Tx, discountID int64, customerID string, limit int) error {
	var count int
	if err := tx.QueryRow(ctx, recountUsageSQL, discountID, customerID).Scan(&count); err != nil {
		return fmt.Errorf("recounting usage for discount %d: %w", discountID, err)
	}
	if count >= limit {
		return errors.Wrapf(redemption.ErrLimitExceeded, "discount %d", discountID)
	}
	return nil
}

// Cancel marks all of the order's live usage rows canceled and releases
// single-use coupons for reuse, as one transaction. Rows stay for audit.
func (l *Ledger) Cancel(ctx context.Context, orderID string) error {
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, cancelUsagesSQL, orderID)
		if err != nil {
			return fmt.Errorf("canceling usage for order %q: %w", orderID, err)
		}

		type canceled struct {
			discountID int64
			couponCode string
		}
		var affected []canceled
		for rows.Next() {
			var c canceled
			if err := rows.Scan(&c.discountID, &c.couponCode); err != nil {
				rows.Close()
				return fmt.Errorf("canceling usage for order %q: %w", orderID, err)
			}
			affected = append(affected, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("canceling usage for order %q: %w", orderID, err)
		}

		for _, c := range affected {
			if c.couponCode == "" {
				continue
			}
			_, err := tx.Exec(ctx, releaseCouponSQL,
				c.discountID, c.couponCode, string(discount.LimitationNTimes))
			if err != nil {
				return fmt.Errorf("releasing coupon %q: %w", c.couponCode, err)
			}
		}
		return nil
	})
}
