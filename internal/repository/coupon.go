package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/promo-engine/internal/domain/discount"
)

const (
	getCouponByCodeSQL = `SELECT id, discount_id, code, used
		FROM discount_coupons WHERE UPPER(code) = UPPER($1)`

	getCouponsByDiscountSQL = `SELECT id, discount_id, code, used
		FROM discount_coupons WHERE discount_id = $1
		ORDER BY id LIMIT $2 OFFSET $3`

	insertCouponSQL = `INSERT INTO discount_coupons (discount_id, code)
		VALUES ($1, $2) ON CONFLICT DO NOTHING RETURNING id`

	deleteCouponSQL = `DELETE FROM discount_coupons c WHERE c.id = $1
		AND NOT EXISTS (SELECT 1 FROM discount_usage u
			WHERE u.discount_id = c.discount_id AND UPPER(u.coupon_code) = UPPER(c.code))`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM discount_coupons WHERE id = $1)`
)

// CouponByCode looks up a coupon by its code, case-insensitively.
// Returns discount.ErrNotFound when no coupon carries the code.
func (c *Catalog) CouponByCode(ctx context.Context, code string) (*discount.Coupon, error) {
	rows, err := c.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	coupon, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(discount.ErrNotFound, "coupon %q", code)
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &coupon, nil
}

// CouponsByDiscount returns one page of a discount's coupons, ordered by
// ID. Pages are 1-based.
func (c *Catalog) CouponsByDiscount(ctx context.Context, discountID int64, page, perPage int) ([]discount.Coupon, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}

	rows, err := c.pool.Query(ctx, getCouponsByDiscountSQL, discountID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, fmt.Errorf("listing coupons for discount %d: %w", discountID, err)
	}

	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing coupons for discount %d: %w", discountID, err)
	}
	return coupons, nil
}

// InsertCoupon stores a new coupon code for a discount. A code already
// taken, by any discount, surfaces as discount.ErrInUse.
func (c *Catalog) InsertCoupon(ctx context.Context, coupon *discount.Coupon) error {
	err := c.pool.QueryRow(ctx, insertCouponSQL, coupon.DiscountID, coupon.Code).Scan(&coupon.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(discount.ErrInUse, "coupon code %q", coupon.Code)
		}
		return fmt.Errorf("inserting coupon %q: %w", coupon.Code, err)
	}
	return nil
}

// DeleteCoupon removes a coupon. The delete is guarded in SQL against
// usage history referencing the code; a blocked delete surfaces as
// discount.ErrInUse.
func (c *Catalog) DeleteCoupon(ctx context.Context, id int64) error {
	tag, err := c.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %d: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := c.pool.QueryRow(ctx, couponExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking coupon %d: %w", id, err)
	}
	if exists {
		return errors.Wrapf(discount.ErrInUse, "coupon %d", id)
	}
	return errors.Wrapf(discount.ErrNotFound, "coupon %d", id)
}

func scanCoupon(row pgx.CollectableRow) (discount.Coupon, error) {
	var c discount.Coupon
	err := row.Scan(&c.ID, &c.DiscountID, &c.Code, &c.Used)
	return c, err
}
