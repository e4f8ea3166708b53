package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/promo-engine/internal/domain/discount"
)

const (
	insertUsageSQL = `INSERT INTO discount_usage (discount_id, order_id, customer_id, coupon_code)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`

	usageCountSQL = `SELECT COUNT(*) FROM discount_usage
		WHERE discount_id = $1
		AND ($2 = '' OR customer_id = $2)
		AND ($3 OR NOT canceled)`

	usagesByOrderSQL = `SELECT id, discount_id, order_id, customer_id, coupon_code, created_at, canceled
		FROM discount_usage WHERE order_id = $1 ORDER BY id`
)

// InsertUsage appends one row to the redemption ledger, assigning ID and
// CreatedAt. Most callers go through the Ledger instead; this is the raw
// append for imports and tests.
func (c *Catalog) InsertUsage(ctx context.Context, u *discount.UsageRecord) error {
	err := c.pool.QueryRow(ctx, insertUsageSQL,
		u.DiscountID, u.OrderID, u.CustomerID, u.CouponCode,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting usage for discount %d: %w", u.DiscountID, err)
	}
	return nil
}

// UsageCount counts redemptions of a discount, optionally scoped to one
// customer, excluding canceled rows unless asked.
func (c *Catalog) UsageCount(ctx context.Context, discountID int64, customerID string, includeCanceled bool) (int, error) {
	var count int
	err := c.pool.QueryRow(ctx, usageCountSQL, discountID, customerID, includeCanceled).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting usage for discount %d: %w", discountID, err)
	}
	return count, nil
}

// UsagesByOrder returns all ledger rows recorded for an order.
func (c *Catalog) UsagesByOrder(ctx context.Context, orderID string) ([]discount.UsageRecord, error) {
	rows, err := c.pool.Query(ctx, usagesByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing usage for order %q: %w", orderID, err)
	}

	usages, err := pgx.CollectRows(rows, scanUsage)
	if err != nil {
		return nil, fmt.Errorf("listing usage for order %q: %w", orderID, err)
	}
	return usages, nil
}

func scanUsage(row pgx.CollectableRow) (discount.UsageRecord, error) {
	var u discount.UsageRecord
	err := row.Scan(&u.ID, &u.DiscountID, &u.OrderID, &u.CustomerID, &u.CouponCode, &u.CreatedAt, &u.Canceled)
	return u, err
}
