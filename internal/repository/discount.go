package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/domain/discount"
)

const (
	discountColumns = `id, name, discount_type, use_percentage, percentage, fixed_amount,
		max_amount, starts_at, ends_at, requires_coupon, cumulative,
		limitation, limitation_times, max_discounted_qty,
		plugin_calculated, amount_provider, store_ids, currency_codes,
		active, created_at`

	getDiscountSQL = `SELECT ` + discountColumns + ` FROM discounts WHERE id = $1`

	insertDiscountSQL = `INSERT INTO discounts (name, discount_type, use_percentage, percentage,
		fixed_amount, max_amount, starts_at, ends_at, requires_coupon, cumulative,
		limitation, limitation_times, max_discounted_qty,
		plugin_calculated, amount_provider, store_ids, currency_codes, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id, created_at`

	updateDiscountSQL = `UPDATE discounts SET name = $2, discount_type = $3, use_percentage = $4,
		percentage = $5, fixed_amount = $6, max_amount = $7, starts_at = $8, ends_at = $9,
		requires_coupon = $10, cumulative = $11, limitation = $12, limitation_times = $13,
		max_discounted_qty = $14, plugin_calculated = $15, amount_provider = $16,
		store_ids = $17, currency_codes = $18, active = $19
		WHERE id = $1`

	deleteDiscountSQL = `DELETE FROM discounts WHERE id = $1
		AND NOT EXISTS (SELECT 1 FROM discount_usage u
			WHERE u.discount_id = discounts.id AND NOT u.canceled)`

	liveUsageExistsSQL = `SELECT EXISTS (SELECT 1 FROM discount_usage
		WHERE discount_id = $1 AND NOT canceled)`

	getRequirementsSQL = `SELECT discount_id, system_name, config_id
		FROM discount_requirements WHERE discount_id = ANY($1)
		ORDER BY discount_id, position`

	replaceRequirementsSQL = `DELETE FROM discount_requirements WHERE discount_id = $1`

	insertRequirementSQL = `INSERT INTO discount_requirements (discount_id, system_name, config_id, position)
		VALUES ($1, $2, $3, $4)`
)

var _ discount.Catalog = (*Catalog)(nil)

// Catalog implements discount.Catalog backed by PostgreSQL.
type Catalog struct {
	pool *pgxpool.Pool
}

// NewCatalog returns a Catalog that uses the given pool.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

// GetByID fetches one discount with its requirement rules.
// Returns discount.ErrNotFound when no row exists.
func (c *Catalog) GetByID(ctx context.Context, id int64) (*discount.Discount, error) {
	rows, err := c.pool.Query(ctx, getDiscountSQL, id)
	if err != nil {
		return nil, fmt.Errorf("fetching discount %d: %w", id, err)
	}

	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(discount.ErrNotFound, "discount %d", id)
		}
		return nil, fmt.Errorf("fetching discount %d: %w", id, err)
	}

	if err := c.attachRequirements(ctx, []*discount.Discount{&d}); err != nil {
		return nil, err
	}
	return &d, nil
}

// Query returns discounts matching the filter, ordered by ID. Zero filter
// values are skipped; set values are AND-combined.
func (c *Catalog) Query(ctx context.Context, f discount.Filter) ([]discount.Discount, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Type != "" {
		where = append(where, "discount_type = "+arg(string(f.Type)))
	}
	if f.StoreID != "" {
		where = append(where, "(store_ids = '{}' OR "+arg(f.StoreID)+" = ANY(store_ids))")
	}
	if f.Currency != "" {
		where = append(where, "(currency_codes = '{}' OR "+arg(f.Currency)+" = ANY(currency_codes))")
	}
	if f.Name != "" {
		where = append(where, "name ILIKE "+arg("%"+f.Name+"%"))
	}
	if f.CouponCode != "" {
		where = append(where, "id IN (SELECT discount_id FROM discount_coupons WHERE UPPER(code) = UPPER("+arg(f.CouponCode)+"))")
	}

	query := "SELECT " + discountColumns + " FROM discounts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying discounts: %w", err)
	}

	discounts, err := pgx.CollectRows(rows, scanDiscount)
	if err != nil {
		return nil, fmt.Errorf("querying discounts: %w", err)
	}

	refs := make([]*discount.Discount, len(discounts))
	for i := range discounts {
		refs[i] = &discounts[i]
	}
	if err := c.attachRequirements(ctx, refs); err != nil {
		return nil, err
	}
	return discounts, nil
}

// Insert stores a new discount and its requirement rules, assigning ID
// and CreatedAt. Model violations are rejected before touching storage.
func (c *Catalog) Insert(ctx context.Context, d *discount.Discount) error {
	if err := d.CheckModel(); err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, insertDiscountSQL, discountArgs(d)...)
		if err := row.Scan(&d.ID, &d.CreatedAt); err != nil {
			return fmt.Errorf("inserting discount: %w", err)
		}
		return insertRequirements(ctx, tx, d)
	})
}

// Update replaces a discount definition and its requirement rules.
func (c *Catalog) Update(ctx context.Context, d *discount.Discount) error {
	if err := d.CheckModel(); err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateDiscountSQL, append([]any{d.ID}, discountArgs(d)...)...)
		if err != nil {
			return fmt.Errorf("updating discount %d: %w", d.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(discount.ErrNotFound, "discount %d", d.ID)
		}
		if _, err := tx.Exec(ctx, replaceRequirementsSQL, d.ID); err != nil {
			return fmt.Errorf("clearing requirements for discount %d: %w", d.ID, err)
		}
		return insertRequirements(ctx, tx, d)
	})
}

// Delete removes a discount. The delete is guarded in SQL against live
// usage history; a blocked delete surfaces as discount.ErrInUse.
func (c *Catalog) Delete(ctx context.Context, id int64) error {
	tag, err := c.pool.Exec(ctx, deleteDiscountSQL, id)
	if err != nil {
		return fmt.Errorf("deleting discount %d: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var inUse bool
	if err := c.pool.QueryRow(ctx, liveUsageExistsSQL, id).Scan(&inUse); err != nil {
		return fmt.Errorf("checking usage for discount %d: %w", id, err)
	}
	if inUse {
		return errors.Wrapf(discount.ErrInUse, "discount %d", id)
	}
	return errors.Wrapf(discount.ErrNotFound, "discount %d", id)
}

// attachRequirements loads requirement rules for the given discounts in
// one query and distributes them by discount ID.
func (c *Catalog) attachRequirements(ctx context.Context, discounts []*discount.Discount) error {
	if len(discounts) == 0 {
		return nil
	}
	ids := make([]int64, len(discounts))
	byID := make(map[int64]*discount.Discount, len(discounts))
	for i, d := range discounts {
		ids[i] = d.ID
		byID[d.ID] = d
	}

	rows, err := c.pool.Query(ctx, getRequirementsSQL, ids)
	if err != nil {
		return fmt.Errorf("fetching discount requirements: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			discountID int64
			req        discount.Requirement
		)
		if err := rows.Scan(&discountID, &req.SystemName, &req.ConfigID); err != nil {
			return fmt.Errorf("scanning discount requirement: %w", err)
		}
		if d, ok := byID[discountID]; ok {
			d.Requirements = append(d.Requirements, req)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("fetching discount requirements: %w", err)
	}
	return nil
}

func insertRequirements(ctx context.Context, tx pgx.Tx, d *discount.Discount) error {
	for i, req := range d.Requirements {
		if _, err := tx.Exec(ctx, insertRequirementSQL, d.ID, req.SystemName, req.ConfigID, i); err != nil {
			return fmt.Errorf("inserting requirement %q: %w", req.SystemName, err)
		}
	}
	return nil
}

func discountArgs(d *discount.Discount) []any {
	return []any{
		d.Name, string(d.Type), d.UsePercentage, d.Percentage,
		d.FixedAmount, d.MaxAmount, d.StartsAt, d.EndsAt,
		d.RequiresCoupon, d.Cumulative, string(d.Limitation), d.LimitationTimes,
		d.MaxDiscountedQty, d.PluginCalculated, d.AmountProvider,
		d.StoreIDs, d.CurrencyCodes, d.Active,
	}
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var (
		d          discount.Discount
		dType      string
		limitation string
	)
	err := row.Scan(
		&d.ID, &d.Name, &dType, &d.UsePercentage, &d.Percentage, &d.FixedAmount,
		&d.MaxAmount, &d.StartsAt, &d.EndsAt, &d.RequiresCoupon, &d.Cumulative,
		&limitation, &d.LimitationTimes, &d.MaxDiscountedQty,
		&d.PluginCalculated, &d.AmountProvider, &d.StoreIDs, &d.CurrencyCodes,
		&d.Active, &d.CreatedAt,
	)
	d.Type = discount.Type(dType)
	d.Limitation = discount.Limitation(limitation)
	return d, err
}
