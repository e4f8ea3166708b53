// Package discount holds the discount model and the pure evaluation
// services: applicability validation, amount calculation, and preferred
// discount selection.
package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/customer"
)

// Type enumerates what a discount is assigned to.
type Type string

const (
	// TypeAssignedToSkus discounts specific products.
	TypeAssignedToSkus Type = "assigned_to_skus"
	// TypeAssignedToCategories discounts whole product categories.
	TypeAssignedToCategories Type = "assigned_to_categories"
	// TypeAssignedToOrderTotal discounts the order subtotal.
	TypeAssignedToOrderTotal Type = "assigned_to_order_total"
	// TypeAssignedToShipping discounts the shipping charge.
	TypeAssignedToShipping Type = "assigned_to_shipping"
)

// Limitation enumerates how often a discount may be redeemed.
type Limitation string

const (
	// LimitationUnlimited places no cap on redemptions.
	LimitationUnlimited Limitation = "unlimited"
	// LimitationNTimes caps total redemptions across all customers.
	LimitationNTimes Limitation = "n_times"
	// LimitationNTimesPerCustomer caps redemptions per customer.
	LimitationNTimesPerCustomer Limitation = "n_times_per_customer"
)

// Sentinel errors returned by Catalog implementations.
var (
	// ErrNotFound is returned by point lookups for a missing record.
	ErrNotFound = errors.New("discount not found")
	// ErrInUse is returned when deleting a discount or coupon that
	// non-canceled usage history still references.
	ErrInUse = errors.New("discount is referenced by usage history")
	// ErrInvalidModel is returned when a discount fails model-level checks.
	ErrInvalidModel = errors.New("invalid discount definition")
)

// Requirement binds a requirement-rule provider to a discount, together
// with the identifier of that rule instance's stored configuration.
type Requirement struct {
	SystemName string
	ConfigID   int64
}

// Discount is a configured promotional rule. Definitions are owned by the
// catalog; evaluation components treat them as read-only.
type Discount struct {
	ID   int64
	Name string
	Type Type

	// Money mode: percentage of the base amount, or a fixed amount.
	UsePercentage bool
	Percentage    decimal.Decimal
	FixedAmount   decimal.Decimal
	// MaxAmount caps the computed amount when set.
	MaxAmount *decimal.Decimal

	// StartsAt and EndsAt bound the validity window (inclusive) when set.
	StartsAt *time.Time
	EndsAt   *time.Time

	RequiresCoupon bool
	// Cumulative discounts may combine additively with each other;
	// non-cumulative discounts apply alone or not at all.
	Cumulative bool

	Limitation      Limitation
	LimitationTimes int

	// MaxDiscountedQty caps how many units a quantity-based discount
	// applies to when set.
	MaxDiscountedQty *int

	// PluginCalculated delegates amount computation to the named
	// amount provider instead of the built-in formula.
	PluginCalculated bool
	AmountProvider   string

	Requirements []Requirement

	// StoreIDs and CurrencyCodes restrict where the discount applies;
	// empty means unrestricted.
	StoreIDs      []string
	CurrencyCodes []string

	Active    bool
	CreatedAt time.Time
}

// CheckModel verifies model-level invariants. Catalog implementations call
// it before Insert and Update; violations are wrapped ErrInvalidModel.
func (d *Discount) CheckModel() error {
	if d.Name == "" {
		return errors.Wrap(ErrInvalidModel, "name is required")
	}
	if d.UsePercentage {
		if d.Percentage.IsNegative() || d.Percentage.GreaterThan(decimal.NewFromInt(100)) {
			return errors.Wrap(ErrInvalidModel, "percentage must be within 0-100")
		}
	}
	if d.StartsAt != nil && d.EndsAt != nil && d.EndsAt.Before(*d.StartsAt) {
		return errors.Wrap(ErrInvalidModel, "end date precedes start date")
	}
	if d.Limitation != LimitationUnlimited && d.LimitationTimes <= 0 {
		return errors.Wrap(ErrInvalidModel, "limited discount requires a positive limitation count")
	}
	if d.PluginCalculated && d.AmountProvider == "" {
		return errors.Wrap(ErrInvalidModel, "plugin-calculated discount requires an amount provider name")
	}
	return nil
}

// SingleUseCoupons reports whether this discount's coupon codes are
// one-shot: the coupon Used flag is the redemption guard. Multi-use and
// per-customer discounts are guarded by usage-history counts instead.
func (d *Discount) SingleUseCoupons() bool {
	return d.RequiresCoupon && d.Limitation == LimitationNTimes && d.LimitationTimes == 1
}

// Coupon is a redeemable code owned by one discount. Used is a fast-path
// flag for single-use coupons; the usage history remains authoritative for
// per-customer limits.
type Coupon struct {
	ID         int64
	DiscountID int64
	Code       string
	Used       bool
}

// UsageRecord is one row of the append-only redemption ledger. Counts for
// limitation checks consider non-canceled rows only; canceling an order
// flips Canceled rather than deleting the row.
type UsageRecord struct {
	ID         int64
	DiscountID int64
	OrderID    string
	CustomerID string
	CouponCode string
	CreatedAt  time.Time
	Canceled   bool
}

// Applied is the immutable snapshot attached to an order at pricing time.
// It never references the live discount row, so later edits cannot change
// historical totals.
type Applied struct {
	DiscountID int64
	CouponCode string
	Amount     decimal.Decimal
}

// CartItem is a priced order line supplied as evaluation context for
// SKU-assigned discounts and cart-sensitive requirement rules.
type CartItem struct {
	ProductID  string
	CategoryID string
	Price      decimal.Decimal
	Quantity   int
}

// Context carries everything a single evaluation needs about the buyer
// and the storefront.
type Context struct {
	Customer    customer.Customer
	StoreID     string
	Currency    string
	CouponCodes []string
	Items       []CartItem
}

// Filter selects discounts in Catalog.Query. Zero values mean
// "don't filter on this"; set filters are AND-combined.
type Filter struct {
	Type       Type
	StoreID    string
	Currency   string
	CouponCode string
	Name       string
}

// Catalog is the persistent store for discounts, coupons, and usage
// history. Implementations: internal/repository (PostgreSQL) and
// internal/inmem.
type Catalog interface {
	GetByID(ctx context.Context, id int64) (*Discount, error)
	Query(ctx context.Context, f Filter) ([]Discount, error)
	Insert(ctx context.Context, d *Discount) error
	Update(ctx context.Context, d *Discount) error
	// Delete rejects with ErrInUse while non-canceled usage history
	// references the discount.
	Delete(ctx context.Context, id int64) error

	CouponByCode(ctx context.Context, code string) (*Coupon, error)
	CouponsByDiscount(ctx context.Context, discountID int64, page, perPage int) ([]Coupon, error)
	InsertCoupon(ctx context.Context, c *Coupon) error
	// DeleteCoupon rejects with ErrInUse while usage history references
	// the coupon's code.
	DeleteCoupon(ctx context.Context, id int64) error

	InsertUsage(ctx context.Context, u *UsageRecord) error
	// UsageCount counts redemptions of a discount. An empty customerID
	// counts across all customers; canceled rows are excluded unless
	// includeCanceled is set.
	UsageCount(ctx context.Context, discountID int64, customerID string, includeCanceled bool) (int, error)
	UsagesByOrder(ctx context.Context, orderID string) ([]UsageRecord, error)
}
