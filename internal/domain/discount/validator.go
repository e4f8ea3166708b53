package discount

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/rules"
)

// Validator decides whether a discount applies to a pricing context.
// Validation is a pure read: advisory limit checks here short-circuit
// obviously invalid attempts, but only the redemption ledger enforces
// limits under concurrency.
type Validator struct {
	catalog  Catalog
	registry *rules.Registry
	now      func() time.Time
}

// NewValidator creates a Validator over the given catalog and provider
// registry.
func NewValidator(catalog Catalog, registry *rules.Registry) *Validator {
	return &Validator{catalog: catalog, registry: registry, now: time.Now}
}

// Validate checks one discount against the context. Hard failures
// (disabled discount, date window) short-circuit; the remaining checks
// accumulate reasons so the caller can explain every unmet condition.
// Only unexpected storage failures surface as errors.
func (v *Validator) Validate(ctx context.Context, d *Discount, ec Context) (*ValidationResult, error) {
	res := &ValidationResult{}

	if d == nil || !d.Active {
		res.fail(ReasonNotActive, "discount is not available")
		return res, nil
	}

	now := v.now()
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		res.fail(ReasonNotStarted, "discount is not yet active")
		return res, nil
	}
	if d.EndsAt != nil && now.After(*d.EndsAt) {
		res.fail(ReasonExpired, "discount has expired")
		return res, nil
	}

	if d.RequiresCoupon {
		if err := v.checkCoupon(ctx, d, ec, res); err != nil {
			return nil, err
		}
	}

	if err := v.checkLimitation(ctx, d, ec, res); err != nil {
		return nil, err
	}

	v.checkRestrictions(d, ec, res)

	if err := v.checkRequirements(ctx, d, ec, res); err != nil {
		return nil, err
	}

	return res, nil
}

// checkCoupon verifies that one of the supplied codes belongs to the
// discount and is still redeemable. The Used flag is authoritative only
// for coupons without per-customer limits; per-customer discounts defer
// to the usage history so an in-flight cart re-validates cleanly.
func (v *Validator) checkCoupon(ctx context.Context, d *Discount, ec Context, res *ValidationResult) error {
	var matched *Coupon
	for _, code := range ec.CouponCodes {
		if code == "" {
			continue
		}
		c, err := v.catalog.CouponByCode(ctx, code)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return errors.Wrapf(err, "lookup coupon %q", code)
		}
		if c.DiscountID == d.ID {
			matched = c
			break
		}
	}
	if matched == nil {
		res.fail(ReasonCouponRequired, "a valid coupon code is required")
		return nil
	}
	if matched.Used && d.Limitation != LimitationNTimesPerCustomer {
		res.fail(ReasonCouponUsed, "coupon code has already been used")
		return nil
	}
	res.MatchedCoupon = matched.Code
	return nil
}

func (v *Validator) checkLimitation(ctx context.Context, d *Discount, ec Context, res *ValidationResult) error {
	switch d.Limitation {
	case LimitationNTimes:
		count, err := v.catalog.UsageCount(ctx, d.ID, "", false)
		if err != nil {
			return errors.Wrap(err, "count usage")
		}
		if count >= d.LimitationTimes {
			res.fail(ReasonLimitReached, "discount usage limit has been reached")
		}
	case LimitationNTimesPerCustomer:
		if ec.Customer.ID == "" {
			res.fail(ReasonLimitReached, "discount is limited per customer")
			return nil
		}
		count, err := v.catalog.UsageCount(ctx, d.ID, ec.Customer.ID, false)
		if err != nil {
			return errors.Wrap(err, "count customer usage")
		}
		if count >= d.LimitationTimes {
			res.fail(ReasonLimitReached, "you have already used this discount")
		}
	}
	return nil
}

func (v *Validator) checkRestrictions(d *Discount, ec Context, res *ValidationResult) {
	if len(d.StoreIDs) > 0 && !slices.Contains(d.StoreIDs, ec.StoreID) {
		res.fail(ReasonStoreRestricted, "discount is not available in this store")
	}
	if len(d.CurrencyCodes) > 0 && !slices.Contains(d.CurrencyCodes, ec.Currency) {
		res.fail(ReasonCurrencyRestricted, "discount is not available in this currency")
	}
}

// checkRequirements ANDs every configured requirement rule. A rule whose
// provider is unknown is a configuration error: logged, and the discount
// treated as never satisfied.
func (v *Validator) checkRequirements(ctx context.Context, d *Discount, ec Context, res *ValidationResult) error {
	for _, req := range d.Requirements {
		provider, err := v.registry.Requirement(req.SystemName)
		if err != nil {
			if errors.Is(err, rules.ErrUnknownProvider) {
				zctx.From(ctx).Warn("Requirement rule references unknown provider",
					zap.Int64("discount_id", d.ID),
					zap.String("system_name", req.SystemName),
				)
				res.fail(ReasonRequirementMisconfigured, "discount requirement cannot be evaluated")
				continue
			}
			return err
		}

		check, err := provider.CheckRequirement(ctx, rules.CheckRequest{
			Customer:   ec.Customer,
			StoreID:    ec.StoreID,
			Items:      toRuleItems(ec.Items),
			ConfigID:   req.ConfigID,
			DiscountID: d.ID,
		})
		if err != nil {
			return errors.Wrapf(err, "check requirement %q", req.SystemName)
		}
		if !check.Success {
			msg := check.Err
			if msg == "" {
				msg = fmt.Sprintf("requirement %q not met", req.SystemName)
			}
			res.fail(ReasonRequirementFailed, msg)
		}
	}
	return nil
}

func toRuleItems(items []CartItem) []rules.CartItem {
	out := make([]rules.CartItem, len(items))
	for i, it := range items {
		out[i] = rules.CartItem{
			ProductID:  it.ProductID,
			CategoryID: it.CategoryID,
			Price:      it.Price,
			Quantity:   it.Quantity,
		}
	}
	return out
}
