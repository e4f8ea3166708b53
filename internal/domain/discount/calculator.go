package discount

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/rules"
)

var hundred = decimal.NewFromInt(100)

// Calculator computes the monetary value of one discount against a base
// amount. It is currency-agnostic: amounts are never rounded here, the
// caller rounds to currency precision.
type Calculator struct {
	registry *rules.Registry
}

// NewCalculator creates a Calculator resolving plugin amount providers
// from the given registry.
func NewCalculator(registry *rules.Registry) *Calculator {
	return &Calculator{registry: registry}
}

// Amount returns the discount value for the given base amount, clamped to
// [0, baseAmount] and to the discount's maximum cap. Plugin-calculated
// discounts delegate to the named amount provider; a missing provider is
// a configuration error that yields zero, never a crash.
func (c *Calculator) Amount(ctx context.Context, d *Discount, ec Context, baseAmount decimal.Decimal) (decimal.Decimal, error) {
	var raw decimal.Decimal

	switch {
	case d.PluginCalculated:
		provider, err := c.registry.Amount(d.AmountProvider)
		if err != nil {
			if errors.Is(err, rules.ErrUnknownProvider) {
				zctx.From(ctx).Warn("Discount references unknown amount provider",
					zap.Int64("discount_id", d.ID),
					zap.String("system_name", d.AmountProvider),
				)
				return decimal.Zero, nil
			}
			return decimal.Zero, err
		}
		raw, err = provider.ComputeAmount(ctx, rules.AmountRequest{
			DiscountID: d.ID,
			Customer:   ec.Customer,
			Items:      toRuleItems(ec.Items),
			BaseAmount: baseAmount,
		})
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "compute amount via %q", d.AmountProvider)
		}
	case d.UsePercentage:
		raw = baseAmount.Mul(d.Percentage).Div(hundred)
	default:
		raw = d.FixedAmount
	}

	return clamp(raw, d.MaxAmount, baseAmount), nil
}

// clamp bounds a raw amount by the optional cap, the base amount, and zero.
// A discount can never exceed the price it applies to or go negative.
func clamp(raw decimal.Decimal, ceiling *decimal.Decimal, baseAmount decimal.Decimal) decimal.Decimal {
	if ceiling != nil && raw.GreaterThan(*ceiling) {
		raw = *ceiling
	}
	if raw.GreaterThan(baseAmount) {
		raw = baseAmount
	}
	if raw.IsNegative() {
		return decimal.Zero
	}
	return raw
}

// discountedBase returns the base amount a SKU-assigned discount applies
// to when MaxDiscountedQty caps the quantity: at most that many units of
// each matching line contribute.
func discountedBase(items []CartItem, maxQty int) decimal.Decimal {
	base := decimal.Zero
	for _, it := range items {
		qty := it.Quantity
		if maxQty > 0 && qty > maxQty {
			qty = maxQty
		}
		base = base.Add(it.Price.Mul(decimal.NewFromInt(int64(qty))))
	}
	return base
}

// BaseFor resolves the base amount a discount competes over. SKU-assigned
// discounts with a quantity cap price only the capped units; everything
// else uses the supplied subtotal.
func (c *Calculator) BaseFor(d *Discount, ec Context, subtotal decimal.Decimal) decimal.Decimal {
	if d.Type == TypeAssignedToSkus && d.MaxDiscountedQty != nil && len(ec.Items) > 0 {
		return discountedBase(ec.Items, *d.MaxDiscountedQty)
	}
	return subtotal
}
