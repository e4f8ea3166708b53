package discount

import (
	"context"
	"sort"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Candidate is one already-validated discount competing for selection,
// carrying the coupon code that unlocked it (empty when none).
type Candidate struct {
	Discount   Discount
	CouponCode string
}

// Selection is the winning discount combination for a pricing context.
type Selection struct {
	Applied []Applied
	Total   decimal.Decimal
}

// Selector picks the discount combination with the greatest customer
// benefit under cumulation semantics: cumulative discounts stack
// additively, a non-cumulative discount applies alone or not at all.
type Selector struct {
	calc *Calculator
}

// NewSelector creates a Selector pricing candidates with the given
// calculator.
func NewSelector(calc *Calculator) *Selector {
	return &Selector{calc: calc}
}

// SelectPreferred prices every candidate independently against the same
// base amount (discounts do not compound) and returns the best
// combination: either the bundle of all cumulative candidates, or exactly
// one exclusive candidate.
//
// The result is deterministic: on equal value the cumulative bundle wins
// over any exclusive discount, and among equal exclusives the lowest ID
// wins. The returned total never exceeds baseAmount; when no candidate
// yields a positive amount the selection is empty.
func (s *Selector) SelectPreferred(ctx context.Context, candidates []Candidate, ec Context, baseAmount decimal.Decimal) (Selection, error) {
	var (
		bundle      []Applied
		bundleTotal = decimal.Zero
		exclusives  []Applied
	)

	for i := range candidates {
		d := &candidates[i].Discount
		base := s.calc.BaseFor(d, ec, baseAmount)
		amount, err := s.calc.Amount(ctx, d, ec, base)
		if err != nil {
			return Selection{}, errors.Wrapf(err, "price discount %d", d.ID)
		}

		applied := Applied{
			DiscountID: d.ID,
			CouponCode: candidates[i].CouponCode,
			Amount:     amount,
		}
		if d.Cumulative {
			bundle = append(bundle, applied)
			bundleTotal = bundleTotal.Add(amount)
		} else {
			exclusives = append(exclusives, applied)
		}
	}

	// The stacked bundle can never discount more than the base itself.
	if bundleTotal.GreaterThan(baseAmount) {
		bundleTotal = baseAmount
	}

	// Lowest ID first makes the exclusive tie-break stable.
	sort.Slice(exclusives, func(i, j int) bool {
		return exclusives[i].DiscountID < exclusives[j].DiscountID
	})

	best := Selection{Applied: bundle, Total: bundleTotal}
	if len(bundle) == 0 {
		best = Selection{Total: decimal.Zero}
	}
	for _, e := range exclusives {
		if e.Amount.GreaterThan(best.Total) {
			best = Selection{Applied: []Applied{e}, Total: e.Amount}
		}
	}

	if !best.Total.IsPositive() {
		return Selection{Total: decimal.Zero}, nil
	}
	return best, nil
}
