package discount

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/rules"
)

type stubAmount struct {
	name   string
	amount decimal.Decimal
	err    error
}

func (s stubAmount) SystemName() string { return s.name }

func (s stubAmount) ComputeAmount(_ context.Context, _ rules.AmountRequest) (decimal.Decimal, error) {
	return s.amount, s.err
}

func newTestCalculator(providers ...rules.AmountProvider) *Calculator {
	registry := rules.NewRegistry()
	for _, p := range providers {
		if err := registry.RegisterAmount(p); err != nil {
			panic(err)
		}
	}
	return NewCalculator(registry)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestAmount_Formula(t *testing.T) {
	tests := []struct {
		name     string
		discount Discount
		base     string
		want     string
	}{
		{
			name:     "percentage",
			discount: Discount{UsePercentage: true, Percentage: dec("10")},
			base:     "40",
			want:     "4",
		},
		{
			name:     "percentage keeps fractional precision",
			discount: Discount{UsePercentage: true, Percentage: dec("15")},
			base:     "33.33",
			want:     "4.9995",
		},
		{
			name:     "fixed amount",
			discount: Discount{FixedAmount: dec("5")},
			base:     "40",
			want:     "5",
		},
		{
			name:     "fixed amount clamped to base",
			discount: Discount{FixedAmount: dec("50")},
			base:     "40",
			want:     "40",
		},
		{
			name:     "hundred percent equals base",
			discount: Discount{UsePercentage: true, Percentage: dec("100")},
			base:     "40",
			want:     "40",
		},
		{
			name:     "zero base yields zero",
			discount: Discount{UsePercentage: true, Percentage: dec("10")},
			base:     "0",
			want:     "0",
		},
		{
			name:     "cap limits percentage",
			discount: Discount{UsePercentage: true, Percentage: dec("50"), MaxAmount: decPtr("10")},
			base:     "100",
			want:     "10",
		},
		{
			name:     "cap above raw is inert",
			discount: Discount{UsePercentage: true, Percentage: dec("10"), MaxAmount: decPtr("100")},
			base:     "40",
			want:     "4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc := newTestCalculator()

			got, err := calc.Amount(context.Background(), &tt.discount, Context{}, dec(tt.base))

			require.NoError(t, err)
			assert.True(t, dec(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestAmount_Plugin(t *testing.T) {
	t.Run("delegates to the named provider", func(t *testing.T) {
		calc := newTestCalculator(stubAmount{name: "loyalty-points", amount: dec("7")})
		d := &Discount{PluginCalculated: true, AmountProvider: "loyalty-points"}

		got, err := calc.Amount(context.Background(), d, Context{}, dec("40"))

		require.NoError(t, err)
		assert.True(t, dec("7").Equal(got))
	})

	t.Run("plugin amount is still clamped", func(t *testing.T) {
		calc := newTestCalculator(stubAmount{name: "generous", amount: dec("500")})
		d := &Discount{PluginCalculated: true, AmountProvider: "generous", MaxAmount: decPtr("25")}

		got, err := calc.Amount(context.Background(), d, Context{}, dec("40"))

		require.NoError(t, err)
		assert.True(t, dec("25").Equal(got))
	})

	t.Run("negative plugin amount floors at zero", func(t *testing.T) {
		calc := newTestCalculator(stubAmount{name: "buggy", amount: dec("-3")})
		d := &Discount{PluginCalculated: true, AmountProvider: "buggy"}

		got, err := calc.Amount(context.Background(), d, Context{}, dec("40"))

		require.NoError(t, err)
		assert.True(t, got.IsZero())
	})

	t.Run("unknown provider yields zero, not an error", func(t *testing.T) {
		calc := newTestCalculator()
		d := &Discount{PluginCalculated: true, AmountProvider: "missing"}

		got, err := calc.Amount(context.Background(), d, Context{}, dec("40"))

		require.NoError(t, err)
		assert.True(t, got.IsZero())
	})

	t.Run("provider failure propagates", func(t *testing.T) {
		calc := newTestCalculator(stubAmount{name: "down", err: errors.New("service down")})
		d := &Discount{PluginCalculated: true, AmountProvider: "down"}

		_, err := calc.Amount(context.Background(), d, Context{}, dec("40"))

		assert.Error(t, err)
	})
}

func TestBaseFor_MaxDiscountedQty(t *testing.T) {
	two := 2
	items := []CartItem{
		{ProductID: "p1", Price: dec("10"), Quantity: 5},
		{ProductID: "p2", Price: dec("3"), Quantity: 1},
	}

	t.Run("caps units of each matching line", func(t *testing.T) {
		calc := newTestCalculator()
		d := &Discount{Type: TypeAssignedToSkus, MaxDiscountedQty: &two}

		got := calc.BaseFor(d, Context{Items: items}, dec("53"))

		// 2x10 + 1x3
		assert.True(t, dec("23").Equal(got), "got %s", got)
	})

	t.Run("no cap uses subtotal", func(t *testing.T) {
		calc := newTestCalculator()
		d := &Discount{Type: TypeAssignedToSkus}

		got := calc.BaseFor(d, Context{Items: items}, dec("53"))

		assert.True(t, dec("53").Equal(got))
	})

	t.Run("cap is a no-op without cart context", func(t *testing.T) {
		calc := newTestCalculator()
		d := &Discount{Type: TypeAssignedToSkus, MaxDiscountedQty: &two}

		got := calc.BaseFor(d, Context{}, dec("53"))

		assert.True(t, dec("53").Equal(got))
	})

	t.Run("order total discounts ignore the cap", func(t *testing.T) {
		calc := newTestCalculator()
		d := &Discount{Type: TypeAssignedToOrderTotal, MaxDiscountedQty: &two}

		got := calc.BaseFor(d, Context{Items: items}, dec("53"))

		assert.True(t, dec("53").Equal(got))
	})
}
