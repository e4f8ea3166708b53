package discount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSelector() *Selector {
	return NewSelector(newTestCalculator())
}

func percentCandidate(id int64, pct string, cumulative bool) Candidate {
	return Candidate{Discount: Discount{
		ID:            id,
		Type:          TypeAssignedToOrderTotal,
		UsePercentage: true,
		Percentage:    dec(pct),
		Cumulative:    cumulative,
		Active:        true,
	}}
}

func fixedCandidate(id int64, amount string, cumulative bool) Candidate {
	return Candidate{Discount: Discount{
		ID:          id,
		Type:        TypeAssignedToOrderTotal,
		FixedAmount: dec(amount),
		Cumulative:  cumulative,
		Active:      true,
	}}
}

func appliedIDs(sel Selection) []int64 {
	ids := make([]int64, len(sel.Applied))
	for i, a := range sel.Applied {
		ids[i] = a.DiscountID
	}
	return ids
}

func TestSelectPreferred_ExclusiveBeatsSmallerBundle(t *testing.T) {
	// $40 base: a cumulative 10% ($4) loses to an exclusive $5.
	s := newTestSelector()

	sel, err := s.SelectPreferred(context.Background(), []Candidate{
		percentCandidate(1, "10", true),
		fixedCandidate(2, "5", false),
	}, Context{}, dec("40"))

	require.NoError(t, err)
	assert.Equal(t, []int64{2}, appliedIDs(sel))
	assert.True(t, dec("5").Equal(sel.Total), "got %s", sel.Total)
}

func TestSelectPreferred_CumulativeBundleStacks(t *testing.T) {
	s := newTestSelector()

	sel, err := s.SelectPreferred(context.Background(), []Candidate{
		percentCandidate(1, "10", true),
		fixedCandidate(2, "2", true),
	}, Context{}, dec("40"))

	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, appliedIDs(sel))
	assert.True(t, dec("6").Equal(sel.Total), "got %s", sel.Total)
}

func TestSelectPreferred_BundleBeatsWeakerExclusive(t *testing.T) {
	s := newTestSelector()

	sel, err := s.SelectPreferred(context.Background(), []Candidate{
		percentCandidate(1, "10", true),
		fixedCandidate(2, "2", true),
		fixedCandidate(3, "5", false),
	}, Context{}, dec("40"))

	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, appliedIDs(sel))
	assert.True(t, dec("6").Equal(sel.Total))
}

func TestSelectPreferred_BundleWinsTies(t *testing.T) {
	// Bundle $5 vs exclusive $5: the bundle wins.
	s := newTestSelector()

	sel, err := s.SelectPreferred(context.Background(), []Candidate{
		fixedCandidate(1, "5", true),
		fixedCandidate(2, "5", false),
	}, Context{}, dec("40"))

	require.NoError(t, err)
	assert.Equal(t, []int64{1}, appliedIDs(sel))
}

func TestSelectPreferred_LowestIDAmongEqualExclusives(t *testing.T) {
	s := newTestSelector()

	sel, err := s.SelectPreferred(context.Background(), []Candidate{
		fixedCandidate(7, "5", false),
		fixedCandidate(3, "5", false),
		fixedCandidate(5, "5", false),
	}, Context{}, dec("40"))

	require.NoError(t, err)
	assert.Equal(t, []int64{3}, appliedIDs(sel))
}

func TestSelectPreferred_BundleClampedToBase(t *testing.T) {
	s := newTestSelector()

	sel, err := s.SelectPreferred(context.Background(), []Candidate{
		fixedCandidate(1, "30", true),
		fixedCandidate(2, "30", true),
	}, Context{}, dec("40"))

	require.NoError(t, err)
	assert.True(t, dec("40").Equal(sel.Total), "bundle must not exceed base, got %s", sel.Total)
}

func TestSelectPreferred_CandidatesPricedAgainstSameBase(t *testing.T) {
	// Percentages never compound: two cumulative 10% discounts on $100
	// give $20, not $19.
	s := newTestSelector()

	sel, err := s.SelectPreferred(context.Background(), []Candidate{
		percentCandidate(1, "10", true),
		percentCandidate(2, "10", true),
	}, Context{}, dec("100"))

	require.NoError(t, err)
	assert.True(t, dec("20").Equal(sel.Total), "got %s", sel.Total)
}

func TestSelectPreferred_EmptyWhenNothingPositive(t *testing.T) {
	s := newTestSelector()

	tests := []struct {
		name       string
		candidates []Candidate
	}{
		{name: "no candidates", candidates: nil},
		{name: "zero amounts only", candidates: []Candidate{
			fixedCandidate(1, "0", true),
			fixedCandidate(2, "0", false),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := s.SelectPreferred(context.Background(), tt.candidates, Context{}, dec("40"))

			require.NoError(t, err)
			assert.Empty(t, sel.Applied)
			assert.True(t, sel.Total.IsZero())
		})
	}
}

func TestSelectPreferred_CarriesCouponCode(t *testing.T) {
	s := newTestSelector()
	c := fixedCandidate(1, "5", false)
	c.CouponCode = "SAVE5"

	sel, err := s.SelectPreferred(context.Background(), []Candidate{c}, Context{}, dec("40"))

	require.NoError(t, err)
	require.Len(t, sel.Applied, 1)
	assert.Equal(t, "SAVE5", sel.Applied[0].CouponCode)
}
