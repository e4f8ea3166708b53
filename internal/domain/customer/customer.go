package customer

import (
	"context"

	"github.com/shopspring/decimal"
)

// Customer identifies the buyer a discount is evaluated for.
type Customer struct {
	ID    string
	Email string
}

// GroupLookup resolves customer group membership. Implemented by the
// surrounding identity system; the engine only consumes it.
type GroupLookup interface {
	InGroup(ctx context.Context, customerID, groupID string) (bool, error)
}

// SpendingLookup reports a customer's historical spend in the store's
// primary currency. Implemented by the order subsystem.
type SpendingLookup interface {
	TotalSpent(ctx context.Context, customerID string) (decimal.Decimal, error)
}

// Static is a fixture-backed GroupLookup and SpendingLookup used when no
// identity or order system is attached, and in tests.
type Static struct {
	// Groups maps customer ID to the group IDs the customer belongs to.
	Groups map[string][]string
	// Spending maps customer ID to total historical spend.
	Spending map[string]decimal.Decimal
}

// InGroup implements GroupLookup.
func (s Static) InGroup(_ context.Context, customerID, groupID string) (bool, error) {
	for _, g := range s.Groups[customerID] {
		if g == groupID {
			return true, nil
		}
	}
	return false, nil
}

// TotalSpent implements SpendingLookup. Unknown customers have zero spend.
func (s Static) TotalSpent(_ context.Context, customerID string) (decimal.Decimal, error) {
	return s.Spending[customerID], nil
}
