package rules

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/customer"
)

// SettingStore resolves the raw configuration value stored for one
// requirement-rule instance. Each provider defines its own value format.
type SettingStore interface {
	Get(ctx context.Context, configID int64) (string, error)
}

// MapSettings is an in-memory SettingStore for tests and seeding.
type MapSettings map[int64]string

// Get returns the configured value, or an error for an unknown instance.
func (m MapSettings) Get(_ context.Context, configID int64) (string, error) {
	v, ok := m[configID]
	if !ok {
		return "", errors.Errorf("no setting for rule instance %d", configID)
	}
	return v, nil
}

// CustomerGroup requires the customer to belong to the configured group.
// The instance setting holds the group ID.
type CustomerGroup struct {
	Groups   customer.GroupLookup
	Settings SettingStore
}

// SystemName implements RequirementProvider.
func (CustomerGroup) SystemName() string { return "customer-group" }

// CheckRequirement implements RequirementProvider.
func (p CustomerGroup) CheckRequirement(ctx context.Context, req CheckRequest) (CheckResult, error) {
	groupID, err := p.Settings.Get(ctx, req.ConfigID)
	if err != nil {
		return CheckResult{}, errors.Wrap(err, "resolve group setting")
	}
	ok, err := p.Groups.InGroup(ctx, req.Customer.ID, groupID)
	if err != nil {
		return CheckResult{}, errors.Wrap(err, "group lookup")
	}
	if !ok {
		return CheckResult{Err: "customer is not in the required group"}, nil
	}
	return CheckResult{Success: true}, nil
}

// MinSpentAmount requires the customer's historical spend to reach the
// configured threshold. The instance setting holds a decimal amount.
type MinSpentAmount struct {
	Spending customer.SpendingLookup
	Settings SettingStore
}

// SystemName implements RequirementProvider.
func (MinSpentAmount) SystemName() string { return "min-spent-amount" }

// CheckRequirement implements RequirementProvider.
func (p MinSpentAmount) CheckRequirement(ctx context.Context, req CheckRequest) (CheckResult, error) {
	raw, err := p.Settings.Get(ctx, req.ConfigID)
	if err != nil {
		return CheckResult{}, errors.Wrap(err, "resolve spend setting")
	}
	threshold, err := decimal.NewFromString(raw)
	if err != nil {
		return CheckResult{}, errors.Wrapf(err, "parse spend threshold %q", raw)
	}
	spent, err := p.Spending.TotalSpent(ctx, req.Customer.ID)
	if err != nil {
		return CheckResult{}, errors.Wrap(err, "spending lookup")
	}
	if spent.LessThan(threshold) {
		return CheckResult{Err: "minimum spend requirement not met"}, nil
	}
	return CheckResult{Success: true}, nil
}

// HasProduct requires the cart to contain at least one of the configured
// products. The instance setting holds a comma-separated product ID list.
type HasProduct struct {
	Settings SettingStore
}

// SystemName implements RequirementProvider.
func (HasProduct) SystemName() string { return "has-product" }

// CheckRequirement implements RequirementProvider.
func (p HasProduct) CheckRequirement(ctx context.Context, req CheckRequest) (CheckResult, error) {
	raw, err := p.Settings.Get(ctx, req.ConfigID)
	if err != nil {
		return CheckResult{}, errors.Wrap(err, "resolve product setting")
	}
	wanted := make(map[string]struct{})
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			wanted[id] = struct{}{}
		}
	}
	for _, item := range req.Items {
		if _, ok := wanted[item.ProductID]; ok && item.Quantity > 0 {
			return CheckResult{Success: true}, nil
		}
	}
	return CheckResult{Err: "cart does not contain a required product"}, nil
}
