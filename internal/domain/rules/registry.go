// Package rules implements the pluggable provider registry: requirement
// rules gating a discount's applicability, and amount providers that
// replace the built-in discount formula.
package rules

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/customer"
)

// ErrUnknownProvider is returned when a discount references a system name
// no provider was registered under. Callers treat it as a configuration
// error: the discount is unsatisfiable, never a crash.
var ErrUnknownProvider = errors.New("unknown provider system name")

// CheckRequest is the unit of work passed to a requirement-rule provider.
type CheckRequest struct {
	Customer customer.Customer
	StoreID  string
	Items    []CartItem
	// ConfigID identifies this rule instance's stored configuration.
	ConfigID   int64
	DiscountID int64
}

// CartItem mirrors the order line context cart-sensitive rules inspect.
type CartItem struct {
	ProductID  string
	CategoryID string
	Price      decimal.Decimal
	Quantity   int
}

// CheckResult is the outcome of one requirement check. Err carries the
// user-facing explanation when the requirement is not met.
type CheckResult struct {
	Success bool
	Err     string
}

// RequirementProvider is a named predicate deciding whether a discount's
// requirement is met for a given context.
type RequirementProvider interface {
	SystemName() string
	CheckRequirement(ctx context.Context, req CheckRequest) (CheckResult, error)
}

// AmountProvider computes a discount amount, replacing the built-in
// percentage/fixed formula for plugin-calculated discounts.
type AmountProvider interface {
	SystemName() string
	ComputeAmount(ctx context.Context, req AmountRequest) (decimal.Decimal, error)
}

// AmountRequest carries the pricing context handed to an amount provider.
type AmountRequest struct {
	DiscountID int64
	Customer   customer.Customer
	Items      []CartItem
	BaseAmount decimal.Decimal
}

// Registry resolves providers by system name. It is populated once at
// process start and read-only afterwards, so lookups need no locking.
type Registry struct {
	requirements map[string]RequirementProvider
	amounts      map[string]AmountProvider
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		requirements: make(map[string]RequirementProvider),
		amounts:      make(map[string]AmountProvider),
	}
}

// RegisterRequirement adds a requirement provider. Registering the same
// system name twice is a programming error.
func (r *Registry) RegisterRequirement(p RequirementProvider) error {
	name := p.SystemName()
	if _, ok := r.requirements[name]; ok {
		return errors.Errorf("requirement provider %q already registered", name)
	}
	r.requirements[name] = p
	return nil
}

// RegisterAmount adds an amount provider. Registering the same system
// name twice is a programming error.
func (r *Registry) RegisterAmount(p AmountProvider) error {
	name := p.SystemName()
	if _, ok := r.amounts[name]; ok {
		return errors.Errorf("amount provider %q already registered", name)
	}
	r.amounts[name] = p
	return nil
}

// Requirement resolves a requirement provider by system name.
func (r *Registry) Requirement(systemName string) (RequirementProvider, error) {
	p, ok := r.requirements[systemName]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProvider, "requirement %q", systemName)
	}
	return p, nil
}

// Amount resolves an amount provider by system name.
func (r *Registry) Amount(systemName string) (AmountProvider, error) {
	p, ok := r.amounts[systemName]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProvider, "amount %q", systemName)
	}
	return p, nil
}
