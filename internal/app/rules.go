package app

import (
	"encoding/json"
	"os"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/customer"
	"github.com/xenking/promo-engine/internal/domain/rules"
)

// ruleFixture is the on-disk format for requirement rule wiring: per-instance
// settings plus the customer facts the builtin providers consult. Production
// deployments replace the lookups with real identity and order systems; the
// fixture keeps the engine runnable standalone.
type ruleFixture struct {
	// Settings maps rule instance ID to its raw configuration value.
	Settings map[int64]string `json:"settings"`
	// Groups maps customer ID to group IDs.
	Groups map[string][]string `json:"groups"`
	// Spending maps customer ID to total historical spend.
	Spending map[string]decimal.Decimal `json:"spending"`
}

// buildRegistry registers the builtin requirement providers backed by the
// fixture at path. An empty path yields a registry with empty settings, so
// any discount referencing a rule instance reports it as misconfigured.
func buildRegistry(path string) (*rules.Registry, error) {
	fixture := ruleFixture{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read rule fixture")
		}
		if err := json.Unmarshal(raw, &fixture); err != nil {
			return nil, errors.Wrap(err, "parse rule fixture")
		}
	}

	settings := rules.MapSettings(fixture.Settings)
	if settings == nil {
		settings = rules.MapSettings{}
	}
	lookup := customer.Static{
		Groups:   fixture.Groups,
		Spending: fixture.Spending,
	}

	registry := rules.NewRegistry()
	for _, p := range []rules.RequirementProvider{
		rules.CustomerGroup{Groups: lookup, Settings: settings},
		rules.MinSpentAmount{Spending: lookup, Settings: settings},
		rules.HasProduct{Settings: settings},
	} {
		if err := registry.RegisterRequirement(p); err != nil {
			return nil, errors.Wrap(err, "register requirement provider")
		}
	}
	return registry, nil
}
