// Command seed-db loads a JSON fixture of discounts and their coupon codes
// into the database, running migrations first.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/repository"
)

type requirementJSON struct {
	SystemName string `json:"systemName"`
	ConfigID   int64  `json:"configId"`
}

type discountJSON struct {
	Name             string            `json:"name"`
	Type             string            `json:"type"`
	UsePercentage    bool              `json:"usePercentage"`
	Percentage       decimal.Decimal   `json:"percentage"`
	FixedAmount      decimal.Decimal   `json:"fixedAmount"`
	MaxAmount        *decimal.Decimal  `json:"maxAmount"`
	StartsAt         *time.Time        `json:"startsAt"`
	EndsAt           *time.Time        `json:"endsAt"`
	RequiresCoupon   bool              `json:"requiresCoupon"`
	Cumulative       bool              `json:"cumulative"`
	Limitation       string            `json:"limitation"`
	LimitationTimes  int               `json:"limitationTimes"`
	MaxDiscountedQty *int              `json:"maxDiscountedQty"`
	PluginCalculated bool              `json:"pluginCalculated"`
	AmountProvider   string            `json:"amountProvider"`
	Requirements     []requirementJSON `json:"requirements"`
	StoreIDs         []string          `json:"storeIds"`
	CurrencyCodes    []string          `json:"currencyCodes"`
	Active           bool              `json:"active"`
	Coupons          []string          `json:"coupons"`
}

func main() {
	var (
		databaseURL string
		seedFile    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedFile, "seed-file", "db/seed/discounts.json", "path to discounts JSON fixture")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return seedDiscounts(ctx, repository.NewCatalog(pool), seedFile)
}

func seedDiscounts(ctx context.Context, catalog discount.Catalog, seedFile string) error {
	slog.Info("reading seed file", slog.String("path", seedFile))

	data, err := os.ReadFile(seedFile)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}

	var fixtures []discountJSON
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return errors.Wrap(err, "parse seed JSON")
	}

	slog.Info("inserting discounts", slog.Int("count", len(fixtures)))

	for _, f := range fixtures {
		d := toDiscount(f)
		if err := catalog.Insert(ctx, d); err != nil {
			return errors.Wrapf(err, "insert discount %q", f.Name)
		}

		slog.Info("inserted discount",
			slog.Int64("id", d.ID),
			slog.String("name", d.Name),
			slog.Int("coupons", len(f.Coupons)),
		)

		for _, code := range f.Coupons {
			err := catalog.InsertCoupon(ctx, &discount.Coupon{DiscountID: d.ID, Code: code})
			switch {
			case err == nil:
			case errors.Is(err, discount.ErrInUse):
				slog.Warn("coupon code already taken", slog.String("code", code))
			default:
				return errors.Wrapf(err, "insert coupon %q", code)
			}
		}
	}

	return nil
}

func toDiscount(f discountJSON) *discount.Discount {
	reqs := make([]discount.Requirement, 0, len(f.Requirements))
	for _, r := range f.Requirements {
		reqs = append(reqs, discount.Requirement{SystemName: r.SystemName, ConfigID: r.ConfigID})
	}

	return &discount.Discount{
		Name:             f.Name,
		Type:             discount.Type(f.Type),
		UsePercentage:    f.UsePercentage,
		Percentage:       f.Percentage,
		FixedAmount:      f.FixedAmount,
		MaxAmount:        f.MaxAmount,
		StartsAt:         f.StartsAt,
		EndsAt:           f.EndsAt,
		RequiresCoupon:   f.RequiresCoupon,
		Cumulative:       f.Cumulative,
		Limitation:       discount.Limitation(f.Limitation),
		LimitationTimes:  f.LimitationTimes,
		MaxDiscountedQty: f.MaxDiscountedQty,
		PluginCalculated: f.PluginCalculated,
		AmountProvider:   f.AmountProvider,
		Requirements:     reqs,
		StoreIDs:         f.StoreIDs,
		CurrencyCodes:    f.CurrencyCodes,
		Active:           f.Active,
	}
}
