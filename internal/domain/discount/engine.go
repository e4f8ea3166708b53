package discount

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Engine runs the full evaluation pipeline: fetch candidate discounts,
// validate each against the context, price the survivors, and select the
// preferred combination. It reads fresh discount state from the catalog
// on every call; there is no caching layer.
type Engine struct {
	catalog   Catalog
	validator *Validator
	selector  *Selector

	tracer      trace.Tracer
	evaluations metric.Int64Counter
	rejections  metric.Int64Counter
}

// NewEngine wires the evaluation pipeline. Tracing and metrics use the
// global OpenTelemetry providers installed by the application runner.
func NewEngine(catalog Catalog, validator *Validator, selector *Selector) *Engine {
	e := &Engine{
		catalog:   catalog,
		validator: validator,
		selector:  selector,
		tracer:    otel.Tracer("promo.discount"),
	}

	meter := otel.Meter("promo.discount")
	var err error
	if e.evaluations, err = meter.Int64Counter("promo.evaluations",
		metric.WithDescription("Completed discount evaluations"),
	); err != nil {
		otel.Handle(err)
	}
	if e.rejections, err = meter.Int64Counter("promo.rejections",
		metric.WithDescription("Discounts rejected during validation"),
	); err != nil {
		otel.Handle(err)
	}

	return e
}

// Evaluation is the outcome of one pipeline run.
type Evaluation struct {
	Selection Selection
	// Rejected maps discount IDs to the reasons they did not apply,
	// for callers that surface per-discount explanations.
	Rejected map[int64][]Reason
}

// Evaluate fetches every discount of the given type and returns the
// preferred selection over the base amount. Validation failures are
// collected per discount, not returned as errors.
func (e *Engine) Evaluate(ctx context.Context, t Type, ec Context, baseAmount decimal.Decimal) (*Evaluation, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Evaluate",
		trace.WithAttributes(attribute.String("discount.type", string(t))))
	defer span.End()

	discounts, err := e.catalog.Query(ctx, Filter{Type: t})
	if err != nil {
		return nil, errors.Wrap(err, "query discounts")
	}

	eval := &Evaluation{Rejected: make(map[int64][]Reason)}
	var candidates []Candidate
	for i := range discounts {
		d := &discounts[i]
		res, err := e.validator.Validate(ctx, d, ec)
		if err != nil {
			return nil, errors.Wrapf(err, "validate discount %d", d.ID)
		}
		if !res.Valid() {
			eval.Rejected[d.ID] = res.Reasons
			continue
		}
		candidates = append(candidates, Candidate{
			Discount:   *d,
			CouponCode: res.MatchedCoupon,
		})
	}

	selection, err := e.selector.SelectPreferred(ctx, candidates, ec, baseAmount)
	if err != nil {
		return nil, errors.Wrap(err, "select preferred discounts")
	}
	eval.Selection = selection

	attrs := metric.WithAttributes(attribute.String("discount.type", string(t)))
	e.evaluations.Add(ctx, 1, attrs)
	e.rejections.Add(ctx, int64(len(eval.Rejected)), attrs)
	return eval, nil
}
