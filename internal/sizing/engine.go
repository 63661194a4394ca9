package sizing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/astervol/internal/pkg/apperrors"
)

// MarginSource reports the free margin of one account.
type MarginSource interface {
	Label() string
	AvailableMargin(ctx context.Context) (decimal.Decimal, error)
}

// Engine turns a target notional into an order quantity that fits the
// exchange's lot constraints and the collateral of both legs of a pair.
type Engine struct {
	Step           decimal.Decimal
	MinQuantity    decimal.Decimal // zero means no minimum
	TargetNotional decimal.Decimal
	Leverage       int
	Buffer         decimal.Decimal
}

// Plan is the outcome of sizing one pair.
type Plan struct {
	Price          decimal.Decimal
	BaseQuantity   decimal.Decimal
	Quantity       decimal.Decimal
	Scale          decimal.Decimal
	RequiredMargin decimal.Decimal
}

// Notional is the traded value of one leg.
func (p Plan) Notional() decimal.Decimal {
	return p.Price.Mul(p.Quantity)
}

// FormatQuantity truncates raw toward zero to a multiple of Step. With
// enforceMin a result below MinQuantity is raised to it.
func (e Engine) FormatQuantity(raw decimal.Decimal, enforceMin bool) (decimal.Decimal, error) {
	if e.Step.Sign() <= 0 {
		return decimal.Zero, apperrors.NewConfig("quantity step must be positive, got %s", e.Step)
	}
	q := raw.Div(e.Step).Truncate(0).Mul(e.Step)
	if enforceMin && e.MinQuantity.Sign() > 0 && q.LessThan(e.MinQuantity) {
		q = e.MinQuantity
	}
	if q.Sign() <= 0 {
		return decimal.Zero, apperrors.NewSizing("quantity %s collapsed to zero with step %s", raw, e.Step)
	}
	return q, nil
}

// CalculateQuantity sizes a pair at price. Both margins are read within the
// call so the two legs share one snapshot.
func (e Engine) CalculateQuantity(ctx context.Context, long, short MarginSource, price decimal.Decimal) (Plan, error) {
	if price.Sign() <= 0 {
		return Plan{}, apperrors.NewSizing("price must be positive, got %s", price)
	}
	if e.Leverage < 1 {
		return Plan{}, apperrors.NewConfig("leverage must be >= 1, got %d", e.Leverage)
	}

	base, err := e.FormatQuantity(e.TargetNotional.Div(price), true)
	if err != nil {
		return Plan{}, err
	}
	required := price.Mul(base).Div(decimal.NewFromInt(int64(e.Leverage)))
	plan := Plan{
		Price:          price,
		BaseQuantity:   base,
		RequiredMargin: required,
		Scale:          decimal.NewFromInt(1),
	}

	for _, src := range []MarginSource{long, short} {
		available, err := src.AvailableMargin(ctx)
		if err != nil {
			return Plan{}, fmt.Errorf("available margin for %s: %w", src.Label(), err)
		}
		effective := available.Sub(e.Buffer)
		if effective.Sign() <= 0 {
			return Plan{}, apperrors.NewSizing("account %s: available margin %s does not cover buffer %s",
				src.Label(), available, e.Buffer)
		}
		if required.Sign() > 0 {
			scale := decimal.Min(decimal.NewFromInt(1), effective.Div(required))
			plan.Scale = decimal.Min(plan.Scale, scale)
		}
	}

	qty, err := e.FormatQuantity(base.Mul(plan.Scale), false)
	if err != nil {
		return Plan{}, err
	}
	if e.MinQuantity.Sign() > 0 && qty.LessThan(e.MinQuantity) {
		return Plan{}, apperrors.NewSizing("scaled quantity %s below minimum %s (scale %s)",
			qty, e.MinQuantity, plan.Scale.StringFixed(4))
	}
	plan.Quantity = qty
	return plan, nil
}
