package reconcile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/astervol/internal/exchange"
	"github.com/GoPolymarket/astervol/internal/model"
	"github.com/GoPolymarket/astervol/internal/pkg/apperrors"
	"github.com/GoPolymarket/astervol/internal/pkg/logger"
	"github.com/GoPolymarket/astervol/internal/pkg/metrics"
	"github.com/GoPolymarket/astervol/internal/sizing"
)

// PositionClient is the part of exchange.Client the reconciler needs.
type PositionClient interface {
	Label() string
	PositionAmount(ctx context.Context, symbol string, side model.PositionSide) (decimal.Decimal, error)
	ClosePosition(ctx context.Context, symbol string, side model.PositionSide, qty decimal.Decimal) (model.OrderResult, error)
	WaitUntilFlat(ctx context.Context, symbol string, side model.PositionSide, w exchange.FlatWait) (decimal.Decimal, error)
}

type Action string

const (
	LegFlat    Action = "flat"
	LegClosed  Action = "closed"
	LegSkipped Action = "skipped"
	LegFailed  Action = "failed"
)

type LegReport struct {
	Account string
	Side    model.PositionSide
	Amount  decimal.Decimal
	Closed  decimal.Decimal
	OrderID int64
	Action  Action
	Err     error
}

type Report struct {
	Legs []LegReport
}

// Clean is true when every leg was already flat or was closed and confirmed.
func (r Report) Clean() bool {
	for _, l := range r.Legs {
		if l.Action == LegSkipped || l.Action == LegFailed {
			return false
		}
	}
	return true
}

// Leg pairs an account with the side it is expected to hold.
type Leg struct {
	Client PositionClient
	Side   model.PositionSide
}

// Reconciler closes residual exposure on the legs of a pair.
type Reconciler struct {
	Symbol       string
	Sizer        sizing.Engine
	CloseTimeout time.Duration
	PollInterval time.Duration

	// FlatTolerance overrides the default of half a quantity step.
	FlatTolerance decimal.Decimal
}

func (r *Reconciler) Tolerance() decimal.Decimal {
	if r.FlatTolerance.Sign() > 0 {
		return r.FlatTolerance
	}
	return r.Sizer.Step.Div(decimal.NewFromInt(2))
}

// Reconcile inspects each leg in order. Failures are recorded in the report
// and logged; they never stop the remaining legs.
func (r *Reconciler) Reconcile(ctx context.Context, legs ...Leg) Report {
	var rep Report
	for _, leg := range legs {
		lr := r.reconcileLeg(ctx, leg)
		metrics.ReconcileActions.WithLabelValues(string(lr.Action)).Inc()
		rep.Legs = append(rep.Legs, lr)
	}
	return rep
}

func (r *Reconciler) reconcileLeg(ctx context.Context, leg Leg) LegReport {
	lr := LegReport{Account: leg.Client.Label(), Side: leg.Side}
	log := logger.With("account", lr.Account, "symbol", r.Symbol, "side", leg.Side)

	amt, err := leg.Client.PositionAmount(ctx, r.Symbol, leg.Side)
	if err != nil {
		log.Error("position query failed", "error", err)
		lr.Action, lr.Err = LegFailed, err
		return lr
	}
	lr.Amount = amt
	if amt.Abs().LessThanOrEqual(r.Tolerance()) {
		lr.Action = LegFlat
		return lr
	}

	qty, err := r.Sizer.FormatQuantity(amt.Abs(), false)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrSizing) {
			log.Warn("residual position below quantity step, manual close required",
				"amount", amt, "step", r.Sizer.Step)
			lr.Action = LegSkipped
			return lr
		}
		lr.Action, lr.Err = LegFailed, err
		return lr
	}

	log.Warn("closing residual position", "amount", amt, "quantity", qty)
	res, err := leg.Client.ClosePosition(ctx, r.Symbol, leg.Side, qty)
	if err != nil {
		log.Error("residual close failed", "quantity", qty, "error", err)
		lr.Action, lr.Err = LegFailed, err
		return lr
	}
	lr.OrderID = res.OrderID
	lr.Closed = qty

	if _, err := r.Confirm(ctx, leg); err != nil {
		lr.Action, lr.Err = LegFailed, err
		return lr
	}
	lr.Action = LegClosed
	return lr
}

// Confirm waits for a leg to go flat within the close timeout and logs a
// timeout instead of escalating it.
func (r *Reconciler) Confirm(ctx context.Context, leg Leg) (decimal.Decimal, error) {
	amt, err := leg.Client.WaitUntilFlat(ctx, r.Symbol, leg.Side, exchange.FlatWait{
		Timeout:   r.CloseTimeout,
		Poll:      r.PollInterval,
		Tolerance: r.Tolerance(),
	})
	if err != nil {
		logger.Warn("position not confirmed flat",
			"account", leg.Client.Label(), "symbol", r.Symbol, "side", leg.Side, "amount", amt, "error", err)
	}
	return amt, err
}
