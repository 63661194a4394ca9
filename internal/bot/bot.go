package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/astervol/internal/exchange"
	"github.com/GoPolymarket/astervol/internal/market"
	"github.com/GoPolymarket/astervol/internal/model"
	"github.com/GoPolymarket/astervol/internal/pkg/apperrors"
	"github.com/GoPolymarket/astervol/internal/pkg/logger"
	"github.com/GoPolymarket/astervol/internal/pkg/metrics"
	"github.com/GoPolymarket/astervol/internal/reconcile"
	"github.com/GoPolymarket/astervol/internal/sizing"
)

// Account is the per-account exchange surface the bot drives.
type Account interface {
	Label() string
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	AvailableMargin(ctx context.Context) (decimal.Decimal, error)
	PlaceMarketOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error)
	PositionAmount(ctx context.Context, symbol string, side model.PositionSide) (decimal.Decimal, error)
	ClosePosition(ctx context.Context, symbol string, side model.PositionSide, qty decimal.Decimal) (model.OrderResult, error)
	WaitUntilFlat(ctx context.Context, symbol string, side model.PositionSide, w exchange.FlatWait) (decimal.Decimal, error)
	OrderFees(ctx context.Context, symbol string, orderID int64) (decimal.Decimal, error)
}

// OrderRecorder receives one entry per order submission.
type OrderRecorder interface {
	Record(entry *model.OrderAudit)
}

// UsageRecorder mirrors per-pair totals after each completed cycle.
type UsageRecorder interface {
	AddCycle(ctx context.Context, pair string, volume, fees decimal.Decimal) error
}

// PairLocker guards a pair against being traded by two processes at once.
type PairLocker interface {
	Acquire(ctx context.Context, pair string) (release func(), err error)
}

type Settings struct {
	Symbol            string
	Leverage          int
	ConfigureLeverage bool
	Hold              time.Duration
	Cooldown          time.Duration
	MaxCycles         int // zero runs until interrupted
	CloseTimeout      time.Duration
	PollInterval      time.Duration
	Sizer             sizing.Engine
}

type Options struct {
	Settings Settings
	Accounts map[string]Account
	Pairs    []model.Pair
	Price    market.PriceSource

	Recorder OrderRecorder
	Usage    UsageRecorder
	Locker   PairLocker
}

type Bot struct {
	settings   Settings
	accounts   map[string]Account
	pairs      []model.Pair
	price      market.PriceSource
	reconciler *reconcile.Reconciler
	acc        *Accumulator

	recorder OrderRecorder
	usage    UsageRecorder
	locker   PairLocker

	log   *slog.Logger
	sleep func(ctx context.Context, d time.Duration) bool
}

func New(opts Options) (*Bot, error) {
	if len(opts.Pairs) == 0 {
		return nil, apperrors.NewConfig("at least one account pair must be configured")
	}
	for _, p := range opts.Pairs {
		if _, ok := opts.Accounts[p.Long]; !ok {
			return nil, apperrors.NewConfig("pair %s: unknown long account %q", p, p.Long)
		}
		if _, ok := opts.Accounts[p.Short]; !ok {
			return nil, apperrors.NewConfig("pair %s: unknown short account %q", p, p.Short)
		}
	}
	if opts.Price == nil {
		return nil, apperrors.NewConfig("price source is required")
	}

	s := opts.Settings
	return &Bot{
		settings: s,
		accounts: opts.Accounts,
		pairs:    opts.Pairs,
		price:    opts.Price,
		reconciler: &reconcile.Reconciler{
			Symbol:       s.Symbol,
			Sizer:        s.Sizer,
			CloseTimeout: s.CloseTimeout,
			PollInterval: s.PollInterval,
		},
		acc:      &Accumulator{},
		recorder: opts.Recorder,
		usage:    opts.Usage,
		locker:   opts.Locker,
		log:      logger.With("component", "bot", "symbol", s.Symbol),
		sleep:    sleepCtx,
	}, nil
}

func (b *Bot) Accumulator() *Accumulator { return b.acc }

// sleepCtx waits for d and reports whether it ran to completion.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ConfigureLeverage sets leverage on every account. Failures are logged by
// the client and do not stop the run.
func (b *Bot) ConfigureLeverage(ctx context.Context) {
	if !b.settings.ConfigureLeverage {
		return
	}
	for _, name := range b.accountNames() {
		_ = b.accounts[name].SetLeverage(ctx, b.settings.Symbol, b.settings.Leverage)
	}
}

func (b *Bot) accountNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, p := range b.pairs {
		for _, n := range []string{p.Long, p.Short} {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}

// Run drives cycles until MaxCycles is reached or ctx is cancelled. The
// interrupt is observed between pairs; a pair in progress always finishes
// its close orders.
func (b *Bot) Run(ctx context.Context) Snapshot {
	b.log.Info("volume bot starting",
		"pairs", len(b.pairs),
		"target_notional", b.settings.Sizer.TargetNotional,
		"leverage", b.settings.Leverage,
		"max_cycles", b.settings.MaxCycles,
	)
	b.ConfigureLeverage(context.WithoutCancel(ctx))

	stopped := false
	for cycle := 1; !stopped && (b.settings.MaxCycles <= 0 || cycle <= b.settings.MaxCycles); cycle++ {
		for _, pair := range b.pairs {
			if ctx.Err() != nil {
				stopped = true
				break
			}
			res := b.RunPair(ctx, cycle, pair)
			b.report(res)

			if !b.sleep(ctx, b.settings.Cooldown) {
				stopped = true
				break
			}
		}
		if !stopped {
			b.acc.cycleDone()
		}
	}
	if stopped {
		b.log.Warn("interrupt received, shutting down volume bot")
	}

	snap := b.acc.Snapshot()
	b.log.Info("volume bot finished",
		"cycles", snap.Cycles,
		"completed_pairs", snap.Completed,
		"failed_pairs", snap.Failed,
		"volume", snap.Volume.StringFixed(2),
		"fees", snap.Fees.StringFixed(6),
	)
	return snap
}

func (b *Bot) report(res PairResult) {
	b.acc.record(res)
	if !res.OK() {
		metrics.CyclesTotal.WithLabelValues("failed").Inc()
		args := []any{"cycle", res.Cycle, "pair", res.Pair, "stage", res.Stage, "error", res.Err}
		var exErr *apperrors.ExchangeError
		if errors.As(res.Err, &exErr) {
			args = append(args, "exchange_code", exErr.Code, "exchange_body", exErr.Body)
		}
		b.log.Error("pair cycle failed", args...)
		return
	}
	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	total := b.acc.Snapshot()
	b.log.Info("pair cycle completed",
		"cycle", res.Cycle,
		"pair", res.Pair,
		"volume", res.Volume.StringFixed(2),
		"fees", res.Fees.String(),
		"total_volume", total.Volume.StringFixed(2),
	)
}

// RunPair executes one delta-neutral cycle on pair. Exchange calls run on a
// context detached from ctx so an interrupt never leaves a leg half done;
// ctx only shortens the hold.
func (b *Bot) RunPair(ctx context.Context, cycle int, pair model.Pair) (res PairResult) {
	res = PairResult{Cycle: cycle, Pair: pair.String(), Stage: StageIdle}
	work := context.WithoutCancel(ctx)
	long, short := b.accounts[pair.Long], b.accounts[pair.Short]
	symbol := b.settings.Symbol

	fail := func(err error) PairResult {
		res.Err = err
		return res
	}

	res.Stage = StageReconciling
	if b.locker != nil {
		release, err := b.locker.Acquire(work, pair.String())
		if err != nil {
			return fail(fmt.Errorf("acquire pair lease: %w", err))
		}
		defer release()
	}
	legs := []reconcile.Leg{
		{Client: b.audited(cycle, pair, long, "reconcile"), Side: model.PositionLong},
		{Client: b.audited(cycle, pair, short, "reconcile"), Side: model.PositionShort},
	}
	if rep := b.reconciler.Reconcile(work, legs...); !rep.Clean() {
		b.log.Warn("pair not clean before cycle", "pair", res.Pair)
	}

	res.Stage = StagePricing
	price, err := b.price.Price(work, symbol)
	if err != nil {
		return fail(fmt.Errorf("fetch price: %w", err))
	}

	res.Stage = StageSizing
	plan, err := b.settings.Sizer.CalculateQuantity(work, long, short, price)
	if err != nil {
		return fail(err)
	}
	res.Plan = &plan
	notional := plan.Notional()
	b.log.Info("executing delta-neutral cycle",
		"pair", res.Pair,
		"quantity", plan.Quantity,
		"price", price,
		"scale", plan.Scale,
		"notional", notional.StringFixed(2),
	)

	res.Stage = StageOpening
	longOpen, err := b.place(work, cycle, pair, long, "open", model.OrderRequest{
		Symbol: symbol, Side: model.PositionLong.OpeningSide(), PositionSide: model.PositionLong, Quantity: plan.Quantity,
	})
	if err != nil {
		return fail(fmt.Errorf("open long on %s: %w", long.Label(), err))
	}
	b.addVolume(&res, notional)
	shortOpen, err := b.place(work, cycle, pair, short, "open", model.OrderRequest{
		Symbol: symbol, Side: model.PositionShort.OpeningSide(), PositionSide: model.PositionShort, Quantity: plan.Quantity,
	})
	if err != nil {
		// Unwind the long leg so the failure does not leave directional exposure.
		if _, uerr := b.place(work, cycle, pair, long, "unwind", model.OrderRequest{
			Symbol: symbol, Side: model.PositionLong.ClosingSide(), PositionSide: model.PositionLong, Quantity: plan.Quantity, ReduceOnly: true,
		}); uerr != nil {
			b.log.Error("unwind long leg failed", "pair", res.Pair, "account", long.Label(), "error", uerr)
		} else {
			b.addVolume(&res, notional)
		}
		return fail(fmt.Errorf("open short on %s: %w", short.Label(), err))
	}
	b.addVolume(&res, notional)

	res.Stage = StageHolding
	b.log.Debug("holding positions", "pair", res.Pair, "hold", b.settings.Hold)
	b.sleep(ctx, b.settings.Hold)

	res.Stage = StageClosing
	var closeErrs []error
	orders := []placedOrder{{long, longOpen.OrderID}, {short, shortOpen.OrderID}}

	longClose, err := b.place(work, cycle, pair, long, "close", model.OrderRequest{
		Symbol: symbol, Side: model.PositionLong.ClosingSide(), PositionSide: model.PositionLong, Quantity: plan.Quantity, ReduceOnly: true,
	})
	if err != nil {
		closeErrs = append(closeErrs, fmt.Errorf("close long on %s: %w", long.Label(), err))
	} else {
		b.addVolume(&res, notional)
		orders = append(orders, placedOrder{long, longClose.OrderID})
	}
	shortClose, err := b.place(work, cycle, pair, short, "close", model.OrderRequest{
		Symbol: symbol, Side: model.PositionShort.ClosingSide(), PositionSide: model.PositionShort, Quantity: plan.Quantity, ReduceOnly: true,
	})
	if err != nil {
		closeErrs = append(closeErrs, fmt.Errorf("close short on %s: %w", short.Label(), err))
	} else {
		b.addVolume(&res, notional)
		orders = append(orders, placedOrder{short, shortClose.OrderID})
	}

	res.Stage = StageConfirming
	for _, leg := range legs {
		_, _ = b.reconciler.Confirm(work, leg)
	}

	res.Stage = StageAccounting
	for _, o := range orders {
		fee, err := o.acct.OrderFees(work, symbol, o.id)
		if err != nil {
			b.log.Warn("fee lookup failed", "account", o.acct.Label(), "order_id", o.id, "error", err)
			continue
		}
		res.Fees = res.Fees.Add(fee)
	}
	b.acc.AddFees(res.Fees)
	if b.usage != nil {
		if err := b.usage.AddCycle(work, res.Pair, res.Volume, res.Fees); err != nil {
			b.log.Warn("usage mirror failed", "pair", res.Pair, "error", err)
		}
	}

	if len(closeErrs) > 0 {
		res.Stage = StageClosing
		return fail(errors.Join(closeErrs...))
	}
	res.Stage = StageCooldown
	return res
}

type placedOrder struct {
	acct Account
	id   int64
}

func (b *Bot) addVolume(res *PairResult, notional decimal.Decimal) {
	res.Volume = res.Volume.Add(notional)
	b.acc.AddVolume(notional)
}

func (b *Bot) place(ctx context.Context, cycle int, pair model.Pair, acct Account, purpose string, req model.OrderRequest) (model.OrderResult, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = exchange.NewClientOrderID()
	}
	start := time.Now()
	res, err := acct.PlaceMarketOrder(ctx, req)
	b.record(cycle, pair, acct, purpose, req, res, err, time.Since(start))
	return res, err
}

func (b *Bot) record(cycle int, pair model.Pair, acct Account, purpose string, req model.OrderRequest, res model.OrderResult, err error, latency time.Duration) {
	if b.recorder == nil {
		return
	}
	entry := &model.OrderAudit{
		ID:            uuid.NewString(),
		Cycle:         cycle,
		Pair:          pair.String(),
		Account:       acct.Label(),
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		PositionSide:  string(req.PositionSide),
		Quantity:      req.Quantity.String(),
		ReduceOnly:    req.ReduceOnly,
		Purpose:       purpose,
		OrderID:       res.OrderID,
		ClientOrderID: req.ClientOrderID,
		Status:        res.Status,
		LatencyMs:     latency.Milliseconds(),
		CreatedAt:     time.Now().UTC(),
	}
	if err != nil {
		entry.Status = "ERROR"
		entry.Error = err.Error()
	}
	b.recorder.Record(entry)
}

// auditedAccount records the reconciler's residual closes.
type auditedAccount struct {
	Account
	bot     *Bot
	cycle   int
	pair    model.Pair
	purpose string
}

func (b *Bot) audited(cycle int, pair model.Pair, acct Account, purpose string) *auditedAccount {
	return &auditedAccount{Account: acct, bot: b, cycle: cycle, pair: pair, purpose: purpose}
}

func (a *auditedAccount) ClosePosition(ctx context.Context, symbol string, side model.PositionSide, qty decimal.Decimal) (model.OrderResult, error) {
	return a.bot.place(ctx, a.cycle, a.pair, a.Account, a.purpose, model.OrderRequest{
		Symbol:       symbol,
		Side:         side.ClosingSide(),
		PositionSide: side,
		Quantity:     qty,
		ReduceOnly:   true,
	})
}
