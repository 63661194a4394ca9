package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/astervol/internal/exchange"
	"github.com/GoPolymarket/astervol/internal/model"
	"github.com/GoPolymarket/astervol/internal/pkg/apperrors"
	"github.com/GoPolymarket/astervol/internal/sizing"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeAccount struct {
	mu        sync.Mutex
	label     string
	margin    decimal.Decimal
	position  map[model.PositionSide]decimal.Decimal
	orders    []model.OrderRequest
	failOn    func(req model.OrderRequest) error
	leverage  int
	nextID    int64
	feePerFil decimal.Decimal
	waits     int
}

func newFakeAccount(label, margin string) *fakeAccount {
	return &fakeAccount{
		label:     label,
		margin:    d(margin),
		position:  map[model.PositionSide]decimal.Decimal{},
		feePerFil: d("0.01"),
	}
}

func (f *fakeAccount) Label() string { return f.label }

func (f *fakeAccount) SetLeverage(_ context.Context, _ string, leverage int) error {
	f.leverage = leverage
	return nil
}

func (f *fakeAccount) AvailableMargin(context.Context) (decimal.Decimal, error) {
	return f.margin, nil
}

func (f *fakeAccount) PlaceMarketOrder(_ context.Context, req model.OrderRequest) (model.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != nil {
		if err := f.failOn(req); err != nil {
			return model.OrderResult{}, err
		}
	}
	f.orders = append(f.orders, req)
	delta := req.Quantity
	if req.PositionSide == model.PositionShort {
		delta = delta.Neg()
	}
	if req.ReduceOnly {
		delta = delta.Neg()
	}
	f.position[req.PositionSide] = f.position[req.PositionSide].Add(delta)
	f.nextID++
	return model.OrderResult{OrderID: f.nextID, Status: "FILLED"}, nil
}

func (f *fakeAccount) PositionAmount(_ context.Context, _ string, side model.PositionSide) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position[side], nil
}

func (f *fakeAccount) ClosePosition(ctx context.Context, symbol string, side model.PositionSide, qty decimal.Decimal) (model.OrderResult, error) {
	return f.PlaceMarketOrder(ctx, model.OrderRequest{Symbol: symbol, Side: side.ClosingSide(), PositionSide: side, Quantity: qty, ReduceOnly: true})
}

func (f *fakeAccount) WaitUntilFlat(ctx context.Context, symbol string, side model.PositionSide, _ exchange.FlatWait) (decimal.Decimal, error) {
	f.mu.Lock()
	f.waits++
	f.mu.Unlock()
	return f.PositionAmount(ctx, symbol, side)
}

func (f *fakeAccount) OrderFees(context.Context, string, int64) (decimal.Decimal, error) {
	return f.feePerFil, nil
}

type staticPrice struct {
	price decimal.Decimal
	err   error
	calls int
}

func (s *staticPrice) Price(context.Context, string) (decimal.Decimal, error) {
	s.calls++
	return s.price, s.err
}

type memRecorder struct {
	mu      sync.Mutex
	entries []*model.OrderAudit
}

func (m *memRecorder) Record(e *model.OrderAudit) {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
}

type memUsage struct {
	pairs  []string
	volume decimal.Decimal
}

func (m *memUsage) AddCycle(_ context.Context, pair string, volume, _ decimal.Decimal) error {
	m.pairs = append(m.pairs, pair)
	m.volume = m.volume.Add(volume)
	return nil
}

func newTestBot(t *testing.T, accounts map[string]*fakeAccount, pairs []model.Pair, price *staticPrice) (*Bot, *memRecorder, *memUsage) {
	t.Helper()
	accts := make(map[string]Account, len(accounts))
	for k, v := range accounts {
		accts[k] = v
	}
	rec := &memRecorder{}
	usage := &memUsage{}
	b, err := New(Options{
		Settings: Settings{
			Symbol:            "BTCUSDT",
			Leverage:          50,
			ConfigureLeverage: true,
			MaxCycles:         1,
			CloseTimeout:      time.Second,
			PollInterval:      time.Millisecond,
			Sizer: sizing.Engine{
				Step:           d("0.01"),
				TargetNotional: d("100"),
				Leverage:       50,
				Buffer:         d("5"),
			},
		},
		Accounts: accts,
		Pairs:    pairs,
		Price:    price,
		Recorder: rec,
		Usage:    usage,
	})
	require.NoError(t, err)
	b.sleep = func(ctx context.Context, _ time.Duration) bool { return ctx.Err() == nil }
	return b, rec, usage
}

func TestRunPair_FullCycle(t *testing.T) {
	long := newFakeAccount("a", "10")
	short := newFakeAccount("b", "6")
	b, rec, usage := newTestBot(t, map[string]*fakeAccount{"a": long, "b": short},
		[]model.Pair{{Long: "a", Short: "b"}}, &staticPrice{price: d("1.00")})

	snap := b.Run(context.Background())

	assert.Equal(t, 1, snap.Cycles)
	assert.Equal(t, 1, snap.Completed)
	assert.Equal(t, 0, snap.Failed)
	// quantity 50 at price 1 => four legs of 50 notional
	assert.Equal(t, "200", snap.Volume.String())
	assert.Equal(t, "0.04", snap.Fees.String())
	require.NotNil(t, snap.Last)
	assert.Equal(t, StageCooldown, snap.Last.Stage)
	assert.Equal(t, "50", snap.Last.Plan.Quantity.String())

	require.Len(t, long.orders, 2)
	assert.Equal(t, model.SideBuy, long.orders[0].Side)
	assert.Equal(t, model.PositionLong, long.orders[0].PositionSide)
	assert.False(t, long.orders[0].ReduceOnly)
	assert.Equal(t, model.SideSell, long.orders[1].Side)
	assert.True(t, long.orders[1].ReduceOnly)

	require.Len(t, short.orders, 2)
	assert.Equal(t, model.SideSell, short.orders[0].Side)
	assert.Equal(t, model.PositionShort, short.orders[0].PositionSide)
	assert.Equal(t, model.SideBuy, short.orders[1].Side)
	assert.True(t, short.orders[1].ReduceOnly)

	assert.True(t, long.position[model.PositionLong].IsZero())
	assert.True(t, short.position[model.PositionShort].IsZero())
	assert.Equal(t, 50, long.leverage)
	assert.Equal(t, 50, short.leverage)

	assert.Len(t, rec.entries, 4)
	assert.Equal(t, []string{"a/b"}, usage.pairs)
	assert.Equal(t, "200", usage.volume.String())
}

func TestRun_PairFailureDoesNotStopOthers(t *testing.T) {
	a := newFakeAccount("a", "10")
	broke := newFakeAccount("broke", "1") // below buffer
	c := newFakeAccount("c", "100")
	price := &staticPrice{price: d("1")}
	b, _, _ := newTestBot(t, map[string]*fakeAccount{"a": a, "broke": broke, "c": c},
		[]model.Pair{{Long: "a", Short: "broke"}, {Long: "a", Short: "c"}}, price)

	snap := b.Run(context.Background())

	assert.Equal(t, 1, snap.Completed)
	assert.Equal(t, 1, snap.Failed)
	assert.Empty(t, broke.orders)
	assert.Len(t, c.orders, 2)
	assert.Equal(t, 2, price.calls)
}

func TestRunPair_SizingFailureStage(t *testing.T) {
	a := newFakeAccount("a", "10")
	broke := newFakeAccount("broke", "5")
	b, _, _ := newTestBot(t, map[string]*fakeAccount{"a": a, "broke": broke},
		[]model.Pair{{Long: "a", Short: "broke"}}, &staticPrice{price: d("1")})

	res := b.RunPair(context.Background(), 1, model.Pair{Long: "a", Short: "broke"})
	assert.Equal(t, StageSizing, res.Stage)
	assert.True(t, apperrors.Is(res.Err, apperrors.ErrSizing))
	assert.Nil(t, res.Plan)
}

func TestRunPair_PricingFailure(t *testing.T) {
	a := newFakeAccount("a", "10")
	c := newFakeAccount("c", "10")
	b, _, _ := newTestBot(t, map[string]*fakeAccount{"a": a, "c": c},
		[]model.Pair{{Long: "a", Short: "c"}}, &staticPrice{err: errors.New("ticker down")})

	res := b.RunPair(context.Background(), 1, model.Pair{Long: "a", Short: "c"})
	assert.Equal(t, StagePricing, res.Stage)
	assert.ErrorContains(t, res.Err, "ticker down")
}

func TestRunPair_ShortOpenFailureUnwindsLong(t *testing.T) {
	long := newFakeAccount("a", "10")
	short := newFakeAccount("b", "10")
	short.failOn = func(model.OrderRequest) error {
		return &apperrors.ExchangeError{Status: 400, Code: -2019, Message: "Margin is insufficient."}
	}
	b, rec, _ := newTestBot(t, map[string]*fakeAccount{"a": long, "b": short},
		[]model.Pair{{Long: "a", Short: "b"}}, &staticPrice{price: d("1")})

	res := b.RunPair(context.Background(), 1, model.Pair{Long: "a", Short: "b"})

	assert.Equal(t, StageOpening, res.Stage)
	assert.True(t, apperrors.Is(res.Err, apperrors.ErrExchange))
	require.Len(t, long.orders, 2)
	assert.True(t, long.orders[1].ReduceOnly)
	assert.True(t, long.position[model.PositionLong].IsZero())

	var purposes []string
	for _, e := range rec.entries {
		purposes = append(purposes, e.Purpose)
	}
	assert.Equal(t, []string{"open", "open", "unwind"}, purposes)
	assert.Equal(t, "ERROR", rec.entries[1].Status)
}

func TestRunPair_ReconcilesResidualFirst(t *testing.T) {
	long := newFakeAccount("a", "10")
	short := newFakeAccount("b", "10")
	long.position[model.PositionLong] = d("0.37")
	b, rec, _ := newTestBot(t, map[string]*fakeAccount{"a": long, "b": short},
		[]model.Pair{{Long: "a", Short: "b"}}, &staticPrice{price: d("1")})

	res := b.RunPair(context.Background(), 1, model.Pair{Long: "a", Short: "b"})
	require.NoError(t, res.Err)

	require.Len(t, long.orders, 3)
	assert.True(t, long.orders[0].ReduceOnly)
	assert.Equal(t, "0.37", long.orders[0].Quantity.String())
	assert.Equal(t, "reconcile", rec.entries[0].Purpose)
}

func TestRun_InterruptBetweenPairs(t *testing.T) {
	a := newFakeAccount("a", "100")
	c := newFakeAccount("c", "100")
	b, _, _ := newTestBot(t, map[string]*fakeAccount{"a": a, "c": c},
		[]model.Pair{{Long: "a", Short: "c"}, {Long: "c", Short: "a"}}, &staticPrice{price: d("1")})
	b.settings.MaxCycles = 0

	ctx, cancel := context.WithCancel(context.Background())
	b.sleep = func(ctx context.Context, _ time.Duration) bool {
		// Interrupt arrives during the first hold.
		cancel()
		return ctx.Err() == nil
	}

	snap := b.Run(ctx)

	assert.Equal(t, 1, snap.Completed)
	assert.Equal(t, 0, snap.Cycles)
	// The pair in flight still closed both legs.
	assert.True(t, a.position[model.PositionLong].IsZero())
	assert.True(t, c.position[model.PositionShort].IsZero())
}

func TestNew_RejectsUnknownAccounts(t *testing.T) {
	_, err := New(Options{
		Accounts: map[string]Account{"a": newFakeAccount("a", "1")},
		Pairs:    []model.Pair{{Long: "a", Short: "ghost"}},
		Price:    &staticPrice{},
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}

func TestAccumulatorConcurrentSnapshots(t *testing.T) {
	acc := &Accumulator{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			acc.AddVolume(d("1.5"))
			acc.AddFees(d("0.01"))
		}()
		go func() {
			defer wg.Done()
			_ = acc.Snapshot()
		}()
	}
	wg.Wait()
	snap := acc.Snapshot()
	assert.Equal(t, "75", snap.Volume.String())
	assert.Equal(t, "0.5", snap.Fees.String())
}

func TestRunPair_CloseFailure(t *testing.T) {
	long := newFakeAccount("a", "10")
	short := newFakeAccount("b", "10")
	long.failOn = func(req model.OrderRequest) error {
		if req.ReduceOnly && req.PositionSide == model.PositionLong {
			return &apperrors.ExchangeError{Status: 400, Code: -2022, Message: "ReduceOnly Order is rejected."}
		}
		return nil
	}
	b, rec, usage := newTestBot(t, map[string]*fakeAccount{"a": long, "b": short},
		[]model.Pair{{Long: "a", Short: "b"}}, &staticPrice{price: d("1")})

	res := b.RunPair(context.Background(), 1, model.Pair{Long: "a", Short: "b"})

	assert.Equal(t, StageClosing, res.Stage)
	require.Error(t, res.Err)
	assert.ErrorContains(t, res.Err, "close long on a")
	assert.True(t, apperrors.Is(res.Err, apperrors.ErrExchange))

	// two opens and the short close went through
	assert.Equal(t, "150", res.Volume.String())
	assert.Equal(t, "0.03", res.Fees.String())

	assert.Equal(t, 1, long.waits)
	assert.Equal(t, 1, short.waits)
	assert.Equal(t, "50", long.position[model.PositionLong].String())
	assert.True(t, short.position[model.PositionShort].IsZero())

	assert.Equal(t, []string{"a/b"}, usage.pairs)
	assert.Equal(t, "150", usage.volume.String())

	require.Len(t, rec.entries, 4)
	var failed int
	for _, e := range rec.entries {
		if e.Status == "ERROR" {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}
