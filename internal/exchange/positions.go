package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/astervol/internal/model"
	"github.com/GoPolymarket/astervol/internal/pkg/apperrors"
	"github.com/GoPolymarket/astervol/internal/pkg/logger"
	"github.com/GoPolymarket/astervol/internal/signer"
)

type PositionEntry struct {
	Symbol           string          `json:"symbol"`
	PositionSide     string          `json:"positionSide"`
	PositionAmt      decimal.Decimal `json:"positionAmt"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	MarkPrice        decimal.Decimal `json:"markPrice"`
	UnrealizedProfit decimal.Decimal `json:"unRealizedProfit"`
	Leverage         string          `json:"leverage"`
}

// side resolves the entry's position side, inferring it from the sign of
// the amount when the exchange reports BOTH or nothing.
func (e PositionEntry) side() model.PositionSide {
	ps := model.PositionSide(strings.ToUpper(e.PositionSide))
	switch ps {
	case model.PositionLong, model.PositionShort:
		return ps
	case model.PositionBoth, "":
	default:
		logger.Debug("unknown position side, inferring from amount", "symbol", e.Symbol, "position_side", e.PositionSide)
	}
	if e.PositionAmt.Sign() < 0 {
		return model.PositionShort
	}
	return model.PositionLong
}

func (c *Client) Positions(ctx context.Context, symbol string) ([]PositionEntry, error) {
	p := signer.NewPayload()
	if symbol != "" {
		p.Set("symbol", symbol)
	}
	var out []PositionEntry
	if err := c.SignedGet(ctx, c.endpoints.PositionRisk, p, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PositionAmount returns the signed position amount for symbol on side.
// An absent position reads as zero.
func (c *Client) PositionAmount(ctx context.Context, symbol string, side model.PositionSide) (decimal.Decimal, error) {
	entries, err := c.Positions(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return SumPosition(entries, symbol, side), nil
}

// SumPosition adds up the amounts of entries matching symbol and side.
func SumPosition(entries []PositionEntry, symbol string, side model.PositionSide) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if !strings.EqualFold(e.Symbol, symbol) {
			continue
		}
		if e.side() != side {
			continue
		}
		total = total.Add(e.PositionAmt)
	}
	return total
}

type FlatWait struct {
	Timeout   time.Duration
	Poll      time.Duration
	Tolerance decimal.Decimal
}

// WaitUntilFlat polls until |amount| <= tolerance. It returns the last
// observed amount; on timeout the error is RECONCILE_TIMEOUT and carries the
// last poll error, if any.
func (c *Client) WaitUntilFlat(ctx context.Context, symbol string, side model.PositionSide, w FlatWait) (decimal.Decimal, error) {
	poll := w.Poll
	if poll <= 0 {
		poll = time.Second
	}
	deadline := time.Now().Add(w.Timeout)
	tolerance := w.Tolerance.Abs()

	var (
		last    decimal.Decimal
		lastErr error
	)
	for {
		amt, err := c.PositionAmount(ctx, symbol, side)
		if err != nil {
			lastErr = err
			c.log.Debug("position poll failed", "symbol", symbol, "side", side, "error", err)
		} else {
			last, lastErr = amt, nil
			if amt.Abs().LessThanOrEqual(tolerance) {
				return amt, nil
			}
		}

		if !time.Now().Before(deadline) {
			msg := fmt.Sprintf("%s %s still open after %s (last amount %s)", symbol, side, w.Timeout, last)
			return last, apperrors.New(apperrors.ErrReconcileTimeout, msg, lastErr)
		}

		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}
	}
}
