package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/astervol/internal/model"
	"github.com/GoPolymarket/astervol/internal/signer"
)

type TradeFill struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"orderId"`
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`
	Price           decimal.Decimal `json:"price"`
	Qty             decimal.Decimal `json:"qty"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commissionAsset"`
	Time            int64           `json:"time"`
}

// OrderFees sums the absolute commission over the fills of orderID.
// No fills yields zero.
func (c *Client) OrderFees(ctx context.Context, symbol string, orderID int64) (decimal.Decimal, error) {
	p := signer.NewPayload().
		Set("symbol", symbol).
		Set("orderId", orderID)
	var fills []TradeFill
	if err := c.SignedGet(ctx, c.endpoints.UserTrades, p, &fills); err != nil {
		return decimal.Zero, err
	}
	return SumFillCommission(fills, orderID), nil
}

func SumFillCommission(fills []TradeFill, orderID int64) decimal.Decimal {
	total := decimal.Zero
	for _, f := range fills {
		if f.OrderID != orderID || f.Commission.IsZero() {
			continue
		}
		total = total.Add(f.Commission.Abs())
	}
	return total
}

type IncomeQuery struct {
	Symbol     string
	IncomeType string
	// StartTime and EndTime are sent only when Bounded is set, so a range
	// starting at the epoch is not mistaken for "no range".
	Bounded   bool
	StartTime int64
	EndTime   int64
	Limit     int
}

// IncomePage fetches one page of the income history.
func (c *Client) IncomePage(ctx context.Context, q IncomeQuery) ([]model.IncomeRecord, error) {
	p := signer.NewPayload()
	if q.Symbol != "" {
		p.Set("symbol", q.Symbol)
	}
	if q.IncomeType != "" {
		p.Set("incomeType", q.IncomeType)
	}
	if q.Bounded {
		p.Set("startTime", q.StartTime)
		p.Set("endTime", q.EndTime)
	}
	if q.Limit > 0 {
		p.Set("limit", q.Limit)
	}
	var out []model.IncomeRecord
	if err := c.SignedGet(ctx, c.endpoints.Income, p, &out); err != nil {
		return nil, err
	}
	return out, nil
}
