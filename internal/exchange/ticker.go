package exchange

import (
	"context"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/astervol/internal/pkg/apperrors"
)

type tickerPrice struct {
	Price decimal.NullDecimal `json:"price"`
}

// Price reads the last traded price from the public ticker. It goes through
// the client's rate limiter, so it shares the account's request budget.
func (c *Client) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var out tickerPrice
	query := url.Values{"symbol": {symbol}}.Encode()
	if err := c.PublicGet(ctx, c.endpoints.TickerPrice, query, &out); err != nil {
		return decimal.Zero, err
	}
	if !out.Price.Valid {
		return decimal.Zero, &apperrors.ExchangeError{
			Message: "ticker price response missing 'price' field",
			Path:    c.endpoints.TickerPrice,
		}
	}
	if out.Price.Decimal.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive price %s for %s", out.Price.Decimal, symbol)
	}
	return out.Price.Decimal, nil
}
