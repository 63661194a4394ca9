package market

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceSource returns a reference price for sizing a cycle.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}
