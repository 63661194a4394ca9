package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

type AccountOverview struct {
	TotalWalletBalance    decimal.Decimal `json:"totalWalletBalance"`
	TotalUnrealizedProfit decimal.Decimal `json:"totalUnrealizedProfit"`
	TotalMarginBalance    decimal.Decimal `json:"totalMarginBalance"`
	AvailableBalance      decimal.Decimal `json:"availableBalance"`
	MaxWithdrawAmount     decimal.Decimal `json:"maxWithdrawAmount"`
}

func (c *Client) AccountOverview(ctx context.Context) (AccountOverview, error) {
	var out AccountOverview
	if err := c.SignedGet(ctx, c.endpoints.Account, nil, &out); err != nil {
		return AccountOverview{}, err
	}
	return out, nil
}

// AvailableMargin is the account's free balance usable for new positions.
func (c *Client) AvailableMargin(ctx context.Context) (decimal.Decimal, error) {
	ov, err := c.AccountOverview(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return ov.AvailableBalance, nil
}
