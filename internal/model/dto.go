package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
	PositionBoth  PositionSide = "BOTH"
)

// OpeningSide is the order side that grows a position on ps.
func (ps PositionSide) OpeningSide() Side {
	if ps == PositionShort {
		return SideSell
	}
	return SideBuy
}

// ClosingSide is the order side that reduces a position on ps.
func (ps PositionSide) ClosingSide() Side {
	if ps == PositionShort {
		return SideBuy
	}
	return SideSell
}

// OrderRequest describes a market order.
type OrderRequest struct {
	Symbol        string
	Side          Side
	PositionSide  PositionSide
	Quantity      decimal.Decimal
	ReduceOnly    bool
	ClientOrderID string
}

// OrderResult is the subset of the order acknowledgement the bot uses.
type OrderResult struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	PositionSide  string `json:"positionSide"`
	AvgPrice      string `json:"avgPrice"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
}

// PriceInfo picks the most informative price of the acknowledgement.
func (r OrderResult) PriceInfo() string {
	if r.AvgPrice != "" && r.AvgPrice != "0" && r.AvgPrice != "0.00000" {
		return r.AvgPrice
	}
	if r.Price != "" && r.Price != "0" {
		return r.Price
	}
	return "MARKET"
}

// IncomeRecord is one row of the income history endpoint.
type IncomeRecord struct {
	Symbol     string      `json:"symbol"`
	IncomeType string      `json:"incomeType"`
	Income     json.Number `json:"income"`
	Asset      string      `json:"asset"`
	Info       string      `json:"info"`
	Time       int64       `json:"time"`
	TranID     int64       `json:"tranId"`
	TradeID    string      `json:"tradeId"`
}
