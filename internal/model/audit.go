package model

import (
	"time"
)

// OrderAudit records one order submission, successful or not.
type OrderAudit struct {
	ID            string    `json:"id" gorm:"primaryKey;type:text"`
	Cycle         int       `json:"cycle"`
	Pair          string    `json:"pair" gorm:"index"`
	Account       string    `json:"account" gorm:"index"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	PositionSide  string    `json:"position_side"`
	Quantity      string    `json:"quantity"`
	ReduceOnly    bool      `json:"reduce_only"`
	Purpose       string    `json:"purpose"` // open, close, reconcile
	OrderID       int64     `json:"order_id,omitempty"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	LatencyMs     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at" gorm:"index"`
}

func (OrderAudit) TableName() string {
	return "order_audits"
}
