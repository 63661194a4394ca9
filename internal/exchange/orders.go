package exchange

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/astervol/internal/model"
	"github.com/GoPolymarket/astervol/internal/pkg/apperrors"
	"github.com/GoPolymarket/astervol/internal/pkg/metrics"
	"github.com/GoPolymarket/astervol/internal/signer"
)

// NewClientOrderID returns a fresh exchange-safe client order id.
func NewClientOrderID() string {
	return "av-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SetLeverage configures the account's leverage on symbol. Failures are
// logged here and returned; callers may treat them as non-fatal.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	p := signer.NewPayload().
		Set("symbol", symbol).
		Set("leverage", leverage)
	if err := c.SignedPost(ctx, c.endpoints.Leverage, p, nil); err != nil {
		c.log.Warn("set leverage failed", "symbol", symbol, "leverage", leverage, "error", err)
		return err
	}
	c.log.Info("leverage configured", "symbol", symbol, "leverage", leverage)
	return nil
}

// PlaceMarketOrder submits a MARKET order and returns the acknowledgement.
func (c *Client) PlaceMarketOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	if req.Quantity.Sign() <= 0 {
		return model.OrderResult{}, apperrors.NewSizing("order quantity must be positive, got %s", req.Quantity)
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = NewClientOrderID()
	}

	p := signer.NewPayload().
		Set("symbol", req.Symbol).
		Set("side", string(req.Side)).
		Set("type", "MARKET").
		Set("positionSide", string(req.PositionSide)).
		Set("quantity", FormatQuantity(req.Quantity, c.qtyPlaces))
	if req.ReduceOnly {
		p.Set("reduceOnly", "true")
	}
	p.Set("newClientOrderId", req.ClientOrderID)

	var res model.OrderResult
	err := c.SignedPost(ctx, c.endpoints.Order, p, &res)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.OrdersTotal.WithLabelValues(c.Label(), string(req.Side), string(req.PositionSide), status).Inc()
	if err != nil {
		return model.OrderResult{}, err
	}
	if res.ClientOrderID == "" {
		res.ClientOrderID = req.ClientOrderID
	}

	c.log.Info("order placed",
		"symbol", req.Symbol,
		"side", req.Side,
		"position_side", req.PositionSide,
		"quantity", FormatQuantity(req.Quantity, c.qtyPlaces),
		"reduce_only", req.ReduceOnly,
		"order_id", res.OrderID,
		"price", res.PriceInfo(),
	)
	return res, nil
}

// ClosePosition sends a reduce-only market order against the position on side.
func (c *Client) ClosePosition(ctx context.Context, symbol string, side model.PositionSide, qty decimal.Decimal) (model.OrderResult, error) {
	return c.PlaceMarketOrder(ctx, model.OrderRequest{
		Symbol:       symbol,
		Side:         side.ClosingSide(),
		PositionSide: side,
		Quantity:     qty,
		ReduceOnly:   true,
	})
}
