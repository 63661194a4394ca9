package exchange

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/astervol/internal/model"
)

// Endpoints lists the REST paths used by the bot. HMAC accounts use the
// v1/v2 API; agent accounts use v3.
type Endpoints struct {
	Order        string
	Leverage     string
	Account      string
	PositionRisk string
	UserTrades   string
	Income       string
	TickerPrice  string
}

const TickerPricePath = "/fapi/v1/ticker/price"

func EndpointsFor(s model.Scheme) Endpoints {
	if s == model.SchemeAgent {
		return Endpoints{
			Order:        "/fapi/v3/order",
			Leverage:     "/fapi/v3/leverage",
			Account:      "/fapi/v3/account",
			PositionRisk: "/fapi/v3/positionRisk",
			UserTrades:   "/fapi/v3/userTrades",
			Income:       "/fapi/v3/income",
			TickerPrice:  TickerPricePath,
		}
	}
	return Endpoints{
		Order:        "/fapi/v1/order",
		Leverage:     "/fapi/v1/leverage",
		Account:      "/fapi/v2/account",
		PositionRisk: "/fapi/v2/positionRisk",
		UserTrades:   "/fapi/v1/userTrades",
		Income:       "/fapi/v1/income",
		TickerPrice:  TickerPricePath,
	}
}

// StepPlaces is the number of decimals in step, ignoring trailing zeros.
func StepPlaces(step decimal.Decimal) int32 {
	if step.Sign() <= 0 {
		return 0
	}
	s := step.String()
	idx := strings.IndexByte(s, '.')
	if idx < 0 {
		return 0
	}
	return int32(len(s) - idx - 1)
}

// FormatQuantity renders q as a plain decimal with the step's precision.
// Digits beyond the step are truncated, never rounded up.
func FormatQuantity(q decimal.Decimal, places int32) string {
	return q.Truncate(places).StringFixed(places)
}
