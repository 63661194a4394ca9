package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/astervol/internal/exchange"
	"github.com/GoPolymarket/astervol/internal/pkg/apperrors"
	"github.com/GoPolymarket/astervol/internal/pkg/metrics"
)

// RESTTicker reads the last price from an alternate ticker URL. Any
// endpoint answering {"price": ...} to a ?symbol= query works. The
// exchange's own ticker is read through exchange.Client.Price instead.
type RESTTicker struct {
	URL        string
	HTTPClient *http.Client
}

func NewRESTTicker(target string, timeout time.Duration) *RESTTicker {
	target = strings.TrimSpace(target)
	if timeout <= 0 {
		timeout = exchange.DefaultTimeout
	}
	return &RESTTicker{
		URL:        target,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type tickerResponse struct {
	Price decimal.NullDecimal `json:"price"`
}

func (t *RESTTicker) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return decimal.Zero, apperrors.NewConfig("invalid price source url %q: %v", t.URL, err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return decimal.Zero, err
	}

	start := time.Now()
	resp, err := t.HTTPClient.Do(req)
	metrics.ExchangeLatency.WithLabelValues(u.Path).Observe(time.Since(start).Seconds())
	if err != nil {
		return decimal.Zero, apperrors.NewNetwork("fetch price", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, apperrors.NewNetwork("read price response", err)
	}
	if err := exchange.CheckResponse(u.Path, resp.StatusCode, body); err != nil {
		return decimal.Zero, err
	}

	var tr tickerResponse
	if err := json.Unmarshal(body, &tr); err != nil || !tr.Price.Valid {
		return decimal.Zero, &apperrors.ExchangeError{
			Status:  resp.StatusCode,
			Message: "ticker price response missing 'price' field",
			Body:    string(body),
			Path:    u.Path,
		}
	}
	if tr.Price.Decimal.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive price %s for %s", tr.Price.Decimal, symbol)
	}
	return tr.Price.Decimal, nil
}
