package fees

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/astervol/internal/exchange"
	"github.com/GoPolymarket/astervol/internal/model"
)

const (
	IncomeTypeCommission = "COMMISSION"
	DefaultLimit         = 1000
	DefaultAsset         = "USDT"

	// The income endpoint accepts at most 7 days per query.
	WindowSize = 6 * 24 * time.Hour
)

var DefaultStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// PageFetcher returns one page of income records for q.
type PageFetcher func(ctx context.Context, q exchange.IncomeQuery) ([]model.IncomeRecord, error)

type Window struct {
	StartMs int64
	EndMs   int64
	Symbol  string
	Limit   int
	// WindowMs overrides WindowSize; tests use it to force paging.
	WindowMs int64
}

type Summary struct {
	Total  decimal.Decimal
	Assets []string
	Pages  int
}

// AssetList renders the assets seen, or the default asset when none were.
func (s Summary) AssetList() string {
	if len(s.Assets) == 0 {
		return DefaultAsset
	}
	return strings.Join(s.Assets, ", ")
}

// Merge adds other into s, keeping assets in first-seen order.
func (s *Summary) Merge(other Summary) {
	s.Total = s.Total.Add(other.Total)
	s.Pages += other.Pages
	s.Assets = appendUnique(s.Assets, other.Assets...)
}

// SumCommissions totals commission records by absolute value. Records of
// another income type are skipped; records without a type count. Zero
// incomes neither count nor register their asset.
func SumCommissions(records []model.IncomeRecord) (decimal.Decimal, []string, error) {
	total := decimal.Zero
	var assets []string
	for _, r := range records {
		if r.IncomeType != "" && !strings.EqualFold(r.IncomeType, IncomeTypeCommission) {
			continue
		}
		raw := r.Income.String()
		if raw == "" {
			raw = "0"
		}
		income, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, nil, fmt.Errorf("unable to parse income value %q (tranId %d): %w", raw, r.TranID, err)
		}
		if income.IsZero() {
			continue
		}
		if r.Asset != "" {
			assets = appendUnique(assets, r.Asset)
		}
		total = total.Add(income.Abs())
	}
	return total, assets, nil
}

// Collect walks [StartMs, EndMs] in windows, paging each window from the
// latest record time + 1 until a short or empty page, or a cursor that
// does not advance.
func Collect(ctx context.Context, fetch PageFetcher, w Window) (Summary, error) {
	limit := w.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	windowMs := w.WindowMs
	if windowMs <= 0 {
		windowMs = WindowSize.Milliseconds()
	}

	sum := Summary{Total: decimal.Zero}
	for cursor := w.StartMs; cursor <= w.EndMs; {
		windowEnd := min(cursor+windowMs, w.EndMs)

		for fetchCursor := cursor; fetchCursor <= windowEnd; {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			page, err := fetch(ctx, exchange.IncomeQuery{
				Symbol:     w.Symbol,
				IncomeType: IncomeTypeCommission,
				Bounded:    true,
				StartTime:  fetchCursor,
				EndTime:    windowEnd,
				Limit:      limit,
			})
			if err != nil {
				return sum, err
			}
			sum.Pages++
			if len(page) == 0 {
				break
			}

			total, assets, err := SumCommissions(page)
			if err != nil {
				return sum, err
			}
			sum.Total = sum.Total.Add(total)
			sum.Assets = appendUnique(sum.Assets, assets...)

			last := page[0].Time
			for _, r := range page[1:] {
				last = max(last, r.Time)
			}
			next := last + 1
			if next <= fetchCursor {
				break
			}
			fetchCursor = next
			if len(page) < limit {
				break
			}
		}
		cursor = windowEnd + 1
	}
	return sum, nil
}

func appendUnique(list []string, items ...string) []string {
	for _, it := range items {
		found := false
		for _, existing := range list {
			if existing == it {
				found = true
				break
			}
		}
		if !found {
			list = append(list, it)
		}
	}
	return list
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDate accepts ISO 8601 dates and datetimes. Values without a zone are
// taken as UTC.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime format: %s", raw)
}
