package service

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Usage is the running total of one pair for one UTC day.
type Usage struct {
	Cycles int             `json:"cycles"`
	Volume decimal.Decimal `json:"volume"`
	Fees   decimal.Decimal `json:"fees"`
}

// UsageRepo is implemented by shared stores (Redis) so several bot
// processes can see each other's totals.
type UsageRepo interface {
	AddCycle(ctx context.Context, pair string, volume, fees decimal.Decimal) error
	GetDailyUsage(ctx context.Context, pair string) (Usage, error)
}

// UsageStore tracks per-pair daily totals in memory.
type UsageStore struct {
	mu    sync.RWMutex
	usage map[string]Usage // pair:YYYY-MM-DD
	now   func() time.Time
}

func NewUsageStore() *UsageStore {
	return &UsageStore{
		usage: make(map[string]Usage),
		now:   time.Now,
	}
}

func (s *UsageStore) GetDailyUsage(ctx context.Context, pair string) (Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage[s.makeKey(pair)], nil
}

func (s *UsageStore) AddCycle(ctx context.Context, pair string, volume, fees decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.makeKey(pair)
	u := s.usage[key]
	u.Cycles++
	u.Volume = u.Volume.Add(volume)
	u.Fees = u.Fees.Add(fees)
	s.usage[key] = u
	return nil
}

func (s *UsageStore) makeKey(pair string) string {
	return pair + ":" + s.now().UTC().Format("2006-01-02")
}

// UsageTracker writes to the local store and mirrors into repo when one is
// configured. A mirror failure is logged by the caller and never blocks
// the local count.
type UsageTracker struct {
	local *UsageStore
	repo  UsageRepo
}

func NewUsageTracker(repo UsageRepo) *UsageTracker {
	return &UsageTracker{local: NewUsageStore(), repo: repo}
}

func (t *UsageTracker) AddCycle(ctx context.Context, pair string, volume, fees decimal.Decimal) error {
	_ = t.local.AddCycle(ctx, pair, volume, fees)
	if t.repo == nil {
		return nil
	}
	return t.repo.AddCycle(ctx, pair, volume, fees)
}

// GetDailyUsage prefers the shared view.
func (t *UsageTracker) GetDailyUsage(ctx context.Context, pair string) (Usage, error) {
	if t.repo != nil {
		if u, err := t.repo.GetDailyUsage(ctx, pair); err == nil {
			return u, nil
		}
	}
	return t.local.GetDailyUsage(ctx, pair)
}
