package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/astervol/internal/model"
)

type failingRepo struct{}

func (failingRepo) Insert(context.Context, *model.OrderAudit) error { return errors.New("down") }
func (failingRepo) List(context.Context, string, int, *time.Time, *time.Time) ([]*model.OrderAudit, error) {
	return nil, errors.New("down")
}

func TestAuditService_WritesFileAndBuffer(t *testing.T) {
	dir := t.TempDir()
	svc, err := NewAuditService(dir, 10, nil)
	require.NoError(t, err)

	svc.Record(&model.OrderAudit{ID: "1", Account: "alpha", Purpose: "open", Status: "FILLED"})
	svc.Record(&model.OrderAudit{ID: "2", Account: "beta", Purpose: "open", Status: "FILLED"})
	svc.Record(&model.OrderAudit{ID: "3", Account: "alpha", Purpose: "close", Status: "FILLED"})
	svc.Close()

	all, err := svc.List(context.Background(), "", 0, nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].ID)

	alpha, _ := svc.List(context.Background(), "alpha", 1, nil, nil)
	require.Len(t, alpha, 1)
	assert.Equal(t, "3", alpha[0].ID)

	files, err := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()
	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry model.OrderAudit
		require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
		lines++
	}
	assert.Equal(t, 3, lines)
}

func TestAuditService_RepoFailureFallsBackToMemory(t *testing.T) {
	svc, err := NewAuditService("", 2, failingRepo{})
	require.NoError(t, err)
	defer svc.Close()

	now := time.Now().UTC()
	svc.Record(&model.OrderAudit{ID: "old", CreatedAt: now.Add(-time.Hour)})
	svc.Record(&model.OrderAudit{ID: "a", CreatedAt: now})
	svc.Record(&model.OrderAudit{ID: "b", CreatedAt: now})

	// ring buffer of two keeps the newest entries
	got, err := svc.List(context.Background(), "", 10, nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)

	from := now.Add(time.Minute)
	got, _ = svc.List(context.Background(), "", 10, &from, nil)
	assert.Empty(t, got)
}

func TestUsageStore_AccumulatesPerDay(t *testing.T) {
	store := NewUsageStore()
	day := time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return day }

	ctx := context.Background()
	require.NoError(t, store.AddCycle(ctx, "a/b", decimal.NewFromInt(200), decimal.RequireFromString("0.04")))
	require.NoError(t, store.AddCycle(ctx, "a/b", decimal.NewFromInt(100), decimal.RequireFromString("0.02")))

	u, err := store.GetDailyUsage(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, 2, u.Cycles)
	assert.Equal(t, "300", u.Volume.String())
	assert.Equal(t, "0.06", u.Fees.String())

	day = day.Add(2 * time.Hour)
	u, _ = store.GetDailyUsage(ctx, "a/b")
	assert.Zero(t, u.Cycles)
}

type memUsageRepo struct {
	cycles int
	err    error
}

func (m *memUsageRepo) AddCycle(context.Context, string, decimal.Decimal, decimal.Decimal) error {
	if m.err != nil {
		return m.err
	}
	m.cycles++
	return nil
}

func (m *memUsageRepo) GetDailyUsage(context.Context, string) (Usage, error) {
	if m.err != nil {
		return Usage{}, m.err
	}
	return Usage{Cycles: m.cycles}, nil
}

func TestUsageTracker_MirrorsAndFallsBack(t *testing.T) {
	ctx := context.Background()
	repo := &memUsageRepo{}
	tracker := NewUsageTracker(repo)

	require.NoError(t, tracker.AddCycle(ctx, "a/b", decimal.NewFromInt(10), decimal.Zero))
	u, _ := tracker.GetDailyUsage(ctx, "a/b")
	assert.Equal(t, 1, u.Cycles)

	repo.err = errors.New("redis down")
	assert.Error(t, tracker.AddCycle(ctx, "a/b", decimal.NewFromInt(10), decimal.Zero))
	u, err := tracker.GetDailyUsage(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, 2, u.Cycles, "local count still advances")
	assert.Equal(t, "20", u.Volume.String())
}

func TestLocalPairLocker(t *testing.T) {
	l := NewLocalPairLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "a/b")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "a/b")
	assert.ErrorIs(t, err, ErrPairBusy)

	other, err := l.Acquire(ctx, "c/d")
	require.NoError(t, err)
	other()

	release()
	release()
	again, err := l.Acquire(ctx, "a/b")
	require.NoError(t, err)
	again()
}
