package main

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/astervol/internal/config"
	"github.com/GoPolymarket/astervol/internal/fees"
	"github.com/GoPolymarket/astervol/internal/model"
	"github.com/GoPolymarket/astervol/internal/pkg/apperrors"
)

func TestDateRange(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	start, end, err := dateRange("", "", now)
	require.NoError(t, err)
	assert.Equal(t, fees.DefaultStart, start)
	assert.Equal(t, now, end)

	start, end, err = dateRange("2025-01-01", "2025-01-31T23:59:59", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 1, 31, 23, 59, 59, 0, time.UTC), end)

	_, _, err = dateRange("2025-02-01", "2025-01-01", now)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))

	_, _, err = dateRange("soon", "", now)
	assert.Error(t, err)
}

func TestSelectAccounts(t *testing.T) {
	cfg := &config.Config{Accounts: []model.Account{{Name: "a"}, {Name: "b"}}}

	all, err := selectAccounts(cfg, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := selectAccounts(cfg, []string{"b"})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "b", one[0].Name)

	_, err = selectAccounts(cfg, []string{"c"})
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "12", format(decimal.RequireFromString("12.000")))
	assert.Equal(t, "0.0042", format(decimal.RequireFromString("0.00420")))
}
