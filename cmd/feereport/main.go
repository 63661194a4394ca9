package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/GoPolymarket/astervol/internal/config"
	"github.com/GoPolymarket/astervol/internal/exchange"
	"github.com/GoPolymarket/astervol/internal/fees"
	"github.com/GoPolymarket/astervol/internal/manager"
	"github.com/GoPolymarket/astervol/internal/model"
	"github.com/GoPolymarket/astervol/internal/pkg/apperrors"
	"github.com/GoPolymarket/astervol/internal/pkg/logger"
)

func main() {
	fs := pflag.NewFlagSet("feereport", pflag.ExitOnError)
	fs.String("config", "", "path to the YAML or JSON configuration file")
	accountNames := fs.StringSlice("accounts", nil, "account names to include (defaults to all)")
	startRaw := fs.String("start-date", "", "inclusive start date, ISO 8601 (defaults to 2020-01-01 UTC)")
	endRaw := fs.String("end-date", "", "inclusive end date, ISO 8601 (defaults to now)")
	symbol := fs.String("symbol", "", "only count commissions for this symbol")
	_ = fs.Parse(os.Args[1:])
	configPath, _ := fs.GetString("config")

	logger.Init(logger.Options{Level: "info", Format: "text"})

	start, end, err := dateRange(*startRaw, *endRaw, time.Now().UTC())
	if err != nil {
		logger.Error("invalid date range", "error", err)
		os.Exit(2)
	}

	cfg, err := config.LoadAccounts(configPath, fs)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	accounts, err := selectAccounts(cfg, *accountNames)
	if err != nil {
		logger.Error("invalid account selection", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting fee aggregation",
		"base_url", cfg.Exchange.BaseURL,
		"from", start.Format(time.RFC3339),
		"to", end.Format(time.RFC3339),
		"symbol", symbolLabel(*symbol),
	)

	var overall fees.Summary
	for _, acct := range accounts {
		client, err := exchange.New(acct, exchange.Options{
			BaseURL:    cfg.Exchange.BaseURL,
			Timeout:    time.Duration(cfg.Exchange.TimeoutSeconds * float64(time.Second)),
			RecvWindow: cfg.Bot.RecvWindow,
			RateLimit:  cfg.Exchange.RateLimitQPS,
			Burst:      cfg.Exchange.RateLimitBurst,
			Clock:      manager.NewNonceSource(),
		})
		if err != nil {
			logger.Error("failed to build client", "account", acct.Label(), "error", err)
			os.Exit(1)
		}

		summary, err := fees.Collect(ctx, client.IncomePage, fees.Window{
			StartMs: start.UnixMilli(),
			EndMs:   end.UnixMilli(),
			Symbol:  *symbol,
		})
		if err != nil {
			logger.LogError(ctx, err, "fee collection failed", "account", acct.Label())
			os.Exit(1)
		}
		overall.Merge(summary)
		logger.Info("total commissions paid",
			"account", acct.Label(),
			"total", format(summary.Total),
			"assets", summary.AssetList(),
			"pages", summary.Pages,
		)
	}

	logger.Info("aggregate commissions",
		"accounts", len(accounts),
		"total", format(overall.Total),
		"assets", overall.AssetList(),
	)
}

func dateRange(startRaw, endRaw string, now time.Time) (time.Time, time.Time, error) {
	start, end := fees.DefaultStart, now
	var err error
	if startRaw != "" {
		if start, err = fees.ParseDate(startRaw); err != nil {
			return start, end, err
		}
	}
	if endRaw != "" {
		if end, err = fees.ParseDate(endRaw); err != nil {
			return start, end, err
		}
	}
	if end.Before(start) {
		return start, end, apperrors.NewConfig("end date must be greater than or equal to the start date")
	}
	return start, end, nil
}

func selectAccounts(cfg *config.Config, names []string) ([]model.Account, error) {
	if len(names) == 0 {
		return cfg.Accounts, nil
	}
	out := make([]model.Account, 0, len(names))
	for _, n := range names {
		acct, ok := cfg.Account(n)
		if !ok {
			return nil, apperrors.NewConfig("unknown account %q", n)
		}
		out = append(out, acct)
	}
	return out, nil
}

func symbolLabel(s string) string {
	if s == "" {
		return "ALL"
	}
	return s
}

// format drops trailing zeros and never uses exponent notation.
func format(d decimal.Decimal) string {
	return d.String()
}
