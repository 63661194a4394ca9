package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/GoPolymarket/astervol/internal/bot"
	"github.com/GoPolymarket/astervol/internal/config"
	"github.com/GoPolymarket/astervol/internal/exchange"
	"github.com/GoPolymarket/astervol/internal/handler"
	"github.com/GoPolymarket/astervol/internal/manager"
	"github.com/GoPolymarket/astervol/internal/market"
	"github.com/GoPolymarket/astervol/internal/pkg/logger"
	"github.com/GoPolymarket/astervol/internal/repository"
	"github.com/GoPolymarket/astervol/internal/service"
	"github.com/GoPolymarket/astervol/internal/sizing"
)

var (
	_ bot.Account        = (*exchange.Client)(nil)
	_ market.PriceSource = (*exchange.Client)(nil)
)

func main() {
	fs := pflag.NewFlagSet("volumebot", pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])
	configPath, _ := fs.GetString("config")

	cfg, err := config.Load(configPath, fs)
	if err != nil {
		logger.Init(logger.Options{Level: "info"})
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	if err := run(cfg); err != nil {
		logger.Error("volume bot exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	timeout := time.Duration(cfg.Exchange.TimeoutSeconds * float64(time.Second))

	// 1. Exchange clients, one per account with its own nonce clock
	accounts := make(map[string]bot.Account, len(cfg.Accounts))
	clients := make(map[string]*exchange.Client, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		client, err := exchange.New(acct, exchange.Options{
			BaseURL:      cfg.Exchange.BaseURL,
			Timeout:      timeout,
			RecvWindow:   cfg.Bot.RecvWindow,
			RateLimit:    cfg.Exchange.RateLimitQPS,
			Burst:        cfg.Exchange.RateLimitBurst,
			QuantityStep: cfg.Bot.QuantityStep,
			Clock:        manager.NewNonceSource(),
		})
		if err != nil {
			return err
		}
		logger.Info("account ready", "account", acct.Label(), "scheme", acct.Scheme())
		accounts[acct.Name] = client
		clients[acct.Name] = client
	}

	// 2. Price source: the exchange ticker via the first long account (sharing
	// its rate limit), or an alternate URL; websocket mark price falls back to it
	var rest market.PriceSource = clients[cfg.AccountPairs[0].Long]
	if cfg.Bot.PriceSourceURL != "" {
		rest = market.NewRESTTicker(cfg.Bot.PriceSourceURL, timeout)
	}
	price := rest
	if cfg.Bot.PriceSource == config.PriceSourceWebsocket {
		feed := market.NewMarkPriceService(cfg.Exchange.WSBaseURL, cfg.Bot.Symbol, rest)
		feed.Start()
		defer feed.Stop()
		price = feed
	}

	// 3. Persistence (Redis > memory, Postgres > file)
	var usageRepo service.UsageRepo
	var locker bot.PairLocker = service.NewLocalPairLocker()
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg.Redis)
		if err == nil {
			logger.Info("connected to redis", "addr", cfg.Redis.Addr)
			defer redisClient.Close()
			usageRepo = redisClient
			locker = redisClient
		} else {
			logger.Error("failed to connect to redis, falling back to memory", "error", err)
		}
	}
	usage := service.NewUsageTracker(usageRepo)

	var auditRepo service.AuditRepo
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg.Database)
		if err == nil {
			repo, err := repository.NewPostgresAuditRepo(db)
			if err == nil {
				logger.Info("connected to postgres")
				auditRepo = repo
				if cfg.Audit.RetentionDays > 0 {
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					if err := repo.Cleanup(ctx, time.Duration(cfg.Audit.RetentionDays)*24*time.Hour); err != nil {
						logger.Warn("audit cleanup failed", "error", err)
					}
					cancel()
				}
			} else {
				logger.Error("failed to migrate audit table, audit will be file-only", "error", err)
			}
		} else {
			logger.Error("failed to connect to db, audit will be file-only", "error", err)
		}
	}
	auditSvc, err := service.NewAuditService(cfg.Audit.Dir, cfg.Audit.Buffer, auditRepo)
	if err != nil {
		return err
	}
	defer auditSvc.Close()

	// 4. Bot
	b, err := bot.New(bot.Options{
		Settings: bot.Settings{
			Symbol:            cfg.Bot.Symbol,
			Leverage:          cfg.Bot.Leverage,
			ConfigureLeverage: cfg.Bot.ConfigureLeverage,
			Hold:              cfg.Bot.Hold(),
			Cooldown:          cfg.Bot.Cooldown(),
			MaxCycles:         cfg.Bot.MaxCycles,
			CloseTimeout:      cfg.Bot.CloseTimeout(),
			PollInterval:      cfg.Bot.PollInterval(),
			Sizer: sizing.Engine{
				Step:           cfg.Bot.QuantityStep,
				MinQuantity:    cfg.Bot.MinQuantity,
				TargetNotional: cfg.Bot.TargetNotionalUSDT,
				Leverage:       cfg.Bot.Leverage,
				Buffer:         cfg.Bot.FreeMarginBuffer,
			},
		},
		Accounts: accounts,
		Pairs:    cfg.AccountPairs,
		Price:    price,
		Recorder: auditSvc,
		Usage:    usage,
		Locker:   locker,
	})
	if err != nil {
		return err
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	// 5. Status server
	var srv *http.Server
	if cfg.Server.Enabled {
		gin.SetMode(gin.ReleaseMode)
		r := handler.NewRouter(handler.RouterOptions{
			Status:       handler.NewStatusHandler(cfg.Bot.Symbol, b.Accumulator(), cfg.AccountPairs, usage, cancel),
			Audit:        handler.NewAuditHandler(auditSvc),
			AdminKey:     cfg.Server.AdminKey,
			RateLimitQPS: cfg.Server.RateLimitQPS,
			Metrics:      cfg.Metrics.Enabled,
		})
		srv = &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status server started", "port", cfg.Server.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", "error", err)
			}
		}()
	}

	snap := b.Run(ctx)

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server forced to shutdown", "error", err)
		}
	}

	logger.Info("final totals",
		"cycles", snap.Cycles,
		"volume", snap.Volume.StringFixed(2),
		"fees", snap.Fees.StringFixed(6),
	)
	return nil
}
