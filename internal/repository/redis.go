package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/astervol/internal/config"
	"github.com/GoPolymarket/astervol/internal/pkg/logger"
	"github.com/GoPolymarket/astervol/internal/service"
)

const (
	usageTTL        = 48 * time.Hour
	defaultLeaseTTL = 2 * time.Minute
)

// releaseScript deletes the lease only while it is still owned by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while it is still owned by the caller.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type RedisClient struct {
	Client   *redis.Client
	prefix   string
	leaseTTL time.Duration
	now      func() time.Time
}

func NewRedisClient(cfg config.RedisConfig) (*RedisClient, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisClient(rdb, cfg), nil
}

func newRedisClient(rdb *redis.Client, cfg config.RedisConfig) *RedisClient {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "astervol"
	}
	ttl := time.Duration(cfg.LeaseTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &RedisClient{Client: rdb, prefix: prefix, leaseTTL: ttl, now: time.Now}
}

func (r *RedisClient) Close() error {
	return r.Client.Close()
}

func (r *RedisClient) usageKeys(pair string) (vol, fees, count string) {
	base := fmt.Sprintf("%s:usage:%s:%s", r.prefix, pair, r.now().UTC().Format("2006-01-02"))
	return base + ":volume", base + ":fees", base + ":count"
}

// GetDailyUsage implements service.UsageRepo.
func (r *RedisClient) GetDailyUsage(ctx context.Context, pair string) (service.Usage, error) {
	keyVol, keyFees, keyCount := r.usageKeys(pair)

	pipe := r.Client.Pipeline()
	volCmd := pipe.Get(ctx, keyVol)
	feesCmd := pipe.Get(ctx, keyFees)
	countCmd := pipe.Get(ctx, keyCount)
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return service.Usage{}, err
	}

	var u service.Usage
	if s, err := volCmd.Result(); err == nil {
		u.Volume, _ = decimal.NewFromString(s)
	}
	if s, err := feesCmd.Result(); err == nil {
		u.Fees, _ = decimal.NewFromString(s)
	}
	u.Cycles, _ = countCmd.Int()
	return u, nil
}

// AddCycle implements service.UsageRepo. Keys expire after two days.
func (r *RedisClient) AddCycle(ctx context.Context, pair string, volume, fees decimal.Decimal) error {
	keyVol, keyFees, keyCount := r.usageKeys(pair)

	pipe := r.Client.Pipeline()
	pipe.IncrByFloat(ctx, keyVol, volume.InexactFloat64())
	pipe.IncrByFloat(ctx, keyFees, fees.InexactFloat64())
	pipe.Incr(ctx, keyCount)
	pipe.Expire(ctx, keyVol, usageTTL)
	pipe.Expire(ctx, keyFees, usageTTL)
	pipe.Expire(ctx, keyCount, usageTTL)

	_, err := pipe.Exec(ctx)
	return err
}

// Acquire takes a lease on pair for the configured TTL and renews it every
// third of the TTL until release is called. It fails with
// service.ErrPairBusy when another process holds it.
func (r *RedisClient) Acquire(ctx context.Context, pair string) (func(), error) {
	key := fmt.Sprintf("%s:lease:%s", r.prefix, pair)
	owner := uuid.NewString()

	ok, err := r.Client.SetNX(ctx, key, owner, r.leaseTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", pair, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrPairBusy, pair)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(pair, r.leaseTTL/3, stop, func(ctx context.Context) (bool, error) {
			n, err := renewScript.Run(ctx, r.Client, []string{key}, owner, r.leaseTTL.Milliseconds()).Int64()
			return n == 1, err
		})
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, r.Client, []string{key}, owner).Err()
		})
	}, nil
}

// keepAlive calls renew every interval until stop is closed or renew
// reports that the lease is no longer owned. Transient errors are retried
// on the next tick.
func keepAlive(pair string, every time.Duration, stop <-chan struct{}, renew func(context.Context) (bool, error)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			owned, err := renew(ctx)
			cancel()
			if err != nil {
				logger.Warn("lease renewal failed", "pair", pair, "error", err)
				continue
			}
			if !owned {
				logger.Warn("lease lost", "pair", pair)
				return
			}
		}
	}
}
