package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/GoPolymarket/astervol/internal/model"
	"github.com/GoPolymarket/astervol/internal/pkg/apperrors"
	"github.com/GoPolymarket/astervol/internal/signer"
)

const (
	PriceSourceREST      = "rest"
	PriceSourceWebsocket = "websocket"
)

type Config struct {
	Exchange     ExchangeConfig  `mapstructure:"exchange"`
	Bot          BotConfig       `mapstructure:"bot"`
	Accounts     []model.Account `mapstructure:"accounts"`
	AccountPairs []model.Pair    `mapstructure:"account_pairs"`
	Log          LogConfig       `mapstructure:"log"`
	Metrics      MetricsConfig   `mapstructure:"metrics"`
	Server       ServerConfig    `mapstructure:"server"`
	Redis        RedisConfig     `mapstructure:"redis"`
	Database     DatabaseConfig  `mapstructure:"database"`
	Audit        AuditConfig     `mapstructure:"audit"`
}

type ExchangeConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	WSBaseURL      string  `mapstructure:"ws_base_url"`
	TimeoutSeconds float64 `mapstructure:"timeout_seconds"`
	RateLimitQPS   float64 `mapstructure:"rate_limit_qps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type BotConfig struct {
	Symbol             string          `mapstructure:"symbol"`
	TargetNotionalUSDT decimal.Decimal `mapstructure:"target_notional_usdt"`
	QuantityInQuote    decimal.Decimal `mapstructure:"quantity_in_quote"` // alias of target_notional_usdt
	Leverage           int             `mapstructure:"leverage"`
	QuantityStep       decimal.Decimal `mapstructure:"quantity_step"`
	MinQuantity        decimal.Decimal `mapstructure:"min_quantity"`
	HoldSeconds        float64         `mapstructure:"hold_duration_seconds"`
	CooldownSeconds    float64         `mapstructure:"cooldown_seconds"`
	RecvWindow         int64           `mapstructure:"recv_window"` // zero picks the scheme default
	MaxCycles          int             `mapstructure:"max_cycles"`
	FreeMarginBuffer   decimal.Decimal `mapstructure:"free_margin_buffer"`
	CloseTimeoutSecs   float64         `mapstructure:"close_timeout_seconds"`
	PollIntervalSecs   float64         `mapstructure:"poll_interval_seconds"`
	ConfigureLeverage  bool            `mapstructure:"configure_leverage"`
	PriceSource        string          `mapstructure:"price_source"`
	PriceSourceURL     string          `mapstructure:"price_source_url"`
}

func (b BotConfig) Hold() time.Duration         { return seconds(b.HoldSeconds) }
func (b BotConfig) Cooldown() time.Duration     { return seconds(b.CooldownSeconds) }
func (b BotConfig) CloseTimeout() time.Duration { return seconds(b.CloseTimeoutSecs) }
func (b BotConfig) PollInterval() time.Duration { return seconds(b.PollIntervalSecs) }

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ServerConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Port         string  `mapstructure:"port"`
	AdminKey     string  `mapstructure:"admin_key"`
	RateLimitQPS float64 `mapstructure:"rate_limit_qps"`
}

type RedisConfig struct {
	Addr            string `mapstructure:"addr"`
	Password        string `mapstructure:"password"`
	DB              int    `mapstructure:"db"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	LeaseTTLSeconds int    `mapstructure:"lease_ttl_seconds"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuditConfig struct {
	Dir           string `mapstructure:"dir"`
	Buffer        int    `mapstructure:"buffer"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to the YAML or JSON configuration file")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.Int("max-cycles", 0, "stop after this many cycles (0 = unbounded)")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.base_url", "https://fapi.asterdex.com")
	v.SetDefault("exchange.ws_base_url", "wss://fstream.asterdex.com/ws")
	v.SetDefault("exchange.timeout_seconds", 10)
	v.SetDefault("exchange.rate_limit_qps", 10)
	v.SetDefault("exchange.rate_limit_burst", 20)

	v.SetDefault("bot.leverage", 50)
	v.SetDefault("bot.quantity_step", "0.001")
	v.SetDefault("bot.hold_duration_seconds", 2)
	v.SetDefault("bot.cooldown_seconds", 3)
	v.SetDefault("bot.free_margin_buffer", "0")
	v.SetDefault("bot.close_timeout_seconds", 30)
	v.SetDefault("bot.poll_interval_seconds", 1)
	v.SetDefault("bot.configure_leverage", true)
	v.SetDefault("bot.price_source", PriceSourceREST)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", "9090")
	v.SetDefault("server.rate_limit_qps", 20)
	v.SetDefault("redis.key_prefix", "astervol")
	v.SetDefault("redis.lease_ttl_seconds", 120)
	v.SetDefault("audit.buffer", 1000)
}

// Load reads path (or ./config.{yaml,json} and ./configs when path is
// empty), applies ASTERVOL_* environment overrides and bound flags, and
// validates the result.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg, err := read(path, flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAccounts reads the same sources as Load but validates only the
// account credentials. Tools that never trade use it.
func LoadAccounts(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg, err := read(path, flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateAccounts(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.NewConfig("load .env: %v", err)
	}

	v := viper.New()
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && path == "" {
			path = f.Value.String()
		}
		if f := flags.Lookup("log-level"); f != nil && f.Changed {
			_ = v.BindPFlag("log.level", f)
		}
		if f := flags.Lookup("max-cycles"); f != nil && f.Changed {
			_ = v.BindPFlag("bot.max_cycles", f)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
			v.SetConfigType(ext)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// e.g. ASTERVOL_BOT_SYMBOL
	v.SetEnvPrefix("astervol")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, apperrors.NewConfig("read config: %v", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		decimalHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, apperrors.NewConfig("decode config: %v", err)
	}

	cfg.expandSecrets()
	return &cfg, nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalHook(from, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(strings.TrimSpace(v))
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case nil:
		return decimal.Zero, nil
	}
	return data, nil
}

// expandSecrets resolves ${VAR} references in account credentials so
// secrets can live in the environment or a .env file.
func (c *Config) expandSecrets() {
	for i := range c.Accounts {
		a := &c.Accounts[i]
		a.APIKey = os.ExpandEnv(a.APIKey)
		a.APISecret = os.ExpandEnv(a.APISecret)
		a.User = os.ExpandEnv(a.User)
		a.Signer = os.ExpandEnv(a.Signer)
		a.PrivateKey = os.ExpandEnv(a.PrivateKey)
	}
	c.Server.AdminKey = os.ExpandEnv(c.Server.AdminKey)
	c.Redis.Password = os.ExpandEnv(c.Redis.Password)
	c.Database.DSN = os.ExpandEnv(c.Database.DSN)
}

// Validate normalises the bot section and checks every invariant. The
// first violation is returned as a CONFIG_ERROR (or SIGNING_ERROR for bad
// key material).
func (c *Config) Validate() error {
	if err := c.validateBot(); err != nil {
		return err
	}
	names, err := c.validateAccounts()
	if err != nil {
		return err
	}

	if len(c.AccountPairs) == 0 {
		return apperrors.NewConfig("at least one account pair must be configured")
	}
	for _, p := range c.AccountPairs {
		if !names[p.Long] {
			return apperrors.NewConfig("pair %s: long account %q not found", p, p.Long)
		}
		if !names[p.Short] {
			return apperrors.NewConfig("pair %s: short account %q not found", p, p.Short)
		}
		if p.Long == p.Short {
			return apperrors.NewConfig("pair %s: long and short must be different accounts", p)
		}
	}
	return nil
}

func (c *Config) validateBot() error {
	b := &c.Bot
	b.Symbol = strings.ToUpper(strings.TrimSpace(b.Symbol))
	if b.Symbol == "" {
		return apperrors.NewConfig("bot.symbol is required")
	}
	if b.TargetNotionalUSDT.IsZero() && !b.QuantityInQuote.IsZero() {
		b.TargetNotionalUSDT = b.QuantityInQuote
	}
	if b.TargetNotionalUSDT.Sign() <= 0 {
		return apperrors.NewConfig("bot.target_notional_usdt must be greater than zero")
	}
	if b.QuantityStep.Sign() <= 0 {
		return apperrors.NewConfig("bot.quantity_step must be a positive decimal")
	}
	if b.Leverage < 1 {
		return apperrors.NewConfig("bot.leverage must be at least 1, got %d", b.Leverage)
	}
	if b.MinQuantity.Sign() < 0 {
		return apperrors.NewConfig("bot.min_quantity must not be negative")
	}
	if b.FreeMarginBuffer.Sign() < 0 {
		return apperrors.NewConfig("bot.free_margin_buffer must not be negative")
	}
	if b.MaxCycles < 0 {
		return apperrors.NewConfig("bot.max_cycles must not be negative")
	}
	if b.HoldSeconds < 0 || b.CooldownSeconds < 0 {
		return apperrors.NewConfig("hold and cooldown durations must not be negative")
	}
	if b.CloseTimeoutSecs <= 0 || b.PollIntervalSecs <= 0 {
		return apperrors.NewConfig("close timeout and poll interval must be positive")
	}
	b.PriceSource = strings.ToLower(strings.TrimSpace(b.PriceSource))
	if b.PriceSource == "" {
		b.PriceSource = PriceSourceREST
	}
	if b.PriceSource != PriceSourceREST && b.PriceSource != PriceSourceWebsocket {
		return apperrors.NewConfig("bot.price_source must be %q or %q", PriceSourceREST, PriceSourceWebsocket)
	}
	return nil
}

// ValidateAccounts checks only the credentials section.
func (c *Config) ValidateAccounts() error {
	_, err := c.validateAccounts()
	return err
}

func (c *Config) validateAccounts() (map[string]bool, error) {
	if len(c.Accounts) == 0 {
		return nil, apperrors.NewConfig("account credentials are required")
	}
	names := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if strings.TrimSpace(a.Name) == "" {
			return nil, apperrors.NewConfig("every account needs a name")
		}
		if names[a.Name] {
			return nil, apperrors.NewConfig("duplicate account name %q", a.Name)
		}
		names[a.Name] = true
		if err := signer.Validate(a); err != nil {
			return nil, err
		}
	}
	return names, nil
}

// Account returns the named account.
func (c *Config) Account(name string) (model.Account, bool) {
	for _, a := range c.Accounts {
		if a.Name == name {
			return a, true
		}
	}
	return model.Account{}, false
}
