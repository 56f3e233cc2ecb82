// Package config loads and validates the spreadwatch YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spreadwatch/spreadwatch/internal/market"
)

// KnownExchanges lists the venues an adapter implementation exists for.
var KnownExchanges = []string{"bybit", "mexc", "bitget", "okx", "kucoin"}

// ExchangeConfig configures one venue adapter.
type ExchangeConfig struct {
	Name           string             `yaml:"name"`
	Enabled        bool               `yaml:"enabled"`
	PollIntervalMs int                `yaml:"poll_interval_ms"`
	RateLimitPerSec float64           `yaml:"rate_limit_per_sec"`
	Fee            market.FeeSchedule `yaml:"fee"`
}

// EvaluationConfig drives the arbitrage engine tick.
type EvaluationConfig struct {
	IntervalMs        int     `yaml:"interval_ms"`
	TradeNotionalUSDT float64 `yaml:"trade_notional_usdt"`
	MinSpreadPct      float64 `yaml:"min_spread_pct"`
	MinProfitUSDT     float64 `yaml:"min_profit_usdt"`
	SlippageBps       float64 `yaml:"slippage_bps"`
}

// StoreConfig sizes the quote store and the intake path.
type StoreConfig struct {
	QuoteTTLMs     int `yaml:"quote_ttl_ms"`
	IntakeCapacity int `yaml:"intake_capacity"`
	BatchSize      int `yaml:"batch_size"`
}

// StabilityConfig controls the rolling stability window.
type StabilityConfig struct {
	WindowMinutes float64 `yaml:"window_minutes"`
}

// FilteringConfig holds the identity-filter thresholds. Ratios are
// multiplicative (max/min), diffs are fractional ((max-min)/avg).
type FilteringConfig struct {
	MinPriceThreshold    float64 `yaml:"min_price_threshold" json:"min_price_threshold"`
	PriceDiffSuspicious  float64 `yaml:"price_diff_suspicious" json:"price_diff_suspicious"`
	PriceDiffThreshold   float64 `yaml:"price_diff_threshold" json:"price_diff_threshold"`
	PriceDiffAggressive  float64 `yaml:"price_diff_aggressive" json:"price_diff_aggressive"`
	PriceRatioSuspicious float64 `yaml:"price_ratio_suspicious" json:"price_ratio_suspicious"`
	PriceRatioThreshold  float64 `yaml:"price_ratio_threshold" json:"price_ratio_threshold"`
	PriceRatioAggressive float64 `yaml:"price_ratio_aggressive" json:"price_ratio_aggressive"`
}

// DiscoveryConfig controls market discovery refresh.
type DiscoveryConfig struct {
	RefreshIntervalSec int `yaml:"refresh_interval_sec"`
}

// TelegramConfig configures the notifier sink.
type TelegramConfig struct {
	Enabled           bool    `yaml:"enabled"`
	BotToken          string  `yaml:"bot_token"`
	ChatID            string  `yaml:"chat_id"`
	NotifyIntervalSec int     `yaml:"notify_interval_sec"`
	MinProfitUSDT     float64 `yaml:"min_profit_usdt"`
}

// WebConfig configures the HTTP/WebSocket surface.
type WebConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// LoggingConfig selects the zerolog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config is the root configuration document.
type Config struct {
	Exchanges  []ExchangeConfig `yaml:"exchanges"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Store      StoreConfig      `yaml:"store"`
	Stability  StabilityConfig  `yaml:"stability"`
	Filtering  FilteringConfig  `yaml:"filtering"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Web        WebConfig        `yaml:"web"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// Default returns the built-in configuration: all five venues enabled
// with their documented taker/maker fees and the defaults from the
// design document.
func Default() *Config {
	return &Config{
		Exchanges: []ExchangeConfig{
			{Name: "bybit", Enabled: true, PollIntervalMs: 2000, RateLimitPerSec: 5, Fee: market.FeeSchedule{TakerPct: 0.001, MakerPct: 0.001}},
			{Name: "mexc", Enabled: true, PollIntervalMs: 2000, RateLimitPerSec: 5, Fee: market.FeeSchedule{TakerPct: 0.002, MakerPct: 0.002}},
			{Name: "bitget", Enabled: true, PollIntervalMs: 2000, RateLimitPerSec: 5, Fee: market.FeeSchedule{TakerPct: 0.001, MakerPct: 0.001}},
			{Name: "okx", Enabled: true, PollIntervalMs: 2000, RateLimitPerSec: 5, Fee: market.FeeSchedule{TakerPct: 0.0015, MakerPct: 0.0008}},
			{Name: "kucoin", Enabled: true, PollIntervalMs: 2000, RateLimitPerSec: 5, Fee: market.FeeSchedule{TakerPct: 0.001, MakerPct: 0.001}},
		},
		Evaluation: EvaluationConfig{
			IntervalMs:        1000,
			TradeNotionalUSDT: 100,
			MinSpreadPct:      0,
			MinProfitUSDT:     0,
			SlippageBps:       3,
		},
		Store: StoreConfig{
			QuoteTTLMs:     15000,
			IntakeCapacity: 10000,
			BatchSize:      100,
		},
		Stability: StabilityConfig{WindowMinutes: 5},
		Filtering: FilteringConfig{
			MinPriceThreshold:    1e-6,
			PriceDiffSuspicious:  0.3,
			PriceDiffThreshold:   1.0,
			PriceDiffAggressive:  2.0,
			PriceRatioSuspicious: 1.5,
			PriceRatioThreshold:  2.0,
			PriceRatioAggressive: 3.0,
		},
		Discovery: DiscoveryConfig{RefreshIntervalSec: 300},
		Telegram: TelegramConfig{
			Enabled:           false,
			NotifyIntervalSec: 60,
			MinProfitUSDT:     1.0,
		},
		Web: WebConfig{
			Host:        "0.0.0.0",
			Port:        5152,
			CORSOrigins: []string{"*"},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML config at path, layered over Default. A missing
// file is not an error: the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with. This is
// the only fatal error class: everything downstream degrades instead.
func (c *Config) Validate() error {
	known := make(map[string]bool, len(KnownExchanges))
	for _, name := range KnownExchanges {
		known[name] = true
	}
	enabled := 0
	for i, ex := range c.Exchanges {
		if !known[ex.Name] {
			return fmt.Errorf("exchanges[%d]: unknown exchange %q", i, ex.Name)
		}
		if ex.PollIntervalMs <= 0 {
			return fmt.Errorf("exchange %s: poll_interval_ms must be positive", ex.Name)
		}
		if ex.Fee.TakerPct < 0 || ex.Fee.MakerPct < 0 {
			return fmt.Errorf("exchange %s: fees must be non-negative", ex.Name)
		}
		if ex.Enabled {
			enabled++
		}
	}
	if enabled < 2 {
		return fmt.Errorf("at least 2 exchanges must be enabled, got %d", enabled)
	}
	if c.Evaluation.IntervalMs <= 0 {
		return fmt.Errorf("evaluation.interval_ms must be positive")
	}
	if c.Evaluation.TradeNotionalUSDT <= 0 {
		return fmt.Errorf("evaluation.trade_notional_usdt must be positive")
	}
	if c.Store.QuoteTTLMs <= 0 {
		return fmt.Errorf("store.quote_ttl_ms must be positive")
	}
	if c.Store.IntakeCapacity <= 0 {
		return fmt.Errorf("store.intake_capacity must be positive")
	}
	if c.Store.BatchSize <= 0 {
		return fmt.Errorf("store.batch_size must be positive")
	}
	if c.Stability.WindowMinutes <= 0 {
		return fmt.Errorf("stability.window_minutes must be positive")
	}
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port out of range: %d", c.Web.Port)
	}
	return nil
}

// EnabledExchanges returns the configs of venues that are switched on.
func (c *Config) EnabledExchanges() []ExchangeConfig {
	out := make([]ExchangeConfig, 0, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if ex.Enabled {
			out = append(out, ex)
		}
	}
	return out
}

// Fees returns the taker/maker schedule per enabled exchange.
func (c *Config) Fees() map[string]market.FeeSchedule {
	fees := make(map[string]market.FeeSchedule, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		fees[ex.Name] = ex.Fee
	}
	return fees
}

// TickInterval is the engine cadence as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Evaluation.IntervalMs) * time.Millisecond
}

// StabilityWindow is the rolling stability window as a duration.
func (c *Config) StabilityWindow() time.Duration {
	return time.Duration(c.Stability.WindowMinutes * float64(time.Minute))
}
