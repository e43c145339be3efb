// Package config loads and validates the daemon's YAML configuration
// document, overlaying exchange credentials from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface the core reads (§6).
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	History     HistoryConfig     `yaml:"history"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tick        TickConfig        `yaml:"tick"`
	Risk        RiskConfig        `yaml:"risk"`
	Rebalance   RebalanceConfig   `yaml:"rebalance"`
	Liquidation LiquidationConfig `yaml:"liquidation"`
	Event       EventConfig       `yaml:"event"`

	// APIKey and APISecret are never read from the YAML document;
	// they are overlaid from the environment after loading.
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

// ServerConfig configures the read-only status/health HTTP surface.
type ServerConfig struct {
	Port    int  `yaml:"port"`
	DevMode bool `yaml:"dev_mode"`
}

// ExchangeConfig configures the exchange REST/streaming endpoints.
type ExchangeConfig struct {
	BaseURL   string            `yaml:"base_url"`
	StreamURL string            `yaml:"stream_url"`
	SymbolMap map[string]string `yaml:"symbol_map"`
}

// HistoryConfig configures the history sink.
type HistoryConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// TickConfig configures the scheduler.
type TickConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

// RiskConfig configures the Risk Estimator (§4.1).
type RiskConfig struct {
	LookbackDays          int                `yaml:"lookback_days"`
	Timeframe             string             `yaml:"timeframe"`
	NormalRefreshHours    int                `yaml:"normal_refresh_hours"`
	SpikeRefreshMinutes   int                `yaml:"spike_refresh_minutes"`
	Overrides             map[string]float64 `yaml:"overrides"`
}

// RebalanceConfig configures the Rebalance Planner and emergency
// top-up (§4.3, §4.7).
type RebalanceConfig struct {
	MinAdjustmentUSDT        float64 `yaml:"min_adjustment_usdt"`
	MinDeviationPct          float64 `yaml:"min_deviation_pct"`
	EmergencyMarginRatePct   float64 `yaml:"emergency_margin_rate_pct"`
}

// LiquidationConfig configures the Liquidation Planner (§4.4, §6).
type LiquidationConfig struct {
	Enabled                 bool           `yaml:"enabled"`
	DryRun                  bool           `yaml:"dry_run"`
	MaxSingleClosePct       float64        `yaml:"max_single_close_pct"`
	CooldownSeconds         int            `yaml:"cooldown_seconds"`
	SafetyMarginMultiplier  float64        `yaml:"safety_margin_multiplier"`
	MaintenanceMarginPct    float64        `yaml:"maintenance_margin_pct"`
	Priority                map[string]int `yaml:"priority"`
}

// EventConfig configures the Event Detector (§4.5).
type EventConfig struct {
	PriceSpikePct               float64 `yaml:"price_spike_pct"`
	AccountMarginRateWarningPct float64 `yaml:"account_margin_rate_warning_pct"`
}

// Load reads the YAML document at path and overlays API credentials
// from the environment (optionally via a local .env file), matching
// the daemon's credential-handling posture: secrets are never
// committed to the YAML document.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.APIKey = os.Getenv("EXCHANGE_API_KEY")
	cfg.APISecret = os.Getenv("EXCHANGE_API_SECRET")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Tick:   TickConfig{PollIntervalSeconds: 60},
		Risk: RiskConfig{
			LookbackDays:        7,
			Timeframe:           "1d",
			NormalRefreshHours:  6,
			SpikeRefreshMinutes: 10,
		},
		Liquidation: LiquidationConfig{
			MaxSingleClosePct:      25,
			CooldownSeconds:        30,
			SafetyMarginMultiplier: 3,
			MaintenanceMarginPct:   0.5,
		},
	}
}

// Validate checks the fields required to run the daemon end-to-end.
func (c *Config) Validate() error {
	if c.History.DatabasePath == "" {
		return fmt.Errorf("history.database_path is required")
	}
	if c.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange.base_url is required")
	}
	return nil
}

// NormalRefresh returns the Risk Estimator's normal cache TTL.
func (c *Config) NormalRefresh() time.Duration {
	return time.Duration(c.Risk.NormalRefreshHours) * time.Hour
}

// SpikeRefresh returns the Risk Estimator's spike-collapsed cache TTL.
func (c *Config) SpikeRefresh() time.Duration {
	return time.Duration(c.Risk.SpikeRefreshMinutes) * time.Minute
}
