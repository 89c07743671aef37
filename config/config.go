// Package config builds the single immutable configuration value every
// component receives. It is loaded once per run, validated once, and never
// mutated afterwards.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/rebalancer/broker"
	"github.com/rustyeddy/rebalancer/exec"
	"github.com/rustyeddy/rebalancer/fx"
	"github.com/rustyeddy/rebalancer/pricing"
	"github.com/rustyeddy/rebalancer/rebalance"
	"github.com/rustyeddy/rebalancer/safety"
)

// BrokerConfig holds connection settings for the live adapter.
type BrokerConfig struct {
	Account  string `yaml:"account"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID int    `yaml:"client_id"`
	ReadOnly bool   `yaml:"read_only"`
}

// ExecConfig holds executor pacing and timeout knobs.
type ExecConfig struct {
	ConcurrencyCap     int                `yaml:"concurrency_cap"`
	WaitForFillSeconds int                `yaml:"wait_for_fill_seconds"`
	OnTimeout          exec.TimeoutPolicy `yaml:"on_timeout"`
	MaxRetries         int                `yaml:"max_retries"`
}

// IOConfig holds report and journal destinations.
type IOConfig struct {
	ReportDir   string `yaml:"report_dir"`
	JournalType string `yaml:"journal_type"` // "csv" or "sqlite"
	JournalPath string `yaml:"journal_path"`
	LogLevel    string `yaml:"log_level"`
}

// Config is the top-level application configuration.
type Config struct {
	Broker    BrokerConfig         `yaml:"broker"`
	Models    map[string]float64   `yaml:"models"` // model name -> mix weight
	Rebalance rebalance.Config     `yaml:"rebalance"`
	FX        fx.Config            `yaml:"fx"`
	Limits    pricing.LimitConfig  `yaml:"limits"`
	Pricing   pricing.SourceConfig `yaml:"pricing"`
	Safety    safety.Config        `yaml:"safety"`
	Exec      ExecConfig           `yaml:"exec"`
	IO        IOConfig             `yaml:"io"`
}

// LoadFromFile reads and validates a YAML configuration file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks every knob once so downstream components can trust the
// value without re-checking.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("models section is required")
	}
	var mix float64
	for name, w := range c.Models {
		if w < 0 || w > 1 {
			return fmt.Errorf("models.%s weight %.3f outside [0,1]", name, w)
		}
		mix += w
	}
	if math.Abs(mix-1) > 0.001 {
		return fmt.Errorf("model mix weights sum to %.4f, want 1.0", mix)
	}

	r := c.Rebalance
	if !r.TriggerMode.Valid() {
		return fmt.Errorf("rebalance.trigger_mode must be per_holding or total_drift")
	}
	if r.MinOrderUSD <= 0 {
		return fmt.Errorf("rebalance.min_order_usd must be positive")
	}
	if r.CashBufferPct < 0 || r.CashBufferPct > 100 {
		return fmt.Errorf("rebalance.cash_buffer_pct must be within [0,100]")
	}
	if r.MaxLeverage <= 0 {
		return fmt.Errorf("rebalance.max_leverage must be positive")
	}
	if r.MaintenanceBufferPct < 0 || r.MaintenanceBufferPct > 100 {
		return fmt.Errorf("rebalance.maintenance_buffer_pct must be within [0,100]")
	}
	if r.OrderType != broker.Limit && r.OrderType != broker.Market {
		return fmt.Errorf("rebalance.order_type must be LMT or MKT")
	}

	l := c.Limits
	if l.BuyOffsetFrac < 0 || l.BuyOffsetFrac > 1 || l.SellOffsetFrac < 0 || l.SellOffsetFrac > 1 {
		return fmt.Errorf("limits offsets must be within [0,1]")
	}
	if !l.EscalateAction.Valid() {
		return fmt.Errorf("limits.escalate_action must be cross, market or keep")
	}

	if !c.Pricing.PriceSource.Valid() {
		return fmt.Errorf("pricing.price_source must be last, midpoint or bidask")
	}

	f := c.FX
	if f.Enabled {
		if f.BaseCurrency == "" {
			return fmt.Errorf("fx.base_currency is required")
		}
		if len(f.FundingCurrencies) == 0 {
			return fmt.Errorf("fx.funding_currencies is required")
		}
		if f.ConvertMode != fx.ConvertJustInTime && f.ConvertMode != fx.ConvertAlwaysTopUp {
			return fmt.Errorf("fx.convert_mode must be just_in_time or always_top_up")
		}
		if f.MinOrderUSD <= 0 {
			return fmt.Errorf("fx.min_fx_order_usd must be positive")
		}
		if f.OrderType != broker.Limit && f.OrderType != broker.Market {
			return fmt.Errorf("fx.order_type must be LMT or MKT")
		}
		// The stale-quote fallback must be an explicit choice; there is no
		// safe price to guess.
		if f.OnStaleQuote != fx.StaleSkip && f.OnStaleQuote != fx.StaleFail {
			return fmt.Errorf("fx.on_stale_quote must be skip or fail")
		}
	}

	e := c.Exec
	if e.ConcurrencyCap <= 0 {
		return fmt.Errorf("exec.concurrency_cap must be positive")
	}
	if e.OnTimeout != exec.TimeoutCancel && e.OnTimeout != exec.TimeoutContinue {
		return fmt.Errorf("exec.on_timeout must be cancel or continue")
	}

	switch strings.ToLower(c.IO.JournalType) {
	case "csv", "sqlite":
	default:
		return fmt.Errorf("io.journal_type must be csv or sqlite")
	}
	return nil
}

// Default returns the production defaults; loaded files override them.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:     "localhost",
			Port:     7497,
			ClientID: 1,
			ReadOnly: true,
		},
		Rebalance: rebalance.Config{
			TriggerMode:           rebalance.TriggerPerHolding,
			PerHoldingBandBps:     50,
			PortfolioTotalBandBps: 100,
			MinOrderUSD:           500,
			CashBufferPct:         1,
			AllowFractional:       false,
			AllowMargin:           false,
			MaxLeverage:           1.5,
			MaintenanceBufferPct:  10,
			PreferRTH:             true,
			OrderType:             broker.Limit,
		},
		FX: fx.Config{
			Enabled:            false,
			BaseCurrency:       "USD",
			FundingCurrencies:  []string{"CAD"},
			ConvertMode:        fx.ConvertJustInTime,
			UseMidForPlanning:  true,
			MinOrderUSD:        1000,
			BufferBps:          20,
			OrderType:          broker.Market,
			LimitSlippageBps:   5,
			Route:              "IDEALPRO",
			WaitForFillSeconds: 5,
			StaleQuoteSeconds:  10,
			OnStaleQuote:       fx.StaleFail,
		},
		Limits:  pricing.DefaultLimitConfig(),
		Pricing: pricing.SourceConfig{PriceSource: pricing.SourceLast, FallbackToSnapshot: true},
		Safety: safety.Config{
			PaperOnly:      true,
			RequireConfirm: true,
			KillSwitchFile: "KILL_SWITCH",
		},
		Exec: ExecConfig{
			ConcurrencyCap:     5,
			WaitForFillSeconds: 30,
			OnTimeout:          exec.TimeoutCancel,
			MaxRetries:         3,
		},
		IO: IOConfig{
			ReportDir:   "reports",
			JournalType: "csv",
			JournalPath: "rebalancer-journal.csv",
			LogLevel:    "info",
		},
	}
}
