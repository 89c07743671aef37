package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/rebalancer/fx"
	"github.com/rustyeddy/rebalancer/rebalance"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Models = map[string]float64{"CORE": 0.8, "SATELLITE": 0.2}
	return cfg
}

func TestDefaultValidates(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validConfig().Validate())
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	raw := `
models:
  SMURF: 0.6
  BADASS: 0.4
rebalance:
  trigger_mode: total_drift
  portfolio_total_band_bps: 75
  min_order_usd: 250
fx:
  enabled: true
  base_currency: USD
  funding_currencies: [CAD]
  convert_mode: just_in_time
  min_fx_order_usd: 1000
  order_type: MKT
  on_stale_quote: skip
io:
  journal_type: sqlite
  journal_path: runs.db
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.InDelta(t, 0.6, cfg.Models["SMURF"], 1e-9)
	assert.Equal(t, rebalance.TriggerTotalDrift, cfg.Rebalance.TriggerMode)
	assert.InDelta(t, 75, cfg.Rebalance.PortfolioTotalBandBps, 1e-9)
	assert.InDelta(t, 250, cfg.Rebalance.MinOrderUSD, 1e-9)
	assert.True(t, cfg.FX.Enabled)
	assert.Equal(t, fx.StaleSkip, cfg.FX.OnStaleQuote)
	assert.Equal(t, "sqlite", cfg.IO.JournalType)

	// Untouched sections keep their defaults.
	assert.InDelta(t, 1, cfg.Rebalance.CashBufferPct, 1e-9)
	assert.True(t, cfg.Safety.PaperOnly)
}

func TestLoadFromFileMissing(t *testing.T) {
	t.Parallel()
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no models", func(c *Config) { c.Models = nil }, "models"},
		{"mix off", func(c *Config) { c.Models = map[string]float64{"A": 0.7, "B": 0.7} }, "mix"},
		{"negative mix weight", func(c *Config) { c.Models = map[string]float64{"A": -0.2, "B": 1.2} }, "outside"},
		{"bad trigger", func(c *Config) { c.Rebalance.TriggerMode = "weekly" }, "trigger_mode"},
		{"zero min order", func(c *Config) { c.Rebalance.MinOrderUSD = 0 }, "min_order_usd"},
		{"bad leverage", func(c *Config) { c.Rebalance.MaxLeverage = 0 }, "max_leverage"},
		{"bad order type", func(c *Config) { c.Rebalance.OrderType = "STOP" }, "order_type"},
		{"bad escalation", func(c *Config) { c.Limits.EscalateAction = "shrug" }, "escalate_action"},
		{"bad price source", func(c *Config) { c.Pricing.PriceSource = "vibes" }, "price_source"},
		{
			"fx without stale policy",
			func(c *Config) {
				c.FX.Enabled = true
				c.FX.OnStaleQuote = ""
			},
			"on_stale_quote",
		},
		{
			"fx without funding currencies",
			func(c *Config) {
				c.FX.Enabled = true
				c.FX.FundingCurrencies = nil
			},
			"funding_currencies",
		},
		{"bad timeout policy", func(c *Config) { c.Exec.OnTimeout = "retry" }, "on_timeout"},
		{"bad journal type", func(c *Config) { c.IO.JournalType = "parquet" }, "journal_type"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Rebalance.PerHoldingBandBps = 75

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.InDelta(t, 75, loaded.Rebalance.PerHoldingBandBps, 1e-9)
	assert.Equal(t, cfg.Models, loaded.Models)
}
