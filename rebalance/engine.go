// Package rebalance turns a blended target and an account snapshot into a
// sized, ordered set of trade lines. Sells are planned before buys so
// realized proceeds fund purchases, and buys are scaled to respect cash,
// leverage and maintenance constraints.
package rebalance

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rustyeddy/rebalancer/broker"
	"github.com/rustyeddy/rebalancer/market"
	"github.com/rustyeddy/rebalancer/portfolio"
	"github.com/rustyeddy/rebalancer/pricing"
)

// TriggerMode decides when drift becomes a trade.
type TriggerMode string

const (
	// TriggerPerHolding trades any symbol whose own drift leaves its band.
	TriggerPerHolding TriggerMode = "per_holding"
	// TriggerTotalDrift trades the whole set once summed drift crosses the
	// portfolio band.
	TriggerTotalDrift TriggerMode = "total_drift"
)

func (m TriggerMode) Valid() bool {
	return m == TriggerPerHolding || m == TriggerTotalDrift
}

// Config carries the engine knobs.
type Config struct {
	TriggerMode           TriggerMode      `yaml:"trigger_mode"`
	PerHoldingBandBps     float64          `yaml:"per_holding_band_bps"`
	PortfolioTotalBandBps float64          `yaml:"portfolio_total_band_bps"`
	MinOrderUSD           float64          `yaml:"min_order_usd"`
	CashBufferPct         float64          `yaml:"cash_buffer_pct"`
	AllowFractional       bool             `yaml:"allow_fractional"`
	AllowMargin           bool             `yaml:"allow_margin"`
	MaxLeverage           float64          `yaml:"max_leverage"`
	MaintenanceBufferPct  float64          `yaml:"maintenance_buffer_pct"`
	PreferRTH             bool             `yaml:"prefer_rth"`
	OrderType             broker.OrderType `yaml:"order_type"`
}

// LeverageError reports a plan whose buys cannot be scaled into the
// leverage cap and maintenance buffer.
type LeverageError struct {
	Symbols  []string
	Gross    float64
	Cap      float64
	Headroom float64
}

func (e *LeverageError) Error() string {
	return fmt.Sprintf("leverage: gross %.2f exceeds cap %.2f (headroom %.2f) for %s",
		e.Gross, e.Cap, e.Headroom, strings.Join(e.Symbols, ", "))
}

// TradeLine is one sized trade. Shares is signed: positive buys, negative
// sells. Notional is the absolute estimated dollar value.
type TradeLine struct {
	Symbol   string
	Side     broker.Side
	Shares   float64
	EstPrice float64
	Notional float64
}

// Plan is the engine output: sells before buys, each sorted by symbol,
// plus the skip ledger and drift summary the reports render.
type Plan struct {
	Sells         []TradeLine
	Buys          []TradeLine
	Skipped       map[string]string
	TotalDriftBps float64
	SellNotional  float64
	BuyNotional   float64
}

// Lines returns sells followed by buys, the submission order.
func (p Plan) Lines() []TradeLine {
	out := make([]TradeLine, 0, len(p.Sells)+len(p.Buys))
	out = append(out, p.Sells...)
	out = append(out, p.Buys...)
	return out
}

// Empty reports whether the plan contains no trades.
func (p Plan) Empty() bool { return len(p.Sells) == 0 && len(p.Buys) == 0 }

// BuildPlan computes drift against the target, applies the trigger policy,
// sizes trades in dollars and shares, and enforces cash and leverage
// constraints. The snapshot and prices are read-only for the pass.
func BuildPlan(target portfolio.Target, snap portfolio.Snapshot, prices map[string]float64, cfg Config) (Plan, error) {
	if !cfg.TriggerMode.Valid() {
		return Plan{}, &portfolio.ValidationError{Reason: fmt.Sprintf("unsupported trigger_mode %q", cfg.TriggerMode)}
	}

	skipped := make(map[string]string)

	// Desired weight change per symbol: positive means buy.
	deltas := make(map[string]float64)
	for _, symbol := range unionSymbols(target, snap) {
		deltas[symbol] = target.Weights[symbol] - snap.Weights[symbol]
	}

	var totalDrift float64
	for _, d := range deltas {
		totalDrift += math.Abs(d)
	}
	totalDriftBps := market.ToBps(totalDrift)

	actionable := make(map[string]float64)
	switch cfg.TriggerMode {
	case TriggerPerHolding:
		band := market.FromBps(cfg.PerHoldingBandBps)
		for symbol, d := range deltas {
			if math.Abs(d) > band {
				actionable[symbol] = d
			} else if d != 0 {
				skipped[symbol] = fmt.Sprintf("drift %.0fbps within band %.0fbps", market.ToBps(math.Abs(d)), cfg.PerHoldingBandBps)
			}
		}
	case TriggerTotalDrift:
		if totalDriftBps > cfg.PortfolioTotalBandBps {
			for symbol, d := range deltas {
				if d != 0 {
					actionable[symbol] = d
				}
			}
		}
	}

	// Convert weight deltas to cash deltas against buffer-adjusted equity.
	values := make(map[string]float64)
	for symbol, d := range actionable {
		value := market.RoundCents(d * snap.Effective)
		if math.Abs(value) < cfg.MinOrderUSD {
			skipped[symbol] = fmt.Sprintf("notional %.2f below min_order %.2f", math.Abs(value), cfg.MinOrderUSD)
			continue
		}
		values[symbol] = value
	}

	plan := Plan{Skipped: skipped, TotalDriftBps: totalDriftBps}
	if len(values) == 0 {
		return plan, nil
	}

	buffer := snap.TotalEquity * cfg.CashBufferPct / 100
	cash := snap.USDCash() - buffer
	gross := 0.0
	for _, v := range snap.MarketValues {
		gross += math.Abs(v)
	}

	// Sells free buying power first.
	var sellSymbols, buySymbols []string
	for symbol, v := range values {
		if v < 0 {
			sellSymbols = append(sellSymbols, symbol)
		} else {
			buySymbols = append(buySymbols, symbol)
		}
	}
	sort.Strings(sellSymbols)
	sort.Strings(buySymbols)

	for _, symbol := range sellSymbols {
		line, ok, err := makeLine(symbol, values[symbol], snap, prices, cfg, skipped)
		if err != nil {
			return Plan{}, err
		}
		if !ok {
			continue
		}
		cash += line.Notional
		gross -= line.Notional
		plan.Sells = append(plan.Sells, line)
		plan.SellNotional += line.Notional
	}

	// Scale buys into the available buying power.
	maintBuffer := snap.TotalEquity * cfg.MaintenanceBufferPct / 100
	headroom := cfg.MaxLeverage*snap.TotalEquity - gross - maintBuffer
	available := headroom
	if !cfg.AllowMargin && cash < available {
		available = cash
	}

	var totalBuy float64
	for _, symbol := range buySymbols {
		totalBuy += values[symbol]
	}
	scale := 1.0
	if totalBuy > available {
		if available <= 0 {
			if headroom <= 0 {
				return Plan{}, &LeverageError{
					Symbols:  buySymbols,
					Gross:    gross / snap.TotalEquity,
					Cap:      cfg.MaxLeverage,
					Headroom: headroom,
				}
			}
			available = 0
		}
		scale = available / totalBuy
	}

	for _, symbol := range buySymbols {
		value := market.RoundCents(values[symbol] * scale)
		if value < cfg.MinOrderUSD {
			skipped[symbol] = fmt.Sprintf("notional %.2f below min_order %.2f after scaling", value, cfg.MinOrderUSD)
			continue
		}
		line, ok, err := makeLine(symbol, value, snap, prices, cfg, skipped)
		if err != nil {
			return Plan{}, err
		}
		if !ok {
			continue
		}
		plan.Buys = append(plan.Buys, line)
		plan.BuyNotional += line.Notional
	}

	return plan, nil
}

// makeLine converts a signed dollar value into a share-denominated trade.
// Whole-share rounding rounds away from zero so the drift is fully closed,
// and sells are clamped to the current position so no short results.
func makeLine(symbol string, value float64, snap portfolio.Snapshot, prices map[string]float64, cfg Config, skipped map[string]string) (TradeLine, bool, error) {
	price, ok := prices[symbol]
	if !ok || price <= 0 {
		return TradeLine{}, false, &pricing.PricingError{Symbol: symbol, Reason: "no planning price"}
	}

	shares := value / price
	if !cfg.AllowFractional {
		if shares > 0 {
			shares = math.Ceil(shares)
		} else {
			shares = math.Floor(shares)
		}
		if shares == 0 {
			skipped[symbol] = "rounds to zero shares"
			return TradeLine{}, false, nil
		}
	}

	if shares < 0 {
		held := snap.MarketValues[symbol] / price
		if !cfg.AllowFractional {
			held = math.Floor(held)
		}
		if -shares > held {
			if held <= 0 {
				skipped[symbol] = "nothing held to sell"
				return TradeLine{}, false, nil
			}
			shares = -held
		}
	}

	side := broker.Buy
	if shares < 0 {
		side = broker.Sell
	}
	return TradeLine{
		Symbol:   symbol,
		Side:     side,
		Shares:   shares,
		EstPrice: price,
		Notional: market.RoundCents(math.Abs(shares) * price),
	}, true, nil
}

func unionSymbols(target portfolio.Target, snap portfolio.Snapshot) []string {
	seen := make(map[string]bool)
	for symbol := range target.Weights {
		seen[symbol] = true
	}
	for symbol := range snap.MarketValues {
		seen[symbol] = true
	}
	out := make([]string, 0, len(seen))
	for symbol := range seen {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
