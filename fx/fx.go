// Package fx sizes the optional currency conversion that funds equity buys.
// Planning is pure: the planner never talks to the broker, it only turns a
// shortfall and a quote into a Plan describing the desired trade.
//
// Pairs follow the broker convention where USD.CAD quotes CAD per one USD,
// so quantity is expressed in base-currency units.
package fx

import (
	"fmt"
	"time"

	"github.com/rustyeddy/rebalancer/broker"
	"github.com/rustyeddy/rebalancer/market"
	"github.com/rustyeddy/rebalancer/pricing"
)

// ConvertMode decides when conversions happen.
type ConvertMode string

const (
	// ConvertJustInTime converts only when buys exceed available base cash.
	ConvertJustInTime ConvertMode = "just_in_time"
	// ConvertAlwaysTopUp converts on every run, at least the minimum size.
	ConvertAlwaysTopUp ConvertMode = "always_top_up"
)

// StalePolicy decides what a missing or stale FX quote does to the plan.
// There is no silent default: config validation requires an explicit choice.
type StalePolicy string

const (
	// StaleSkip returns need_fx=false with the reason recorded.
	StaleSkip StalePolicy = "skip"
	// StaleFail aborts planning with a pricing error.
	StaleFail StalePolicy = "fail"
)

// Config carries the FX funding knobs.
type Config struct {
	Enabled            bool             `yaml:"enabled"`
	BaseCurrency       string           `yaml:"base_currency"`
	FundingCurrencies  []string         `yaml:"funding_currencies"`
	ConvertMode        ConvertMode      `yaml:"convert_mode"`
	UseMidForPlanning  bool             `yaml:"use_mid_for_planning"`
	MinOrderUSD        float64          `yaml:"min_fx_order_usd"`
	MaxOrderUSD        float64          `yaml:"max_fx_order_usd"` // zero means uncapped
	BufferBps          float64          `yaml:"fx_buffer_bps"`
	OrderType          broker.OrderType `yaml:"order_type"`
	LimitSlippageBps   float64          `yaml:"limit_slippage_bps"`
	Route              string           `yaml:"route"`
	WaitForFillSeconds int              `yaml:"wait_for_fill_seconds"`
	PreferMarketHours  bool             `yaml:"prefer_market_hours"`
	StaleQuoteSeconds  int              `yaml:"stale_quote_seconds"`
	OnStaleQuote       StalePolicy      `yaml:"on_stale_quote"`
}

// Plan is the sized conversion, or the reason none is needed.
type Plan struct {
	NeedFX     bool
	Pair       string // BASE.FUNDING, e.g. "USD.CAD"
	Side       broker.Side
	Notional   float64 // base-currency amount after buffer and cap
	EstRate    float64 // planning rate, funding units per base unit
	Qty        float64 // order quantity in base-currency units
	OrderType  broker.OrderType
	LimitPrice float64 // zero unless OrderType is LMT
	Route      string
	WaitFill   time.Duration
	Reason     string
}

func skip(cfg Config, pair string, reason string) Plan {
	return Plan{
		Pair:      pair,
		Side:      broker.Buy,
		OrderType: cfg.OrderType,
		Route:     cfg.Route,
		WaitFill:  time.Duration(cfg.WaitForFillSeconds) * time.Second,
		Reason:    reason,
	}
}

// PlanConversion sizes a funding conversion for usdNeeded given current
// base and funding cash. quote may be nil when no FX quote is available;
// the configured StalePolicy decides whether that skips or fails.
func PlanConversion(usdNeeded, usdCash, fundingCash float64, fundingCurrency string, quote *market.Quote, cfg Config, now time.Time) (Plan, error) {
	pair := cfg.BaseCurrency + "." + fundingCurrency

	if cfg.PreferMarketHours && isWeekend(now) {
		return skip(cfg, pair, "outside market hours"), nil
	}

	shortfall := usdNeeded - usdCash
	if shortfall <= 0 {
		return skip(cfg, pair, "no USD shortfall"), nil
	}
	if fundingCash <= 0 {
		return skip(cfg, pair, fmt.Sprintf("no %s cash available", fundingCurrency)), nil
	}
	if shortfall <= cfg.MinOrderUSD {
		return skip(cfg, pair, fmt.Sprintf("shortfall %.2f below min %.2f", shortfall, cfg.MinOrderUSD)), nil
	}

	notional := shortfall * (1 + market.FromBps(cfg.BufferBps))
	if cfg.MaxOrderUSD > 0 && notional > cfg.MaxOrderUSD {
		notional = cfg.MaxOrderUSD
	}

	staleReason := ""
	var mid float64
	switch {
	case quote == nil:
		staleReason = "no FX quote"
	case quote.IsStale(now, time.Duration(cfg.StaleQuoteSeconds)*time.Second):
		staleReason = "stale FX quote"
	default:
		var err error
		mid, err = quote.Mid()
		if err != nil {
			staleReason = "incomplete FX quote"
		}
	}
	if staleReason != "" {
		switch cfg.OnStaleQuote {
		case StaleSkip:
			return skip(cfg, pair, staleReason), nil
		case StaleFail:
			return Plan{}, &pricing.PricingError{Symbol: pair, Reason: staleReason}
		default:
			return Plan{}, &pricing.PricingError{Symbol: pair, Reason: "on_stale_quote policy not configured"}
		}
	}

	rate := mid
	if !cfg.UseMidForPlanning {
		rate = quote.Ask // funding plans only ever buy the base currency
	}
	rate = market.RoundToPip(rate)

	qty := market.RoundCents(notional)

	var limit float64
	if cfg.OrderType == broker.Limit {
		offset := mid * market.FromBps(cfg.LimitSlippageBps)
		limit = market.RoundToPip(mid + offset)
	}

	return Plan{
		NeedFX:     true,
		Pair:       pair,
		Side:       broker.Buy,
		Notional:   qty,
		EstRate:    rate,
		Qty:        qty,
		OrderType:  cfg.OrderType,
		LimitPrice: limit,
		Route:      cfg.Route,
		WaitFill:   time.Duration(cfg.WaitForFillSeconds) * time.Second,
		Reason:     fmt.Sprintf("fund USD shortfall of %.2f with buffer %.0fbps", shortfall, cfg.BufferBps),
	}, nil
}

func isWeekend(now time.Time) bool {
	wd := now.UTC().Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
