// Package pricing computes spread-aware limit prices and resolves
// planning prices from quotes with a configurable fallback chain.
package pricing

import (
	"fmt"
	"time"

	"github.com/rustyeddy/rebalancer/broker"
	"github.com/rustyeddy/rebalancer/market"
)

// Escalation selects what happens when the market is wide or the quote is
// stale. The zero value is invalid; config validation rejects it.
type Escalation string

const (
	// EscalateCross prices at the touch: BUY at the ask, SELL at the bid.
	EscalateCross Escalation = "cross"
	// EscalateMarket switches the order to a market order.
	EscalateMarket Escalation = "market"
	// EscalateKeep keeps the conservative capped price unchanged.
	EscalateKeep Escalation = "keep"
)

func (e Escalation) Valid() bool {
	switch e {
	case EscalateCross, EscalateMarket, EscalateKeep:
		return true
	}
	return false
}

// LimitConfig carries the spread-aware pricing knobs.
type LimitConfig struct {
	BuyOffsetFrac     float64    `yaml:"buy_offset_frac"`
	SellOffsetFrac    float64    `yaml:"sell_offset_frac"`
	MaxOffsetBps      float64    `yaml:"max_offset_bps"`
	WideSpreadBps     float64    `yaml:"wide_spread_bps"`
	EscalateAction    Escalation `yaml:"escalate_action"`
	StaleQuoteSeconds int        `yaml:"stale_quote_seconds"`
	UseAskBidCap      bool       `yaml:"use_ask_bid_cap"`
}

// DefaultLimitConfig mirrors the conservative defaults used in production.
func DefaultLimitConfig() LimitConfig {
	return LimitConfig{
		BuyOffsetFrac:     0.25,
		SellOffsetFrac:    0.25,
		MaxOffsetBps:      10,
		WideSpreadBps:     50,
		EscalateAction:    EscalateCross,
		StaleQuoteSeconds: 10,
		UseAskBidCap:      true,
	}
}

// PricingError reports a quote that cannot produce a price: missing sides,
// a crossed book, or a stale quote with no fallback configured.
type PricingError struct {
	Symbol string
	Reason string
}

func (e *PricingError) Error() string {
	return fmt.Sprintf("pricing %s: %s", e.Symbol, e.Reason)
}

// LimitPrice is the pricer's result. Price is zero when Type escalated to
// a market order.
type LimitPrice struct {
	Price float64
	Type  broker.OrderType
}

// LimitBuy returns a conservative BUY price bounded by the NBBO.
//
// The price starts at mid plus a fraction of the spread, is capped at
// mid*(1+max_offset_bps), tick-rounded, and finally capped at the ask when
// use_ask_bid_cap is set. Wide or stale markets escalate per the config.
func LimitBuy(q market.Quote, tick float64, cfg LimitConfig, now time.Time) (LimitPrice, error) {
	return limitPrice(q, tick, cfg, now, broker.Buy)
}

// LimitSell mirrors LimitBuy for the SELL side: mid minus the offset,
// floored at mid*(1-max_offset_bps) and at the bid.
func LimitSell(q market.Quote, tick float64, cfg LimitConfig, now time.Time) (LimitPrice, error) {
	return limitPrice(q, tick, cfg, now, broker.Sell)
}

func limitPrice(q market.Quote, tick float64, cfg LimitConfig, now time.Time, side broker.Side) (LimitPrice, error) {
	if err := q.Validate(); err != nil {
		return LimitPrice{}, &PricingError{Symbol: q.Symbol, Reason: err.Error()}
	}

	mid := (q.Bid + q.Ask) / 2
	spread := q.Spread()
	spreadBps := market.ToBps(spread / mid)

	var price float64
	if side == broker.Buy {
		price = mid + cfg.BuyOffsetFrac*spread
		cap := mid * (1 + market.FromBps(cfg.MaxOffsetBps))
		if price > cap {
			price = cap
		}
		price = market.RoundToTick(price, tick)
		if cfg.UseAskBidCap && price > q.Ask {
			price = q.Ask
		}
	} else {
		price = mid - cfg.SellOffsetFrac*spread
		floor := mid * (1 - market.FromBps(cfg.MaxOffsetBps))
		if price < floor {
			price = floor
		}
		price = market.RoundToTick(price, tick)
		if cfg.UseAskBidCap && price < q.Bid {
			price = q.Bid
		}
	}

	stale := q.IsStale(now, time.Duration(cfg.StaleQuoteSeconds)*time.Second)
	if spreadBps > cfg.WideSpreadBps || stale {
		switch cfg.EscalateAction {
		case EscalateCross:
			if side == broker.Buy {
				return LimitPrice{Price: q.Ask, Type: broker.Limit}, nil
			}
			return LimitPrice{Price: q.Bid, Type: broker.Limit}, nil
		case EscalateMarket:
			return LimitPrice{Type: broker.Market}, nil
		case EscalateKeep:
			// fall through with the capped price
		default:
			return LimitPrice{}, &PricingError{
				Symbol: q.Symbol,
				Reason: fmt.Sprintf("unknown escalate action %q", cfg.EscalateAction),
			}
		}
	}

	return LimitPrice{Price: price, Type: broker.Limit}, nil
}
